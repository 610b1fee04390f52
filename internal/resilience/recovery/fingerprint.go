package recovery

import (
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/vietddude/inframate/internal/core/domain"
)

var (
	uuidPattern   = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	hexPattern    = regexp.MustCompile(`\b(0x)?[0-9a-f]{12,}\b`)
	digitsPattern = regexp.MustCompile(`[0-9]+`)
)

// signature identifies "the same error" for retry counting and loop detection.
type signature struct {
	errType     domain.ErrorType
	fingerprint uint64
}

func signatureOf(t domain.ErrorType, message string) signature {
	return signature{errType: t, fingerprint: Fingerprint(message)}
}

// Fingerprint hashes a message after masking volatile parts (ids, hashes,
// numbers) so that repeats of one failure share a signature.
func Fingerprint(message string) uint64 {
	return xxhash.Sum64String(normalizeMessage(message))
}

func normalizeMessage(message string) string {
	msg := strings.ToLower(message)
	msg = uuidPattern.ReplaceAllString(msg, "<id>")
	msg = hexPattern.ReplaceAllString(msg, "<hex>")
	msg = digitsPattern.ReplaceAllString(msg, "#")
	return strings.Join(strings.Fields(msg), " ")
}
