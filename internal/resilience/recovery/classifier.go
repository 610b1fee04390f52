package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/vietddude/inframate/internal/core/domain"
)

// Rule maps a message pattern to an error type. Patterns run against the
// lowercased message.
type Rule struct {
	Type    domain.ErrorType
	Pattern *regexp.Regexp
}

// NewRule compiles alternatives into one rule. Each alternative matches
// only where it starts and ends on a word boundary, so short tokens such as
// "eof" or "dns" never fire inside longer words. A trailing "*" allows the
// alternative to be a word prefix ("throttl*").
func NewRule(t domain.ErrorType, alternatives ...string) Rule {
	parts := make([]string, 0, len(alternatives))
	for _, a := range alternatives {
		if stem, ok := strings.CutSuffix(a, "*"); ok {
			parts = append(parts, `\b`+regexp.QuoteMeta(stem))
			continue
		}
		parts = append(parts, `\b`+regexp.QuoteMeta(a)+`\b`)
	}
	return Rule{Type: t, Pattern: regexp.MustCompile(strings.Join(parts, "|"))}
}

// httpStatus matches a status code only in an HTTP context: after
// "status", "code", "http" or "response", or followed by its reason phrase.
// Bare numbers in ports, durations and ids do not match.
func httpStatus(t domain.ErrorType, codes map[string]string) Rule {
	parts := make([]string, 0, len(codes))
	for code, reason := range codes {
		parts = append(parts,
			`\b(?:status(?:\s*code)?|code|http(?:/[\d.]+)?|response)\W{0,3}`+code+`\b`,
			`\b`+code+`\s+`+regexp.QuoteMeta(reason)+`\b`,
		)
	}
	return Rule{Type: t, Pattern: regexp.MustCompile(strings.Join(parts, "|"))}
}

// Rules are evaluated in order; the first match wins. Specific terraform
// failures come first so "state lock" is not taken for a generic conflict.
// A bare mention of terraform is the last resort: "terraform apply: rate
// limit exceeded" is an api error.
var defaultRules = []Rule{
	NewRule(domain.ErrorTypeTerraform,
		"state lock", "state_lock", "tfstate", ".tf line", "terraform init",
		"provider registry", "inconsistent dependency lock file",
	),
	NewRule(domain.ErrorTypeAPI,
		"rate limit", "rate_limit", "ratelimit", "rate exceeded", "too many requests",
		"quota*", "throttl*", "api error", "service unavailable",
	),
	httpStatus(domain.ErrorTypeAPI, map[string]string{
		"429": "too many requests",
		"503": "service unavailable",
	}),
	NewRule(domain.ErrorTypeNetwork,
		"timeout*", "timed out", "connection refused", "connection reset",
		"no such host", "dns", "network", "unreachable", "broken pipe", "eof",
	),
	NewRule(domain.ErrorTypePermission,
		"permission denied", "access denied", "accessdenied", "forbidden",
		"unauthorized", "not authorized", "permission*",
	),
	httpStatus(domain.ErrorTypePermission, map[string]string{
		"401": "unauthorized",
		"403": "forbidden",
	}),
	NewRule(domain.ErrorTypeResourceConflict,
		"already exists", "alreadyexists", "conflict*", "in use",
		"duplicate*", "locked",
	),
	httpStatus(domain.ErrorTypeResourceConflict, map[string]string{
		"409": "conflict",
	}),
	NewRule(domain.ErrorTypeValidation,
		"invalid", "validation", "malformed", "missing required",
		"required field", "unsupported argument", "unexpected value",
	),
	NewRule(domain.ErrorTypeTerraform, "terraform"),
}

var defaultSeverities = map[domain.ErrorType]domain.ErrorSeverity{
	domain.ErrorTypeAPI:              domain.SeverityMedium,
	domain.ErrorTypeTerraform:        domain.SeverityHigh,
	domain.ErrorTypeResourceConflict: domain.SeverityHigh,
	domain.ErrorTypePermission:       domain.SeverityHigh,
	domain.ErrorTypeNetwork:          domain.SeverityMedium,
	domain.ErrorTypeValidation:       domain.SeverityMedium,
	domain.ErrorTypeSystem:           domain.SeverityMedium,
	domain.ErrorTypeUnknown:          domain.SeverityMedium,
}

// DefaultSeverity returns the severity assumed when the caller gives none.
func DefaultSeverity(t domain.ErrorType) domain.ErrorSeverity {
	if s, ok := defaultSeverities[t]; ok {
		return s
	}
	return domain.SeverityMedium
}

// Classifier normalizes raw error signals into the taxonomy.
// Classification itself has no side effects; Register only widens the set
// of recognised type hints.
type Classifier struct {
	mu    sync.RWMutex
	known map[domain.ErrorType]struct{}
	rules []Rule
}

// NewClassifier creates a classifier that recognises the seed types.
func NewClassifier() *Classifier {
	c := &Classifier{
		known: make(map[domain.ErrorType]struct{}, len(domain.SeedErrorTypes)),
		rules: defaultRules,
	}
	for _, t := range domain.SeedErrorTypes {
		c.known[t] = struct{}{}
	}
	return c
}

// Register makes t a recognised type hint.
func (c *Classifier) Register(t domain.ErrorType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[t] = struct{}{}
}

// Known reports whether t is a recognised type.
func (c *Classifier) Known(t domain.ErrorType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.known[t]
	return ok
}

// Classify resolves a type hint and message to a canonical type and its
// default severity.
//
// A recognised, specific hint is kept as is. An empty or generic hint
// (system_error, unknown_error) or an unrecognised one is refined by the
// message patterns. Without a match, unrecognised hints become
// unknown_error and everything else system_error.
func (c *Classifier) Classify(typeHint, message string) (domain.ErrorType, domain.ErrorSeverity) {
	hint := domain.NormalizeErrorType(typeHint)
	known := hint != "" && c.Known(hint)

	if known && hint != domain.ErrorTypeSystem && hint != domain.ErrorTypeUnknown {
		return hint, DefaultSeverity(hint)
	}

	if t, ok := c.match(message); ok {
		return t, DefaultSeverity(t)
	}

	if hint != "" && !known {
		return domain.ErrorTypeUnknown, DefaultSeverity(domain.ErrorTypeUnknown)
	}
	if hint == domain.ErrorTypeUnknown {
		return hint, DefaultSeverity(hint)
	}
	return domain.ErrorTypeSystem, DefaultSeverity(domain.ErrorTypeSystem)
}

// ClassifyError inspects a Go error before falling back to message patterns.
func (c *Classifier) ClassifyError(err error) (domain.ErrorType, domain.ErrorSeverity) {
	if err == nil {
		return domain.ErrorTypeSystem, DefaultSeverity(domain.ErrorTypeSystem)
	}

	var (
		netErr    net.Error
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		numErr    *strconv.NumError
		execErr   *exec.Error
	)

	switch {
	case errors.Is(err, fs.ErrPermission):
		return domain.ErrorTypePermission, domain.SeverityHigh
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return domain.ErrorTypeNetwork, domain.SeverityMedium
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.As(err, &numErr):
		return domain.ErrorTypeValidation, domain.SeverityMedium
	case errors.As(err, &execErr):
		// Missing binary: retrying will not help.
		return domain.ErrorTypeSystem, domain.SeverityHigh
	}

	return c.Classify("", err.Error())
}

func (c *Classifier) match(message string) (domain.ErrorType, bool) {
	msg := strings.ToLower(message)
	if msg == "" {
		return "", false
	}
	for _, rule := range c.rules {
		if rule.Pattern.MatchString(msg) {
			return rule.Type, true
		}
	}
	return "", false
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
