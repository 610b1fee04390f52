package advisor

import (
	"encoding/json"
	"strings"

	"github.com/vietddude/inframate/internal/core/domain"
)

// MaxLogExcerpt bounds how much of a log is sent to the model.
const MaxLogExcerpt = 4000

// Excerpt keeps the last n bytes of s, where errors usually are.
func Excerpt(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

type rawSolution struct {
	RootCause  string          `json:"root_cause"`
	Solution   json.RawMessage `json:"solution"`
	Prevention string          `json:"prevention"`
}

// ParseSolution extracts the JSON object from model output. Models often
// wrap JSON in prose or code fences, so everything outside the outermost
// braces is ignored. The "solution" field may be a string or a list of steps.
//
// Output that is not JSON still yields a solution pointing at manual
// analysis; only empty output is an error.
func ParseSolution(text string) (*domain.Solution, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoResponse
	}

	body := text
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		body = text[start : end+1]
	}

	var raw rawSolution
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return unstructured(text), nil
	}

	return &domain.Solution{
		RootCause:  raw.RootCause,
		Solution:   solutionText(raw.Solution),
		Prevention: raw.Prevention,
	}, nil
}

func solutionText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var steps []string
	if err := json.Unmarshal(raw, &steps); err == nil {
		return strings.Join(steps, "\n")
	}
	return string(raw)
}

func unstructured(text string) *domain.Solution {
	preview := text
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return &domain.Solution{
		RootCause:  "Analysis failed to return structured data",
		Solution:   "Manual analysis required. Response was: " + preview,
		Prevention: "Improve error handling",
	}
}
