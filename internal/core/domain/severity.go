package domain

import (
	"fmt"
	"strings"
)

// ErrorSeverity orders errors by how much damage another attempt could do.
// Higher severity gets a smaller retry budget.
type ErrorSeverity int

const (
	SeverityUnspecified ErrorSeverity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Severities lists the concrete severities from lowest to highest.
var Severities = []ErrorSeverity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s ErrorSeverity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unspecified"
	}
}

// Valid reports whether s is one of the concrete severities.
func (s ErrorSeverity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

// ParseSeverity accepts the lowercase or uppercase severity names.
func ParseSeverity(v string) (ErrorSeverity, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	case "", "unspecified":
		return SeverityUnspecified, nil
	}
	return SeverityUnspecified, fmt.Errorf("unknown severity %q", v)
}

func (s ErrorSeverity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ErrorSeverity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
