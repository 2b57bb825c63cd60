package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	sipUserRe = regexp.MustCompile(`(?i)\b(sips?:)[^@\s;>]+@`)
	phoneRe   = regexp.MustCompile(`\+?\d[\d\s\-]{5,}\d`)
)

// SetEnabled toggles PII redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text masks phone numbers and SIP user parts when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := sipUserRe.ReplaceAllString(in, "${1}[REDACTED]@")
	return phoneRe.ReplaceAllStringFunc(out, maskDigits)
}

// maskDigits keeps the last two digits so operators can still correlate calls.
func maskDigits(in string) string {
	b := []byte(in)
	kept := 0
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < '0' || b[i] > '9' {
			continue
		}
		if kept < 2 {
			kept++
			continue
		}
		b[i] = '*'
	}
	return string(b)
}
