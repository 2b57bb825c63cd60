// Package telephony defines the control-plane contract for the SIP proxy.
package telephony

import (
	"context"
	"errors"
	"strings"

	"github.com/harunnryd/voicegate/pkg/errorsx"
)

// ControlClient issues administrative commands to the telephony proxy.
type ControlClient interface {
	Name() string
	// Bridge connects origin to a PSTN destination and plays audioPath.
	Bridge(ctx context.Context, origin, destination, audioPath string) (string, error)
	// CreateDialog starts a SIP dialog from origin to destination playing audioPath.
	CreateDialog(ctx context.Context, origin, destination, audioPath string) (string, error)
	ListDialogs(ctx context.Context) ([]string, error)
	GetDialog(ctx context.Context, dialogID string) (string, error)
	EndDialog(ctx context.Context, dialogID string) (string, error)
}

// Result is the raw output of one control command.
type Result struct {
	Stdout string
	Stderr string
}

// DefaultAdvisoryMarkers is what the proxy prints for non-fatal conditions.
var DefaultAdvisoryMarkers = []string{"warning"}

// Classifier decides whether a command result is a success.
type Classifier struct {
	// Advisory lists substrings marking a diagnostic line as non-fatal.
	// Matching is case-insensitive.
	Advisory []string
}

// Outcome is the classified result of a command.
type Outcome struct {
	Payload string
	// Advisory holds diagnostic text that did not fail the command.
	Advisory string
}

// Classify returns the trimmed stdout on success, or a telephony error
// wrapping the raw diagnostic text.
func (c Classifier) Classify(res Result) (Outcome, error) {
	out := Outcome{Payload: strings.TrimSpace(res.Stdout)}
	diag := strings.TrimSpace(res.Stderr)
	if diag == "" {
		return out, nil
	}
	if c.advisoryOnly(diag) {
		out.Advisory = diag
		return out, nil
	}
	return Outcome{}, errorsx.Telephony(errors.New(diag))
}

func (c Classifier) advisoryOnly(diag string) bool {
	markers := c.Advisory
	if len(markers) == 0 {
		markers = DefaultAdvisoryMarkers
	}
	lines := SplitLines(diag)
	if len(lines) == 0 {
		return true
	}
	for _, line := range lines {
		if !containsAny(strings.ToLower(line), markers) {
			return false
		}
	}
	return true
}

func containsAny(line string, markers []string) bool {
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" && strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// SplitLines splits output on newlines, trimming and dropping empty lines.
func SplitLines(s string) []string {
	raw := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
