// Package classify decides how a destination identifier is reached.
package classify

import (
	"regexp"
	"strings"

	"github.com/harunnryd/voicegate/pkg/calls"
)

var pstnRe = regexp.MustCompile(`^[+]?[0-9]{7,15}$`)

// Destination returns PSTN for phone-number-style identifiers and SIP otherwise.
func Destination(dest string) calls.CallType {
	if pstnRe.MatchString(dest) {
		return calls.CallTypePSTN
	}
	return calls.CallTypeSIP
}

// IsPSTN reports whether dest is a public telephone number.
func IsPSTN(dest string) bool {
	return Destination(dest) == calls.CallTypePSTN
}

// SIPURI ensures a SIP destination carries a sip: scheme.
func SIPURI(dest string) string {
	lower := strings.ToLower(dest)
	if strings.HasPrefix(lower, "sip:") || strings.HasPrefix(lower, "sips:") {
		return dest
	}
	return "sip:" + dest
}
