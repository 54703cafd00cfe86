package validation

import (
	"fmt"
	"net"
	"strings"
	"unicode/utf8"
)

const maxSDPLength = 64 * 1024

// ValidatePeerAddress checks that addr is a literal IPv4 or IPv6 address.
func ValidatePeerAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("peer address is required")
	}
	if net.ParseIP(addr) == nil {
		return fmt.Errorf("peer address %q is not an IP literal", addr)
	}
	return nil
}

// ValidateSDP performs a cheap structural check before handing the
// description to the WebRTC stack.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if len(sdp) > maxSDPLength {
		return fmt.Errorf("SDP is too long (max %d bytes)", maxSDPLength)
	}
	if !strings.HasPrefix(sdp, "v=") {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	for _, field := range []string{"o=", "s=", "t="} {
		if !strings.Contains(sdp, "\n"+field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}

// ValidateCandidate accepts an ICE candidate attribute value. The empty string
// is the end-of-candidates marker and is valid.
func ValidateCandidate(candidate string) error {
	if candidate == "" {
		return nil
	}
	if !strings.HasPrefix(candidate, "candidate:") {
		return fmt.Errorf("invalid ICE candidate: must start with 'candidate:'")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
