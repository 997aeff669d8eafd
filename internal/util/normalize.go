package util

import (
	"net/mail"
	"strings"
)

// NormalizeEmail lowercases and trims an email address so that lookups,
// rate-limit keys and audit digests all agree on one canonical form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether the address parses as a bare RFC 5322 address.
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email
}

// ContainsSuspicious flags obvious injection attempts in free-form request
// fields before they reach the audit trail.
func ContainsSuspicious(s string) bool {
	lowered := strings.ToLower(s)
	for _, c := range []string{"<", ">", "${", "script", "onerror", "onload"} {
		if strings.Contains(lowered, c) {
			return true
		}
	}
	return false
}
