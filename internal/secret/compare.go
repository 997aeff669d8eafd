package secret

import "crypto/subtle"

// Compare reports whether a and b are byte-equal without leaking, through
// timing, where the first difference sits. When the lengths differ a dummy
// self-comparison runs first so that even the length mismatch costs a full
// pass.
func Compare(a, b string) bool {
	if len(a) != len(b) {
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
