package secret

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters. Tuned so one derivation costs tens of milliseconds,
// which is what makes offline brute-force of a stolen record expensive.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
)

// Hash derives the at-rest digest of a code under the given hex-encoded salt.
// It is a pure function: no shared state, safe to call from any goroutine.
func Hash(code, salt string) (string, error) {
	saltBytes, err := hex.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("malformed salt: %w", err)
	}

	key, err := scrypt.Key([]byte(code), saltBytes, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("scrypt derivation failed: %w", err)
	}
	return hex.EncodeToString(key), nil
}
