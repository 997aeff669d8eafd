package secret

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// GenerateCode returns a uniformly random decimal code of exactly length
// digits, left-padded with zeros. crypto/rand.Int performs rejection sampling
// internally, so no modulo bias is introduced.
func GenerateCode(length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("invalid code length: %d", length)
	}

	bound := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", fmt.Errorf("failed to draw random code: %w", err)
	}

	code := n.String()
	if pad := length - len(code); pad > 0 {
		code = strings.Repeat("0", pad) + code
	}
	return code, nil
}

// GenerateSalt returns size random bytes, hex encoded.
func GenerateSalt(size int) (string, error) {
	if size < 1 {
		return "", fmt.Errorf("invalid salt size: %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to draw random salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
