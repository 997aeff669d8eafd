package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeLengthAndCharset(t *testing.T) {
	for _, length := range []int{1, 4, 6, 8, 12} {
		for i := 0; i < 50; i++ {
			code, err := GenerateCode(length)
			require.NoError(t, err)
			require.Len(t, code, length)
			for _, c := range code {
				require.True(t, c >= '0' && c <= '9', "non-digit %q in code %q", c, code)
			}
		}
	}
}

func TestGenerateCodeRejectsInvalidLength(t *testing.T) {
	_, err := GenerateCode(0)
	assert.Error(t, err)
	_, err = GenerateCode(-3)
	assert.Error(t, err)
}

func TestGenerateCodeCoversRange(t *testing.T) {
	// With single-digit codes every value should show up quickly if the
	// distribution is anywhere near uniform.
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		code, err := GenerateCode(1)
		require.NoError(t, err)
		seen[code] = true
	}
	assert.Len(t, seen, 10)
}

func TestGenerateSalt(t *testing.T) {
	salt, err := GenerateSalt(32)
	require.NoError(t, err)
	assert.Len(t, salt, 64) // hex doubles the byte count

	other, err := GenerateSalt(32)
	require.NoError(t, err)
	assert.NotEqual(t, salt, other)

	_, err = GenerateSalt(0)
	assert.Error(t, err)
}

func TestHashDeterministic(t *testing.T) {
	salt, err := GenerateSalt(32)
	require.NoError(t, err)

	first, err := Hash("482913", salt)
	require.NoError(t, err)
	second, err := Hash("482913", salt)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 128) // 64-byte key, hex encoded
}

func TestHashDiffersAcrossSalts(t *testing.T) {
	saltA, err := GenerateSalt(32)
	require.NoError(t, err)
	saltB, err := GenerateSalt(32)
	require.NoError(t, err)

	hashA, err := Hash("482913", saltA)
	require.NoError(t, err)
	hashB, err := Hash("482913", saltB)
	require.NoError(t, err)
	assert.NotEqual(t, hashA, hashB)
}

func TestHashRejectsMalformedSalt(t *testing.T) {
	_, err := Hash("482913", "not-hex")
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	assert.True(t, Compare("abcdef", "abcdef"))
	assert.False(t, Compare("abcdef", "abcdeg"))
	assert.False(t, Compare("abcdef", "zbcdef"))
	assert.False(t, Compare("short", "a bit longer"))
	assert.True(t, Compare("", ""))
	assert.False(t, Compare("", "x"))
}
