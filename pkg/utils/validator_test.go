package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, ValidateUserID("alice"))
	assert.NoError(t, ValidateUserID("ops.bot@example.com"))
	assert.Error(t, ValidateUserID(""))
	assert.Error(t, ValidateUserID("bad user"))
}

func TestParseMonth(t *testing.T) {
	start, err := ParseMonth("2026-03", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), start)

	_, err = ParseMonth("2026-13", time.UTC)
	assert.Error(t, err)
	_, err = ParseMonth("March", time.UTC)
	assert.Error(t, err)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", TruncateRunes("abc", 5))
	assert.Equal(t, "ab", TruncateRunes("abc", 2))
	assert.Equal(t, "ñé", TruncateRunes("ñéx", 2))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "a\tb\nc", SanitizeString("a\tb\nc\x00\x07"))
}
