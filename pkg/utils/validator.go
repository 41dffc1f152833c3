package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	userIDRegex  = regexp.MustCompile(`^[A-Za-z0-9._@\-]{1,128}$`)
	controlRegex = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// ValidateUserID validates an acting user identifier taken from a request header
func ValidateUserID(userID string) error {
	if !userIDRegex.MatchString(userID) {
		return fmt.Errorf("invalid user id: %q", userID)
	}
	return nil
}

// ParseMonth parses a YYYY-MM string into the first instant of that month in loc
func ParseMonth(month string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01", month, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, expected YYYY-MM", month)
	}
	return t, nil
}

// SanitizeString removes control characters, keeping tabs and newlines
func SanitizeString(s string) string {
	return controlRegex.ReplaceAllString(s, "")
}

// TruncateRunes trims s to at most max runes without splitting a character
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		if n == max {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}
