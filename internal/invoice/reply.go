package invoice

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/pkg/utils"
)

var dateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseReply extracts the sanitized fields from a model reply. A reply with no
// JSON object, or one that does not decode, yields empty fields.
func ParseReply(content string) entity.ExtractedFields {
	obj := ExtractJSONObject(content)
	if obj == "" {
		return entity.ExtractedFields{}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return entity.ExtractedFields{}
	}

	return entity.ExtractedFields{
		Amount:        SanitizeAmount(raw["amount"]),
		Date:          SanitizeDate(raw["date"]),
		Vendor:        SanitizeText(raw["vendor"], entity.MaxVendorLength),
		InvoiceNumber: SanitizeText(raw["invoice_number"], entity.MaxInvoiceNumberLength),
	}
}

// ExtractJSONObject returns the first top-level {...} object in content, or
// "" when there is none. Braces inside JSON strings are ignored.
func ExtractJSONObject(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(content); i++ {
		c := content[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	return ""
}

// SanitizeAmount accepts a positive finite number or numeric string
func SanitizeAmount(v interface{}) *float64 {
	var f float64
	switch val := v.(type) {
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = val
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return nil
	}
	return &f
}

// SanitizeDate accepts a YYYY-MM-DD string naming a real calendar day
func SanitizeDate(v interface{}) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if !dateRegex.MatchString(s) {
		return nil
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return nil
	}
	return &s
}

// SanitizeText trims a string value and truncates it to max runes. Empty
// strings and non-strings yield nil.
func SanitizeText(v interface{}, max int) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(utils.SanitizeString(s))
	if s == "" {
		return nil
	}
	s = utils.TruncateRunes(s, max)
	return &s
}
