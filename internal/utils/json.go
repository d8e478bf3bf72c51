package utils

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// SafeJSONParse parses JSON safely
func SafeJSONParse(data []byte, v interface{}) error {
	if len(data) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(data, v)
}

// LogError logs an error if it's not nil
func LogError(log *zap.Logger, err error, context string) {
	if err != nil {
		log.Error("operation failed", zap.String("context", context), zap.Error(err))
	}
}

// SanitizeString strips control characters (except tab and newline), trims
// surrounding whitespace and cuts the result to at most maxRunes runes.
func SanitizeString(s string, maxRunes int) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.Map(func(r rune) rune {
		if r == 0 || (r < 32 && r != '\t' && r != '\n') || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		runes := []rune(s)
		s = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return s
}
