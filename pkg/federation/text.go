package federation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/florenceegi/egi-hub/pkg/domain"
)

const (
	MaxNameLength        = 100
	MaxDescriptionLength = 2000
	MaxMessageLength     = 2000
)

// cleanText trims s and strips control characters other than newline,
// carriage return and tab.
func cleanText(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s))
}

// optionalText cleans s and checks its length. Blank input yields nil so the
// column stays NULL.
func optionalText(s string, max int, tooLong error) (*string, error) {
	s = cleanText(s)
	if s == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(s) > max {
		return nil, tooLong
	}
	return &s, nil
}

func normalizeName(name string) (string, error) {
	name = cleanText(name)
	if name == "" {
		return "", domain.ErrNameRequired
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", domain.ErrNameTooLong
	}
	return name, nil
}

func normalizeMessage(message string) (*string, error) {
	return optionalText(message, MaxMessageLength, domain.ErrMessageTooLong)
}
