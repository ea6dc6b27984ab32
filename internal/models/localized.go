package models

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrEmptyLocalizedText is returned when neither language carries text
var ErrEmptyLocalizedText = errors.New("localized text requires at least one language")

// LocalizedText is the bilingual (English/Arabic) text used by store documents.
// Values are only built through NewLocalizedText, which rejects malformed input.
type LocalizedText struct {
	En string `gorm:"column:en;type:varchar(255)" json:"en"`
	Ar string `gorm:"column:ar;type:varchar(255)" json:"ar"`
}

// NewLocalizedText trims and validates both languages
func NewLocalizedText(en, ar string) (LocalizedText, error) {
	t := LocalizedText{En: strings.TrimSpace(en), Ar: strings.TrimSpace(ar)}
	if err := t.Validate(); err != nil {
		return LocalizedText{}, err
	}
	return t, nil
}

// MustLocalizedText panics on invalid input; for constants and tests
func MustLocalizedText(en, ar string) LocalizedText {
	t, err := NewLocalizedText(en, ar)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate checks both values are clean UTF-8 text and at least one is set
func (t LocalizedText) Validate() error {
	if t.En == "" && t.Ar == "" {
		return ErrEmptyLocalizedText
	}
	for lang, v := range map[string]string{"en": t.En, "ar": t.Ar} {
		if !utf8.ValidString(v) {
			return fmt.Errorf("localized text %s: invalid UTF-8", lang)
		}
		if strings.IndexFunc(v, unicode.IsControl) >= 0 {
			return fmt.Errorf("localized text %s: contains control characters", lang)
		}
		if utf8.RuneCountInString(v) > 255 {
			return fmt.Errorf("localized text %s: longer than 255 characters", lang)
		}
	}
	return nil
}

// Display returns English when present, Arabic otherwise
func (t LocalizedText) Display() string {
	if t.En != "" {
		return t.En
	}
	return t.Ar
}

// IsZero reports whether no language is set
func (t LocalizedText) IsZero() bool {
	return t.En == "" && t.Ar == ""
}
