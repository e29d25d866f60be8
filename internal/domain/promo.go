package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizePromoCode folds compatibility forms and case so codes match regardless of how they were typed.
func NormalizePromoCode(code string) string {
	folded := norm.NFKC.String(strings.TrimSpace(code))
	return strings.TrimSpace(cases.Upper(language.Und).String(folded))
}
