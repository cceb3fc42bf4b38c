package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/tealshop/storefront/internal/domain"
)

var plainText = bluemonday.StrictPolicy()

// PlainText strips markup, collapses whitespace and truncates to limit runes (0 means no limit).
func PlainText(value string, limit int) string {
	cleaned := plainText.Sanitize(value)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if limit > 0 && utf8.RuneCountInString(cleaned) > limit {
		cleaned = string([]rune(cleaned)[:limit])
	}
	return cleaned
}

// CleanAddress returns a copy of addr with every field reduced to plain text.
func CleanAddress(addr domain.Address) domain.Address {
	return domain.Address{
		FullName:   PlainText(addr.FullName, 120),
		Address:    PlainText(addr.Address, 200),
		City:       PlainText(addr.City, 120),
		PostalCode: PlainText(addr.PostalCode, 20),
		Country:    PlainText(addr.Country, 80),
	}
}
