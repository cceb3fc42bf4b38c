package web

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/tealshop/storefront/internal/domain"
)

// MoneyFormatter renders amounts for display in one locale and currency.
type MoneyFormatter struct {
	printer *message.Printer
	symbol  string
}

// NewMoneyFormatter parses a BCP 47 locale and an ISO 4217 currency code.
func NewMoneyFormatter(locale, code string) (MoneyFormatter, error) {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return MoneyFormatter{}, fmt.Errorf("web money: parse locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return MoneyFormatter{}, fmt.Errorf("web money: parse currency %q: %w", code, err)
	}
	printer := message.NewPrinter(tag)
	symbol := printer.Sprint(currency.Symbol(unit))
	if symbol == "" {
		symbol = unit.String() + " "
	}
	return MoneyFormatter{printer: printer, symbol: symbol}, nil
}

// Format renders a rounded amount with the currency symbol and locale digit grouping.
func (f MoneyFormatter) Format(amount float64) string {
	if f.printer == nil {
		return fmt.Sprintf("%.2f", domain.Round2(amount))
	}
	return f.symbol + f.printer.Sprintf("%.2f", domain.Round2(amount))
}
