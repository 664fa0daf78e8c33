package pricing

import (
	"fmt"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders Money for display in a fixed currency and locale.
type Formatter struct {
	unit    currency.Unit
	printer *message.Printer
}

// NewFormatter builds a Formatter for an ISO 4217 code such as "USD".
func NewFormatter(code string, tag language.Tag) (*Formatter, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("pricing: currency %q: %w", code, err)
	}
	return &Formatter{unit: unit, printer: message.NewPrinter(tag)}, nil
}

// Format renders the amount with the currency symbol.
func (f *Formatter) Format(m Money) string {
	if f == nil {
		return m.String()
	}
	return f.printer.Sprint(currency.Symbol(f.unit.Amount(m.Major())))
}

// Code returns the ISO currency code.
func (f *Formatter) Code() string {
	if f == nil {
		return ""
	}
	return f.unit.String()
}
