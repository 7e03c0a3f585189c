package enums

import "strings"

// Currency is a lowercase ISO 4217 code, the form Stripe uses.
type Currency string

const CurrencyEUR Currency = "eur"

var currencies = []Currency{CurrencyEUR}

func (c Currency) String() string { return string(c) }

func (c Currency) IsValid() bool {
	_, err := parse("currency", string(c), currencies)
	return err == nil
}

// ParseCurrency accepts any case and surrounding space.
func ParseCurrency(value string) (Currency, error) {
	return parse("currency", strings.ToLower(strings.TrimSpace(value)), currencies)
}
