package usecase

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a currency symbol is missing or unrecognised
const DefaultCurrency = "USD"

// currencySymbols maps printed symbols to ISO-4217 codes.
// Multi-character symbols are listed so "C$" does not resolve to "$".
var currencySymbols = map[string]string{
	"$":   "USD",
	"US$": "USD",
	"€":   "EUR",
	"£":   "GBP",
	"¥":   "JPY",
	"₹":   "INR",
	"₩":   "KRW",
	"₽":   "RUB",
	"₺":   "TRY",
	"₫":   "VND",
	"₱":   "PHP",
	"₪":   "ILS",
	"฿":   "THB",
	"zł":  "PLN",
	"kr":  "SEK",
	"R$":  "BRL",
	"C$":  "CAD",
	"CA$": "CAD",
	"A$":  "AUD",
	"AU$": "AUD",
	"NZ$": "NZD",
	"HK$": "HKD",
	"S$":  "SGD",
	"MX$": "MXN",
	"CHF": "CHF",
}

// CurrencyFromSymbol maps a currency symbol to its ISO-4217 code, defaulting
// to USD.
func CurrencyFromSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if code, ok := currencySymbols[symbol]; ok {
		return code
	}
	if code, ok := currencySymbols[strings.ToUpper(symbol)]; ok {
		return code
	}
	return DefaultCurrency
}

// Compiled patterns for price text cleanup
var (
	// Everything that is not a digit or a decimal point
	nonPriceCharsPattern = regexp.MustCompile(`[^0-9.]`)

	// Leading numeric prefix, the part JavaScript parseFloat would consume
	numericPrefixPattern = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)`)

	// A number preceded by a currency symbol, e.g. "$12.50", "€ 1,299.00"
	currencyPrefixedPattern = regexp.MustCompile(`(?:US\$|[A-Z]{1,2}\$|[$€£¥₹₩₽₺₫₱₪฿])\s?\d[\d,]*(?:\.\d+)?`)
)

// CleanPrice strips everything but digits and dots, then parses the longest
// numeric prefix. ok is false when nothing numeric remains.
func CleanPrice(text string) (decimal.Decimal, bool) {
	cleaned := nonPriceCharsPattern.ReplaceAllString(text, "")
	prefix := numericPrefixPattern.FindString(cleaned)
	if prefix == "" {
		return decimal.Zero, false
	}
	prefix = strings.TrimSuffix(prefix, ".")
	d, err := decimal.NewFromString(prefix)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParsePriceValue parses a structured-data price that may be a JSON number or
// a string such as "19.99" or "1,299.00".
func ParsePriceValue(v any) (float64, bool) {
	switch p := v.(type) {
	case float64:
		return p, true
	case string:
		d, ok := CleanPrice(p)
		if !ok {
			return 0, false
		}
		f, _ := d.Float64()
		return f, true
	default:
		return 0, false
	}
}

// HasCurrencyPrefixedNumber reports whether text contains a currency-prefixed amount
func HasCurrencyPrefixedNumber(text string) bool {
	return currencyPrefixedPattern.MatchString(text)
}

// FormatUSD renders an amount the way the popup shows money: $1,234.56
func FormatUSD(amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}
	fixed := amount.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String() + "." + frac
}
