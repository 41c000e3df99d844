// Package symbol normalizes trading pair notation between the internal
// form (upper case, underscore separated, e.g. BTC_USDT) and exchange
// wire formats.
package symbol

import "strings"

var quotes = []string{"USDT", "USDC", "BUSD"}

// Canonical returns the internal representation of a symbol. Slash
// separators become underscores, and separator-less input with a
// recognized quote suffix (BTCUSDT) gains one, so every spelling of a
// pair maps to the same key.
func Canonical(sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	sym = strings.ReplaceAll(sym, "/", "_")
	if strings.Contains(sym, "_") {
		return sym
	}
	return splitQuote(sym)
}

// ForBinance converts a symbol to Binance futures notation, which carries
// no separator (BTC_USDT -> BTCUSDT).
func ForBinance(sym string) string {
	sym = Canonical(sym)
	sym = strings.ReplaceAll(sym, "_", "")
	return sym
}

// FromBinance maps a Binance symbol back to canonical form. Only the USDT,
// USDC and BUSD quote suffixes are recognized; anything else is returned
// as-is.
func FromBinance(sym string) string {
	return splitQuote(strings.ToUpper(strings.TrimSpace(sym)))
}

func splitQuote(sym string) string {
	for _, quote := range quotes {
		if strings.HasSuffix(sym, quote) && len(sym) > len(quote) {
			return sym[:len(sym)-len(quote)] + "_" + quote
		}
	}
	return sym
}
