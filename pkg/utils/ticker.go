package utils

import (
	"strings"
)

// MaxTickerLength is the longest symbol accepted from model output.
const MaxTickerLength = 6

// noTicker is the sentinel some models emit instead of null.
const noTicker = "NONE"

// NormalizeTicker trims and upper-cases a user-supplied ticker and drops a
// leading $ (common in chat).
func NormalizeTicker(ticker string) string {
	ticker = strings.TrimSpace(strings.ToUpper(ticker))
	return strings.TrimSpace(strings.TrimPrefix(ticker, "$"))
}

// IsPlausibleTicker reports whether a normalized model-extracted symbol can
// be used: non-empty, not NONE, at most MaxTickerLength characters.
func IsPlausibleTicker(ticker string) bool {
	if ticker == "" || ticker == noTicker {
		return false
	}
	return len([]rune(ticker)) <= MaxTickerLength
}

// FeedSymbol converts a symbol to the form quote feeds use for share
// classes, e.g. BRK.B becomes BRK-B.
func FeedSymbol(ticker string) string {
	return strings.ReplaceAll(NormalizeTicker(ticker), ".", "-")
}
