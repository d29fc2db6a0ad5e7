package reconciler

import (
	"regexp"
	"strconv"
	"strings"
)

// The rendered event page embeds the market state as JSON; the open price
// appears under one of these keys near the window slug.
var structuredPattern = regexp.MustCompile(`"(?:openPrice|priceToBeat|referencePrice)"\s*:\s*"?([0-9]+(?:\.[0-9]+)?)"?`)

// Fallback text pattern for the visible "Price to beat $104,250.00" label.
var labelPattern = regexp.MustCompile(`(?i)price\s+to\s+beat[^0-9$]{0,40}\$?([0-9][0-9,]*(?:\.[0-9]+)?)`)

// Any dollar-formatted number, for the last-resort unscoped pass.
var dollarPattern = regexp.MustCompile(`\$([0-9][0-9,]*(?:\.[0-9]+)?)`)

// How much of the page around the slug counts as "scoped" to the window.
const scopeRadius = 4096

// scopeAround returns the region of the blob surrounding the first
// occurrence of the slug, or "" when the slug is absent.
func scopeAround(blob, slug string) string {
	idx := strings.Index(blob, slug)
	if idx < 0 {
		return ""
	}
	lo := idx - scopeRadius
	if lo < 0 {
		lo = 0
	}
	hi := idx + scopeRadius
	if hi > len(blob) {
		hi = len(blob)
	}
	return blob[lo:hi]
}

// extractStructured pulls the open-price field out of the scoped region.
func extractStructured(scope string) (float64, bool) {
	m := structuredPattern.FindStringSubmatch(scope)
	if m == nil {
		return 0, false
	}
	return parseMoney(m[1])
}

// extractLabeled matches the human-readable label within the scoped region.
func extractLabeled(scope string) (float64, bool) {
	m := labelPattern.FindStringSubmatch(scope)
	if m == nil {
		return 0, false
	}
	return parseMoney(m[1])
}

// extractPlausible scans the whole blob and accepts the LAST dollar value
// inside the sanity band. Unrelated numbers on the page fall outside the
// band; the most recent plausible one is the documented heuristic.
func extractPlausible(blob string, minPrice, maxPrice float64) (float64, bool) {
	matches := dollarPattern.FindAllStringSubmatch(blob, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		v, ok := parseMoney(matches[i][1])
		if ok && v >= minPrice && v <= maxPrice {
			return v, true
		}
	}
	return 0, false
}

func parseMoney(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
