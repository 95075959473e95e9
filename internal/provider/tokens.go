package provider

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// EstimateTokens approximates the token count of s as ceil(runes/4).
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// Price is the USD cost per million tokens.
type Price struct {
	Input  float64
	Output float64
}

var prices = map[string]Price{
	"sonnet": {Input: 3, Output: 15},
	"haiku":  {Input: 0.8, Output: 4},
	"opus":   {Input: 15, Output: 75},
}

// PriceFor returns the price for a model alias or full model id. Unknown
// models are priced as sonnet.
func PriceFor(model string) Price {
	m := strings.ToLower(model)
	for _, family := range []string{"opus", "haiku", "sonnet"} {
		if strings.Contains(m, family) {
			return prices[family]
		}
	}
	return prices["sonnet"]
}

// Cost estimates the USD cost of a call.
func Cost(model string, inputTokens, outputTokens int) float64 {
	p := PriceFor(model)
	return (float64(inputTokens)*p.Input + float64(outputTokens)*p.Output) / 1_000_000
}

// FormatCost renders a cost as dollars, or cents below a tenth of a cent.
func FormatCost(usd float64) string {
	if usd < 0.001 {
		return fmt.Sprintf("%.2f¢", usd*100)
	}
	return fmt.Sprintf("$%.4f", usd)
}
