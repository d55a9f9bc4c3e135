package gateway

import (
	"fmt"
	"strings"
)

func lowerCurrency(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func upperCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// majorUnits renders a minor-unit amount as a decimal string for providers
// that bill in major units.
func majorUnits(amountMinor int64) string {
	return fmt.Sprintf("%d.%02d", amountMinor/100, amountMinor%100)
}
