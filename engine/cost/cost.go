// Package cost estimates the dollar cost of a run from the number of raw
// items the provider returned.
package cost

import "math"

// Rates in dollars.
const (
	ScrapePer1000   = 4.00
	ClassifyPer1000 = 1.00
	Fixed           = 0.005
)

// Estimate returns the cost of a run that scraped totalItems raw items,
// rounded to four decimal places. Classification is billed on the same
// pre-filter count.
func Estimate(totalItems int) float64 {
	if totalItems < 0 {
		totalItems = 0
	}
	n := float64(totalItems) / 1000
	return round4(n*ScrapePer1000 + n*ClassifyPer1000 + Fixed)
}

func round4(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}
