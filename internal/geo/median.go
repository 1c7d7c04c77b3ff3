package geo

import (
	"math"
	"sort"
)

// Median returns the median of the non-NaN values, or NaN if there are none.
func Median(values []float64) float64 {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return math.NaN()
	}
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// RollingMedian computes a centered rolling median. The window is clipped at
// both ends of the sequence instead of padded, and an even window is widened
// to the next odd size so it stays centered. NaN marks a missing value.
func RollingMedian(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	if window%2 == 0 {
		window++
	}
	half := window / 2
	return windowMedian(values, half, half)
}

// TrailingMedian uses only the current value and the window-1 values before it.
func TrailingMedian(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	return windowMedian(values, window-1, 0)
}

// LeadingMedian uses only the current value and the window-1 values after it.
func LeadingMedian(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	return windowMedian(values, 0, window-1)
}

func windowMedian(values []float64, before, after int) []float64 {
	result := make([]float64, len(values))
	for i := range values {
		start := max(0, i-before)
		end := min(len(values), i+after+1)
		result[i] = Median(values[start:end])
	}
	return result
}
