package analysis

import "sort"

// Percentile returns the nearest-rank value at index floor(pct*(n-1)/100) of
// the ascending values, floored at 1. An empty sample yields 1.
func Percentile(values []float64, pct int) float64 {
	if len(values) == 0 {
		return 1
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	cp := append([]float64(nil), values...)
	sort.Float64s(cp)

	// integer arithmetic keeps the index exact; 0.95*(n-1) in float64 can land just below a whole number
	idx := pct * (len(cp) - 1) / 100
	if v := cp[idx]; v > 1 {
		return v
	}
	return 1
}

// P95 is the clipping ceiling used for every metric
func P95(values []float64) float64 {
	return Percentile(values, 95)
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
