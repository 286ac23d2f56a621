package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		pct      int
		expected float64
	}{
		{
			name:     "empty sample floors at one",
			values:   nil,
			pct:      95,
			expected: 1,
		},
		{
			name:     "all zero floors at one",
			values:   []float64{0, 0, 0},
			pct:      95,
			expected: 1,
		},
		{
			name:     "nearest rank on unsorted input",
			values:   []float64{10, 5, 1},
			pct:      95,
			expected: 5,
		},
		{
			name:     "single value",
			values:   []float64{42},
			pct:      95,
			expected: 42,
		},
		{
			name:     "twenty one values lands on index nineteen",
			values:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21},
			pct:      95,
			expected: 20,
		},
		{
			name:     "fractional values below one floor at one",
			values:   []float64{0.2, 0.5, 0.7},
			pct:      95,
			expected: 1,
		},
		{
			name:     "pct above range is clamped",
			values:   []float64{3, 9},
			pct:      150,
			expected: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Percentile(tt.values, tt.pct))
		})
	}
}

func TestPercentileDoesNotMutateInput(t *testing.T) {
	values := []float64{10, 5, 1}
	P95(values)
	assert.Equal(t, []float64{10, 5, 1}, values)
}
