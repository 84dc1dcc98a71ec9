package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculatePercentile_EmptyInput_ReturnsZero(t *testing.T) {
	// GIVEN empty slices
	// WHEN CalculatePercentile is called
	// THEN it returns 0 (not panic)
	if got := CalculatePercentile([]float64{}, 99); got != 0.0 {
		t.Errorf("expected 0.0 for empty input, got %f", got)
	}
	if got := CalculatePercentile([]int64{}, 50); got != 0.0 {
		t.Errorf("expected 0.0 for empty int64 input, got %f", got)
	}
}

func TestCalculatePercentile_SingleElement(t *testing.T) {
	if got := CalculatePercentile([]float64{7.5}, 99); got != 7.5 {
		t.Errorf("expected 7.5 for single element, got %f", got)
	}
}

func TestCalculatePercentile_Interpolates(t *testing.T) {
	data := []int{10, 20, 30, 40, 50}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},
		{50, 30},
		{100, 50},
		{90, 46},
		{12.5, 15},
	}
	for _, tc := range tests {
		assert.InDelta(t, tc.want, CalculatePercentile(data, tc.p), 1e-9, "p%v", tc.p)
	}
}

func TestCalculateMean(t *testing.T) {
	assert.Equal(t, 0.0, CalculateMean([]float64{}))
	assert.Equal(t, 2.5, CalculateMean([]int{1, 2, 3, 4}))
}

func TestSummarize_DoesNotReorderInput(t *testing.T) {
	// GIVEN unsorted observations
	values := []float64{3, 1, 2}

	// WHEN summarized
	d := Summarize(values)

	// THEN the input keeps its order and the summary uses sorted values
	assert.Equal(t, []float64{3, 1, 2}, values)
	assert.Equal(t, Distribution{Count: 3, Mean: 2, P50: 2, P95: 2.9, Max: 3}, roundDistribution(d))
	assert.Equal(t, Distribution{}, Summarize([]int{}))
}

func roundDistribution(d Distribution) Distribution {
	round := func(x float64) float64 { return float64(int64(x*1e9+0.5)) / 1e9 }
	d.Mean, d.P50, d.P95, d.Max = round(d.Mean), round(d.P50), round(d.P95), round(d.Max)
	return d
}
