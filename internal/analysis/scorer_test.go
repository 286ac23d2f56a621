package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeightsSumToOne(t *testing.T) {
	sum := 0.0
	for _, w := range metricWeights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestNormalizeMetric(t *testing.T) {
	tests := []struct {
		name     string
		raw      float64
		ceiling  float64
		expected int
	}{
		{"zero raw", 0, 5, 0},
		{"at ceiling", 5, 5, 100},
		{"above ceiling clips", 10, 5, 100},
		{"fraction rounds", 1, 3, 33},
		{"half rounds up", 1, 8, 13},
		{"ceiling below one is floored", 0.5, 0, 50},
		{"negative raw clamps to zero", -3, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeMetric(tt.raw, tt.ceiling))
		})
	}
}

func TestAggregateBase(t *testing.T) {
	tests := []struct {
		name     string
		scores   MetricScores
		expected int
	}{
		{"all zero", MetricScores{}, 0},
		{"all max", MetricScores{Code: 100, PR: 100, Review: 100, Issue: 100}, 100},
		{"code only", MetricScores{Code: 100}, 50},
		{"mixed", MetricScores{Code: 20, PR: 50, Review: 10, Issue: 100}, 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AggregateBase(tt.scores))
		})
	}
}

func TestScoreCohort_PercentileClipping(t *testing.T) {
	metrics := []RawMetrics{
		{Login: "A", Commits: 10},
		{Login: "B", Commits: 5},
		{Login: "C", Commits: 1},
	}

	scores := ScoreCohort(metrics)

	assert.Equal(t, 100, scores[0].Code)
	assert.Equal(t, 100, scores[1].Code)
	assert.Equal(t, 20, scores[2].Code)
	assert.Equal(t, 50, scores[0].Base)
	assert.Equal(t, 10, scores[2].Base)
}

func TestScoreCohort_Bounds(t *testing.T) {
	metrics := []RawMetrics{
		{Login: "a", LinesChanged: 100000, Commits: 300, PRsCreated: 40, PRsMerged: 38, Reviews: 90, IssuesOnTime: 12},
		{Login: "b", LinesChanged: 40, Commits: 2, PRsCreated: 1, Reviews: 1},
		{Login: "c"},
		{Login: "d", LinesChanged: 900, Commits: 14, PRsCreated: 3, PRsMerged: 2, Reviews: 7, IssuesOnTime: 1},
	}

	for i, s := range ScoreCohort(metrics) {
		for _, v := range []int{s.Code, s.PR, s.Review, s.Issue, s.Base} {
			assert.GreaterOrEqual(t, v, 0, "member %d", i)
			assert.LessOrEqual(t, v, 100, "member %d", i)
		}
	}
}

func TestScoreCohort_NoActivity(t *testing.T) {
	scores := ScoreCohort([]RawMetrics{{Login: "idle"}, {Login: "also-idle"}})
	for _, s := range scores {
		assert.Equal(t, MetricScores{}, s)
	}
	assert.Empty(t, ScoreCohort(nil))
}
