package analysis

import "math"

var metricWeights = map[string]float64{
	"code":   0.5,
	"pr":     0.2,
	"review": 0.2,
	"issue":  0.1,
}

// NormalizeMetric clips raw at ceiling and scales it to 0-100
func NormalizeMetric(raw, ceiling float64) int {
	if ceiling < 1 {
		ceiling = 1
	}
	v := clip(raw, 0, ceiling)
	return int(math.Round(100 * v / ceiling))
}

// AggregateBase combines the sub-scores into the 0-100 base score
func AggregateBase(s MetricScores) int {
	weighted := metricWeights["code"]*float64(s.Code)/100 +
		metricWeights["pr"]*float64(s.PR)/100 +
		metricWeights["review"]*float64(s.Review)/100 +
		metricWeights["issue"]*float64(s.Issue)/100
	return int(math.Round(100 * clip(weighted, 0, 1)))
}

type ceilings struct {
	code, pr, review, issue float64
}

func cohortCeilings(metrics []RawMetrics) ceilings {
	code := make([]float64, len(metrics))
	pr := make([]float64, len(metrics))
	review := make([]float64, len(metrics))
	issue := make([]float64, len(metrics))
	for i, m := range metrics {
		code[i] = m.Code()
		pr[i] = m.PR()
		review[i] = m.Review()
		issue[i] = m.Issue()
	}
	return ceilings{
		code:   P95(code),
		pr:     P95(pr),
		review: P95(review),
		issue:  P95(issue),
	}
}

// ScoreCohort scores every member against the cohort's p95 ceilings
func ScoreCohort(metrics []RawMetrics) []MetricScores {
	c := cohortCeilings(metrics)
	out := make([]MetricScores, len(metrics))
	for i, m := range metrics {
		s := MetricScores{
			Code:   NormalizeMetric(m.Code(), c.code),
			PR:     NormalizeMetric(m.PR(), c.pr),
			Review: NormalizeMetric(m.Review(), c.review),
			Issue:  NormalizeMetric(m.Issue(), c.issue),
		}
		s.Base = AggregateBase(s)
		out[i] = s
	}
	return out
}
