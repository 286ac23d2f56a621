package analysis

import (
	"time"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

// Analyzer orchestrates the base score pipeline
type Analyzer struct {
	preprocessor *Preprocessor
}

// NewAnalyzer creates an analyzer using issueSLA for issues without a milestone
func NewAnalyzer(issueSLA time.Duration) *Analyzer {
	return &Analyzer{preprocessor: NewPreprocessor(issueSLA)}
}

// Compute produces one BaseScore per participant, sorted by lowercase login.
// Participants are the repository contributors plus anyone active in the window.
func (a *Analyzer) Compute(window Window, activity Activity) []types.BaseScore {
	processed := a.preprocessor.ProcessActivity(window, activity)
	metrics := a.preprocessor.tally(window, processed)
	scores := ScoreCohort(metrics)

	out := make([]types.BaseScore, len(metrics))
	for i, m := range metrics {
		out[i] = types.BaseScore{
			Login:       m.Login,
			CodeScore:   scores[i].Code,
			PRScore:     scores[i].PR,
			ReviewScore: scores[i].Review,
			IssueScore:  scores[i].Issue,
			BaseScore:   scores[i].Base,
			Raw: types.RawCounters{
				LinesChanged: m.LinesChanged,
				Commits:      m.Commits,
				PRsCreated:   m.PRsCreated,
				PRsMerged:    m.PRsMerged,
				Reviews:      m.Reviews,
				IssuesOnTime: m.IssuesOnTime,
			},
		}
	}
	return out
}
