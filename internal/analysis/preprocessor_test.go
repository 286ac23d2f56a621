package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	windowStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	testWindow  = Window{Start: windowStart, End: windowEnd}
)

func at(days int) time.Time { return windowStart.Add(time.Duration(days) * 24 * time.Hour) }

func ptr(t time.Time) *time.Time { return &t }

func TestWindowContains(t *testing.T) {
	assert.True(t, testWindow.Contains(windowStart))
	assert.False(t, testWindow.Contains(windowEnd))
	assert.False(t, testWindow.Contains(windowStart.Add(-time.Second)))
	assert.True(t, testWindow.Contains(windowEnd.Add(-time.Second)))
}

func TestNewPreprocessor(t *testing.T) {
	assert.Equal(t, DefaultIssueSLA, NewPreprocessor(0).issueSLA)
	assert.Equal(t, 48*time.Hour, NewPreprocessor(48*time.Hour).issueSLA)
}

func TestPreprocessor_ProcessActivity(t *testing.T) {
	p := NewPreprocessor(DefaultIssueSLA)

	activity := Activity{
		Contributors: []Contributor{
			{Login: "alice", Type: "User"},
			{Login: "dependabot[bot]", Type: "Bot"},
			{Login: "ci-runner", Type: "Bot"},
		},
		Commits: []Commit{
			{SHA: "a1", Author: "alice", Additions: 10, Date: at(1)},
			{SHA: "a1", Author: "alice", Additions: 10, Date: at(1)},
			{SHA: "old", Author: "alice", Additions: 99, Date: windowStart.Add(-time.Hour)},
			{SHA: "b1", Author: "renovate[bot]", Additions: 500, Date: at(2)},
			{SHA: "edge", Author: "bob", Additions: 1, Date: windowEnd},
		},
		PullRequests: []PullRequest{
			{Number: 1, Author: "alice", CreatedAt: at(2)},
			{Number: 2, Author: "bob", CreatedAt: windowStart.Add(-48 * time.Hour), MergedAt: ptr(at(3))},
			{Number: 3, Author: "bob", CreatedAt: windowStart.Add(-48 * time.Hour)},
		},
		Reviews: []Review{
			{PullNumber: 1, Reviewer: "bob", SubmittedAt: at(4)},
			{PullNumber: 1, Reviewer: "bob", SubmittedAt: windowEnd.Add(time.Hour)},
		},
		Issues: []Issue{
			{Number: 9, Assignees: []string{"alice"}, CreatedAt: at(0), ClosedAt: ptr(at(1))},
			{Number: 10, Assignees: []string{"alice"}, CreatedAt: at(0)},
			{Number: 11, Assignees: []string{"github-actions[bot]"}, CreatedAt: at(0), ClosedAt: ptr(at(1))},
		},
	}

	out := p.ProcessActivity(testWindow, activity)

	require.Len(t, out.Contributors, 1)
	assert.Equal(t, "alice", out.Contributors[0].Login)

	require.Len(t, out.Commits, 1)
	assert.Equal(t, "a1", out.Commits[0].SHA)

	require.Len(t, out.PullRequests, 2)
	assert.Equal(t, 1, out.PullRequests[0].Number)
	assert.Equal(t, 2, out.PullRequests[1].Number)

	require.Len(t, out.Reviews, 1)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, 9, out.Issues[0].Number)
}

func TestPreprocessor_ClosedOnTime(t *testing.T) {
	p := NewPreprocessor(7 * 24 * time.Hour)

	tests := []struct {
		name     string
		issue    Issue
		expected bool
	}{
		{
			name:     "within sla",
			issue:    Issue{CreatedAt: at(0), ClosedAt: ptr(at(7))},
			expected: true,
		},
		{
			name:     "past sla",
			issue:    Issue{CreatedAt: at(0), ClosedAt: ptr(at(8))},
			expected: false,
		},
		{
			name:     "milestone due wins over sla",
			issue:    Issue{CreatedAt: at(0), ClosedAt: ptr(at(20)), MilestoneDue: ptr(at(21))},
			expected: true,
		},
		{
			name:     "closed after milestone due",
			issue:    Issue{CreatedAt: at(0), ClosedAt: ptr(at(2)), MilestoneDue: ptr(at(1))},
			expected: false,
		},
		{
			name:     "open issue",
			issue:    Issue{CreatedAt: at(0)},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, p.closedOnTime(tt.issue))
		})
	}
}

func TestPreprocessor_TallyMergesLoginCase(t *testing.T) {
	p := NewPreprocessor(DefaultIssueSLA)

	activity := Activity{
		Contributors: []Contributor{{Login: "Alice"}},
		Commits: []Commit{
			{SHA: "1", Author: "alice", Additions: 3, Deletions: 2, Date: at(1)},
			{SHA: "2", Author: "ALICE", Additions: 5, Date: at(2)},
		},
		Issues: []Issue{
			{Number: 1, Assignees: []string{"alice", "Bob", "ALICE"}, CreatedAt: at(0), ClosedAt: ptr(at(1))},
		},
	}

	metrics := p.tally(testWindow, p.ProcessActivity(testWindow, activity))

	require.Len(t, metrics, 2)
	assert.Equal(t, "Alice", metrics[0].Login)
	assert.Equal(t, 2, metrics[0].Commits)
	assert.Equal(t, 10, metrics[0].LinesChanged)
	assert.Equal(t, 1, metrics[0].IssuesOnTime)
	assert.Equal(t, "Bob", metrics[1].Login)
	assert.Equal(t, 1, metrics[1].IssuesOnTime)
}
