package analysis

import (
	"math"
	"time"
)

// Window is a half-open time range [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

type Contributor struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

type Commit struct {
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Additions int       `json:"additions"`
	Deletions int       `json:"deletions"`
	Date      time.Time `json:"date"`
}

type PullRequest struct {
	Number    int        `json:"number"`
	Author    string     `json:"author"`
	CreatedAt time.Time  `json:"created_at"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
}

type Review struct {
	PullNumber  int       `json:"pull_number"`
	Reviewer    string    `json:"reviewer"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Issue struct {
	Number       int        `json:"number"`
	Assignees    []string   `json:"assignees"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	MilestoneDue *time.Time `json:"milestone_due,omitempty"`
}

// Activity is everything mined from the source host for one repository
type Activity struct {
	Contributors []Contributor `json:"contributors"`
	Commits      []Commit      `json:"commits"`
	PullRequests []PullRequest `json:"pull_requests"`
	Reviews      []Review      `json:"reviews"`
	Issues       []Issue       `json:"issues"`
}

// RawMetrics are the per-member counters a base score is derived from
type RawMetrics struct {
	Login        string
	LinesChanged int
	Commits      int
	PRsCreated   int
	PRsMerged    int
	Reviews      int
	IssuesOnTime int
}

// Code log-dampens diff size so large diffs don't drown out commit cadence
func (r RawMetrics) Code() float64 {
	return math.Log1p(float64(r.LinesChanged)) + float64(r.Commits)
}

func (r RawMetrics) PR() float64 {
	return float64(r.PRsCreated) + 2*float64(r.PRsMerged)
}

func (r RawMetrics) Review() float64 { return float64(r.Reviews) }

func (r RawMetrics) Issue() float64 { return float64(r.IssuesOnTime) }

// MetricScores are the clipped 0-100 sub-scores and their weighted aggregate
type MetricScores struct {
	Code   int `json:"code"`
	PR     int `json:"pr"`
	Review int `json:"review"`
	Issue  int `json:"issue"`
	Base   int `json:"base"`
}
