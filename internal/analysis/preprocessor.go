package analysis

import (
	"sort"
	"strings"
	"time"
)

// DefaultIssueSLA is the on-time window for issues without a milestone due date
const DefaultIssueSLA = 7 * 24 * time.Hour

// Preprocessor handles data cleaning and per-member tallying
type Preprocessor struct {
	issueSLA time.Duration
}

// NewPreprocessor creates a new preprocessor
func NewPreprocessor(issueSLA time.Duration) *Preprocessor {
	if issueSLA <= 0 {
		issueSLA = DefaultIssueSLA
	}
	return &Preprocessor{issueSLA: issueSLA}
}

// isBot matches GitHub app accounts
func isBot(login, accountType string) bool {
	return strings.HasSuffix(strings.ToLower(login), "[bot]") || strings.EqualFold(accountType, "Bot")
}

// ProcessActivity deduplicates commits, drops events outside the window and removes bot accounts
func (p *Preprocessor) ProcessActivity(window Window, activity Activity) Activity {
	out := Activity{}

	for _, c := range activity.Contributors {
		if c.Login == "" || isBot(c.Login, c.Type) {
			continue
		}
		out.Contributors = append(out.Contributors, c)
	}

	seen := make(map[string]bool, len(activity.Commits))
	for _, c := range activity.Commits {
		if c.Author == "" || isBot(c.Author, "") || !window.Contains(c.Date) {
			continue
		}
		if c.SHA != "" {
			if seen[c.SHA] {
				continue
			}
			seen[c.SHA] = true
		}
		out.Commits = append(out.Commits, c)
	}

	for _, pr := range activity.PullRequests {
		if pr.Author == "" || isBot(pr.Author, "") {
			continue
		}
		created := window.Contains(pr.CreatedAt)
		merged := pr.MergedAt != nil && window.Contains(*pr.MergedAt)
		if !created && !merged {
			continue
		}
		out.PullRequests = append(out.PullRequests, pr)
	}

	for _, r := range activity.Reviews {
		if r.Reviewer == "" || isBot(r.Reviewer, "") || !window.Contains(r.SubmittedAt) {
			continue
		}
		out.Reviews = append(out.Reviews, r)
	}

	for _, is := range activity.Issues {
		if is.ClosedAt == nil || !window.Contains(*is.ClosedAt) {
			continue
		}
		assignees := make([]string, 0, len(is.Assignees))
		for _, a := range is.Assignees {
			if a != "" && !isBot(a, "") {
				assignees = append(assignees, a)
			}
		}
		if len(assignees) == 0 {
			continue
		}
		is.Assignees = assignees
		out.Issues = append(out.Issues, is)
	}

	return out
}

// closedOnTime applies the milestone due date when present, else the SLA from creation
func (p *Preprocessor) closedOnTime(is Issue) bool {
	if is.ClosedAt == nil {
		return false
	}
	if is.MilestoneDue != nil {
		return !is.ClosedAt.After(*is.MilestoneDue)
	}
	return is.ClosedAt.Sub(is.CreatedAt) <= p.issueSLA
}

// tally builds RawMetrics for every participant of already processed activity.
// Logins compare case-insensitively; the first casing seen is kept.
func (p *Preprocessor) tally(window Window, activity Activity) []RawMetrics {
	byKey := make(map[string]*RawMetrics)
	order := make([]string, 0)

	get := func(login string) *RawMetrics {
		key := strings.ToLower(login)
		m, ok := byKey[key]
		if !ok {
			m = &RawMetrics{Login: login}
			byKey[key] = m
			order = append(order, key)
		}
		return m
	}

	for _, c := range activity.Contributors {
		get(c.Login)
	}
	for _, c := range activity.Commits {
		m := get(c.Author)
		m.Commits++
		m.LinesChanged += c.Additions + c.Deletions
	}
	for _, pr := range activity.PullRequests {
		m := get(pr.Author)
		if window.Contains(pr.CreatedAt) {
			m.PRsCreated++
		}
		if pr.MergedAt != nil && window.Contains(*pr.MergedAt) {
			m.PRsMerged++
		}
	}
	for _, r := range activity.Reviews {
		get(r.Reviewer).Reviews++
	}
	for _, is := range activity.Issues {
		onTime := p.closedOnTime(is)
		credited := make(map[string]bool, len(is.Assignees))
		for _, a := range is.Assignees {
			m := get(a)
			key := strings.ToLower(a)
			if credited[key] {
				continue
			}
			credited[key] = true
			if onTime {
				m.IssuesOnTime++
			}
		}
	}

	sort.Strings(order)
	out := make([]RawMetrics, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	return out
}
