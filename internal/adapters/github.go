package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/analysis"
	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/monitoring"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/resilience"
)

const (
	DefaultGitHubAPIURL = "https://api.github.com"
	DefaultMaxPages     = 50
	perPage             = 100
)

type githubUser struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

type githubCommit struct {
	SHA    string      `json:"sha"`
	Author *githubUser `json:"author"`
	Commit struct {
		Author struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Stats *struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats,omitempty"`
}

type githubPullRequest struct {
	Number    int         `json:"number"`
	User      *githubUser `json:"user"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	MergedAt  *time.Time  `json:"merged_at"`
}

type githubReview struct {
	User        *githubUser `json:"user"`
	SubmittedAt *time.Time  `json:"submitted_at"`
	State       string      `json:"state"`
}

type githubIssue struct {
	Number    int          `json:"number"`
	Assignees []githubUser `json:"assignees"`
	CreatedAt time.Time    `json:"created_at"`
	ClosedAt  *time.Time   `json:"closed_at"`
	Milestone *struct {
		DueOn *time.Time `json:"due_on"`
	} `json:"milestone"`
	PullRequest *json.RawMessage `json:"pull_request,omitempty"`
}

// GitHubAdapter mines repository activity from the GitHub REST API
type GitHubAdapter struct {
	baseURL  string
	maxPages int
	limiter  *rate.Limiter
	pool     *resilience.ConnectionPool
	retry    resilience.RetryPolicy
	logger   *monitoring.Logger
	metrics  *monitoring.Metrics
}

// GitHubOption tunes a GitHubAdapter
type GitHubOption func(*GitHubAdapter)

// WithMaxPages caps how many pages one listing may walk. A listing that needs more fails.
func WithMaxPages(n int) GitHubOption {
	return func(g *GitHubAdapter) {
		if n > 0 {
			g.maxPages = n
		}
	}
}

// WithRetryPolicy replaces the retry policy applied to each request
func WithRetryPolicy(policy resilience.RetryPolicy) GitHubOption {
	return func(g *GitHubAdapter) {
		g.retry = policy
	}
}

// WithObservability routes call logs and counters to the service logger and metrics
func WithObservability(logger *monitoring.Logger, metrics *monitoring.Metrics) GitHubOption {
	return func(g *GitHubAdapter) {
		if logger != nil {
			g.logger = logger
		}
		g.metrics = metrics
	}
}

// NewGitHubAdapter creates a new GitHub adapter with connection pooling, client-side throttling
// and retries of transient failures
func NewGitHubAdapter(baseURL string, requestsPerSecond float64, opts ...GitHubOption) *GitHubAdapter {
	if baseURL == "" {
		baseURL = DefaultGitHubAPIURL
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "github",
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
	})

	g := &GitHubAdapter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxPages: DefaultMaxPages,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
		pool:     resilience.NewConnectionPool(10, 20, 30*time.Second, cb),
		retry:    resilience.SlowRetryPolicy,
		logger:   monitoring.NewLogger("info"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.retry.Config.RetryableErrors == nil {
		g.retry.Config.RetryableErrors = retryableGitHubError
	}
	return g
}

// rate limits reset on GitHub's schedule, so only transient failures are retried
func retryableGitHubError(err error) bool {
	return apperrors.IsRetryableError(err) && !apperrors.IsCategory(err, apperrors.CategoryRateLimit)
}

// CollectActivity pulls contributors, commits with stats, pull requests, reviews
// and closed issues touching the window. A missing or rejected token is an
// authorization error, never an empty result.
func (g *GitHubAdapter) CollectActivity(ctx context.Context, token, repository string, window analysis.Window) (analysis.Activity, error) {
	if strings.TrimSpace(token) == "" {
		return analysis.Activity{}, apperrors.NewAuthorizationError("GitHub access token is missing for the round initiator", nil)
	}

	owner, name, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || name == "" {
		return analysis.Activity{}, apperrors.NewValidationError("repository must be in owner/name form", repository)
	}

	repoPath := fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name))
	start := time.Now()
	var activity analysis.Activity

	contributors, err := g.fetchContributors(ctx, token, repoPath)
	if err != nil {
		return analysis.Activity{}, err
	}
	activity.Contributors = contributors

	commits, err := g.fetchCommits(ctx, token, repoPath, window)
	if err != nil {
		return analysis.Activity{}, err
	}
	activity.Commits = commits

	pulls, reviews, err := g.fetchPullsAndReviews(ctx, token, repoPath, window)
	if err != nil {
		return analysis.Activity{}, err
	}
	activity.PullRequests = pulls
	activity.Reviews = reviews

	issues, err := g.fetchClosedIssues(ctx, token, repoPath, window)
	if err != nil {
		return analysis.Activity{}, err
	}
	activity.Issues = issues

	g.logger.Info("Collected repository activity",
		"repository", repository,
		"contributors", len(activity.Contributors),
		"commits", len(activity.Commits),
		"pull_requests", len(activity.PullRequests),
		"reviews", len(activity.Reviews),
		"issues", len(activity.Issues),
		"duration_ms", time.Since(start).Milliseconds())

	return activity, nil
}

func (g *GitHubAdapter) fetchContributors(ctx context.Context, token, repoPath string) ([]analysis.Contributor, error) {
	var out []analysis.Contributor
	err := g.paginate(ctx, token, repoPath+"/contributors", url.Values{}, func(body []byte) (int, bool, error) {
		var page []githubUser
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, false, err
		}
		for _, u := range page {
			out = append(out, analysis.Contributor{Login: u.Login, Type: u.Type})
		}
		return len(page), true, nil
	})
	return out, err
}

func (g *GitHubAdapter) fetchCommits(ctx context.Context, token, repoPath string, window analysis.Window) ([]analysis.Commit, error) {
	params := url.Values{}
	params.Set("since", window.Start.UTC().Format(time.RFC3339))
	params.Set("until", window.End.UTC().Format(time.RFC3339))

	var listed []githubCommit
	err := g.paginate(ctx, token, repoPath+"/commits", params, func(body []byte) (int, bool, error) {
		var page []githubCommit
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, false, err
		}
		listed = append(listed, page...)
		return len(page), true, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]analysis.Commit, 0, len(listed))
	for _, c := range listed {
		// commits without a linked account cannot be attributed to a member
		if c.Author == nil || c.Author.Login == "" {
			continue
		}

		var detail githubCommit
		if err := g.getJSON(ctx, token, repoPath+"/commits/"+url.PathEscape(c.SHA), nil, &detail); err != nil {
			return nil, err
		}

		commit := analysis.Commit{
			SHA:    c.SHA,
			Author: c.Author.Login,
			Date:   c.Commit.Author.Date,
		}
		if detail.Stats != nil {
			commit.Additions = detail.Stats.Additions
			commit.Deletions = detail.Stats.Deletions
		}
		out = append(out, commit)
	}
	return out, nil
}

func (g *GitHubAdapter) fetchPullsAndReviews(ctx context.Context, token, repoPath string, window analysis.Window) ([]analysis.PullRequest, []analysis.Review, error) {
	params := url.Values{}
	params.Set("state", "all")
	params.Set("sort", "updated")
	params.Set("direction", "desc")

	var touched []githubPullRequest
	err := g.paginate(ctx, token, repoPath+"/pulls", params, func(body []byte) (int, bool, error) {
		var page []githubPullRequest
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, false, err
		}
		for _, pr := range page {
			// sorted by update time, so everything after this is older than the window
			if pr.UpdatedAt.Before(window.Start) {
				return len(page), false, nil
			}
			touched = append(touched, pr)
		}
		return len(page), true, nil
	})
	if err != nil {
		return nil, nil, err
	}

	pulls := make([]analysis.PullRequest, 0, len(touched))
	var reviews []analysis.Review
	for _, pr := range touched {
		if pr.User != nil && pr.User.Login != "" {
			pulls = append(pulls, analysis.PullRequest{
				Number:    pr.Number,
				Author:    pr.User.Login,
				CreatedAt: pr.CreatedAt,
				MergedAt:  pr.MergedAt,
			})
		}

		err := g.paginate(ctx, token, fmt.Sprintf("%s/pulls/%d/reviews", repoPath, pr.Number), url.Values{}, func(body []byte) (int, bool, error) {
			var page []githubReview
			if err := json.Unmarshal(body, &page); err != nil {
				return 0, false, err
			}
			for _, r := range page {
				if r.User == nil || r.User.Login == "" || r.SubmittedAt == nil || r.State == "PENDING" {
					continue
				}
				reviews = append(reviews, analysis.Review{
					PullNumber:  pr.Number,
					Reviewer:    r.User.Login,
					SubmittedAt: *r.SubmittedAt,
				})
			}
			return len(page), true, nil
		})
		if err != nil {
			return nil, nil, err
		}
	}

	return pulls, reviews, nil
}

func (g *GitHubAdapter) fetchClosedIssues(ctx context.Context, token, repoPath string, window analysis.Window) ([]analysis.Issue, error) {
	params := url.Values{}
	params.Set("state", "closed")
	params.Set("since", window.Start.UTC().Format(time.RFC3339))

	var out []analysis.Issue
	err := g.paginate(ctx, token, repoPath+"/issues", params, func(body []byte) (int, bool, error) {
		var page []githubIssue
		if err := json.Unmarshal(body, &page); err != nil {
			return 0, false, err
		}
		for _, is := range page {
			if is.PullRequest != nil {
				continue
			}
			issue := analysis.Issue{
				Number:    is.Number,
				CreatedAt: is.CreatedAt,
				ClosedAt:  is.ClosedAt,
			}
			for _, a := range is.Assignees {
				issue.Assignees = append(issue.Assignees, a.Login)
			}
			if is.Milestone != nil {
				issue.MilestoneDue = is.Milestone.DueOn
			}
			out = append(out, issue)
		}
		return len(page), true, nil
	})
	return out, err
}

// paginate walks numbered pages until a short page or until handle returns false.
// Running past maxPages is an error: a silently truncated listing would skew scores.
func (g *GitHubAdapter) paginate(ctx context.Context, token, path string, params url.Values, handle func(body []byte) (int, bool, error)) error {
	for page := 1; page <= g.maxPages; page++ {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("per_page", strconv.Itoa(perPage))
		q.Set("page", strconv.Itoa(page))

		body, err := g.get(ctx, token, path, q)
		if err != nil {
			return err
		}

		n, more, err := handle(body)
		if err != nil {
			return apperrors.NewExternalAPIError("GitHub", fmt.Errorf("decode %s: %w", path, err))
		}
		if !more || n < perPage {
			return nil
		}
	}
	return apperrors.NewExternalAPIError("GitHub",
		fmt.Errorf("%s has more than %d pages; raise GITHUB_MAX_PAGES to collect it in full", path, g.maxPages))
}

func (g *GitHubAdapter) getJSON(ctx context.Context, token, path string, params url.Values, out interface{}) error {
	body, err := g.get(ctx, token, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewExternalAPIError("GitHub", fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

// get performs a request under the retry policy
func (g *GitHubAdapter) get(ctx context.Context, token, path string, params url.Values) ([]byte, error) {
	var body []byte
	err := resilience.RetryWithPolicy(ctx, g.retry, func() error {
		var err error
		body, err = g.fetch(ctx, token, path, params)
		return err
	})
	return body, err
}

// fetch performs one throttled request and maps failures onto the error taxonomy
func (g *GitHubAdapter) fetch(ctx context.Context, token, path string, params url.Values) (_ []byte, err error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewTimeoutError("GitHub request throttling interrupted", err)
	}

	target := g.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"Authorization":        "Bearer " + token,
		"User-Agent":           "contrib-rounds/1.0",
		"X-GitHub-Api-Version": "2022-11-28",
	}

	start := time.Now()
	status := 0
	defer func() {
		if g.metrics != nil {
			g.metrics.IncrementGitHubCalls()
		}
		g.logger.ExternalAPILogger("GitHub", http.MethodGet, path, status, time.Since(start), err == nil)
	}()

	resp, err := g.pool.DoRequest(ctx, http.MethodGet, target, headers)
	if err != nil {
		return nil, apperrors.NewExternalAPIError("GitHub", err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewExternalAPIError("GitHub", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, apperrors.NewAuthorizationError("GitHub rejected the access token", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return nil, apperrors.NewRateLimitError(resp.Header.Get("X-RateLimit-Reset"))
	case resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.NewAuthorizationError("GitHub access token lacks permission for this repository", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.NewValidationError("repository not found or not visible to the token", path)
	default:
		return nil, apperrors.NewExternalAPIError("GitHub", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	}
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

// GetPoolStats returns connection pool statistics
func (g *GitHubAdapter) GetPoolStats() map[string]interface{} {
	return g.pool.GetStats()
}

// Close closes the connection pool
func (g *GitHubAdapter) Close() error {
	return g.pool.Close()
}
