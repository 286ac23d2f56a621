package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/analysis"
	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/monitoring"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/resilience"
)

var testWindow = analysis.Window{
	Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
}

// newTestAdapter retries on the fast policy and discards logs unless opts override them
func newTestAdapter(baseURL string, opts ...GitHubOption) *GitHubAdapter {
	base := []GitHubOption{
		WithRetryPolicy(resilience.FastRetryPolicy),
		WithObservability(monitoring.NewLoggerWithWriter(io.Discard, slog.LevelInfo), nil),
	}
	return NewGitHubAdapter(baseURL, 1000, append(base, opts...)...)
}

func fullPage() string {
	items := make([]string, perPage)
	for i := range items {
		items[i] = fmt.Sprintf(`{"login":"user%d","type":"User"}`, i)
	}
	return "[" + strings.Join(items, ",") + "]"
}

func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/contributors", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer good-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[{"login":"alice","type":"User"},{"login":"dependabot[bot]","type":"Bot"}]`)
	})
	mux.HandleFunc("/repos/acme/widgets/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-03-01T00:00:00Z", r.URL.Query().Get("since"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		fmt.Fprint(w, `[
			{"sha":"c1","author":{"login":"alice"},"commit":{"author":{"name":"Alice","date":"2024-03-02T10:00:00Z"}}},
			{"sha":"c2","author":null,"commit":{"author":{"name":"ghost","date":"2024-03-03T10:00:00Z"}}}
		]`)
	})
	mux.HandleFunc("/repos/acme/widgets/commits/c1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha":"c1","stats":{"additions":12,"deletions":3}}`)
	})
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		fmt.Fprint(w, `[
			{"number":7,"user":{"login":"bob"},"created_at":"2024-03-05T00:00:00Z","updated_at":"2024-03-09T00:00:00Z","merged_at":"2024-03-08T00:00:00Z"},
			{"number":3,"user":{"login":"alice"},"created_at":"2024-01-05T00:00:00Z","updated_at":"2024-01-09T00:00:00Z","merged_at":null}
		]`)
	})
	mux.HandleFunc("/repos/acme/widgets/pulls/7/reviews", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"user":{"login":"alice"},"submitted_at":"2024-03-06T00:00:00Z","state":"APPROVED"},
			{"user":{"login":"carol"},"submitted_at":null,"state":"PENDING"}
		]`)
	})
	mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "closed", r.URL.Query().Get("state"))
		fmt.Fprint(w, `[
			{"number":11,"assignees":[{"login":"alice"},{"login":"bob"}],"created_at":"2024-03-01T00:00:00Z","closed_at":"2024-03-04T00:00:00Z","milestone":{"due_on":"2024-03-10T00:00:00Z"}},
			{"number":7,"assignees":[],"created_at":"2024-03-05T00:00:00Z","closed_at":"2024-03-08T00:00:00Z","pull_request":{"url":"x"}}
		]`)
	})

	return httptest.NewServer(mux)
}

func TestGitHubAdapter_CollectActivity(t *testing.T) {
	server := fakeGitHub(t)
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	defer adapter.Close()

	activity, err := adapter.CollectActivity(context.Background(), "good-token", "acme/widgets", testWindow)
	require.NoError(t, err)

	require.Len(t, activity.Contributors, 2)
	assert.Equal(t, "alice", activity.Contributors[0].Login)

	require.Len(t, activity.Commits, 1)
	assert.Equal(t, "c1", activity.Commits[0].SHA)
	assert.Equal(t, 12, activity.Commits[0].Additions)
	assert.Equal(t, 3, activity.Commits[0].Deletions)

	require.Len(t, activity.PullRequests, 1)
	assert.Equal(t, 7, activity.PullRequests[0].Number)
	require.NotNil(t, activity.PullRequests[0].MergedAt)

	require.Len(t, activity.Reviews, 1)
	assert.Equal(t, "alice", activity.Reviews[0].Reviewer)

	require.Len(t, activity.Issues, 1)
	assert.Equal(t, []string{"alice", "bob"}, activity.Issues[0].Assignees)
	require.NotNil(t, activity.Issues[0].MilestoneDue)
}

func TestGitHubAdapter_MissingToken(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	_, err := adapter.CollectActivity(context.Background(), " ", "acme/widgets", testWindow)

	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryAuthorization))
	assert.Zero(t, hits)
}

func TestGitHubAdapter_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		headers  map[string]string
		category apperrors.ErrorCategory
		attempts int32
	}{
		{"unauthorized token", http.StatusUnauthorized, nil, apperrors.CategoryAuthorization, 1},
		{"forbidden repository", http.StatusForbidden, nil, apperrors.CategoryAuthorization, 1},
		{"rate limited", http.StatusForbidden, map[string]string{"X-RateLimit-Remaining": "0", "X-RateLimit-Reset": "1700000000"}, apperrors.CategoryRateLimit, 1},
		{"missing repository", http.StatusNotFound, nil, apperrors.CategoryValidation, 1},
		{"upstream failure", http.StatusBadGateway, nil, apperrors.CategoryExternalAPI, int32(resilience.FastRetryPolicy.Config.MaxAttempts)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"message":"nope"}`)
			}))
			defer server.Close()

			adapter := newTestAdapter(server.URL)
			_, err := adapter.CollectActivity(context.Background(), "token", "acme/widgets", testWindow)
			require.Error(t, err)
			assert.True(t, apperrors.IsCategory(err, tt.category), "got %v", err)
			assert.Equal(t, tt.attempts, atomic.LoadInt32(&hits))
		})
	}
}

func TestGitHubAdapter_Pagination(t *testing.T) {
	var pages []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets/contributors" {
			fmt.Fprint(w, `[]`)
			return
		}
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		if page == "1" {
			fmt.Fprint(w, fullPage())
			return
		}
		fmt.Fprint(w, `[{"login":"last","type":"User"}]`)
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	activity, err := adapter.CollectActivity(context.Background(), "token", "acme/widgets", testWindow)
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, pages)
	assert.Len(t, activity.Contributors, perPage+1)
}

func TestGitHubAdapter_InvalidRepository(t *testing.T) {
	adapter := newTestAdapter("http://127.0.0.1:1")
	_, err := adapter.CollectActivity(context.Background(), "token", "not-a-repo", testWindow)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))
}

func TestGitHubAdapter_PaginationLimit(t *testing.T) {
	var pages int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets/contributors" {
			fmt.Fprint(w, `[]`)
			return
		}
		atomic.AddInt32(&pages, 1)
		fmt.Fprint(w, fullPage())
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL, WithMaxPages(3))
	activity, err := adapter.CollectActivity(context.Background(), "token", "acme/widgets", testWindow)

	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryExternalAPI), "got %v", err)
	assert.Contains(t, err.Error(), "more than 3 pages")
	assert.Empty(t, activity.Contributors)
	assert.Equal(t, int32(3), atomic.LoadInt32(&pages))
}

func TestGitHubAdapter_RetriesTransientFailures(t *testing.T) {
	var contributorHits, total int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&total, 1)
		if r.URL.Path == "/repos/acme/widgets/contributors" && atomic.AddInt32(&contributorHits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	var logs bytes.Buffer
	metrics := monitoring.NewMetrics()
	adapter := newTestAdapter(server.URL,
		WithObservability(monitoring.NewLoggerWithWriter(&logs, slog.LevelInfo), metrics))

	_, err := adapter.CollectActivity(context.Background(), "token", "acme/widgets", testWindow)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&contributorHits))
	assert.Equal(t, int64(atomic.LoadInt32(&total)), metrics.GitHubAPICalls)
	assert.Contains(t, logs.String(), `"status_code":502`)
	assert.Contains(t, logs.String(), "Collected repository activity")
}
