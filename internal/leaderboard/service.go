// Package leaderboard merges finalized rounds into cumulative and latest-round rankings.
package leaderboard

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/database"
	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/monitoring"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

// Mode selects the leaderboard view
type Mode string

const (
	ModeCumulative Mode = "cumulative"
	ModeLatest     Mode = "latest"
)

// ParseMode maps a query value to a Mode, defaulting to cumulative
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeCumulative:
		return ModeCumulative, nil
	case ModeLatest:
		return ModeLatest, nil
	default:
		return "", apperrors.NewValidationError("mode must be cumulative or latest", s)
	}
}

// Entry is one ranked row
type Entry struct {
	Rank       int    `json:"rank"`
	Login      string `json:"login"`
	Username   string `json:"username,omitempty"`
	Address    string `json:"address,omitempty"`
	BaseScore  int    `json:"base_score"`
	PeerScore  int    `json:"peer_score"`
	FinalScore int    `json:"final_score"`
	Rounds     int    `json:"rounds"`
}

// Response represents the response for leaderboard queries
type Response struct {
	Repository  string            `json:"repository"`
	Mode        Mode              `json:"mode"`
	RoundID     int64             `json:"round_id,omitempty"`
	Status      types.RoundStatus `json:"status,omitempty"`
	Pending     bool              `json:"pending"`
	Entries     []Entry           `json:"entries"`
	Total       int               `json:"total"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// HistoryEntry is one member's breakdown in one round
type HistoryEntry struct {
	RoundID       int64             `json:"round_id"`
	WindowStart   time.Time         `json:"window_start"`
	WindowEnd     time.Time         `json:"window_end"`
	Status        types.RoundStatus `json:"status"`
	Login         string            `json:"login"`
	CodeScore     int               `json:"code_score"`
	PRScore       int               `json:"pr_score"`
	ReviewScore   int               `json:"review_score"`
	IssueScore    int               `json:"issue_score"`
	BaseScore     int               `json:"base_score"`
	PeerScore     int               `json:"peer_score"`
	FinalScore    int               `json:"final_score"`
	VotesCast     int               `json:"votes_cast"`
	VotesReceived int               `json:"votes_received"`
	Pending       bool              `json:"pending"`
}

// HistoryResponse lists a member's rounds, oldest first
type HistoryResponse struct {
	Repository string         `json:"repository"`
	Identity   string         `json:"identity"`
	Entries    []HistoryEntry `json:"entries"`
}

// Store is the read side of the round store used for aggregation
type Store interface {
	GetRound(ctx context.Context, id int64) (*types.Round, error)
	LatestRound(ctx context.Context, repository string) (*types.Round, error)
	ListFinalizedRounds(ctx context.Context, repository string) ([]types.Round, error)
	ListBaseScores(ctx context.Context, roundID int64) ([]types.BaseScore, error)
	ListFinalScores(ctx context.Context, roundID int64) ([]types.FinalScore, error)
	ListPeerVotes(ctx context.Context, roundID int64) ([]types.PeerVote, error)
	ListMembers(ctx context.Context) ([]types.Member, error)
}

// Resyncer upgrades a round whose contract finalized since it was last read
type Resyncer interface {
	CheckProgress(ctx context.Context, contract string) (types.Progress, error)
	Resync(ctx context.Context, contract string) (*types.FinalizeResult, error)
}

// Service handles leaderboard operations
type Service struct {
	store    Store
	resyncer Resyncer
	cache    *LeaderboardCache
	logger   *monitoring.Logger
	now      func() time.Time
}

// NewService creates a new leaderboard service. resyncer and cache may be nil.
func NewService(store Store, resyncer Resyncer, cache *LeaderboardCache, logger *monitoring.Logger) *Service {
	if logger == nil {
		logger = monitoring.NewLogger("info")
	}
	return &Service{
		store:    store,
		resyncer: resyncer,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
	}
}

// Invalidate drops cached responses for a repository; registered as a finalization callback
func (s *Service) Invalidate(repository string) {
	if s.cache != nil {
		s.cache.Invalidate(repository)
	}
}

// GetLeaderboard returns the ranking of a repository in the requested mode
func (s *Service) GetLeaderboard(ctx context.Context, repository string, mode Mode) (*Response, error) {
	if err := types.ValidateRepository(repository); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	repository = strings.TrimSpace(repository)

	if s.cache != nil {
		if cached, ok := s.cache.GetLeaderboard(repository, mode); ok {
			return cached, nil
		}
	}

	var (
		resp *Response
		err  error
	)
	switch mode {
	case ModeCumulative:
		resp, err = s.Cumulative(ctx, repository)
	case ModeLatest:
		resp, err = s.Latest(ctx, repository)
	default:
		return nil, apperrors.NewValidationError("mode must be cumulative or latest", string(mode))
	}
	if err != nil {
		return nil, err
	}

	// a pending view must be re-read so a finalized contract is picked up
	if s.cache != nil && !resp.Pending {
		s.cache.SetLeaderboard(repository, mode, resp)
	}
	return resp, nil
}

// Cumulative sums final, peer and base scores over every finalized round of a repository.
// Rows sharing any identity key across rounds are merged into one entry.
func (s *Service) Cumulative(ctx context.Context, repository string) (*Response, error) {
	rounds, err := s.store.ListFinalizedRounds(ctx, repository)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list finalized rounds", err)
	}
	dir, err := s.directory(ctx)
	if err != nil {
		return nil, err
	}

	var rows []types.FinalScore
	for _, round := range rounds {
		scores, err := s.store.ListFinalScores(ctx, round.ID)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to list final scores", err)
		}
		rows = append(rows, scores...)
	}

	entries := mergeRows(dir, rows)
	rank(entries, false)

	return &Response{
		Repository:  repository,
		Mode:        ModeCumulative,
		Entries:     entries,
		Total:       len(entries),
		GeneratedAt: s.now().UTC(),
	}, nil
}

// Latest returns the scores of a repository's most recent round.
// A voting round whose contract has finalized is upgraded through resync first;
// an unfinalized round reports base scores as pending.
func (s *Service) Latest(ctx context.Context, repository string) (*Response, error) {
	resp := &Response{
		Repository:  repository,
		Mode:        ModeLatest,
		Entries:     []Entry{},
		GeneratedAt: s.now().UTC(),
	}

	round, err := s.store.LatestRound(ctx, repository)
	if errors.Is(err, database.ErrNotFound) {
		return resp, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load latest round", err)
	}
	resp.RoundID = round.ID
	resp.Status = round.Status

	if round.Status != types.StatusFinalized && s.upgrade(ctx, round) {
		resp.Status = types.StatusFinalized
	}

	dir, err := s.directory(ctx)
	if err != nil {
		return nil, err
	}

	if resp.Status == types.StatusFinalized {
		scores, err := s.store.ListFinalScores(ctx, round.ID)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to list final scores", err)
		}
		resp.Entries = mergeRows(dir, scores)
		rank(resp.Entries, false)
		resp.Total = len(resp.Entries)
		return resp, nil
	}

	base, err := s.store.ListBaseScores(ctx, round.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list base scores", err)
	}
	rows := make([]types.FinalScore, len(base))
	for i, b := range base {
		rows[i] = types.FinalScore{RoundID: round.ID, Login: b.Login, Address: b.Address, BaseScore: b.BaseScore}
	}
	resp.Pending = true
	resp.Entries = mergeRows(dir, rows)
	rank(resp.Entries, true)
	resp.Total = len(resp.Entries)
	return resp, nil
}

// upgrade resyncs a round whose contract finalized since the last read and reports whether it is now stored
func (s *Service) upgrade(ctx context.Context, round *types.Round) bool {
	if s.resyncer == nil || round.ContractAddress == "" || round.Status != types.StatusVoting {
		return false
	}

	progress, err := s.resyncer.CheckProgress(ctx, round.ContractAddress)
	if err != nil {
		s.logger.Warn("Progress check failed, serving pending scores", "round_id", round.ID, "error", err)
		return false
	}
	if !progress.Finalized {
		return false
	}

	if _, err := s.resyncer.Resync(ctx, round.ContractAddress); err != nil {
		s.logger.Warn("Live upgrade failed, serving pending scores", "round_id", round.ID, "error", err)
		return false
	}
	// serve final scores only once the store has them
	stored, err := s.store.GetRound(ctx, round.ID)
	if err != nil || stored.Status != types.StatusFinalized {
		s.logger.Warn("Live upgrade not persisted, serving pending scores", "round_id", round.ID, "error", err)
		return false
	}
	s.logger.RoundLogger(round.Repository, round.ID, "live_upgraded", "contract", round.ContractAddress)
	return true
}

// MemberHistory returns the per-round breakdown for a username, login or ledger address
func (s *Service) MemberHistory(ctx context.Context, repository, identity string) (*HistoryResponse, error) {
	if err := types.ValidateRepository(repository); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, apperrors.NewValidationError("identity is required")
	}
	repository = strings.TrimSpace(repository)

	if s.cache != nil {
		if cached, ok := s.cache.GetHistory(repository, identity); ok {
			return cached, nil
		}
	}

	dir, err := s.directory(ctx)
	if err != nil {
		return nil, err
	}

	rounds, err := s.store.ListFinalizedRounds(ctx, repository)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list finalized rounds", err)
	}
	pending := false
	if latest, err := s.store.LatestRound(ctx, repository); err == nil && latest.Status != types.StatusFinalized {
		rounds = append(rounds, *latest)
		pending = true
	} else if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.NewInternalError("failed to load latest round", err)
	}

	base := make([][]types.BaseScore, len(rounds))
	var all []types.BaseScore
	for i, round := range rounds {
		if base[i], err = s.store.ListBaseScores(ctx, round.ID); err != nil {
			return nil, apperrors.NewInternalError("failed to list base scores", err)
		}
		all = append(all, base[i]...)
	}
	keys := linked(dir, identity, all)

	resp := &HistoryResponse{Repository: repository, Identity: identity, Entries: []HistoryEntry{}}
	for i, round := range rounds {
		entry, ok, err := s.historyEntry(ctx, round, base[i], keys)
		if err != nil {
			return nil, err
		}
		if ok {
			resp.Entries = append(resp.Entries, entry)
		}
	}

	if s.cache != nil && !pending {
		s.cache.SetHistory(repository, identity, resp)
	}
	return resp, nil
}

func (s *Service) historyEntry(ctx context.Context, round types.Round, base []types.BaseScore, keys map[string]bool) (HistoryEntry, bool, error) {
	var own *types.BaseScore
	for i := range base {
		if matches(keys, base[i].Login, base[i].Address) {
			own = &base[i]
			break
		}
	}
	if own == nil {
		return HistoryEntry{}, false, nil
	}

	entry := HistoryEntry{
		RoundID:     round.ID,
		WindowStart: round.WindowStart,
		WindowEnd:   round.WindowEnd,
		Status:      round.Status,
		Login:       own.Login,
		CodeScore:   own.CodeScore,
		PRScore:     own.PRScore,
		ReviewScore: own.ReviewScore,
		IssueScore:  own.IssueScore,
		BaseScore:   own.BaseScore,
		Pending:     round.Status != types.StatusFinalized,
	}

	votes, err := s.store.ListPeerVotes(ctx, round.ID)
	if err != nil {
		return HistoryEntry{}, false, apperrors.NewInternalError("failed to list peer votes", err)
	}
	for _, v := range votes {
		if matches(keys, v.Reviewer, "") {
			entry.VotesCast++
		}
		if matches(keys, v.Target, "") {
			entry.VotesReceived++
		}
	}

	if entry.Pending {
		return entry, true, nil
	}

	finals, err := s.store.ListFinalScores(ctx, round.ID)
	if err != nil {
		return HistoryEntry{}, false, apperrors.NewInternalError("failed to list final scores", err)
	}
	for _, f := range finals {
		if matches(keys, f.Login, f.Address) {
			entry.PeerScore = f.PeerScore
			entry.FinalScore = f.FinalScore
			break
		}
	}
	return entry, true, nil
}

func (s *Service) directory(ctx context.Context) (*directory, error) {
	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list members", err)
	}
	return newDirectory(members), nil
}

func matches(keys map[string]bool, login, address string) bool {
	return (login != "" && keys[loginKey(login)]) || (address != "" && keys[addressKey(address)])
}

// rank orders entries by final score (base score while pending) and assigns competition ranks
func rank(entries []Entry, pending bool) {
	score := func(e Entry) int {
		if pending {
			return e.BaseScore
		}
		return e.FinalScore
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if score(entries[i]) != score(entries[j]) {
			return score(entries[i]) > score(entries[j])
		}
		if entries[i].BaseScore != entries[j].BaseScore {
			return entries[i].BaseScore > entries[j].BaseScore
		}
		return strings.ToLower(entries[i].Login) < strings.ToLower(entries[j].Login)
	})
	for i := range entries {
		if i > 0 && score(entries[i]) == score(entries[i-1]) {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}
