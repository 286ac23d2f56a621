// Package round drives a scoring round through open, voting and finalized,
// keeping the round store and the ledger contract consistent.
package round

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/analysis"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/coordination"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/database"
	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/ledger"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/monitoring"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/resilience"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

// Collector mines repository activity for a window
type Collector interface {
	CollectActivity(ctx context.Context, token, repository string, window analysis.Window) (analysis.Activity, error)
}

// Store is the round and identity persistence used by the orchestrator
type Store interface {
	CreateRound(ctx context.Context, round *types.Round, scores []types.BaseScore) (int64, error)
	GetRoundByContract(ctx context.Context, contract string) (*types.Round, error)
	GetActiveRound(ctx context.Context, repository string) (*types.Round, error)
	PreviousWindowEnd(ctx context.Context, repository string) (time.Time, error)
	SetContractAddress(ctx context.Context, roundID int64, contract string) error
	UpdateRoundStatus(ctx context.Context, roundID int64, status types.RoundStatus) error
	DeleteRound(ctx context.Context, roundID int64) error
	ListBaseScores(ctx context.Context, roundID int64) ([]types.BaseScore, error)
	UpsertPeerVotes(ctx context.Context, votes []types.PeerVote) error
	SaveFinalScores(ctx context.Context, roundID int64, scores []types.FinalScore) (bool, error)
	ListFinalScores(ctx context.Context, roundID int64) ([]types.FinalScore, error)

	MemberForAddress(ctx context.Context, address string) (*types.Member, error)
	AddressForLogin(ctx context.Context, login string) (string, error)
	LoginForAddress(ctx context.Context, address string) (string, error)
	TokenForLogin(ctx context.Context, login string) (string, error)
}

// Options tunes the orchestrator
type Options struct {
	IssueSLA       time.Duration
	LockTTL        time.Duration
	PersistTimeout time.Duration
	Now            func() time.Time
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		IssueSLA:       analysis.DefaultIssueSLA,
		LockTTL:        10 * time.Minute,
		PersistTimeout: 30 * time.Second,
		Now:            time.Now,
	}
}

// Orchestrator coordinates collection, scoring, ledger registration, voting and settlement
type Orchestrator struct {
	store     Store
	collector Collector
	ledger    ledger.Client
	locker    coordination.Locker
	analyzer  *analysis.Analyzer
	logger    *monitoring.Logger
	metrics   *monitoring.Metrics
	opts      Options

	onFinalized []func(repository string)
}

// New wires an orchestrator
func New(store Store, collector Collector, client ledger.Client, locker coordination.Locker,
	logger *monitoring.Logger, metrics *monitoring.Metrics, opts Options) *Orchestrator {
	defaults := DefaultOptions()
	if opts.IssueSLA <= 0 {
		opts.IssueSLA = defaults.IssueSLA
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaults.LockTTL
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaults.PersistTimeout
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}
	if logger == nil {
		logger = monitoring.NewLogger("info")
	}

	return &Orchestrator{
		store:     store,
		collector: collector,
		ledger:    client,
		locker:    locker,
		analyzer:  analysis.NewAnalyzer(opts.IssueSLA),
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
	}
}

// OnFinalized registers a callback run after a round's final scores are stored
func (o *Orchestrator) OnFinalized(fn func(repository string)) {
	o.onFinalized = append(o.onFinalized, fn)
}

func (o *Orchestrator) finalized(repository string) {
	for _, fn := range o.onFinalized {
		fn(repository)
	}
}

// persist retries a store write that follows an accepted ledger write.
// It runs detached from the caller's cancellation so a dropped request does not lose settled data.
func (o *Orchestrator) persist(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.PersistTimeout)
	defer cancel()

	err := resilience.RetryWithPolicy(ctx, resilience.PersistRetryPolicy, func() error { return fn(ctx) })
	if err != nil {
		o.logger.Error("Store write after ledger write failed", "operation", what, "error", err)
	}
	return err
}

// Start opens a round for a repository, or resumes one whose ledger registration did not complete
func (o *Orchestrator) Start(ctx context.Context, req types.StartRoundRequest) (*types.StartRoundResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	_, admin, err := ledger.VerifyCredential(req.Admin)
	if err != nil {
		return nil, err
	}
	repository := strings.TrimSpace(req.Repository)

	unlock, err := o.locker.TryLock(ctx, "round:start:"+strings.ToLower(repository), o.opts.LockTTL)
	if errors.Is(err, coordination.ErrLocked) {
		return nil, apperrors.NewConflictError("a round start is already in progress for "+repository, err)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to acquire round lock", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("Failed to release round lock", "repository", repository, "error", err)
		}
	}()

	token, err := o.initiatorToken(ctx, admin.Hex())
	if err != nil {
		return nil, err
	}

	active, err := o.store.GetActiveRound(ctx, repository)
	switch {
	case err == nil && active.Status == types.StatusVoting:
		return nil, apperrors.NewConflictError("round "+itoa(active.ID)+" is already voting for "+repository, nil)
	case err == nil:
		return o.resume(ctx, active, req.Admin)
	case !errors.Is(err, database.ErrNotFound):
		return nil, apperrors.NewInternalError("failed to load active round", err)
	}

	start, err := o.store.PreviousWindowEnd(ctx, repository)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to resolve round window", err)
	}
	window := analysis.Window{Start: start, End: o.opts.Now().UTC()}

	activity, err := o.collector.CollectActivity(ctx, token, repository, window)
	if err != nil {
		return nil, err
	}
	scores := o.analyzer.Compute(window, activity)

	if err := o.bindAddresses(ctx, scores); err != nil {
		return nil, err
	}

	round := &types.Round{
		Repository:  repository,
		Initiator:   admin.Hex(),
		WindowStart: window.Start,
		WindowEnd:   window.End,
	}
	if _, err := o.store.CreateRound(ctx, round, scores); err != nil {
		if errors.Is(err, database.ErrActiveRoundExists) {
			return nil, apperrors.NewConflictError("a round is already in progress for "+repository, err)
		}
		return nil, apperrors.NewInternalError("failed to create round", err)
	}
	if o.metrics != nil {
		o.metrics.IncrementRoundStarted()
	}
	o.logger.RoundLogger(repository, round.ID, "opened",
		"window_start", window.Start.Format(time.RFC3339),
		"window_end", window.End.Format(time.RFC3339),
		"participants", len(scores))

	if len(scores) < 2 {
		return o.fastPath(ctx, round, scores)
	}
	return o.register(ctx, round, scores, req.Admin, true)
}

// initiatorToken resolves the initiator's bound login and its access token
func (o *Orchestrator) initiatorToken(ctx context.Context, address string) (string, error) {
	member, err := o.store.MemberForAddress(ctx, address)
	if errors.Is(err, database.ErrNotFound) {
		return "", apperrors.NewAuthorizationError("no member is bound to ledger address "+address, nil)
	}
	if err != nil {
		return "", apperrors.NewInternalError("failed to resolve initiator", err)
	}
	if member.Login == "" {
		return "", apperrors.NewAuthorizationError("initiator "+member.Username+" has no linked source-hosting login", nil)
	}

	token, err := o.store.TokenForLogin(ctx, member.Login)
	if err != nil {
		return "", apperrors.NewInternalError("failed to resolve access token", err)
	}
	if strings.TrimSpace(token) == "" {
		return "", apperrors.NewAuthorizationError("initiator "+member.Login+" has no access token", nil)
	}
	return token, nil
}

// bindAddresses fills each participant's ledger address and fails listing anyone unbound.
// A round that will not touch the ledger tolerates unbound participants.
func (o *Orchestrator) bindAddresses(ctx context.Context, scores []types.BaseScore) error {
	var missing []string
	for i := range scores {
		address, err := o.store.AddressForLogin(ctx, scores[i].Login)
		if err != nil {
			return apperrors.NewInternalError("failed to resolve participant address", err)
		}
		scores[i].Address = address
		if address == "" {
			missing = append(missing, scores[i].Login)
		}
	}

	if len(missing) > 0 && len(scores) >= 2 {
		return apperrors.NewValidationErrorWithMap(map[string]string{
			"unbound_participants": strings.Join(missing, ","),
		})
	}
	return nil
}

// fastPath settles a round with fewer than two participants without the ledger
func (o *Orchestrator) fastPath(ctx context.Context, round *types.Round, scores []types.BaseScore) (*types.StartRoundResponse, error) {
	finals := make([]types.FinalScore, len(scores))
	for i, s := range scores {
		finals[i] = types.FinalScore{
			RoundID:    round.ID,
			Login:      s.Login,
			Address:    s.Address,
			BaseScore:  s.BaseScore,
			PeerScore:  0,
			FinalScore: s.BaseScore,
		}
	}

	var transitioned bool
	err := o.persist(ctx, "fast_path", func(ctx context.Context) (err error) {
		transitioned, err = o.store.SaveFinalScores(ctx, round.ID, finals)
		return err
	})
	if err != nil {
		return nil, apperrors.NewInternalError("failed to finalize single-participant round", err)
	}

	if transitioned && o.metrics != nil {
		o.metrics.IncrementRoundFinalized()
	}
	o.logger.RoundLogger(round.Repository, round.ID, "finalized", "fast_path", true)
	o.finalized(round.Repository)

	return &types.StartRoundResponse{
		RoundID:      round.ID,
		Participants: logins(scores),
		Status:       types.StatusFinalized,
	}, nil
}

// resume continues ledger registration of an open round
func (o *Orchestrator) resume(ctx context.Context, round *types.Round, admin types.Credential) (*types.StartRoundResponse, error) {
	if !ledger.SameAddress(round.Initiator, admin.Address) {
		return nil, apperrors.NewConflictError("round "+itoa(round.ID)+" was opened by "+round.Initiator, nil)
	}

	scores, err := o.store.ListBaseScores(ctx, round.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load base scores", err)
	}
	o.logger.RoundLogger(round.Repository, round.ID, "resumed", "contract", round.ContractAddress)

	var resp *types.StartRoundResponse
	if len(scores) < 2 {
		resp, err = o.fastPath(ctx, round, scores)
	} else {
		resp, err = o.register(ctx, round, scores, admin, false)
	}
	if resp != nil {
		resp.Resumed = true
	}
	return resp, err
}

// register deploys the round contract when needed and registers raters, targets and base details.
// A failed deploy of a fresh round removes the round; later failures leave it open for resume.
func (o *Orchestrator) register(ctx context.Context, round *types.Round, scores []types.BaseScore, admin types.Credential, fresh bool) (*types.StartRoundResponse, error) {
	contract := round.ContractAddress
	if contract == "" {
		deployed, err := o.ledger.Deploy(ctx, admin, round.Repository, round.ID)
		if err != nil {
			if fresh {
				if derr := o.store.DeleteRound(context.WithoutCancel(ctx), round.ID); derr != nil {
					o.logger.Error("Failed to remove round after deploy failure", "round_id", round.ID, "error", derr)
				}
			}
			return nil, err
		}
		contract = deployed

		err = o.persist(ctx, "set_contract", func(ctx context.Context) error {
			return o.store.SetContractAddress(ctx, round.ID, contract)
		})
		if err != nil {
			return nil, apperrors.NewInternalError("contract "+contract+" deployed but not recorded for round "+itoa(round.ID), err)
		}
		round.ContractAddress = contract
		o.logger.RoundLogger(round.Repository, round.ID, "contract_deployed", "contract", contract)
	}

	addresses := make([]string, len(scores))
	details := make([]ledger.BaseDetail, len(scores))
	for i, s := range scores {
		if s.Address == "" {
			return nil, apperrors.NewValidationErrorWithMap(map[string]string{"unbound_participants": s.Login})
		}
		addresses[i] = s.Address
		details[i] = ledger.BaseDetail{
			Address: s.Address,
			Base:    s.BaseScore,
			Code:    s.CodeScore,
			PR:      s.PRScore,
			Review:  s.ReviewScore,
			Issue:   s.IssueScore,
		}
	}

	if err := o.ledger.SetRaters(ctx, admin, contract, addresses); err != nil {
		return nil, err
	}
	if err := o.ledger.SetTargets(ctx, admin, contract, addresses); err != nil {
		return nil, err
	}
	if err := o.ledger.SetBaseDetails(ctx, admin, contract, details); err != nil {
		return nil, err
	}

	err := o.persist(ctx, "open_voting", func(ctx context.Context) error {
		return o.store.UpdateRoundStatus(ctx, round.ID, types.StatusVoting)
	})
	if err != nil {
		return nil, apperrors.NewInternalError("round registered on-chain but still open locally; start again to resume", err)
	}
	round.Status = types.StatusVoting
	o.logger.RoundLogger(round.Repository, round.ID, "voting_opened", "contract", contract, "participants", len(scores))

	return &types.StartRoundResponse{
		RoundID:         round.ID,
		ContractAddress: &contract,
		Participants:    logins(scores),
		Status:          types.StatusVoting,
	}, nil
}

func logins(scores []types.BaseScore) []string {
	out := make([]string, len(scores))
	for i, s := range scores {
		out[i] = s.Login
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}
