package round

import (
	"context"
	"sort"
	"strings"

	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/ledger"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

// CheckProgress reads the contract's voting progress without side effects
func (o *Orchestrator) CheckProgress(ctx context.Context, contract string) (types.Progress, error) {
	if _, err := ledger.ParseAddress(contract); err != nil {
		return types.Progress{}, err
	}
	return o.ledger.GetProgress(ctx, strings.TrimSpace(contract))
}

// Finalize settles a fully voted round on-chain and stores the final scores.
// It is idempotent: a round already finalized on-chain goes through resync instead.
func (o *Orchestrator) Finalize(ctx context.Context, req types.FinalizeRequest) (*types.FinalizeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	_, admin, err := ledger.VerifyCredential(req.Admin)
	if err != nil {
		return nil, err
	}

	round, err := o.roundForContract(ctx, req.Contract)
	if err != nil {
		return nil, err
	}
	if !ledger.SameAddress(round.Initiator, admin.Hex()) {
		return nil, apperrors.NewAuthorizationError("only the round initiator can finalize round "+itoa(round.ID), nil)
	}

	if round.Status == types.StatusFinalized {
		return o.stored(ctx, round)
	}

	progress, err := o.ledger.GetProgress(ctx, round.ContractAddress)
	if err != nil {
		return nil, err
	}
	if progress.Finalized {
		o.logger.RoundLogger(round.Repository, round.ID, "finalize_short_circuit", "contract", round.ContractAddress)
		return o.settle(ctx, round, progress)
	}
	if !progress.Ready() {
		return &types.FinalizeResult{RoundID: round.ID, Progress: progress}, apperrors.NewNotReadyError(progress.Total, progress.Voted)
	}

	if err := o.ledger.Finalize(ctx, req.Admin, round.ContractAddress); err != nil {
		return nil, err
	}
	progress.Finalized = true

	return o.settle(ctx, round, progress)
}

// Resync re-reads the settled on-chain results of a contract into the store
func (o *Orchestrator) Resync(ctx context.Context, contract string) (*types.FinalizeResult, error) {
	round, err := o.roundForContract(ctx, contract)
	if err != nil {
		return nil, err
	}

	progress, err := o.ledger.GetProgress(ctx, round.ContractAddress)
	if err != nil {
		return nil, err
	}
	if !progress.Finalized {
		return &types.FinalizeResult{RoundID: round.ID, Progress: progress}, apperrors.NewNotReadyError(progress.Total, progress.Voted)
	}

	result, err := o.settle(ctx, round, progress)
	if err == nil && o.metrics != nil {
		o.metrics.IncrementRoundResynced()
	}
	return result, err
}

// stored returns the persisted final scores of a locally finalized round
func (o *Orchestrator) stored(ctx context.Context, round *types.Round) (*types.FinalizeResult, error) {
	scores, err := o.store.ListFinalScores(ctx, round.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load final scores", err)
	}

	progress := types.Progress{Finalized: true}
	if round.ContractAddress != "" {
		if p, err := o.ledger.GetProgress(ctx, round.ContractAddress); err == nil {
			progress = p
		}
	}
	return &types.FinalizeResult{RoundID: round.ID, Progress: progress, Scores: scores, Persisted: true}, nil
}

// settle reads on-chain results, maps addresses back to logins and upserts the final scores
func (o *Orchestrator) settle(ctx context.Context, round *types.Round, progress types.Progress) (*types.FinalizeResult, error) {
	base, err := o.store.ListBaseScores(ctx, round.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load base scores", err)
	}
	index := indexParticipants(base)

	addresses := make([]string, 0, len(base))
	for _, s := range base {
		if s.Address != "" {
			addresses = append(addresses, s.Address)
		}
	}

	onchain, err := o.ledger.GetFinalScores(ctx, round.ContractAddress, addresses)
	if err != nil {
		return nil, err
	}

	finals := make([]types.FinalScore, 0, len(onchain))
	for _, s := range onchain {
		login, ok := o.loginFor(ctx, index, s.Address)
		if !ok {
			apperrors.LogDetached(o.logger.Logger, apperrors.NewDataInconsistencyError("ledger result for an unknown address", map[string]string{
				"round_id": itoa(round.ID),
				"address":  s.Address,
			}))
			continue
		}
		finals = append(finals, types.FinalScore{
			RoundID:    round.ID,
			Login:      login,
			Address:    s.Address,
			BaseScore:  s.Detail.Base,
			PeerScore:  s.PeerNorm,
			FinalScore: s.Final,
		})
	}
	sort.Slice(finals, func(i, j int) bool {
		if finals[i].FinalScore != finals[j].FinalScore {
			return finals[i].FinalScore > finals[j].FinalScore
		}
		return strings.ToLower(finals[i].Login) < strings.ToLower(finals[j].Login)
	})

	result := &types.FinalizeResult{RoundID: round.ID, Progress: progress, Scores: finals}

	var transitioned bool
	err = o.persist(ctx, "final_scores", func(ctx context.Context) (err error) {
		transitioned, err = o.store.SaveFinalScores(ctx, round.ID, finals)
		return err
	})
	if err != nil {
		return result, apperrors.NewInternalError("round "+itoa(round.ID)+" settled on-chain but final scores were not stored; run resync for "+round.ContractAddress, err)
	}
	result.Persisted = true

	if transitioned {
		if o.metrics != nil {
			o.metrics.IncrementRoundFinalized()
		}
		o.logger.RoundLogger(round.Repository, round.ID, "finalized", "contract", round.ContractAddress, "scores", len(finals))
	}
	o.finalized(round.Repository)

	return result, nil
}

// loginFor maps a ledger address to a login via the round's base scores, then the identity store
func (o *Orchestrator) loginFor(ctx context.Context, index participants, address string) (string, bool) {
	if s, ok := index.resolve(address); ok {
		return s.Login, true
	}
	login, err := o.store.LoginForAddress(ctx, address)
	if err != nil || login == "" {
		return "", false
	}
	return login, true
}
