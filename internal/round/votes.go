package round

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/database"
	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/ledger"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

// Reasons reported for dropped votes
const (
	DropSelfVote      = "self_vote"
	DropUnknownTarget = "target_has_no_base_score"
	DropOutOfRange    = "points_out_of_range"
	DropDuplicate     = "duplicate_target"
)

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// participants indexes a round's base scores by address and by login, case-insensitively
type participants struct {
	byAddress map[string]types.BaseScore
	byLogin   map[string]types.BaseScore
}

func indexParticipants(scores []types.BaseScore) participants {
	p := participants{
		byAddress: make(map[string]types.BaseScore, len(scores)),
		byLogin:   make(map[string]types.BaseScore, len(scores)),
	}
	for _, s := range scores {
		p.byLogin[strings.ToLower(s.Login)] = s
		if s.Address != "" {
			p.byAddress[strings.ToLower(s.Address)] = s
		}
	}
	return p
}

// resolve finds a participant by ledger address or login
func (p participants) resolve(identity string) (types.BaseScore, bool) {
	key := strings.ToLower(strings.TrimSpace(identity))
	if common.IsHexAddress(key) {
		s, ok := p.byAddress[strings.ToLower(common.HexToAddress(key).Hex())]
		return s, ok
	}
	s, ok := p.byLogin[key]
	return s, ok
}

// roundForContract loads the round bound to a contract address
func (o *Orchestrator) roundForContract(ctx context.Context, contract string) (*types.Round, error) {
	if _, err := ledger.ParseAddress(contract); err != nil {
		return nil, err
	}
	round, err := o.store.GetRoundByContract(ctx, strings.TrimSpace(contract))
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.NewValidationError("no round is bound to contract " + contract)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load round", err)
	}
	return round, nil
}

// SubmitVote validates a voter's batch, drops invalid entries and sends the rest as one signed operation
func (o *Orchestrator) SubmitVote(ctx context.Context, req types.SubmitVoteRequest) (*types.VoteReceipt, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	_, voter, err := ledger.VerifyCredential(req.Voter)
	if err != nil {
		return nil, err
	}

	round, err := o.roundForContract(ctx, req.Contract)
	if err != nil {
		return nil, err
	}
	if round.Status != types.StatusVoting {
		return nil, apperrors.NewConflictError("round "+itoa(round.ID)+" is "+string(round.Status)+", not voting", nil)
	}

	if _, err := o.store.MemberForAddress(ctx, voter.Hex()); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperrors.NewAuthorizationError("voter "+voter.Hex()+" has no verified identity binding", nil)
		}
		return nil, apperrors.NewInternalError("failed to resolve voter", err)
	}

	scores, err := o.store.ListBaseScores(ctx, round.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load base scores", err)
	}
	index := indexParticipants(scores)

	reviewer, ok := index.resolve(voter.Hex())
	if !ok {
		return nil, apperrors.NewAuthorizationError("voter "+voter.Hex()+" is not a participant of round "+itoa(round.ID), nil)
	}

	receipt := &types.VoteReceipt{}
	var (
		batch []ledger.Vote
		rows  []types.PeerVote
		seen  = make(map[string]bool)
	)
	for _, v := range req.Votes {
		points := *v.Points
		drop := func(reason string) {
			receipt.Dropped = append(receipt.Dropped, types.DroppedVote{Target: v.Target, Points: points, Reason: reason})
		}

		target, ok := index.resolve(v.Target)
		switch {
		case !ok:
			apperrors.LogDetached(o.logger.Logger, apperrors.NewDataInconsistencyError("vote targets a member without a base score", map[string]string{
				"round_id": itoa(round.ID),
				"reviewer": reviewer.Login,
				"target":   v.Target,
			}))
			drop(DropUnknownTarget)
		case strings.EqualFold(target.Login, reviewer.Login):
			drop(DropSelfVote)
		case points < 0 || points > 100:
			drop(DropOutOfRange)
		case seen[strings.ToLower(target.Login)]:
			drop(DropDuplicate)
		default:
			seen[strings.ToLower(target.Login)] = true
			batch = append(batch, ledger.Vote{Target: target.Address, Points: points})
			rows = append(rows, types.PeerVote{RoundID: round.ID, Reviewer: reviewer.Login, Target: target.Login, Score: points})
			receipt.Accepted = append(receipt.Accepted, types.VoteEntry{Target: target.Address, Points: v.Points})
		}
	}

	if len(batch) == 0 {
		details := make(map[string]string, len(receipt.Dropped))
		for _, d := range receipt.Dropped {
			details[d.Target] = d.Reason
		}
		return receipt, apperrors.NewValidationErrorWithMap(details)
	}

	receipt.TxHash, err = o.ledger.SubmitVotes(ctx, req.Voter, round.ContractAddress, batch)
	if err != nil {
		return nil, err
	}

	// the ledger is authoritative; a failed mirror write is logged and repaired by later batches
	_ = o.persist(ctx, "peer_votes", func(ctx context.Context) error {
		return o.store.UpsertPeerVotes(ctx, rows)
	})

	if o.metrics != nil {
		o.metrics.RecordVotes(len(batch), len(receipt.Dropped))
	}
	o.logger.RoundLogger(round.Repository, round.ID, "votes_submitted",
		"reviewer", reviewer.Login,
		"accepted", len(batch),
		"dropped", len(receipt.Dropped),
		"tx_hash", receipt.TxHash)

	return receipt, nil
}
