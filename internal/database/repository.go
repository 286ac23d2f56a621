package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

// Repository handles round store and identity store operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateRound inserts an open round together with its base scores in one transaction.
// A second active round for the same repository yields ErrActiveRoundExists.
func (r *Repository) CreateRound(ctx context.Context, round *types.Round, scores []types.BaseScore) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ts := now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO rounds (repository, initiator, window_start, window_end, status, contract_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, round.Repository, round.Initiator, round.WindowStart.UTC(), round.WindowEnd.UTC(),
		string(types.StatusOpen), nullable(round.ContractAddress), ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrActiveRoundExists
		}
		return 0, fmt.Errorf("failed to create round: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read round id: %w", err)
	}

	for _, s := range scores {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO base_scores (`+baseScoreColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(round_id, login) DO UPDATE SET
			ledger_address = excluded.ledger_address,
			code_score = excluded.code_score,
			pr_score = excluded.pr_score,
			review_score = excluded.review_score,
			issue_score = excluded.issue_score,
			base_score = excluded.base_score,
			lines_changed = excluded.lines_changed,
			commits = excluded.commits,
			prs_created = excluded.prs_created,
			prs_merged = excluded.prs_merged,
			reviews = excluded.reviews,
			issues_on_time = excluded.issues_on_time
		`, id, s.Login, nullable(s.Address), s.CodeScore, s.PRScore, s.ReviewScore, s.IssueScore, s.BaseScore,
			s.Raw.LinesChanged, s.Raw.Commits, s.Raw.PRsCreated, s.Raw.PRsMerged, s.Raw.Reviews, s.Raw.IssuesOnTime)
		if err != nil {
			return 0, fmt.Errorf("failed to store base score for %s: %w", s.Login, err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrActiveRoundExists
		}
		return 0, fmt.Errorf("failed to commit round: %w", err)
	}

	round.ID = id
	round.Status = types.StatusOpen
	round.CreatedAt = ts
	round.UpdatedAt = ts
	return id, nil
}

// GetRound loads a round by id
func (r *Repository) GetRound(ctx context.Context, id int64) (*types.Round, error) {
	round, err := scanRound(r.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round %d: %w", id, err)
	}
	return round, nil
}

// GetRoundByContract loads the round bound to a ledger contract address
func (r *Repository) GetRoundByContract(ctx context.Context, contract string) (*types.Round, error) {
	stmt, err := r.db.GetPreparedStatement("get_round_by_contract")
	if err != nil {
		return nil, err
	}

	round, err := scanRound(stmt.QueryRowContext(ctx, contract))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round for contract %s: %w", contract, err)
	}
	return round, nil
}

// GetActiveRound returns the repository's non-finalized round, or ErrNotFound
func (r *Repository) GetActiveRound(ctx context.Context, repository string) (*types.Round, error) {
	stmt, err := r.db.GetPreparedStatement("get_active_round")
	if err != nil {
		return nil, err
	}

	round, err := scanRound(stmt.QueryRowContext(ctx, repository))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active round for %s: %w", repository, err)
	}
	return round, nil
}

// LatestRound returns the most recently created round of a repository, or ErrNotFound
func (r *Repository) LatestRound(ctx context.Context, repository string) (*types.Round, error) {
	round, err := scanRound(r.db.QueryRowContext(ctx, `
		SELECT `+roundColumns+` FROM rounds WHERE repository = ? ORDER BY id DESC LIMIT 1
	`, repository))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest round for %s: %w", repository, err)
	}
	return round, nil
}

// PreviousWindowEnd returns the end of the repository's latest round, or the Unix epoch for the first round
func (r *Repository) PreviousWindowEnd(ctx context.Context, repository string) (time.Time, error) {
	round, err := r.LatestRound(ctx, repository)
	if errors.Is(err, ErrNotFound) {
		return time.Unix(0, 0).UTC(), nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return round.WindowEnd, nil
}

// ListFinalizedRounds returns a repository's finalized rounds, oldest first
func (r *Repository) ListFinalizedRounds(ctx context.Context, repository string) ([]types.Round, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+roundColumns+` FROM rounds WHERE repository = ? AND status = 'finalized' ORDER BY id ASC
	`, repository)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	var out []types.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		out = append(out, *round)
	}
	return out, rows.Err()
}

// SetContractAddress records the deployed contract for a round
func (r *Repository) SetContractAddress(ctx context.Context, roundID int64, contract string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE rounds SET contract_address = ?, updated_at = ? WHERE id = ?`,
		nullable(contract), now(), roundID)
	if err != nil {
		return fmt.Errorf("failed to set contract address: %w", err)
	}
	return nil
}

// UpdateRoundStatus moves a round to a new lifecycle state
func (r *Repository) UpdateRoundStatus(ctx context.Context, roundID int64, status types.RoundStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE rounds SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now(), roundID)
	if err != nil {
		return fmt.Errorf("failed to update round status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRound removes a round and, by cascade, its scores and votes
func (r *Repository) DeleteRound(ctx context.Context, roundID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM rounds WHERE id = ?`, roundID); err != nil {
		return fmt.Errorf("failed to delete round: %w", err)
	}
	return nil
}

// ListBaseScores returns every base score of a round ordered by login
func (r *Repository) ListBaseScores(ctx context.Context, roundID int64) ([]types.BaseScore, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+baseScoreColumns+` FROM base_scores WHERE round_id = ? ORDER BY login COLLATE NOCASE ASC
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list base scores: %w", err)
	}
	defer rows.Close()

	var out []types.BaseScore
	for rows.Next() {
		s, err := scanBaseScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan base score: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertPeerVotes stores a voter's accepted votes keyed by (round, reviewer, target)
func (r *Repository) UpsertPeerVotes(ctx context.Context, votes []types.PeerVote) error {
	if len(votes) == 0 {
		return nil
	}

	stmt, err := r.db.GetPreparedStatement("upsert_peer_vote")
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStmt := tx.StmtContext(ctx, stmt)
	ts := now()
	for _, v := range votes {
		if _, err := txStmt.ExecContext(ctx, v.RoundID, v.Reviewer, v.Target, v.Score, ts); err != nil {
			return fmt.Errorf("failed to store vote %s->%s: %w", v.Reviewer, v.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit votes: %w", err)
	}
	return nil
}

// ListPeerVotes returns every stored vote of a round
func (r *Repository) ListPeerVotes(ctx context.Context, roundID int64) ([]types.PeerVote, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT round_id, reviewer, target, score, created_at FROM peer_votes
		WHERE round_id = ? ORDER BY reviewer, target
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	var out []types.PeerVote
	for rows.Next() {
		var v types.PeerVote
		if err := rows.Scan(&v.RoundID, &v.Reviewer, &v.Target, &v.Score, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SaveFinalScores upserts final scores keyed by (round, member) and marks the round finalized.
// Safe to repeat: rows whose scores are unchanged are left untouched. The result reports
// whether this call moved the round to finalized.
func (r *Repository) SaveFinalScores(ctx context.Context, roundID int64, scores []types.FinalScore) (bool, error) {
	stmt, err := r.db.GetPreparedStatement("upsert_final_score")
	if err != nil {
		return false, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStmt := tx.StmtContext(ctx, stmt)
	ts := now()
	for _, s := range scores {
		if _, err := txStmt.ExecContext(ctx, roundID, s.Login, nullable(s.Address), s.BaseScore, s.PeerScore, s.FinalScore, ts); err != nil {
			return false, fmt.Errorf("failed to store final score for %s: %w", s.Login, err)
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE rounds SET status = ?1, updated_at = ?2 WHERE id = ?3 AND status <> ?1`,
		string(types.StatusFinalized), ts, roundID)
	if err != nil {
		return false, fmt.Errorf("failed to mark round finalized: %w", err)
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark round finalized: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit final scores: %w", err)
	}
	return changed > 0, nil
}

// ListFinalScores returns a round's final scores ordered by final score descending
func (r *Repository) ListFinalScores(ctx context.Context, roundID int64) ([]types.FinalScore, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+finalScoreColumns+` FROM final_scores WHERE round_id = ?
		ORDER BY final_score DESC, login COLLATE NOCASE ASC
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list final scores: %w", err)
	}
	defer rows.Close()

	var out []types.FinalScore
	for rows.Next() {
		s, err := scanFinalScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan final score: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
