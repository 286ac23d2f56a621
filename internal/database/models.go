package database

import (
	"database/sql"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

const roundColumns = `id, repository, initiator, window_start, window_end, status, contract_address, created_at, updated_at`

const baseScoreColumns = `round_id, login, ledger_address, code_score, pr_score, review_score, issue_score, base_score,
	lines_changed, commits, prs_created, prs_merged, reviews, issues_on_time`

const finalScoreColumns = `round_id, login, ledger_address, base_score, peer_score, final_score, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRound(row rowScanner) (*types.Round, error) {
	var (
		r        types.Round
		status   string
		contract sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Repository, &r.Initiator, &r.WindowStart, &r.WindowEnd,
		&status, &contract, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = types.RoundStatus(status)
	r.ContractAddress = contract.String
	return &r, nil
}

func scanBaseScore(row rowScanner) (types.BaseScore, error) {
	var (
		s       types.BaseScore
		address sql.NullString
	)
	err := row.Scan(&s.RoundID, &s.Login, &address, &s.CodeScore, &s.PRScore, &s.ReviewScore, &s.IssueScore, &s.BaseScore,
		&s.Raw.LinesChanged, &s.Raw.Commits, &s.Raw.PRsCreated, &s.Raw.PRsMerged, &s.Raw.Reviews, &s.Raw.IssuesOnTime)
	s.Address = address.String
	return s, err
}

func scanFinalScore(row rowScanner) (types.FinalScore, error) {
	var (
		s       types.FinalScore
		address sql.NullString
	)
	err := row.Scan(&s.RoundID, &s.Login, &address, &s.BaseScore, &s.PeerScore, &s.FinalScore, &s.UpdatedAt)
	s.Address = address.String
	return s, err
}

func scanMember(row rowScanner) (*types.Member, error) {
	var (
		m       types.Member
		login   sql.NullString
		address sql.NullString
		token   sql.NullString
	)
	if err := row.Scan(&m.Username, &login, &address, &token, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Login = login.String
	m.LedgerAddress = address.String
	m.HasToken = token.String != ""
	return &m, nil
}

// nullable maps "" to NULL so optional unique columns never collide on empty strings
func nullable(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func now() time.Time {
	return time.Now().UTC()
}
