package types

import (
	"fmt"
	"strings"
	"time"
)

// RoundStatus is the lifecycle state of a scoring round
type RoundStatus string

const (
	StatusOpen      RoundStatus = "open"
	StatusVoting    RoundStatus = "voting"
	StatusFinalized RoundStatus = "finalized"
)

// Round is one scoring cycle for a repository over the half-open window [WindowStart, WindowEnd)
type Round struct {
	ID              int64       `json:"id"`
	Repository      string      `json:"repository"`
	Initiator       string      `json:"initiator"`
	WindowStart     time.Time   `json:"window_start"`
	WindowEnd       time.Time   `json:"window_end"`
	Status          RoundStatus `json:"status"`
	ContractAddress string      `json:"contract_address,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// RawCounters are the mined per-member counters kept for audit
type RawCounters struct {
	LinesChanged int `json:"lines_changed"`
	Commits      int `json:"commits"`
	PRsCreated   int `json:"prs_created"`
	PRsMerged    int `json:"prs_merged"`
	Reviews      int `json:"reviews"`
	IssuesOnTime int `json:"issues_on_time"`
}

// BaseScore is the objective pre-vote score of one member in one round
type BaseScore struct {
	RoundID     int64       `json:"round_id"`
	Login       string      `json:"login"`
	Address     string      `json:"address,omitempty"`
	CodeScore   int         `json:"code_score"`
	PRScore     int         `json:"pr_score"`
	ReviewScore int         `json:"review_score"`
	IssueScore  int         `json:"issue_score"`
	BaseScore   int         `json:"base_score"`
	Raw         RawCounters `json:"raw"`
}

// PeerVote is a point allocation from one participant to another
type PeerVote struct {
	RoundID   int64     `json:"round_id"`
	Reviewer  string    `json:"reviewer"`
	Target    string    `json:"target"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// FinalScore is the settled per-round score
type FinalScore struct {
	RoundID    int64     `json:"round_id"`
	Login      string    `json:"login"`
	Address    string    `json:"address,omitempty"`
	BaseScore  int       `json:"base_score"`
	PeerScore  int       `json:"peer_score"`
	FinalScore int       `json:"final_score"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Member binds a local account to an external login and a ledger address
type Member struct {
	Username      string    `json:"username"`
	Login         string    `json:"login,omitempty"`
	LedgerAddress string    `json:"ledger_address,omitempty"`
	HasToken      bool      `json:"has_token"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Progress is the on-chain voting progress of a round contract
type Progress struct {
	Total     int  `json:"total"`
	Voted     int  `json:"voted"`
	Finalized bool `json:"finalized"`
}

// Ready reports whether every registered rater has voted
func (p Progress) Ready() bool {
	return p.Finalized || (p.Total > 0 && p.Voted >= p.Total)
}

// Credential is a ledger address together with the key that must derive it
type Credential struct {
	Address    string `json:"address" binding:"required"`
	PrivateKey string `json:"private_key" binding:"required"`
}

// Validate checks required credential fields
func (c Credential) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("address is required")
	}
	if strings.TrimSpace(c.PrivateKey) == "" {
		return fmt.Errorf("private_key is required")
	}
	return nil
}

// StartRoundRequest represents the request structure for starting a round
type StartRoundRequest struct {
	Repository string     `json:"repository" binding:"required"`
	Admin      Credential `json:"admin" binding:"required"`
}

// Validate checks required fields and the owner/name repository shape
func (r StartRoundRequest) Validate() error {
	if err := ValidateRepository(r.Repository); err != nil {
		return err
	}
	if err := r.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	return nil
}

// StartRoundResponse is returned by a round start
type StartRoundResponse struct {
	RoundID         int64       `json:"round_id"`
	ContractAddress *string     `json:"contract_address"`
	Participants    []string    `json:"participants"`
	Status          RoundStatus `json:"status"`
	Resumed         bool        `json:"resumed,omitempty"`
}

// VoteEntry is one target/points pair inside a vote batch
type VoteEntry struct {
	Target string `json:"target" binding:"required"`
	Points *int   `json:"points" binding:"required"`
}

// SubmitVoteRequest represents the request structure for a vote batch
type SubmitVoteRequest struct {
	Contract string      `json:"contract"`
	Voter    Credential  `json:"voter" binding:"required"`
	Votes    []VoteEntry `json:"votes" binding:"required"`
}

// Validate checks the vote payload shape; per-vote range checks happen later
func (r SubmitVoteRequest) Validate() error {
	if strings.TrimSpace(r.Contract) == "" {
		return fmt.Errorf("contract is required")
	}
	if err := r.Voter.Validate(); err != nil {
		return fmt.Errorf("voter: %w", err)
	}
	if len(r.Votes) == 0 {
		return fmt.Errorf("votes must not be empty")
	}
	for i, v := range r.Votes {
		if strings.TrimSpace(v.Target) == "" {
			return fmt.Errorf("votes[%d].target is required", i)
		}
		if v.Points == nil {
			return fmt.Errorf("votes[%d].points is required", i)
		}
	}
	return nil
}

// DroppedVote reports a vote removed from a batch and why
type DroppedVote struct {
	Target string `json:"target"`
	Points int    `json:"points"`
	Reason string `json:"reason"`
}

// VoteReceipt is returned after a vote batch reached the ledger
type VoteReceipt struct {
	TxHash   string        `json:"tx_hash"`
	Accepted []VoteEntry   `json:"accepted"`
	Dropped  []DroppedVote `json:"dropped,omitempty"`
}

// FinalizeRequest represents the request structure for finalize
type FinalizeRequest struct {
	Contract string     `json:"contract"`
	Admin    Credential `json:"admin" binding:"required"`
}

// Validate checks required fields
func (r FinalizeRequest) Validate() error {
	if strings.TrimSpace(r.Contract) == "" {
		return fmt.Errorf("contract is required")
	}
	if err := r.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	return nil
}

// FinalizeResult carries the progress snapshot and, once settled, the scores
type FinalizeResult struct {
	RoundID   int64        `json:"round_id"`
	Progress  Progress     `json:"progress"`
	Scores    []FinalScore `json:"scores,omitempty"`
	Persisted bool         `json:"persisted"`
}

// BindMemberRequest records a member's login, ledger address and access token
type BindMemberRequest struct {
	Owner         Credential `json:"owner" binding:"required"`
	Login         string     `json:"login" binding:"required"`
	LedgerAddress string     `json:"ledger_address"`
	AccessToken   string     `json:"access_token"`
}

// ValidateRepository checks an owner/name repository identifier
func ValidateRepository(repository string) error {
	repository = strings.TrimSpace(repository)
	if repository == "" {
		return fmt.Errorf("repository is required")
	}
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("repository must be in owner/name form, got %q", repository)
	}
	return nil
}
