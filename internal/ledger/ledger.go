// Package ledger issues signed round operations against the voting contract.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/resilience"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

// BaseDetail mirrors a member's base score breakdown on-chain
type BaseDetail struct {
	Address string
	Base    int
	Code    int
	PR      int
	Review  int
	Issue   int
}

// Vote is one target/points pair of a vote batch
type Vote struct {
	Target string
	Points int
}

// Score is the settled on-chain result for one address
type Score struct {
	Address  string
	Final    int
	PeerNorm int
	Detail   BaseDetail
}

// Client is the operation-shaped view of the round contract.
// Mutating calls verify that the credential's key derives its address before anything is signed.
type Client interface {
	Deploy(ctx context.Context, admin types.Credential, repository string, roundID int64) (string, error)
	SetRaters(ctx context.Context, admin types.Credential, contract string, raters []string) error
	SetTargets(ctx context.Context, admin types.Credential, contract string, targets []string) error
	SetBaseDetails(ctx context.Context, admin types.Credential, contract string, details []BaseDetail) error
	SubmitVotes(ctx context.Context, voter types.Credential, contract string, votes []Vote) (string, error)
	Finalize(ctx context.Context, admin types.Credential, contract string) error
	GetProgress(ctx context.Context, contract string) (types.Progress, error)
	GetFinalScores(ctx context.Context, contract string, addresses []string) ([]Score, error)
}

// VerifyCredential parses the private key and checks it derives the claimed address
func VerifyCredential(cred types.Credential) (*ecdsa.PrivateKey, common.Address, error) {
	if err := cred.Validate(); err != nil {
		return nil, common.Address{}, apperrors.NewValidationError(err.Error())
	}
	if !common.IsHexAddress(strings.TrimSpace(cred.Address)) {
		return nil, common.Address{}, apperrors.NewValidationError("address is not a valid ledger address")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cred.PrivateKey), "0x"))
	if err != nil {
		// the parse error never includes key material
		return nil, common.Address{}, apperrors.NewAuthorizationError("private key is malformed", nil)
	}

	claimed := common.HexToAddress(strings.TrimSpace(cred.Address))
	if crypto.PubkeyToAddress(key.PublicKey) != claimed {
		return nil, common.Address{}, apperrors.NewAuthorizationError("private key does not match address "+claimed.Hex(), nil)
	}
	return key, claimed, nil
}

// ParseAddress validates a hex ledger address
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, apperrors.NewValidationError("invalid ledger address: " + s)
	}
	return common.HexToAddress(s), nil
}

// SameAddress compares two hex addresses ignoring case and checksum
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// classify maps a raw transport or contract failure onto a typed ledger error
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.NewLedgerError(kindOf(err), operation, err)
}

func kindOf(err error) apperrors.LedgerKind {
	var breakerErr *resilience.CircuitBreakerError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.LedgerTimeout
	case errors.As(err, &breakerErr):
		return apperrors.LedgerNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return apperrors.LedgerInsufficientFunds
	case strings.Contains(msg, "revert"):
		return apperrors.LedgerReverted
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return apperrors.LedgerTimeout
	default:
		return apperrors.LedgerNetwork
	}
}

// countsAgainstBreaker is true for failures of the provider rather than of the call itself
func countsAgainstBreaker(err error) bool {
	kind := kindOf(err)
	return kind == apperrors.LedgerNetwork || kind == apperrors.LedgerTimeout
}
