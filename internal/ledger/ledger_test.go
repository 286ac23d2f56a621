package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/resilience"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

func mustCredential(t *testing.T) types.Credential {
	t.Helper()
	cred, err := GenerateCredential()
	require.NoError(t, err)
	return cred
}

func TestVerifyCredential(t *testing.T) {
	cred := mustCredential(t)
	other := mustCredential(t)

	t.Run("matching key", func(t *testing.T) {
		_, addr, err := VerifyCredential(cred)
		require.NoError(t, err)
		assert.True(t, SameAddress(cred.Address, addr.Hex()))
	})

	t.Run("0x prefixed key and lowercase address", func(t *testing.T) {
		_, _, err := VerifyCredential(types.Credential{
			Address:    strings.ToLower(cred.Address),
			PrivateKey: "0x" + cred.PrivateKey,
		})
		assert.NoError(t, err)
	})

	t.Run("mismatched key", func(t *testing.T) {
		_, _, err := VerifyCredential(types.Credential{Address: cred.Address, PrivateKey: other.PrivateKey})
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryAuthorization))
	})

	t.Run("malformed key", func(t *testing.T) {
		_, _, err := VerifyCredential(types.Credential{Address: cred.Address, PrivateKey: "zz"})
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryAuthorization))
		assert.NotContains(t, err.Error(), "zz")
	})

	t.Run("missing fields", func(t *testing.T) {
		_, _, err := VerifyCredential(types.Credential{Address: cred.Address})
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))
	})

	t.Run("bad address", func(t *testing.T) {
		_, _, err := VerifyCredential(types.Credential{Address: "alice", PrivateKey: cred.PrivateKey})
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind apperrors.LedgerKind
	}{
		{"deadline", context.DeadlineExceeded, apperrors.LedgerTimeout},
		{"funds", errors.New("insufficient funds for gas * price + value"), apperrors.LedgerInsufficientFunds},
		{"revert", errors.New("execution reverted: not owner"), apperrors.LedgerReverted},
		{"breaker", resilience.NewCircuitBreakerError("open", resilience.StateOpen), apperrors.LedgerNetwork},
		{"dial", errors.New("dial tcp 127.0.0.1:8545: connection refused"), apperrors.LedgerNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("submitVotes", tt.err)
			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, apperrors.CategoryLedger, appErr.Category)
			assert.Equal(t, string(tt.kind), appErr.Detail("ledger_kind"))
			assert.Equal(t, "submitVotes", appErr.Detail("operation"))
		})
	}

	assert.False(t, countsAgainstBreaker(errors.New("execution reverted")))
	assert.True(t, countsAgainstBreaker(errors.New("connection reset by peer")))
}

type memoryRound struct {
	ledger   *Memory
	admin    types.Credential
	alice    types.Credential
	bob      types.Credential
	contract string
}

func setupMemoryRound(t *testing.T) memoryRound {
	t.Helper()
	ctx := context.Background()
	r := memoryRound{
		ledger: NewMemory(nil, nil),
		admin:  mustCredential(t),
		alice:  mustCredential(t),
		bob:    mustCredential(t),
	}

	contract, err := r.ledger.Deploy(ctx, r.admin, "acme/widgets", 1)
	require.NoError(t, err)
	r.contract = contract

	members := []string{r.alice.Address, r.bob.Address}
	require.NoError(t, r.ledger.SetRaters(ctx, r.admin, contract, members))
	require.NoError(t, r.ledger.SetTargets(ctx, r.admin, contract, members))
	require.NoError(t, r.ledger.SetBaseDetails(ctx, r.admin, contract, []BaseDetail{
		{Address: r.alice.Address, Base: 80, Code: 100},
		{Address: r.bob.Address, Base: 40, Code: 20},
	}))
	return r
}

func TestMemory_RoundLifecycle(t *testing.T) {
	ctx := context.Background()
	r := setupMemoryRound(t)

	progress, err := r.ledger.GetProgress(ctx, r.contract)
	require.NoError(t, err)
	assert.Equal(t, types.Progress{Total: 2, Voted: 0}, progress)

	txHash, err := r.ledger.SubmitVotes(ctx, r.alice, r.contract, []Vote{{Target: r.bob.Address, Points: 50}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(txHash, "0x"))

	err = r.ledger.Finalize(ctx, r.admin, r.contract)
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryLedger))

	_, err = r.ledger.SubmitVotes(ctx, r.bob, r.contract, []Vote{{Target: r.alice.Address, Points: 90}})
	require.NoError(t, err)

	progress, err = r.ledger.GetProgress(ctx, r.contract)
	require.NoError(t, err)
	assert.True(t, progress.Ready())

	require.NoError(t, r.ledger.Finalize(ctx, r.admin, r.contract))

	scores, err := r.ledger.GetFinalScores(ctx, r.contract, []string{r.alice.Address, r.bob.Address})
	require.NoError(t, err)
	require.Len(t, scores, 2)

	// alice: 0.6*80 + 0.4*90 = 84; bob: 0.6*40 + 0.4*50 = 44
	assert.Equal(t, 84, scores[0].Final)
	assert.Equal(t, 90, scores[0].PeerNorm)
	assert.Equal(t, 80, scores[0].Detail.Base)
	assert.Equal(t, 100, scores[0].Detail.Code)
	assert.Equal(t, 44, scores[1].Final)

	err = r.ledger.Finalize(ctx, r.admin, r.contract)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryLedger))
}

func TestMemory_RejectsInvalidCalls(t *testing.T) {
	ctx := context.Background()
	r := setupMemoryRound(t)

	t.Run("non-owner admin call reverts", func(t *testing.T) {
		err := r.ledger.SetRaters(ctx, r.alice, r.contract, []string{r.alice.Address})
		var appErr *apperrors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, string(apperrors.LedgerReverted), appErr.Detail("ledger_kind"))
	})

	t.Run("self vote reverts", func(t *testing.T) {
		_, err := r.ledger.SubmitVotes(ctx, r.alice, r.contract, []Vote{{Target: r.alice.Address, Points: 10}})
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryLedger))
	})

	t.Run("outsider cannot vote", func(t *testing.T) {
		outsider := mustCredential(t)
		_, err := r.ledger.SubmitVotes(ctx, outsider, r.contract, []Vote{{Target: r.bob.Address, Points: 10}})
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryLedger))
	})

	t.Run("credential mismatch fails before the ledger", func(t *testing.T) {
		_, err := r.ledger.SubmitVotes(ctx, types.Credential{Address: r.alice.Address, PrivateKey: r.bob.PrivateKey}, r.contract, nil)
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryAuthorization))
	})

	t.Run("unknown contract", func(t *testing.T) {
		_, err := r.ledger.GetProgress(ctx, "0x0000000000000000000000000000000000000001")
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryLedger))
	})

	progress, err := r.ledger.GetProgress(ctx, r.contract)
	require.NoError(t, err)
	assert.Equal(t, 0, progress.Voted)
}

func TestMemory_FailNext(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemory(nil, nil)
	admin := mustCredential(t)

	ledger.FailNext("deploy", ErrInsufficientFunds)
	_, err := ledger.Deploy(ctx, admin, "acme/widgets", 1)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, string(apperrors.LedgerInsufficientFunds), appErr.Detail("ledger_kind"))

	ledger.FailNext("deploy", context.DeadlineExceeded)
	_, err = ledger.Deploy(ctx, admin, "acme/widgets", 1)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, string(apperrors.LedgerTimeout), appErr.Detail("ledger_kind"))

	first, err := ledger.Deploy(ctx, admin, "acme/widgets", 1)
	require.NoError(t, err)
	second, err := ledger.Deploy(ctx, admin, "acme/widgets", 2)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
