package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

func newRound(repo string) *types.Round {
	return &types.Round{
		Repository:  repo,
		Initiator:   "0x00000000000000000000000000000000000000aa",
		WindowStart: time.Unix(0, 0).UTC(),
		WindowEnd:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func sampleScores() []types.BaseScore {
	return []types.BaseScore{
		{Login: "alice", Address: "0xA1", CodeScore: 100, PRScore: 50, BaseScore: 60, Raw: types.RawCounters{Commits: 4}},
		{Login: "bob", Address: "0xB2", CodeScore: 20, BaseScore: 10},
	}
}

func TestRepository_CreateRound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	round := newRound("acme/widgets")
	id, err := repo.CreateRound(ctx, round, sampleScores())
	require.NoError(t, err)
	assert.Equal(t, id, round.ID)
	assert.Equal(t, types.StatusOpen, round.Status)

	loaded, err := repo.GetRound(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", loaded.Repository)
	assert.Equal(t, types.StatusOpen, loaded.Status)
	assert.True(t, loaded.WindowEnd.Equal(round.WindowEnd))

	scores, err := repo.ListBaseScores(ctx, id)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, "alice", scores[0].Login)
	assert.Equal(t, "0xA1", scores[0].Address)
	assert.Equal(t, 4, scores[0].Raw.Commits)
}

func TestRepository_OneActiveRoundPerRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateRound(ctx, newRound("acme/widgets"), nil)
	require.NoError(t, err)

	_, err = repo.CreateRound(ctx, newRound("ACME/Widgets"), nil)
	assert.ErrorIs(t, err, ErrActiveRoundExists)

	_, err = repo.CreateRound(ctx, newRound("acme/other"), nil)
	assert.NoError(t, err)

	_, err = repo.SaveFinalScores(ctx, id, nil)
	require.NoError(t, err)
	_, err = repo.CreateRound(ctx, newRound("acme/widgets"), nil)
	assert.NoError(t, err)
}

func TestRepository_ConcurrentCreateRound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.CreateRound(ctx, newRound("acme/widgets"), sampleScores()); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
}

func TestRepository_ContractLookupAndStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateRound(ctx, newRound("acme/widgets"), sampleScores())
	require.NoError(t, err)

	_, err = repo.GetRoundByContract(ctx, "0xC0FFEE")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.SetContractAddress(ctx, id, "0xC0FFEE"))
	require.NoError(t, repo.UpdateRoundStatus(ctx, id, types.StatusVoting))

	round, err := repo.GetRoundByContract(ctx, "0xc0ffee")
	require.NoError(t, err)
	assert.Equal(t, id, round.ID)
	assert.Equal(t, types.StatusVoting, round.Status)

	active, err := repo.GetActiveRound(ctx, "acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, id, active.ID)

	assert.ErrorIs(t, repo.UpdateRoundStatus(ctx, 9999, types.StatusVoting), ErrNotFound)
}

func TestRepository_PreviousWindowEnd(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	start, err := repo.PreviousWindowEnd(ctx, "acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, int64(0), start.Unix())

	round := newRound("acme/widgets")
	_, err = repo.CreateRound(ctx, round, nil)
	require.NoError(t, err)

	start, err = repo.PreviousWindowEnd(ctx, "acme/widgets")
	require.NoError(t, err)
	assert.True(t, start.Equal(round.WindowEnd))
}

func TestRepository_PeerVotesUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateRound(ctx, newRound("acme/widgets"), sampleScores())
	require.NoError(t, err)

	require.NoError(t, repo.UpsertPeerVotes(ctx, []types.PeerVote{{RoundID: id, Reviewer: "alice", Target: "bob", Score: 40}}))
	require.NoError(t, repo.UpsertPeerVotes(ctx, []types.PeerVote{{RoundID: id, Reviewer: "alice", Target: "bob", Score: 70}}))

	votes, err := repo.ListPeerVotes(ctx, id)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, 70, votes[0].Score)

	t.Run("target without base score is rejected", func(t *testing.T) {
		err := repo.UpsertPeerVotes(ctx, []types.PeerVote{{RoundID: id, Reviewer: "alice", Target: "mallory", Score: 10}})
		assert.Error(t, err)
	})

	t.Run("self vote is rejected", func(t *testing.T) {
		err := repo.UpsertPeerVotes(ctx, []types.PeerVote{{RoundID: id, Reviewer: "bob", Target: "bob", Score: 10}})
		assert.Error(t, err)
	})

	t.Run("out of range score is rejected", func(t *testing.T) {
		err := repo.UpsertPeerVotes(ctx, []types.PeerVote{{RoundID: id, Reviewer: "bob", Target: "alice", Score: 101}})
		assert.Error(t, err)
	})
}

func TestRepository_SaveFinalScoresIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateRound(ctx, newRound("acme/widgets"), sampleScores())
	require.NoError(t, err)

	final := []types.FinalScore{
		{Login: "alice", Address: "0xA1", BaseScore: 60, PeerScore: 80, FinalScore: 68},
		{Login: "bob", Address: "0xB2", BaseScore: 10, PeerScore: 20, FinalScore: 14},
	}

	changed, err := repo.SaveFinalScores(ctx, id, final)
	require.NoError(t, err)
	assert.True(t, changed)
	first, err := repo.ListFinalScores(ctx, id)
	require.NoError(t, err)
	round, err := repo.GetRound(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFinalized, round.Status)

	time.Sleep(5 * time.Millisecond)
	changed, err = repo.SaveFinalScores(ctx, id, final)
	require.NoError(t, err)
	assert.False(t, changed)
	second, err := repo.ListFinalScores(ctx, id)
	require.NoError(t, err)

	require.Len(t, second, 2)
	assert.Equal(t, first, second, "repeating the same scores leaves rows untouched")
	assert.Equal(t, "alice", second[0].Login)

	again, err := repo.GetRound(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, round.UpdatedAt, again.UpdatedAt)

	corrected := append([]types.FinalScore(nil), final...)
	corrected[1].PeerScore, corrected[1].FinalScore = 30, 18
	_, err = repo.SaveFinalScores(ctx, id, corrected)
	require.NoError(t, err)
	third, err := repo.ListFinalScores(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first[0].UpdatedAt, third[0].UpdatedAt)
	assert.Equal(t, 18, third[1].FinalScore)
	assert.True(t, third[1].UpdatedAt.After(first[1].UpdatedAt))

	rounds, err := repo.ListFinalizedRounds(ctx, "acme/widgets")
	require.NoError(t, err)
	assert.Len(t, rounds, 1)
}

func TestRepository_DeleteRoundCascades(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateRound(ctx, newRound("acme/widgets"), sampleScores())
	require.NoError(t, err)
	require.NoError(t, repo.DeleteRound(ctx, id))

	scores, err := repo.ListBaseScores(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, scores)

	_, err = repo.GetActiveRound(ctx, "acme/widgets")
	assert.ErrorIs(t, err, ErrNotFound)
}
