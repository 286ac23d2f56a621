package ledger

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/monitoring"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

// Settlement weights of the simulated contract
const (
	BaseWeight = 0.6
	PeerWeight = 0.4
)

type memContract struct {
	owner      common.Address
	repository string
	roundID    int64

	raters  []common.Address
	targets map[common.Address]bool
	details map[common.Address]BaseDetail
	votes   map[common.Address]map[common.Address]int

	finalized bool
	final     map[common.Address]Score
}

// Memory simulates the round contract in-process.
// It applies the same credential checks and reports failures with the same error taxonomy as EthClient.
type Memory struct {
	mu        sync.Mutex
	contracts map[common.Address]*memContract
	nonces    map[common.Address]uint64
	failures  map[string][]error
	logger    *monitoring.Logger
	metrics   *monitoring.Metrics
}

// NewMemory creates an empty simulated ledger
func NewMemory(logger *monitoring.Logger, metrics *monitoring.Metrics) *Memory {
	return &Memory{
		contracts: make(map[common.Address]*memContract),
		nonces:    make(map[common.Address]uint64),
		failures:  make(map[string][]error),
		logger:    logger,
		metrics:   metrics,
	}
}

// FailNext makes the next call of operation fail with err before touching state
func (m *Memory) FailNext(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[operation] = append(m.failures[operation], err)
}

func (m *Memory) injected(operation string) error {
	queue := m.failures[operation]
	if len(queue) == 0 {
		return nil
	}
	m.failures[operation] = queue[1:]
	return queue[0]
}

func (m *Memory) record(operation, contract string, start time.Time, err error) error {
	err = classify(operation, err)
	if m.logger != nil {
		m.logger.LedgerLogger(operation, contract, time.Since(start), err)
	}
	if m.metrics != nil {
		m.metrics.RecordLedgerCall(err == nil)
	}
	return err
}

func reverted(format string, args ...interface{}) error {
	return fmt.Errorf("execution reverted: "+format, args...)
}

func (m *Memory) lookup(contract string) (*memContract, error) {
	address, err := ParseAddress(contract)
	if err != nil {
		return nil, err
	}
	c, ok := m.contracts[address]
	if !ok {
		return nil, reverted("no contract at %s", address.Hex())
	}
	return c, nil
}

// admin verifies the credential and that it owns the contract
func (m *Memory) admin(cred types.Credential, contract string) (*memContract, error) {
	_, from, err := VerifyCredential(cred)
	if err != nil {
		return nil, err
	}
	c, err := m.lookup(contract)
	if err != nil {
		return nil, err
	}
	if c.owner != from {
		return nil, reverted("caller is not the owner")
	}
	if c.finalized {
		return nil, reverted("round already finalized")
	}
	return c, nil
}

// Deploy creates a contract at the address derived from the admin and its nonce
func (m *Memory) Deploy(ctx context.Context, admin types.Credential, repository string, roundID int64) (string, error) {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	_, from, err := VerifyCredential(admin)
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = m.injected("deploy")
	}
	if err != nil {
		return "", m.record("deploy", "", start, err)
	}

	address := crypto.CreateAddress(from, m.nonces[from])
	m.nonces[from]++
	m.contracts[address] = &memContract{
		owner:      from,
		repository: repository,
		roundID:    roundID,
		targets:    make(map[common.Address]bool),
		details:    make(map[common.Address]BaseDetail),
		votes:      make(map[common.Address]map[common.Address]int),
		final:      make(map[common.Address]Score),
	}
	return address.Hex(), m.record("deploy", address.Hex(), start, nil)
}

func (m *Memory) mutate(ctx context.Context, operation string, admin types.Credential, contract string, fn func(c *memContract) error) error {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	err := ctx.Err()
	if err == nil {
		err = m.injected(operation)
	}
	if err == nil {
		var c *memContract
		if c, err = m.admin(admin, contract); err == nil {
			err = fn(c)
		}
	}
	return m.record(operation, contract, start, err)
}

// SetRaters registers the addresses allowed to vote
func (m *Memory) SetRaters(ctx context.Context, admin types.Credential, contract string, raters []string) error {
	addrs, err := toAddresses(raters)
	if err != nil {
		return err
	}
	return m.mutate(ctx, "setRaters", admin, contract, func(c *memContract) error {
		if len(c.votes) > 0 {
			return reverted("voting already started")
		}
		c.raters = addrs
		return nil
	})
}

// SetTargets registers the addresses that can receive votes
func (m *Memory) SetTargets(ctx context.Context, admin types.Credential, contract string, targets []string) error {
	addrs, err := toAddresses(targets)
	if err != nil {
		return err
	}
	return m.mutate(ctx, "setTargets", admin, contract, func(c *memContract) error {
		c.targets = make(map[common.Address]bool, len(addrs))
		for _, a := range addrs {
			c.targets[a] = true
		}
		return nil
	})
}

// SetBaseDetails mirrors the base score breakdown
func (m *Memory) SetBaseDetails(ctx context.Context, admin types.Credential, contract string, details []BaseDetail) error {
	for _, d := range details {
		if _, err := ParseAddress(d.Address); err != nil {
			return err
		}
	}
	return m.mutate(ctx, "setBaseDetails", admin, contract, func(c *memContract) error {
		for _, d := range details {
			if d.Base < 0 || d.Base > 100 {
				return reverted("base score out of range for %s", d.Address)
			}
			addr := common.HexToAddress(d.Address)
			d.Address = addr.Hex()
			c.details[addr] = d
		}
		return nil
	})
}

// SubmitVotes records a rater's batch, replacing any earlier batch from the same rater
func (m *Memory) SubmitVotes(ctx context.Context, voter types.Credential, contract string, votes []Vote) (string, error) {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	txHash, err := m.submitVotes(ctx, voter, contract, votes)
	return txHash, m.record("submitVotes", contract, start, err)
}

func (m *Memory) submitVotes(ctx context.Context, voter types.Credential, contract string, votes []Vote) (string, error) {
	_, from, err := VerifyCredential(voter)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := m.injected("submitVotes"); err != nil {
		return "", err
	}

	c, err := m.lookup(contract)
	if err != nil {
		return "", err
	}
	if c.finalized {
		return "", reverted("round already finalized")
	}
	if !c.isRater(from) {
		return "", reverted("%s is not a rater", from.Hex())
	}

	batch := make(map[common.Address]int, len(votes))
	for _, v := range votes {
		target, err := ParseAddress(v.Target)
		if err != nil {
			return "", err
		}
		switch {
		case target == from:
			return "", reverted("self vote")
		case !c.targets[target]:
			return "", reverted("%s is not a target", target.Hex())
		case v.Points < 0 || v.Points > 100:
			return "", reverted("points out of range")
		}
		batch[target] = v.Points
	}
	c.votes[from] = batch

	m.nonces[from]++
	hash := crypto.Keccak256Hash(c.owner.Bytes(), from.Bytes(), common.BigToHash(new(big.Int).SetUint64(m.nonces[from])).Bytes())
	return hash.Hex(), nil
}

func (c *memContract) isRater(a common.Address) bool {
	for _, r := range c.raters {
		if r == a {
			return true
		}
	}
	return false
}

// Finalize settles the round once every rater has voted.
// Peer score is the rounded mean of points received; final = round(0.6*base + 0.4*peer).
func (m *Memory) Finalize(ctx context.Context, admin types.Credential, contract string) error {
	return m.mutate(ctx, "finalize", admin, contract, func(c *memContract) error {
		if len(c.votes) < len(c.raters) {
			return reverted("%d of %d raters voted", len(c.votes), len(c.raters))
		}

		received := make(map[common.Address][]int)
		for _, batch := range c.votes {
			for target, points := range batch {
				received[target] = append(received[target], points)
			}
		}

		for target := range c.targets {
			detail := c.details[target]
			detail.Address = target.Hex()

			peer := 0
			if pts := received[target]; len(pts) > 0 {
				sum := 0
				for _, p := range pts {
					sum += p
				}
				peer = int(math.Round(float64(sum) / float64(len(pts))))
			}

			c.final[target] = Score{
				Address:  target.Hex(),
				Final:    int(math.Round(BaseWeight*float64(detail.Base) + PeerWeight*float64(peer))),
				PeerNorm: peer,
				Detail:   detail,
			}
		}
		c.finalized = true
		return nil
	})
}

// GetProgress reads {total, voted, finalized}
func (m *Memory) GetProgress(ctx context.Context, contract string) (types.Progress, error) {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	err := ctx.Err()
	if err == nil {
		err = m.injected("getProgress")
	}
	var progress types.Progress
	if err == nil {
		var c *memContract
		if c, err = m.lookup(contract); err == nil {
			progress = types.Progress{Total: len(c.raters), Voted: len(c.votes), Finalized: c.finalized}
		}
	}
	return progress, m.record("getProgress", contract, start, err)
}

// GetFinalScores reads the settled score of every address; unsettled addresses read as zero
func (m *Memory) GetFinalScores(ctx context.Context, contract string, addresses []string) ([]Score, error) {
	members, err := toAddresses(addresses)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	err = ctx.Err()
	if err == nil {
		err = m.injected("getFinalScore")
	}
	var out []Score
	if err == nil {
		var c *memContract
		if c, err = m.lookup(contract); err == nil {
			out = make([]Score, 0, len(members))
			for _, member := range members {
				s, ok := c.final[member]
				if !ok {
					s = Score{Address: member.Hex(), Detail: BaseDetail{Address: member.Hex()}}
				}
				out = append(out, s)
			}
		}
	}
	return out, m.record("getFinalScore", contract, start, err)
}

// ErrInsufficientFunds is a ready-made failure for FailNext
var ErrInsufficientFunds = apperrors.NewLedgerError(apperrors.LedgerInsufficientFunds, "send", fmt.Errorf("insufficient funds for gas * price + value"))

var _ Client = (*Memory)(nil)
