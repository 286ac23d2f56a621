package ledger

import (
	"context"
	"crypto/ecdsa"
	_ "embed"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/monitoring"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/resilience"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

//go:embed round.abi.json
var roundABIJSON string

// DefaultTimeout bounds every ledger call, including waiting for the receipt
const DefaultTimeout = 60 * time.Second

// EthConfig configures the JSON-RPC ledger client
type EthConfig struct {
	RPCURL       string
	BytecodePath string
	Timeout      time.Duration
}

// EthClient talks to the round contract on an EVM chain over JSON-RPC
type EthClient struct {
	rpc      *ethclient.Client
	abi      abi.ABI
	bytecode []byte
	chainID  *big.Int
	timeout  time.Duration
	breaker  *resilience.CircuitBreaker
	logger   *monitoring.Logger
	metrics  *monitoring.Metrics
}

// DialEth connects to the RPC endpoint and resolves the chain id
func DialEth(ctx context.Context, cfg EthConfig, logger *monitoring.Logger, metrics *monitoring.Metrics) (*EthClient, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, apperrors.NewConfigurationError("LEDGER_RPC_URL is required for the rpc ledger", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	parsed, err := abi.JSON(strings.NewReader(roundABIJSON))
	if err != nil {
		return nil, apperrors.NewInternalError("failed to parse round contract ABI", err)
	}

	var bytecode []byte
	if cfg.BytecodePath != "" {
		raw, err := os.ReadFile(cfg.BytecodePath)
		if err != nil {
			return nil, apperrors.NewConfigurationError("failed to read contract bytecode", err)
		}
		bytecode = common.FromHex(strings.TrimSpace(string(raw)))
		if len(bytecode) == 0 {
			return nil, apperrors.NewConfigurationError("contract bytecode file is empty", nil)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	rpc, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, classify("dial", err)
	}
	chainID, err := rpc.ChainID(dialCtx)
	if err != nil {
		rpc.Close()
		return nil, classify("chain_id", err)
	}

	logger.Info("Ledger client connected", "chain_id", chainID.String(), "deploy_enabled", len(bytecode) > 0)

	return &EthClient{
		rpc:      rpc,
		abi:      parsed,
		bytecode: bytecode,
		chainID:  chainID,
		timeout:  cfg.Timeout,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "ledger",
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 1,
			IsFailure:        countsAgainstBreaker,
		}),
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Close releases the RPC connection
func (c *EthClient) Close() {
	c.rpc.Close()
}

// BreakerStats exposes the RPC circuit breaker state
func (c *EthClient) BreakerStats() map[string]interface{} {
	return c.breaker.Stats()
}

func (c *EthClient) do(ctx context.Context, operation, contract string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := classify(operation, c.breaker.Call(func() error { return fn(ctx) }))

	c.logger.LedgerLogger(operation, contract, time.Since(start), err)
	if c.metrics != nil {
		c.metrics.RecordLedgerCall(err == nil)
	}
	return err
}

// read retries an idempotent contract call on transient RPC failures
func (c *EthClient) read(ctx context.Context, operation, contract string, fn func(context.Context) error) error {
	return resilience.RetryWithPolicy(ctx, resilience.StandardRetryPolicy, func() error {
		return c.do(ctx, operation, contract, fn)
	})
}

// transactor builds signing options with an explicit nonce, gas price and chain id
func (c *EthClient) transactor(ctx context.Context, key *ecdsa.PrivateKey) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
	if err != nil {
		return nil, err
	}
	nonce, err := c.rpc.PendingNonceAt(ctx, opts.From)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}

	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.GasPrice = gasPrice
	opts.Context = ctx
	return opts, nil
}

func (c *EthClient) bound(contract common.Address) *bind.BoundContract {
	return bind.NewBoundContract(contract, c.abi, c.rpc, c.rpc, c.rpc)
}

func (c *EthClient) transact(ctx context.Context, cred types.Credential, contract, method string, args ...interface{}) (string, error) {
	key, _, err := VerifyCredential(cred)
	if err != nil {
		return "", err
	}
	address, err := ParseAddress(contract)
	if err != nil {
		return "", err
	}

	var txHash string
	err = c.do(ctx, method, contract, func(ctx context.Context) error {
		opts, err := c.transactor(ctx, key)
		if err != nil {
			return err
		}
		tx, err := c.bound(address).Transact(opts, method, args...)
		if err != nil {
			return err
		}
		receipt, err := bind.WaitMined(ctx, c.rpc, tx)
		if err != nil {
			return err
		}
		if receipt.Status == ethtypes.ReceiptStatusFailed {
			return fmt.Errorf("%s: execution reverted in tx %s", method, tx.Hash().Hex())
		}
		txHash = tx.Hash().Hex()
		return nil
	})
	return txHash, err
}

// Deploy creates a new round contract and waits until its code is on-chain
func (c *EthClient) Deploy(ctx context.Context, admin types.Credential, repository string, roundID int64) (string, error) {
	key, _, err := VerifyCredential(admin)
	if err != nil {
		return "", err
	}
	if len(c.bytecode) == 0 {
		return "", apperrors.NewConfigurationError("LEDGER_BYTECODE_PATH is required to deploy round contracts", nil)
	}

	var deployed common.Address
	err = c.do(ctx, "deploy", "", func(ctx context.Context) error {
		opts, err := c.transactor(ctx, key)
		if err != nil {
			return err
		}
		_, tx, _, err := bind.DeployContract(opts, c.abi, c.bytecode, c.rpc, repository, big.NewInt(roundID))
		if err != nil {
			return err
		}
		deployed, err = bind.WaitDeployed(ctx, c.rpc, tx)
		return err
	})
	if err != nil {
		return "", err
	}
	return deployed.Hex(), nil
}

// SetRaters registers the addresses allowed to vote
func (c *EthClient) SetRaters(ctx context.Context, admin types.Credential, contract string, raters []string) error {
	addrs, err := toAddresses(raters)
	if err != nil {
		return err
	}
	_, err = c.transact(ctx, admin, contract, "setRaters", addrs)
	return err
}

// SetTargets registers the addresses that can receive votes
func (c *EthClient) SetTargets(ctx context.Context, admin types.Credential, contract string, targets []string) error {
	addrs, err := toAddresses(targets)
	if err != nil {
		return err
	}
	_, err = c.transact(ctx, admin, contract, "setTargets", addrs)
	return err
}

// SetBaseDetails mirrors the base score breakdown on-chain
func (c *EthClient) SetBaseDetails(ctx context.Context, admin types.Credential, contract string, details []BaseDetail) error {
	members := make([]string, len(details))
	base := make([]*big.Int, len(details))
	code := make([]*big.Int, len(details))
	pr := make([]*big.Int, len(details))
	review := make([]*big.Int, len(details))
	issue := make([]*big.Int, len(details))
	for i, d := range details {
		members[i] = d.Address
		base[i] = big.NewInt(int64(d.Base))
		code[i] = big.NewInt(int64(d.Code))
		pr[i] = big.NewInt(int64(d.PR))
		review[i] = big.NewInt(int64(d.Review))
		issue[i] = big.NewInt(int64(d.Issue))
	}

	addrs, err := toAddresses(members)
	if err != nil {
		return err
	}
	_, err = c.transact(ctx, admin, contract, "setBaseDetails", addrs, base, code, pr, review, issue)
	return err
}

// SubmitVotes sends one signed vote batch and returns its transaction hash
func (c *EthClient) SubmitVotes(ctx context.Context, voter types.Credential, contract string, votes []Vote) (string, error) {
	targets := make([]string, len(votes))
	points := make([]*big.Int, len(votes))
	for i, v := range votes {
		targets[i] = v.Target
		points[i] = big.NewInt(int64(v.Points))
	}

	addrs, err := toAddresses(targets)
	if err != nil {
		return "", err
	}
	return c.transact(ctx, voter, contract, "submitVotes", addrs, points)
}

// Finalize settles the round on-chain
func (c *EthClient) Finalize(ctx context.Context, admin types.Credential, contract string) error {
	_, err := c.transact(ctx, admin, contract, "finalize")
	return err
}

// GetProgress reads {total, voted, finalized}
func (c *EthClient) GetProgress(ctx context.Context, contract string) (types.Progress, error) {
	address, err := ParseAddress(contract)
	if err != nil {
		return types.Progress{}, err
	}

	var progress types.Progress
	err = c.read(ctx, "getProgress", contract, func(ctx context.Context) error {
		var out []interface{}
		if err := c.bound(address).Call(&bind.CallOpts{Context: ctx}, &out, "getProgress"); err != nil {
			return err
		}
		if len(out) != 3 {
			return fmt.Errorf("getProgress returned %d values", len(out))
		}
		total, err := intAt(out, 0)
		if err != nil {
			return err
		}
		voted, err := intAt(out, 1)
		if err != nil {
			return err
		}
		finalized, ok := out[2].(bool)
		if !ok {
			return fmt.Errorf("getProgress: unexpected finalized type %T", out[2])
		}
		progress = types.Progress{Total: total, Voted: voted, Finalized: finalized}
		return nil
	})
	return progress, err
}

// GetFinalScores reads the settled score of every address
func (c *EthClient) GetFinalScores(ctx context.Context, contract string, addresses []string) ([]Score, error) {
	address, err := ParseAddress(contract)
	if err != nil {
		return nil, err
	}
	members, err := toAddresses(addresses)
	if err != nil {
		return nil, err
	}

	scores := make([]Score, 0, len(members))
	err = c.read(ctx, "getFinalScore", contract, func(ctx context.Context) error {
		scores = scores[:0]
		bound := c.bound(address)
		for _, member := range members {
			var out []interface{}
			if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "getFinalScore", member); err != nil {
				return err
			}
			values := make([]int, 7)
			for i := range values {
				v, err := intAt(out, i)
				if err != nil {
					return err
				}
				values[i] = v
			}
			scores = append(scores, Score{
				Address:  member.Hex(),
				Final:    values[0],
				PeerNorm: values[1],
				Detail: BaseDetail{
					Address: member.Hex(),
					Base:    values[2],
					Code:    values[3],
					PR:      values[4],
					Review:  values[5],
					Issue:   values[6],
				},
			})
		}
		return nil
	})
	return scores, err
}

func toAddresses(in []string) ([]common.Address, error) {
	out := make([]common.Address, len(in))
	for i, s := range in {
		addr, err := ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out[i] = addr
	}
	return out, nil
}

func intAt(out []interface{}, i int) (int, error) {
	if i >= len(out) {
		return 0, fmt.Errorf("missing return value %d", i)
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("return value %d has type %T", i, out[i])
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("return value %d overflows int64", i)
	}
	return int(v.Int64()), nil
}

var _ Client = (*EthClient)(nil)
