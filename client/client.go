package client

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"

	"github.com/parthshah1/flow-harness/config"
)

var (
	// ErrReverted is wrapped by ClientError when a mined transaction has a
	// failed status.
	ErrReverted = errors.New("transaction reverted")
	// ErrNoCode is wrapped by ClientError when a creation transaction was
	// mined but left no code at the contract address.
	ErrNoCode = errors.New("no code at deployed address")
)

// ClientError reports that the chain client failed to submit or confirm a
// transaction.
type ClientError struct {
	Op  string
	Err error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// Backend is the subset of an Ethereum JSON-RPC client used by Client.
// Both *ethclient.Client and the simulated backend's client satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Deployment is the outcome of a confirmed contract creation.
type Deployment struct {
	Address     common.Address
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Client signs and submits transactions from a single account and waits for
// them to be mined.
type Client struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	closer  func()
	logger  log.Logger

	// txMu serializes signing and submission so concurrent deployments from
	// the same account do not reuse a nonce.
	txMu sync.Mutex
}

// Dial connects to the node at cfg.RPC and binds the signer selected by cfg.
func Dial(ctx context.Context, cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	key, err := cfg.SignerKey()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	eth, err := ethclient.DialContext(dialCtx, cfg.RPC)
	if err != nil {
		return nil, &ClientError{Op: "dial", Err: fmt.Errorf("failed to connect to node at %s: %w", cfg.RPC, err)}
	}

	c, err := New(dialCtx, eth, key)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = eth.Close
	return c, nil
}

// New binds key to an existing backend. The chain id is read from the node.
func New(ctx context.Context, backend Backend, key *ecdsa.PrivateKey) (*Client, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, &ClientError{Op: "chain id", Err: err}
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	return &Client{
		backend: backend,
		key:     key,
		from:    from,
		chainID: chainID,
		logger:  log.New("module", "client", "from", from),
	}, nil
}

// Close closes the underlying connection, if the client owns one.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Address returns the signer address.
func (c *Client) Address() common.Address {
	return c.from
}

// ChainID returns the chain id the client signs for.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Backend returns the underlying RPC backend.
func (c *Client) Backend() Backend {
	return c.backend
}

// Balance returns the signer's balance at the latest block.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, c.from, nil)
	if err != nil {
		return nil, &ClientError{Op: "balance", Err: err}
	}
	return balance, nil
}

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// Deploy submits bytecode followed by the ABI-encoded constructor arguments
// as a creation transaction and waits until it is mined with code at the
// new address.
func (c *Client) Deploy(ctx context.Context, bytecode, constructorArgs []byte) (*Deployment, error) {
	if len(bytecode) == 0 {
		return nil, &ClientError{Op: "deploy", Err: fmt.Errorf("empty bytecode")}
	}

	input := make([]byte, 0, len(bytecode)+len(constructorArgs))
	input = append(input, bytecode...)
	input = append(input, constructorArgs...)

	tx, err := c.submitCreation(ctx, input)
	if err != nil {
		return nil, &ClientError{Op: "deploy", Err: err}
	}
	c.logger.Debug("Creation transaction sent", "tx", tx.Hash(), "size", len(input))

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, &ClientError{Op: "deploy", Err: fmt.Errorf("failed waiting for %s: %w", tx.Hash().Hex(), err)}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &ClientError{Op: "deploy", Err: fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())}
	}

	code, err := c.backend.CodeAt(ctx, receipt.ContractAddress, nil)
	if err != nil {
		return nil, &ClientError{Op: "deploy", Err: fmt.Errorf("failed to read code at %s: %w", receipt.ContractAddress.Hex(), err)}
	}
	if len(code) == 0 {
		return nil, &ClientError{Op: "deploy", Err: fmt.Errorf("%w: %s", ErrNoCode, receipt.ContractAddress.Hex())}
	}

	return &Deployment{
		Address:     receipt.ContractAddress,
		TxHash:      tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

func (c *Client) submitCreation(ctx context.Context, input []byte) (*types.Transaction, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	opts, err := c.transactOpts(ctx)
	if err != nil {
		return nil, err
	}
	_, tx, _, err := bind.DeployContract(opts, abi.ABI{}, input, c.backend)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Transact sends calldata to a contract and waits for the receipt. A failed
// status is reported as ErrReverted.
func (c *Client) Transact(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	tx, err := c.submitCall(ctx, to, data)
	if err != nil {
		return nil, &ClientError{Op: "transact", Err: err}
	}
	c.logger.Debug("Transaction sent", "tx", tx.Hash(), "to", to)

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, &ClientError{Op: "transact", Err: fmt.Errorf("failed waiting for %s: %w", tx.Hash().Hex(), err)}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, &ClientError{Op: "transact", Err: fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())}
	}
	return receipt, nil
}

func (c *Client) submitCall(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	opts, err := c.transactOpts(ctx)
	if err != nil {
		return nil, err
	}
	contract := bind.NewBoundContract(to, abi.ABI{}, c.backend, c.backend, c.backend)
	return contract.RawTransact(opts, data)
}
