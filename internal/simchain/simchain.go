// Package simchain runs an in-memory chain for tests, prefunding the dev
// accounts and mining a block after every submitted transaction.
package simchain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"github.com/parthshah1/flow-harness/config"
)

// ChainID is the chain id of the simulated backend.
const ChainID = 1337

// Chain is a simulated backend whose client auto-commits.
type Chain struct {
	Sim  *simulated.Backend
	Keys []*ecdsa.PrivateKey
}

// autoCommit mines a block as soon as a transaction is accepted so that
// WaitMined returns without a separate miner loop.
type autoCommit struct {
	simulated.Client
	sim *simulated.Backend
}

func (a autoCommit) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := a.Client.SendTransaction(ctx, tx); err != nil {
		return err
	}
	a.sim.Commit()
	return nil
}

// New starts a simulated chain with n funded dev accounts and registers its
// shutdown with t.
func New(t testing.TB, n int) *Chain {
	t.Helper()

	alloc := types.GenesisAlloc{}
	keys := make([]*ecdsa.PrivateKey, 0, n)
	funds := new(big.Int).Mul(big.NewInt(1000), big.NewInt(params.Ether))
	for i := 0; i < n; i++ {
		key, err := config.DevAccountKey(i)
		require.NoError(t, err)
		keys = append(keys, key)
		alloc[crypto.PubkeyToAddress(key.PublicKey)] = types.Account{Balance: funds}
	}

	sim := simulated.NewBackend(alloc)
	t.Cleanup(func() { _ = sim.Close() })
	return &Chain{Sim: sim, Keys: keys}
}

// Client returns an auto-committing client for the chain.
func (c *Chain) Client() simulated.Client {
	return autoCommit{Client: c.Sim.Client(), sim: c.Sim}
}

// CreationCode wraps runtime in init code that returns it as the contract's
// code. Bytes appended after it, such as constructor arguments, are ignored.
func CreationCode(runtime []byte) []byte {
	if len(runtime) > 0xff {
		panic("simchain: runtime longer than 255 bytes")
	}
	n := byte(len(runtime))
	// codecopy(0, 12, n) return(0, n)
	code := []byte{
		0x60, n, 0x60, 0x0c, 0x60, 0x00, 0x39,
		0x60, n, 0x60, 0x00, 0xf3,
	}
	return append(code, runtime...)
}

// CloneFactoryRuntime answers every call by emitting a LOG1 with topic and
// data (msg.sender, first call argument, clone), then returning clone. It
// stands in for a clone factory's clone(address,bytes).
func CloneFactoryRuntime(topic common.Hash, clone common.Address) []byte {
	// mstore(0, caller) mstore(32, calldataload(4)) mstore(64, clone)
	code := []byte{0x33, 0x60, 0x00, 0x52, 0x60, 0x04, 0x35, 0x60, 0x20, 0x52, 0x73}
	code = append(code, clone.Bytes()...)
	code = append(code, 0x60, 0x40, 0x52, 0x7f)
	code = append(code, topic.Bytes()...)
	// log1(0, 96, topic) return(64, 32)
	return append(code, 0x60, 0x60, 0x60, 0x00, 0xa1, 0x60, 0x20, 0x60, 0x40, 0xf3)
}

// ReturnOneByte is creation code whose runtime is a single STOP opcode.
var ReturnOneByte = CreationCode([]byte{0x00})

// AlwaysRevert is creation code whose runtime reverts on every call.
var AlwaysRevert = CreationCode([]byte{0x60, 0x00, 0x60, 0x00, 0xfd})
