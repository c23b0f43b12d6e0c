package client

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parthshah1/flow-harness/internal/simchain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	chain := simchain.New(t, 1)
	c, err := New(context.Background(), chain.Client(), chain.Keys[0])
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	c := newTestClient(t)
	assert.Equal(t, int64(simchain.ChainID), c.ChainID().Int64())
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), c.Address())

	balance, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.Positive(t, balance.Sign())
}

func TestDeploy(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	dep, err := c.Deploy(ctx, simchain.ReturnOneByte, nil)
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, dep.Address)
	assert.NotEqual(t, common.Hash{}, dep.TxHash)
	assert.Positive(t, dep.GasUsed)

	code, err := c.Backend().CodeAt(ctx, dep.Address, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, code)
}

func TestDeployAppendsConstructorArgs(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	first, err := c.Deploy(ctx, simchain.ReturnOneByte, []byte{0x01})
	require.NoError(t, err)
	second, err := c.Deploy(ctx, simchain.ReturnOneByte, []byte{0x02})
	require.NoError(t, err)
	assert.NotEqual(t, first.Address, second.Address)
}

func TestDeployErrors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Deploy(ctx, nil, nil)
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, "deploy", clientErr.Op)

	_, err = c.Deploy(ctx, []byte{0x60, 0x00, 0x60, 0x00, 0xfd}, nil)
	require.ErrorAs(t, err, &clientErr)
}

func TestDeployConcurrentNonces(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	const n = 5
	var wg sync.WaitGroup
	addrs := make([]common.Address, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dep, err := c.Deploy(ctx, simchain.ReturnOneByte, []byte{byte(i)})
			errs[i] = err
			if err == nil {
				addrs[i] = dep.Address
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[common.Address]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[addrs[i]], "address reused")
		seen[addrs[i]] = true
	}
}

func TestTransact(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	dep, err := c.Deploy(ctx, simchain.ReturnOneByte, nil)
	require.NoError(t, err)

	receipt, err := c.Transact(ctx, dep.Address, []byte{0xde, 0xad})
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

	reverting, err := c.Deploy(ctx, simchain.AlwaysRevert, nil)
	require.NoError(t, err)

	_, err = c.Transact(ctx, reverting.Address, []byte{0x01})
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, "transact", clientErr.Op)
}
