package subgraph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parthshah1/flow-harness/deploy"
)

var factory = common.HexToAddress("0xFAC0000000000000000000000000000000000001")

type fakeSource struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func (f *fakeSource) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeSource) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)

	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func cloneLog(block uint64, clone common.Address) types.Log {
	var data []byte
	data = append(data, common.LeftPadBytes(common.HexToAddress("0x5e").Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(common.HexToAddress("0x1e").Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(clone.Bytes(), 32)...)
	return types.Log{
		Address:     factory,
		Topics:      []common.Hash{deploy.NewCloneTopic},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash("0x01"),
	}
}

func TestCloneMonitor_Poll(t *testing.T) {
	src := &fakeSource{logs: []types.Log{
		cloneLog(3, common.HexToAddress("0xc1")),
		{Address: factory, Topics: []common.Hash{deploy.NewCloneTopic}, Data: []byte{0x01}, BlockNumber: 4},
		cloneLog(5, common.HexToAddress("0xc2")),
	}}
	m := NewCloneMonitor(src, NewIndexingState(), factory)

	n, err := m.Poll(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, m.State().CloneCount())
	assert.Equal(t, common.HexToAddress("0xc2").Hex(), m.State().Clones[1].Clone)

	require.Len(t, src.queries, 1)
	assert.Equal(t, []common.Address{factory}, src.queries[0].Addresses)
}

func TestCloneMonitor_Start(t *testing.T) {
	src := &fakeSource{head: 8, logs: []types.Log{
		cloneLog(2, common.HexToAddress("0xc1")),
		cloneLog(8, common.HexToAddress("0xc2")),
	}}
	m := NewCloneMonitor(src, NewIndexingState(), factory)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx, 0, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return m.State().CloneCount() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	summary := m.State().Summary()
	assert.Equal(t, 2, summary["cloneCount"])
}
