package subgraph

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/parthshah1/flow-harness/deploy"
)

// LogSource is the part of an RPC client the monitor polls.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// CloneMonitor follows NewClone events emitted by clone factories.
type CloneMonitor struct {
	source    LogSource
	factories []common.Address
	state     *IndexingState
	logger    log.Logger
}

// NewCloneMonitor creates a monitor for the given factories.
func NewCloneMonitor(source LogSource, state *IndexingState, factories ...common.Address) *CloneMonitor {
	return &CloneMonitor{
		source:    source,
		factories: factories,
		state:     state,
		logger:    log.New("module", "clonemonitor"),
	}
}

// State returns the state the monitor records into.
func (m *CloneMonitor) State() *IndexingState {
	return m.state
}

// Start polls for new blocks after fromBlock until ctx is done, then emits
// the final assertions.
func (m *CloneMonitor) Start(ctx context.Context, fromBlock uint64, pollInterval time.Duration) error {
	m.logger.Info("Watching clone factories", "from", fromBlock, "factories", m.factories)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Stopping, emitting final assertions", "clones", m.state.CloneCount())
			m.state.EmitFinalAssertions()
			return nil
		case <-ticker.C:
			toBlock, err := m.source.BlockNumber(ctx)
			if err != nil {
				m.logger.Warn("Failed to get block number", "err", err)
				continue
			}
			if toBlock <= fromBlock {
				continue
			}

			if _, err := m.Poll(ctx, fromBlock+1, toBlock); err != nil {
				m.logger.Warn("Failed to filter logs", "from", fromBlock+1, "to", toBlock, "err", err)
				continue
			}
			fromBlock = toBlock
		}
	}
}

// Poll processes NewClone events in [from, to] and returns how many were
// recorded.
func (m *CloneMonitor) Poll(ctx context.Context, from, to uint64) (int, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: m.factories,
		Topics:    [][]common.Hash{{deploy.NewCloneTopic}},
	}

	logs, err := m.source.FilterLogs(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to filter logs: %w", err)
	}

	n := 0
	for i := range logs {
		ev, err := deploy.DecodeNewClone(&logs[i])
		if err != nil {
			m.logger.Debug("Skipping undecodable log", "tx", logs[i].TxHash, "err", err)
			continue
		}
		m.logger.Info("Clone created", "clone", ev.Clone, "implementation", ev.Implementation, "block", ev.BlockNumber)
		m.state.RecordClone(ev)
		n++
	}
	return n, nil
}
