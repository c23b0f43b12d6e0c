// Package records persists the addresses of deployed contracts so that other
// tools (and later runs) can find them.
package records

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/parthshah1/flow-harness/config"
)

// ErrNotFound is returned by Get when no record has the requested name.
var ErrNotFound = errors.New("deployment record not found")

// Record describes one deployed contract.
type Record struct {
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Address     common.Address `json:"address"`
	Deployer    common.Address `json:"deployer_address"`
	TxHash      common.Hash    `json:"txhash"`
	PayloadHash common.Hash    `json:"payload_hash"`
	ChainID     uint64         `json:"chain_id"`
	BlockNumber uint64         `json:"block_number"`
	DeployedAt  time.Time      `json:"deployed_at"`
}

// Store saves and loads deployment records. Saving a record whose name
// already exists replaces it.
type Store interface {
	Save(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, name string) (*Record, error)
	Close() error
}

// Open returns the store selected by cfg: Postgres when DatabaseURL is set,
// otherwise the JSON file in the workspace.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.DatabaseURL != "" {
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	}
	return NewFileStore(cfg.DeploymentsFile()), nil
}
