package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS deployments (
		name          TEXT PRIMARY KEY,
		kind          TEXT NOT NULL,
		address       TEXT NOT NULL,
		deployer      TEXT NOT NULL,
		tx_hash       TEXT NOT NULL,
		payload_hash  TEXT NOT NULL,
		chain_id      BIGINT NOT NULL,
		block_number  BIGINT NOT NULL,
		deployed_at   TIMESTAMPTZ NOT NULL
	)
`

const selectColumns = `
	SELECT name, kind, address, deployer, tx_hash, payload_hash, chain_id, block_number, deployed_at
	FROM deployments
`

// PostgresStore keeps records in a Postgres table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and creates the deployments
// table if it does not exist.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create deployments table: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO deployments (
			name, kind, address, deployer, tx_hash, payload_hash, chain_id, block_number, deployed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE SET
			kind = EXCLUDED.kind,
			address = EXCLUDED.address,
			deployer = EXCLUDED.deployer,
			tx_hash = EXCLUDED.tx_hash,
			payload_hash = EXCLUDED.payload_hash,
			chain_id = EXCLUDED.chain_id,
			block_number = EXCLUDED.block_number,
			deployed_at = EXCLUDED.deployed_at
	`

	_, err := s.pool.Exec(ctx, query,
		rec.Name,
		rec.Kind,
		rec.Address.Hex(),
		rec.Deployer.Hex(),
		rec.TxHash.Hex(),
		rec.PayloadHash.Hex(),
		int64(rec.ChainID),
		int64(rec.BlockNumber),
		rec.DeployedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save deployment %s: %w", rec.Name, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` ORDER BY deployed_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deployments: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, name string) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, selectColumns+` WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec, err
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var address, deployer, txHash, payloadHash string
	var chainID, blockNumber int64
	err := row.Scan(
		&rec.Name,
		&rec.Kind,
		&address,
		&deployer,
		&txHash,
		&payloadHash,
		&chainID,
		&blockNumber,
		&rec.DeployedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan deployment: %w", err)
	}

	rec.Address = common.HexToAddress(address)
	rec.Deployer = common.HexToAddress(deployer)
	rec.TxHash = common.HexToHash(txHash)
	rec.PayloadHash = common.HexToHash(payloadHash)
	rec.ChainID = uint64(chainID)
	rec.BlockNumber = uint64(blockNumber)
	return &rec, nil
}
