package records

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parthshah1/flow-harness/config"
)

func testRecord(name string, addr string) Record {
	return Record{
		Name:       name,
		Kind:       name,
		Address:    common.HexToAddress(addr),
		Deployer:   common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		TxHash:     common.HexToHash("0x01"),
		ChainID:    1337,
		DeployedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestFileStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "deployments.json"))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, store.Save(ctx, testRecord("CloneFactory", "0xAAAA")))
	require.NoError(t, store.Save(ctx, testRecord("FlowERC20", "0xBBBB")))

	rec, err := store.Get(ctx, "FlowERC20")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xBBBB"), rec.Address)
	assert.Equal(t, uint64(1337), rec.ChainID)

	_, err = store.Get(ctx, "Missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_SaveReplacesByName(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "deployments.json"))

	require.NoError(t, store.Save(ctx, testRecord("Store", "0x01")))
	require.NoError(t, store.Save(ctx, testRecord("Store", "0x02")))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, common.HexToAddress("0x02"), list[0].Address)
}

func TestFileStore_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "deployments.json"))

	names := []string{"Flow", "FlowERC20", "FlowERC721", "FlowERC1155", "CloneFactory", "Interpreter", "Store"}
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			assert.NoError(t, store.Save(ctx, testRecord(name, "0x0a")))
		}(name)
	}
	wg.Wait()

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, len(names))
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployments.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewFileStore(path).List(context.Background())
	require.Error(t, err)
}

func TestOpen_DefaultsToFileStore(t *testing.T) {
	cfg := config.Load()
	cfg.DatabaseURL = ""
	cfg.Workspace = t.TempDir()

	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	fs, ok := store.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(cfg.Workspace, "deployments.json"), fs.Path())
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("FLOW_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FLOW_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	store, err := NewPostgresStore(ctx, url)
	require.NoError(t, err)
	defer store.Close()

	name := "test-" + time.Now().Format("150405.000000")
	require.NoError(t, store.Save(ctx, testRecord(name, "0x01")))
	require.NoError(t, store.Save(ctx, testRecord(name, "0x02")))

	rec, err := store.Get(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x02"), rec.Address)

	_, err = store.Get(ctx, name+"-missing")
	require.ErrorIs(t, err, ErrNotFound)
}
