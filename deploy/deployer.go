// Package deploy deploys the flow contract suite onto a dev chain. Every
// immutable singleton goes through a shared deploycache.Cache, so a contract
// is created at most once per Deployer no matter how many callers ask for it.
package deploy

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/parthshah1/flow-harness/client"
	"github.com/parthshah1/flow-harness/config"
	"github.com/parthshah1/flow-harness/deploycache"
	"github.com/parthshah1/flow-harness/records"
)

// Chain submits transactions for a single signer. *client.Client implements it.
type Chain interface {
	Address() common.Address
	ChainID() *big.Int
	Deploy(ctx context.Context, bytecode, constructorArgs []byte) (*client.Deployment, error)
	Transact(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error)
}

// Deployer resolves the contracts of the flow suite.
type Deployer struct {
	chain   Chain
	cfg     *config.Config
	cache   *deploycache.Cache
	records records.Store
	runner  CommandRunner
	logger  log.Logger
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithCache shares an existing cache instead of creating a private one.
func WithCache(c *deploycache.Cache) Option {
	return func(d *Deployer) { d.cache = c }
}

// WithRecords appends every successful deployment to s.
func WithRecords(s records.Store) Option {
	return func(d *Deployer) { d.records = s }
}

// WithRunner replaces the shell used for the expression deployer script.
func WithRunner(r CommandRunner) Option {
	return func(d *Deployer) { d.runner = r }
}

// New creates a Deployer that signs with chain.
func New(chain Chain, cfg *config.Config, opts ...Option) *Deployer {
	d := &Deployer{
		chain:  chain,
		cfg:    cfg,
		runner: ShellRunner{},
		logger: log.New("module", "deploy"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cache == nil {
		d.cache = deploycache.New()
	}
	return d
}

// Cache returns the cache backing the singletons.
func (d *Deployer) Cache() *deploycache.Cache {
	return d.cache
}

// Chain returns the chain the deployer submits transactions to.
func (d *Deployer) Chain() Chain {
	return d.chain
}

// Interpreter deploys the expression interpreter.
func (d *Deployer) Interpreter(ctx context.Context) (common.Address, error) {
	return d.deployPlain(ctx, KindInterpreter)
}

// Store deploys the interpreter store.
func (d *Deployer) Store(ctx context.Context) (common.Address, error) {
	return d.deployPlain(ctx, KindStore)
}

// CloneFactory deploys the clone factory bound to exprDeployer. Its meta
// document is passed through as raw bytes.
func (d *Deployer) CloneFactory(ctx context.Context, exprDeployer common.Address) (common.Address, error) {
	return d.deployWithMeta(ctx, KindCloneFactory, exprDeployer)
}

// Implementation deploys the flow implementation of kind bound to
// exprDeployer.
func (d *Deployer) Implementation(ctx context.Context, kind Kind, exprDeployer common.Address) (common.Address, error) {
	if !kind.IsImplementation() {
		return common.Address{}, fmt.Errorf("%s is not a flow implementation", kind)
	}
	return d.deployWithMeta(ctx, kind, exprDeployer)
}

// AllImplementations deploys every flow implementation concurrently. One
// failure does not cancel the others; each still resolves or fails on its
// own and the first error is returned.
func (d *Deployer) AllImplementations(ctx context.Context, exprDeployer common.Address) (map[Kind]common.Address, error) {
	addrs := make([]common.Address, len(Implementations))
	var g errgroup.Group
	for i, kind := range Implementations {
		g.Go(func() error {
			addr, err := d.Implementation(ctx, kind, exprDeployer)
			if err != nil {
				return err
			}
			addrs[i] = addr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[Kind]common.Address, len(Implementations))
	for i, kind := range Implementations {
		out[kind] = addrs[i]
	}
	return out, nil
}

func (d *Deployer) deployPlain(ctx context.Context, kind Kind) (common.Address, error) {
	art, err := config.LoadArtifact(d.cfg.ArtifactPath(sources[kind].artifact))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to load %s artifact: %w", kind, err)
	}
	return d.singleton(ctx, kind, art.Bytecode, nil)
}

func (d *Deployer) deployWithMeta(ctx context.Context, kind Kind, exprDeployer common.Address) (common.Address, error) {
	src := sources[kind]

	art, err := config.LoadArtifact(d.cfg.ArtifactPath(src.artifact))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to load %s artifact: %w", kind, err)
	}
	meta, err := config.ReadMeta(d.cfg.ArtifactPath(src.meta), src.metaHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to read %s meta: %w", kind, err)
	}
	args, err := EncodeDeployerMeta(exprDeployer, meta)
	if err != nil {
		return common.Address{}, err
	}
	return d.singleton(ctx, kind, art.Bytecode, args)
}

// singleton deploys bytecode||args once per (kind, signer, payload).
func (d *Deployer) singleton(ctx context.Context, kind Kind, bytecode, args []byte) (common.Address, error) {
	key := deploycache.NewKey(string(kind), d.chain.Address(), bytecode, args)
	return d.cache.GetOrDeploy(ctx, key, func(ctx context.Context) (common.Address, error) {
		if d.cfg.DeployTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.cfg.DeployTimeout)
			defer cancel()
		}

		dep, err := d.chain.Deploy(ctx, bytecode, args)
		if err != nil {
			return common.Address{}, fmt.Errorf("failed to deploy %s: %w", kind, err)
		}
		d.record(ctx, records.Record{
			Name:        string(kind),
			Kind:        string(kind),
			Address:     dep.Address,
			TxHash:      dep.TxHash,
			PayloadHash: key.PayloadHash,
			BlockNumber: dep.BlockNumber,
		})
		return dep.Address, nil
	})
}

// record saves rec, filling the signer fields. The contract already exists
// on chain, so a failure here is logged rather than returned.
func (d *Deployer) record(ctx context.Context, rec records.Record) {
	if d.records == nil {
		return
	}
	rec.Deployer = d.chain.Address()
	rec.ChainID = d.chain.ChainID().Uint64()
	rec.DeployedAt = time.Now().UTC()
	if err := d.records.Save(ctx, rec); err != nil {
		d.logger.Warn("Failed to save deployment record", "name", rec.Name, "address", rec.Address, "err", err)
	}
}
