package deploycache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/antithesishq/antithesis-sdk-go/assert"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/singleflight"
)

// DeployFunc performs one deployment attempt and returns the address of the
// deployed contract.
type DeployFunc func(ctx context.Context) (common.Address, error)

// Entry describes a resolved slot.
type Entry struct {
	Key        Key
	Address    common.Address
	ResolvedAt time.Time
	Elapsed    time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics sets the metrics sink (default: no-op).
func WithMetrics(m Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger sets the logger (default: root logger with module=deploycache).
func WithLogger(l log.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// Cache memoizes singleton deployments by Key. The zero value is not usable;
// create one with New and share it by reference.
type Cache struct {
	group singleflight.Group

	mu       sync.RWMutex
	resolved map[Key]Entry
	inflight map[Key]struct{}

	metrics Metrics
	logger  log.Logger
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		resolved: make(map[Key]Entry),
		inflight: make(map[Key]struct{}),
		metrics:  NopMetrics(),
		logger:   log.New("module", "deploycache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the resolved address for key, if any.
func (c *Cache) Lookup(key Key) (common.Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.resolved[key]
	return e.Address, ok
}

// Entries returns all resolved slots ordered by resolution time.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	out := make([]Entry, 0, len(c.resolved))
	for _, e := range c.resolved {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ResolvedAt.Before(out[j].ResolvedAt)
	})
	return out
}

// GetOrDeploy returns the address memoized for key, running deploy if no
// attempt has succeeded yet. Concurrent callers for the same key share one
// attempt. A caller whose ctx is done stops waiting and returns ctx.Err();
// the attempt itself keeps running under the context of the caller that
// started it.
func (c *Cache) GetOrDeploy(ctx context.Context, key Key, deploy DeployFunc) (common.Address, error) {
	for {
		if addr, ok := c.Lookup(key); ok {
			c.metrics.CacheHit(key.Kind)
			return addr, nil
		}
		if err := ctx.Err(); err != nil {
			return common.Address{}, err
		}

		ch := c.group.DoChan(key.String(), func() (any, error) {
			return c.resolve(ctx, key, deploy)
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return common.Address{}, ctx.Err()
		case res = <-ch:
		}

		if res.Shared {
			c.metrics.SharedResult(key.Kind)
		}
		if res.Err == nil {
			return res.Val.(common.Address), nil
		}

		var aborted *abortedError
		if errors.As(res.Err, &aborted) {
			if err := ctx.Err(); err != nil {
				return common.Address{}, err
			}
			c.logger.Debug("Deployment attempt aborted by another caller, retrying", "key", key)
			continue
		}
		return common.Address{}, res.Err
	}
}

// resolve runs inside the single flight for key. It re-checks the resolved
// map under the lock because a previous flight may have finished between
// the caller's lookup and the start of this one.
func (c *Cache) resolve(ctx context.Context, key Key, deploy DeployFunc) (addr common.Address, err error) {
	c.mu.Lock()
	if e, ok := c.resolved[key]; ok {
		c.mu.Unlock()
		return e.Address, nil
	}
	_, busy := c.inflight[key]
	assert.Always(!busy, "deployment slot claimed at most once at a time", map[string]any{
		"kind":     key.Kind,
		"deployer": key.Deployer.Hex(),
		"payload":  key.PayloadHash.Hex(),
	})
	if busy {
		c.mu.Unlock()
		return common.Address{}, &CacheRaceError{Key: key}
	}
	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	start := time.Now()
	c.metrics.DeployStarted(key.Kind)
	c.logger.Debug("Deploying singleton", "kind", key.Kind, "deployer", key.Deployer, "payload", key.PayloadHash)

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Key: key, Value: r}
		}
		if err == nil && addr == (common.Address{}) {
			err = ErrZeroAddress
		}
		if err != nil && ctx.Err() != nil {
			err = &abortedError{cause: err}
		}
		elapsed := time.Since(start)

		c.mu.Lock()
		delete(c.inflight, key)
		if err == nil {
			c.resolved[key] = Entry{Key: key, Address: addr, ResolvedAt: time.Now(), Elapsed: elapsed}
		}
		n := len(c.resolved)
		c.mu.Unlock()

		c.metrics.DeployFinished(key.Kind, elapsed, err)
		c.metrics.ResolvedSlots(n)
		if err != nil {
			c.logger.Warn("Singleton deployment failed", "kind", key.Kind, "elapsed", elapsed, "err", err)
			addr = common.Address{}
			return
		}
		c.logger.Info("Singleton deployed", "kind", key.Kind, "address", addr, "elapsed", elapsed)
	}()

	return deploy(ctx)
}
