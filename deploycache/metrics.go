package deploycache

import "time"

// Metrics receives cache instrumentation. All methods must be safe for
// concurrent use.
type Metrics interface {
	// CacheHit is called when a resolved slot is served without deploying.
	CacheHit(kind string)
	// SharedResult is called for every caller that received the outcome of
	// an attempt other callers were also waiting on.
	SharedResult(kind string)
	// DeployStarted is called when an attempt claims an empty slot.
	DeployStarted(kind string)
	// DeployFinished is called when an attempt resolves or fails.
	DeployFinished(kind string, elapsed time.Duration, err error)
	// ResolvedSlots reports the number of resolved slots.
	ResolvedSlots(n int)
}

type nopMetrics struct{}

func (nopMetrics) CacheHit(string)                             {}
func (nopMetrics) SharedResult(string)                         {}
func (nopMetrics) DeployStarted(string)                        {}
func (nopMetrics) DeployFinished(string, time.Duration, error) {}
func (nopMetrics) ResolvedSlots(int)                           {}

// NopMetrics returns a Metrics implementation that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }
