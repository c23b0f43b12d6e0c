package subgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/parthshah1/flow-harness/config"
	"github.com/parthshah1/flow-harness/deploy"
)

// IndexingState tracks what the harness saw on chain and on the graph node
// so that a run can end with a set of property assertions.
type IndexingState struct {
	mu sync.RWMutex

	// Clones created by the clone factory
	Clones []CloneRecord

	// Statuses reporting a failed deployment
	Failures []FailureRecord

	// Number of status observations
	StatusChecks int

	StartTime   time.Time
	LastEventAt time.Time
}

// CloneRecord records a NewClone event.
type CloneRecord struct {
	Factory        string `json:"factory"`
	Implementation string `json:"implementation"`
	Clone          string `json:"clone"`
	BlockNumber    uint64 `json:"blockNumber"`
	TxHash         string `json:"txHash"`
}

// FailureRecord records a failed indexing status.
type FailureRecord struct {
	Subgraph string    `json:"subgraph"`
	Message  string    `json:"message"`
	SeenAt   time.Time `json:"seenAt"`
}

// NewIndexingState creates an empty state.
func NewIndexingState() *IndexingState {
	return &IndexingState{
		StartTime: time.Now(),
		Clones:    make([]CloneRecord, 0),
		Failures:  make([]FailureRecord, 0),
	}
}

// RecordClone records a clone created on chain.
func (s *IndexingState) RecordClone(ev *deploy.CloneEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Clones = append(s.Clones, CloneRecord{
		Factory:        ev.Factory.Hex(),
		Implementation: ev.Implementation.Hex(),
		Clone:          ev.Clone.Hex(),
		BlockNumber:    ev.BlockNumber,
		TxHash:         ev.TxHash.Hex(),
	})
	s.LastEventAt = time.Now()
}

// RecordStatus records an indexing status. A failed deployment is a
// property violation.
func (s *IndexingState) RecordStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.StatusChecks++
	if st.Health != "failed" {
		return
	}

	msg := ""
	if st.FatalError != nil {
		msg = st.FatalError.Message
	}
	s.Failures = append(s.Failures, FailureRecord{Subgraph: st.Subgraph, Message: msg, SeenAt: time.Now()})
	s.LastEventAt = time.Now()

	config.AssertUnreachable("subgraph_indexing_failed", map[string]interface{}{
		"subgraph": st.Subgraph,
		"message":  msg,
	})
}

// CloneCount returns the number of clones recorded so far.
func (s *IndexingState) CloneCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Clones)
}

// EmitFinalAssertions emits the end-of-run properties.
func (s *IndexingState) EmitFinalAssertions() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	config.AssertAlways(
		len(s.Failures) == 0,
		"subgraph_healthy",
		map[string]interface{}{
			"message":      fmt.Sprintf("indexing health: %d failures observed", len(s.Failures)),
			"failureCount": len(s.Failures),
			"statusChecks": s.StatusChecks,
			"testDuration": time.Since(s.StartTime).String(),
		},
	)

	config.AssertSometimes(
		len(s.Clones) > 0,
		"flow_clones_created",
		map[string]interface{}{
			"message":      fmt.Sprintf("%d flow clones were created during the run", len(s.Clones)),
			"cloneCount":   len(s.Clones),
			"testDuration": time.Since(s.StartTime).String(),
		},
	)
}

// Summary returns a summary of the state.
func (s *IndexingState) Summary() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"cloneCount":   len(s.Clones),
		"failureCount": len(s.Failures),
		"statusChecks": s.StatusChecks,
		"duration":     time.Since(s.StartTime).String(),
		"lastEventAt":  s.LastEventAt,
	}
}

type stateFile struct {
	StartTime    time.Time       `json:"startTime"`
	LastEventAt  time.Time       `json:"lastEventAt"`
	StatusChecks int             `json:"statusChecks"`
	Clones       []CloneRecord   `json:"clones"`
	Failures     []FailureRecord `json:"failures"`
}

// SaveToFile writes the state as JSON.
func (s *IndexingState) SaveToFile(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.MarshalIndent(stateFile{
		StartTime:    s.StartTime,
		LastEventAt:  s.LastEventAt,
		StatusChecks: s.StatusChecks,
		Clones:       s.Clones,
		Failures:     s.Failures,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadIndexingStateFromFile reads a state written by SaveToFile.
func LoadIndexingStateFromFile(path string) (*IndexingState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	return &IndexingState{
		StartTime:    f.StartTime,
		LastEventAt:  f.LastEventAt,
		StatusChecks: f.StatusChecks,
		Clones:       f.Clones,
		Failures:     f.Failures,
	}, nil
}
