// Package subgraph checks the graph node that indexes the flow contracts:
// index-node status queries over GraphQL, and on-chain clone events the
// subgraph is expected to pick up.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

var (
	// ErrSubgraphNotFound is returned when the index node has no status
	// for the requested subgraph.
	ErrSubgraphNotFound = errors.New("subgraph not found on graph node")
	// ErrSubgraphFailed is returned by WaitSynced when indexing has failed.
	ErrSubgraphFailed = errors.New("subgraph indexing failed")
)

// GraphQLError carries the errors array of a GraphQL response.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

// Block is a block pointer as reported by the index node.
type Block struct {
	Number string `json:"number"`
}

// ChainStatus is the per-chain part of an indexing status.
type ChainStatus struct {
	Network        string `json:"network"`
	LatestBlock    *Block `json:"latestBlock"`
	ChainHeadBlock *Block `json:"chainHeadBlock"`
}

// FatalError is the error that stopped a failed deployment.
type FatalError struct {
	Message string `json:"message"`
}

// Status is the indexing status of one subgraph deployment.
type Status struct {
	Subgraph   string        `json:"subgraph"`
	Synced     bool          `json:"synced"`
	Health     string        `json:"health"`
	FatalError *FatalError   `json:"fatalError"`
	Chains     []ChainStatus `json:"chains"`
}

// Healthy reports whether the deployment is synced with no failure.
func (s Status) Healthy() bool {
	return s.Synced && s.Health == "healthy"
}

const statusFields = `subgraph synced health fatalError { message } chains { network latestBlock { number } chainHeadBlock { number } }`

// Checker queries a graph node's index-node GraphQL endpoint.
type Checker struct {
	url          string
	http         *http.Client
	pollInterval time.Duration
	state        *IndexingState
	logger       log.Logger
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) CheckerOption {
	return func(ch *Checker) { ch.http = c }
}

// WithState records every status the checker observes into s.
func WithState(s *IndexingState) CheckerOption {
	return func(ch *Checker) { ch.state = s }
}

// NewChecker creates a checker for the index-node endpoint at url.
func NewChecker(url string, pollInterval time.Duration, opts ...CheckerOption) *Checker {
	c := &Checker{
		url:          url,
		http:         &http.Client{Timeout: 10 * time.Second},
		pollInterval: pollInterval,
		logger:       log.New("module", "subgraph", "url", url),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Statuses returns the indexing status of every deployment on the node.
func (c *Checker) Statuses(ctx context.Context) ([]Status, error) {
	var out struct {
		IndexingStatuses []Status `json:"indexingStatuses"`
	}
	if err := c.query(ctx, `{ indexingStatuses { `+statusFields+` } }`, nil, &out); err != nil {
		return nil, err
	}
	return out.IndexingStatuses, nil
}

// Status returns the status of one subgraph. name is either a deployment
// id (Qm...) or a subgraph name, resolved to its current version.
func (c *Checker) Status(ctx context.Context, name string) (*Status, error) {
	if strings.HasPrefix(name, "Qm") {
		var out struct {
			IndexingStatuses []Status `json:"indexingStatuses"`
		}
		q := `query($ids: [String!]) { indexingStatuses(subgraphs: $ids) { ` + statusFields + ` } }`
		if err := c.query(ctx, q, map[string]any{"ids": []string{name}}, &out); err != nil {
			return nil, err
		}
		if len(out.IndexingStatuses) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrSubgraphNotFound, name)
		}
		return &out.IndexingStatuses[0], nil
	}

	var out struct {
		Status *Status `json:"indexingStatusForCurrentVersion"`
	}
	q := `query($name: String!) { indexingStatusForCurrentVersion(subgraphName: $name) { ` + statusFields + ` } }`
	if err := c.query(ctx, q, map[string]any{"name": name}, &out); err != nil {
		return nil, err
	}
	if out.Status == nil {
		return nil, fmt.Errorf("%w: %s", ErrSubgraphNotFound, name)
	}
	return out.Status, nil
}

// IsNodeInitialized polls the node until it answers a status query, or ctx
// is done.
func (c *Checker) IsNodeInitialized(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		statuses, err := c.Statuses(ctx)
		if err == nil {
			c.logger.Info("Graph node initialized", "deployments", len(statuses))
			return nil
		}
		c.logger.Debug("Graph node not ready", "err", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("graph node at %s not initialized: %w (last error: %v)", c.url, ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// WaitSynced polls until the named subgraph is synced and healthy. It
// returns ErrSubgraphFailed as soon as the node reports a failed deployment.
func (c *Checker) WaitSynced(ctx context.Context, name string) (*Status, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		st, err := c.Status(ctx, name)
		if err == nil {
			if c.state != nil {
				c.state.RecordStatus(*st)
			}
			if st.Health == "failed" {
				msg := ""
				if st.FatalError != nil {
					msg = st.FatalError.Message
				}
				return st, fmt.Errorf("%w: %s: %s", ErrSubgraphFailed, name, msg)
			}
			if st.Healthy() {
				c.logger.Info("Subgraph synced", "subgraph", st.Subgraph, "name", name)
				return st, nil
			}
			c.logger.Debug("Subgraph still syncing", "name", name, "health", st.Health)
		} else {
			c.logger.Debug("Subgraph status unavailable", "name", name, "err", err)
		}

		select {
		case <-ctx.Done():
			return st, fmt.Errorf("subgraph %s not synced: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Checker) query(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to query graph node: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graph node returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var gr graphqlResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, 0, len(gr.Errors))
		for _, e := range gr.Errors {
			msgs = append(msgs, e.Message)
		}
		return &GraphQLError{Messages: msgs}
	}
	if len(gr.Data) == 0 || string(gr.Data) == "null" {
		return fmt.Errorf("graph node returned no data")
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}
	return nil
}
