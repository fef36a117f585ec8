// Package health implements the quorum probe: a concurrent GET /health
// fan-out across every configured node, reporting healthy count vs.
// threshold. Barrier collection is built on
// golang.org/x/sync/errgroup, grounded on the teacher's own dependency
// and the errgroup-based concurrent-fan-out style used for the load
// generator in opentitan-provisioning's src/pa/loadtest.go.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vaultfrost/custody/internal/config"
)

// NodeStatus is one node's liveness result.
type NodeStatus struct {
	Index   int
	URL     string
	Healthy bool
	Err     error
}

// nodeStatusWire mirrors NodeStatus for JSON encoding: error is reported
// as a plain string since the concrete error types here carry no fields
// worth exposing over the wire.
type nodeStatusWire struct {
	Index   int    `json:"index"`
	URL     string `json:"url"`
	Healthy bool   `json:"healthy"`
	Err     string `json:"error,omitempty"`
}

func (n NodeStatus) MarshalJSON() ([]byte, error) {
	w := nodeStatusWire{Index: n.Index, URL: n.URL, Healthy: n.Healthy}
	if n.Err != nil {
		w.Err = n.Err.Error()
	}
	return json.Marshal(w)
}

// Report is the concurrent quorum probe's result: total, healthy,
// threshold, and per-node status.
type Report struct {
	Total     int          `json:"total"`
	Healthy   int          `json:"healthy"`
	Threshold int          `json:"threshold"`
	PerNode   []NodeStatus `json:"per_node_status"`
}

// SigningCapable reports healthy >= threshold.
func (r Report) SigningCapable() bool { return r.Healthy >= r.Threshold }

// DKGCapable reports healthy == total: DKG requires the full roster,
// not just a quorum.
func (r Report) DKGCapable() bool { return r.Healthy == r.Total }

// HealthyNodes returns the healthy entries, sorted by node index, for
// callers (the signing aggregator) that need a deterministic ordering to
// pick a quorum.
func (r Report) HealthyNodes() []NodeStatus {
	out := make([]NodeStatus, 0, r.Healthy)
	for _, n := range r.PerNode {
		if n.Healthy {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Prober fans out GET /health to every configured node with a bounded
// timeout.
type Prober struct {
	client  *http.Client
	nodes   []config.SignerNode
	timeout time.Duration
}

func NewProber(nodes []config.SignerNode, threshold int, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		client:  &http.Client{Timeout: timeout},
		nodes:   nodes,
		timeout: timeout,
	}
}

// Probe runs the concurrent liveness check: a client disconnect cancels
// orchestrator waits, so ctx cancellation aborts any outstanding
// requests' accounting, though in-flight HTTP calls to a node run to
// completion at the transport level since the node itself cannot
// distinguish a cancelled caller.
func (p *Prober) Probe(ctx context.Context, threshold int) Report {
	statuses := make([]NodeStatus, len(p.nodes))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, n := range p.nodes {
		i, n := i, n
		eg.Go(func() error {
			statuses[i] = p.probeOne(egCtx, n)
			return nil
		})
	}
	_ = eg.Wait() // probeOne never returns an error; failures are recorded per-node

	healthy := 0
	for _, s := range statuses {
		if s.Healthy {
			healthy++
		}
	}
	return Report{
		Total:     len(p.nodes),
		Healthy:   healthy,
		Threshold: threshold,
		PerNode:   statuses,
	}
}

func (p *Prober) probeOne(ctx context.Context, node config.SignerNode) NodeStatus {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := node.URL + "/health"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return NodeStatus{Index: node.Index, URL: node.URL, Err: fmt.Errorf("health: building request: %w", err)}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return NodeStatus{Index: node.Index, URL: node.URL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return NodeStatus{Index: node.Index, URL: node.URL, Err: fmt.Errorf("health: node returned status %d", resp.StatusCode)}
	}
	return NodeStatus{Index: node.Index, URL: node.URL, Healthy: true}
}
