package aggregator

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vaultfrost/custody/internal/config"
	"github.com/vaultfrost/custody/internal/errs"
	"github.com/vaultfrost/custody/internal/health"
)

// SigningAggregator health-checks nodes, selects the first healthy
// quorum by node index, drives FROST round1/round2 in parallel, and
// aggregates the result.
type SigningAggregator struct {
	nodes     []*NodeClient
	byIndex   map[int]*NodeClient
	threshold int
	prober    *health.Prober
}

func NewSigningAggregator(cfg *config.AggregatorConfig, timeout time.Duration) *SigningAggregator {
	clients := NodesFromConfig(cfg.SignerNodes, timeout)
	byIndex := make(map[int]*NodeClient, len(clients))
	for _, c := range clients {
		byIndex[c.Index] = c
	}
	return &SigningAggregator{
		nodes:     clients,
		byIndex:   byIndex,
		threshold: cfg.Threshold,
		prober:    health.NewProber(cfg.SignerNodes, cfg.Threshold, 5*time.Second),
	}
}

// SignMessage hashes message, selects a healthy quorum, and drives
// signing to a verified signature. On a per-node failure mid-quorum it
// retries once with a single alternate healthy node, then fails
// QuorumUnavailable.
func (s *SigningAggregator) SignMessage(ctx context.Context, curve, passphrase string, message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	messageHash := hash[:]

	report := s.prober.Probe(ctx, s.threshold)
	if !report.SigningCapable() {
		return nil, errs.New(errs.Quorum, fmt.Sprintf("only %d/%d nodes healthy, need %d", report.Healthy, report.Total, s.threshold))
	}

	healthyIdx := healthyIndexes(report)
	if len(healthyIdx) < s.threshold {
		return nil, errs.New(errs.Quorum, "insufficient healthy nodes for threshold")
	}

	quorum := healthyIdx[:s.threshold]
	spare := healthyIdx[s.threshold:]

	sig, err := s.attempt(ctx, curve, passphrase, message, messageHash, quorum)
	if err == nil {
		return sig, nil
	}
	if len(spare) == 0 {
		return nil, errs.Wrap(errs.Quorum, "quorum unavailable", err)
	}

	alt := append(append([]int(nil), quorum[:len(quorum)-1]...), spare[0])
	sort.Ints(alt)
	sig, err2 := s.attempt(ctx, curve, passphrase, message, messageHash, alt)
	if err2 != nil {
		return nil, errs.Wrap(errs.Quorum, "quorum unavailable after alternate retry", err2)
	}
	return sig, nil
}

func (s *SigningAggregator) attempt(ctx context.Context, curve, passphrase string, message, messageHash []byte, quorum []int) ([]byte, error) {
	participants := make([]uint32, len(quorum))
	for i, idx := range quorum {
		participants[i] = uint32(idx)
	}

	type r1 struct {
		commitment Commitment
		handle     []byte
	}
	round1Results := make([]r1, len(quorum))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, idx := range quorum {
		i, idx := i, idx
		eg.Go(func() error {
			c, h, err := s.byIndex[idx].FrostRound1(egCtx, curve, passphrase, messageHash, participants)
			if err != nil {
				return fmt.Errorf("node %d frost round1: %w", idx, err)
			}
			round1Results[i] = r1{commitment: c, handle: h}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	commitments := make([]Commitment, len(round1Results))
	for i, r := range round1Results {
		commitments[i] = r.commitment
	}

	shares := make([]Share, len(quorum))
	eg, egCtx = errgroup.WithContext(ctx)
	for i, idx := range quorum {
		i, idx := i, idx
		eg.Go(func() error {
			share, err := s.byIndex[idx].FrostRound2(egCtx, curve, passphrase, message, messageHash, round1Results[i].handle, commitments)
			if err != nil {
				return fmt.Errorf("node %d frost round2: %w", idx, err)
			}
			shares[i] = share
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sig, err := s.byIndex[quorum[0]].FrostAggregate(ctx, curve, passphrase, message, commitments, shares)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	return sig, nil
}

func healthyIndexes(report health.Report) []int {
	var out []int
	for _, n := range report.HealthyNodes() {
		out = append(out, n.Index)
	}
	sort.Ints(out)
	return out
}
