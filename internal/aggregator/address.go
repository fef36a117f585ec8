package aggregator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vaultfrost/custody/internal/chainenc"
	"github.com/vaultfrost/custody/internal/errs"
)

// AddressAggregator drives DKG to completion across every configured node
// and hands the resulting group public key to an external chain encoder.
type AddressAggregator struct {
	nodes    []*NodeClient
	registry *chainenc.Registry

	inFlight keyedMutex
}

func NewAddressAggregator(nodes []*NodeClient, registry *chainenc.Registry) *AddressAggregator {
	return &AddressAggregator{nodes: nodes, registry: registry, inFlight: newKeyedMutex()}
}

// GenerateAddress maps chain to curve, returns the existing address if a
// group key is already on file, and otherwise runs DKG round1 -> round2
// -> finalize across every node under a passphrase-scoped lock so
// concurrent callers for the same passphrase collapse onto one run.
func (a *AddressAggregator) GenerateAddress(ctx context.Context, chain chainenc.Chain, passphrase string) (address string, groupPubkey []byte, err error) {
	curve, err := chain.Curve()
	if err != nil {
		return "", nil, errs.Wrap(errs.Input, "resolving chain to curve", err)
	}

	unlock := a.inFlight.lock(curve + "|" + passphrase)
	defer unlock()

	if existing, ok, err := a.nodes[0].Pubkey(ctx, curve, passphrase); err != nil {
		return "", nil, err
	} else if ok {
		addr, err := a.registry.Encode(chain, existing.GroupPublicKey)
		if err != nil {
			return "", nil, err
		}
		return addr, existing.GroupPublicKey, nil
	}

	pub, err := a.runDKG(ctx, curve, passphrase)
	if err != nil {
		return "", nil, err
	}

	addr, err := a.registry.Encode(chain, pub.GroupPublicKey)
	if err != nil {
		return "", nil, err
	}
	return addr, pub.GroupPublicKey, nil
}

// runDKG fans round1, then round2, then finalize out to every node,
// barrier-synchronized between rounds: no node can start round2 until
// every node's round1 package is known, and no node can finalize until
// every node's round2 packages addressed to it
// are known.
func (a *AddressAggregator) runDKG(ctx context.Context, curve, passphrase string) (PubkeyInfo, error) {
	n := len(a.nodes)

	round1All := make([]round1Package, n)
	eg, egCtx := errgroup.WithContext(ctx)
	for i, node := range a.nodes {
		i, node := i, node
		eg.Go(func() error {
			pkg, err := node.DKGRound1(egCtx, curve, passphrase)
			if err != nil {
				return fmt.Errorf("node %d round1: %w", node.Index, err)
			}
			round1All[i] = pkg
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return PubkeyInfo{}, errs.Wrap(errs.Protocol, "dkg round1 barrier failed", err)
	}

	received := make(map[uint32]round1Package, n)
	for _, pkg := range round1All {
		received[pkg.From] = pkg
	}

	round2ByRecipient := make([][]round2Package, n)
	eg, egCtx = errgroup.WithContext(ctx)
	var mu sync.Mutex
	for _, node := range a.nodes {
		node := node
		eg.Go(func() error {
			out, err := node.DKGRound2(egCtx, curve, passphrase, received)
			if err != nil {
				return fmt.Errorf("node %d round2: %w", node.Index, err)
			}
			mu.Lock()
			for _, pkg := range out {
				round2ByRecipient[pkg.To] = append(round2ByRecipient[pkg.To], pkg)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return PubkeyInfo{}, errs.Wrap(errs.Protocol, "dkg round2 barrier failed", err)
	}

	var pub PubkeyInfo
	eg, egCtx = errgroup.WithContext(ctx)
	results := make([]PubkeyInfo, n)
	for i, node := range a.nodes {
		i, node := i, node
		eg.Go(func() error {
			out, err := node.DKGFinalize(egCtx, curve, passphrase, round2ByRecipient[node.Index])
			if err != nil {
				return fmt.Errorf("node %d finalize: %w", node.Index, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return PubkeyInfo{}, errs.Wrap(errs.Protocol, "dkg finalize barrier failed", err)
	}
	pub = results[0]
	return pub, nil
}
