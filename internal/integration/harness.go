// Package integration wires N in-process nodes together without any HTTP
// transport, so the ginkgo suite in this package can drive the six literal
// end-to-end seed scenarios against the real dkg/signer state machines and
// ciphersuites, the same coverage the teacher's own protocols/lss ginkgo
// suite gave its keygen/sign round trip.
package integration

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/vaultfrost/custody/internal/hsm"
	"github.com/vaultfrost/custody/internal/noncehandle"
	"github.com/vaultfrost/custody/internal/rng"
	"github.com/vaultfrost/custody/internal/signer"
	"github.com/vaultfrost/custody/pkg/ciphersuite"
	"github.com/vaultfrost/custody/pkg/ciphersuite/ecdsa"
	"github.com/vaultfrost/custody/pkg/ciphersuite/eddsa"
	"github.com/vaultfrost/custody/pkg/ciphersuite/schnorr"
	"github.com/vaultfrost/custody/pkg/curvetag"
	"github.com/vaultfrost/custody/pkg/party"
)

func suiteFor(tag curvetag.Tag) ciphersuite.Suite {
	switch tag {
	case curvetag.SchnorrSecp256k1:
		return schnorr.Suite{}
	case curvetag.ECDSASecp256k1:
		return ecdsa.Suite{}
	case curvetag.Ed25519:
		return eddsa.Suite{}
	default:
		panic(fmt.Sprintf("integration: unknown curve tag %q", tag))
	}
}

// node is one in-process stand-in for a custody-node process: its own HSM,
// nonce sealer, and the key/pubkey packages it has derived per curve.
type node struct {
	id       party.ID
	provider hsm.Provider
	signer   *signer.Node

	keys    map[curvetag.Tag]ciphersuite.KeyPackage
	pubkeys map[curvetag.Tag]ciphersuite.PubkeyPackage
}

func newNode(id party.ID) *node {
	root := sha256.Sum256([]byte(fmt.Sprintf("integration-test-root-%d", id)))
	provider := hsm.NewSoftwareProvider(fmt.Sprintf("node-%d", id), "test-pin", root[:], 5)
	if err := provider.Unlock("test-pin"); err != nil {
		panic(err)
	}
	sealer, err := noncehandle.NewSealer()
	if err != nil {
		panic(err)
	}
	return &node{
		id:       id,
		provider: provider,
		signer:   signer.NewNode(sealer, noncehandle.DefaultTTL),
		keys:     make(map[curvetag.Tag]ciphersuite.KeyPackage),
		pubkeys:  make(map[curvetag.Tag]ciphersuite.PubkeyPackage),
	}
}

// deployment is a fixed-size in-process stand-in for an N-node, M-threshold
// custody deployment, used to exercise DKG and signing end to end.
type deployment struct {
	nodes     []*node
	threshold int
}

func newDeployment(n, threshold int) *deployment {
	d := &deployment{threshold: threshold}
	for i := 0; i < n; i++ {
		d.nodes = append(d.nodes, newNode(party.ID(i)))
	}
	return d
}

func (d *deployment) byID(id party.ID) *node {
	for _, n := range d.nodes {
		if n.id == id {
			return n
		}
	}
	return nil
}

// roster returns every node's ID in sorted order. A node is taken offline
// by leaving its ID out of the quorum a caller passes to sign.
func (d *deployment) roster() party.IDSlice {
	ids := make(party.IDSlice, len(d.nodes))
	for i, n := range d.nodes {
		ids[i] = n.id
	}
	return ids.Sorted()
}

// runDKG drives the three-round DKG to completion across every node in the
// deployment, storing the resulting key/pubkey packages on each node, and
// returns the shared group public key.
func (d *deployment) runDKG(tag curvetag.Tag, passphrase string) ([]byte, error) {
	suite := suiteFor(tag)
	group := suite.Group()
	n := len(d.nodes)

	secretStates := make(map[party.ID][]byte, n)
	round1 := make(map[party.ID]ciphersuite.DKGRound1Package, n)
	for _, nd := range d.nodes {
		seed, err := rng.New(group, nd.provider, tag, passphrase, rng.PurposeDKG, nil)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", nd.id, err)
		}
		secretState, pkg, err := suite.DKGPart1(nd.id, d.threshold, n, seed.Func())
		if err != nil {
			return nil, fmt.Errorf("node %s round1: %w", nd.id, err)
		}
		secretStates[nd.id] = secretState
		round1[nd.id] = pkg
	}

	round2ByRecipient := make(map[party.ID][]ciphersuite.DKGRound2Package, n)
	for _, nd := range d.nodes {
		withoutSelf := make(map[party.ID]ciphersuite.DKGRound1Package, n-1)
		for id, pkg := range round1 {
			if id != nd.id {
				withoutSelf[id] = pkg
			}
		}
		newState, out, err := suite.DKGPart2(nd.id, secretStates[nd.id], withoutSelf)
		if err != nil {
			return nil, fmt.Errorf("node %s round2: %w", nd.id, err)
		}
		secretStates[nd.id] = newState
		for _, pkg := range out {
			round2ByRecipient[pkg.To] = append(round2ByRecipient[pkg.To], pkg)
		}
	}

	var groupPubkey []byte
	for _, nd := range d.nodes {
		addressed := make(map[party.ID]ciphersuite.DKGRound2Package, n-1)
		for _, pkg := range round2ByRecipient[nd.id] {
			addressed[pkg.From] = pkg
		}
		key, pub, err := suite.DKGPart3(nd.id, secretStates[nd.id], round1, addressed)
		if err != nil {
			return nil, fmt.Errorf("node %s finalize: %w", nd.id, err)
		}
		nd.keys[tag] = key
		nd.pubkeys[tag] = pub
		groupPubkey = pub.GroupPublicKey
	}
	return groupPubkey, nil
}

// sign drives the two-round FROST signing protocol across quorum (a subset
// of d.nodes' IDs) and returns the aggregated, verified signature.
func (d *deployment) sign(tag curvetag.Tag, passphrase string, message []byte, quorum party.IDSlice) ([]byte, error) {
	suite := suiteFor(tag)
	group := suite.Group()
	quorum = quorum.Sorted()

	messageHash := sha256.Sum256(message)

	type round1Result struct {
		id         party.ID
		commitment ciphersuite.SigningCommitment
		handle     []byte
	}

	results := make([]round1Result, 0, len(quorum))
	for _, id := range quorum {
		nd := d.byID(id)
		key, ok := nd.keys[tag]
		if !ok {
			return nil, fmt.Errorf("integration: node %s has no key package for %s", id, tag)
		}
		seed, err := rng.New(group, nd.provider, tag, passphrase, rng.PurposeNonce, messageHash[:])
		if err != nil {
			return nil, err
		}
		r1, err := nd.signer.Round1(suite, key, quorum, id, passphrase, messageHash[:], seed.Func())
		if err != nil {
			return nil, fmt.Errorf("node %s round1: %w", id, err)
		}
		results = append(results, round1Result{id: id, commitment: r1.Commitments, handle: r1.Handle})
	}

	commitments := make([]ciphersuite.SigningCommitment, 0, len(results))
	for _, r := range results {
		commitments = append(commitments, r.commitment)
	}
	sort.Slice(commitments, func(i, j int) bool { return commitments[i].ID < commitments[j].ID })

	shares := make([]ciphersuite.SignatureShare, 0, len(results))
	for _, r := range results {
		nd := d.byID(r.id)
		key := nd.keys[tag]
		share, err := nd.signer.Round2(suite, key, passphrase, message, messageHash[:], r.id, r.handle, commitments)
		if err != nil {
			return nil, fmt.Errorf("node %s round2: %w", r.id, err)
		}
		shares = append(shares, share)
	}

	pub := d.byID(quorum[0]).pubkeys[tag]
	sig, err := suite.Aggregate(pub, message, commitments, shares)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	return sig, nil
}

// signRound1 runs round1 across quorum and returns every member's nonce
// handle and commitment without running round2, so a caller can drive
// round2 more than once against the same handle (nonce replay scenario).
func (d *deployment) signRound1(tag curvetag.Tag, passphrase string, message []byte, quorum party.IDSlice) (handles map[party.ID][]byte, commitments []ciphersuite.SigningCommitment, err error) {
	suite := suiteFor(tag)
	group := suite.Group()
	quorum = quorum.Sorted()
	messageHash := sha256.Sum256(message)

	handles = make(map[party.ID][]byte, len(quorum))
	for _, id := range quorum {
		nd := d.byID(id)
		key, ok := nd.keys[tag]
		if !ok {
			return nil, nil, fmt.Errorf("integration: node %s has no key package for %s", id, tag)
		}
		seed, err := rng.New(group, nd.provider, tag, passphrase, rng.PurposeNonce, messageHash[:])
		if err != nil {
			return nil, nil, err
		}
		r1, err := nd.signer.Round1(suite, key, quorum, id, passphrase, messageHash[:], seed.Func())
		if err != nil {
			return nil, nil, fmt.Errorf("node %s round1: %w", id, err)
		}
		handles[id] = r1.Handle
		commitments = append(commitments, r1.Commitments)
	}
	sort.Slice(commitments, func(i, j int) bool { return commitments[i].ID < commitments[j].ID })
	return handles, commitments, nil
}

// signRound2 presents one node's handle to its own round2. Calling it twice
// with the same handle exercises the single-use check; calling it with a
// different message than the one the handle was sealed for exercises the
// message-binding check.
func (d *deployment) signRound2(tag curvetag.Tag, passphrase string, message []byte, id party.ID, handle []byte, commitments []ciphersuite.SigningCommitment) (ciphersuite.SignatureShare, error) {
	suite := suiteFor(tag)
	nd := d.byID(id)
	key := nd.keys[tag]
	messageHash := sha256.Sum256(message)
	return nd.signer.Round2(suite, key, passphrase, message, messageHash[:], id, handle, commitments)
}
