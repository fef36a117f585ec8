package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultfrost/custody/internal/config"
	idkg "github.com/vaultfrost/custody/internal/dkg"
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

// fakeNode is a minimal, in-process stand-in for a custody-node process,
// exposing the same wire shapes internal/httpapi does (but without
// reimplementing its server) so the signing/address aggregator tests in
// this package can be driven over real net/http.Client calls, the way
// DESIGN.md's grounding ledger describes: "a small in-process fleet of
// httptest.Server-backed fake nodes."
type fakeNode struct {
	id        party.ID
	n         int
	threshold int
	provider  hsm.Provider
	signer    *signer.Node

	mu       sync.Mutex
	sessions map[string]*idkg.Session
	keys     map[string]ciphersuite.KeyPackage
	pubkeys  map[string]ciphersuite.PubkeyPackage

	down       bool
	failRound2 bool

	http *httptest.Server
}

func suiteForTag(tag curvetag.Tag) ciphersuite.Suite {
	switch tag {
	case curvetag.SchnorrSecp256k1:
		return schnorr.Suite{}
	case curvetag.ECDSASecp256k1:
		return ecdsa.Suite{}
	case curvetag.Ed25519:
		return eddsa.Suite{}
	default:
		panic(fmt.Sprintf("fakenode: unknown curve %q", tag))
	}
}

func newFakeNode(t *testing.T, index, n, threshold int) *fakeNode {
	t.Helper()
	provider := hsm.NewSoftwareProvider(fmt.Sprintf("node-%d", index), "pin", []byte(fmt.Sprintf("fakenode-root-%d", index)), 5)
	require.NoError(t, provider.Unlock("pin"))
	sealer, err := noncehandle.NewSealer()
	require.NoError(t, err)

	fn := &fakeNode{
		id:        party.ID(index),
		n:         n,
		threshold: threshold,
		provider:  provider,
		signer:    signer.NewNode(sealer, noncehandle.DefaultTTL),
		sessions:  make(map[string]*idkg.Session),
		keys:      make(map[string]ciphersuite.KeyPackage),
		pubkeys:   make(map[string]ciphersuite.PubkeyPackage),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", fn.handleHealth)
	mux.HandleFunc("GET /api/curve/{curve}/pubkey", fn.handlePubkey)
	mux.HandleFunc("POST /api/dkg/{curve}/round1", fn.handleDKGRound1)
	mux.HandleFunc("POST /api/dkg/{curve}/round2", fn.handleDKGRound2)
	mux.HandleFunc("POST /api/dkg/{curve}/finalize", fn.handleDKGFinalize)
	mux.HandleFunc("POST /api/frost/{curve}/round1", fn.handleFrostRound1)
	mux.HandleFunc("POST /api/frost/{curve}/round2", fn.handleFrostRound2)
	mux.HandleFunc("POST /api/frost/{curve}/aggregate", fn.handleFrostAggregate)

	fn.http = httptest.NewServer(mux)
	t.Cleanup(fn.http.Close)
	return fn
}

func (fn *fakeNode) key(curve curvetag.Tag, passphrase string) string {
	return string(curve) + "|" + passphrase
}

func (fn *fakeNode) session(curve curvetag.Tag, passphrase string, suite ciphersuite.Suite) *idkg.Session {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	k := fn.key(curve, passphrase)
	s, ok := fn.sessions[k]
	if !ok {
		s = idkg.NewSession(suite, fn.id, fn.n, fn.threshold)
		fn.sessions[k] = s
	}
	return s
}

func writeFakeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFakeErr(w http.ResponseWriter, status int, kind, detail string) {
	writeFakeJSON(w, status, map[string]string{"error_kind": kind, "detail": detail})
}

func (fn *fakeNode) handleHealth(w http.ResponseWriter, r *http.Request) {
	if fn.down {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (fn *fakeNode) curveFromPath(r *http.Request) (curvetag.Tag, ciphersuite.Suite, bool) {
	tag, err := curvetag.Parse(r.PathValue("curve"))
	if err != nil {
		return "", nil, false
	}
	return tag, suiteForTag(tag), true
}

func toDomainRound1(w round1Package) ciphersuite.DKGRound1Package {
	commitments := make([][]byte, len(w.Commitments))
	for i, c := range w.Commitments {
		commitments[i] = c
	}
	return ciphersuite.DKGRound1Package{
		From:          party.ID(w.From),
		Commitments:   commitments,
		PoKCommitment: w.PoKCommitment,
		PoKResponse:   w.PoKResponse,
	}
}

func fromDomainRound1(p ciphersuite.DKGRound1Package) round1Package {
	commitments := make([]hexBytes, len(p.Commitments))
	for i, c := range p.Commitments {
		commitments[i] = c
	}
	return round1Package{
		From:          uint32(p.From),
		Commitments:   commitments,
		PoKCommitment: p.PoKCommitment,
		PoKResponse:   p.PoKResponse,
	}
}

func toDomainRound2(w round2Package) ciphersuite.DKGRound2Package {
	return ciphersuite.DKGRound2Package{From: party.ID(w.From), To: party.ID(w.To), Nonce: w.Nonce, Ciphertext: w.Ciphertext}
}

func fromDomainRound2(p ciphersuite.DKGRound2Package) round2Package {
	return round2Package{From: uint32(p.From), To: uint32(p.To), Nonce: p.Nonce, Ciphertext: p.Ciphertext}
}

func toDomainCommitment(w Commitment) ciphersuite.SigningCommitment {
	var sealed []ciphersuite.SealedNonceEnvelope
	for _, s := range w.Sealed {
		sealed = append(sealed, ciphersuite.SealedNonceEnvelope{To: party.ID(s.To), Nonce: s.Nonce, Ciphertext: s.Ciphertext})
	}
	return ciphersuite.SigningCommitment{ID: party.ID(w.ID), D: w.D, E: w.E, Sealed: sealed}
}

func fromDomainCommitment(c ciphersuite.SigningCommitment) Commitment {
	var sealed []sealedNonceWire
	for _, s := range c.Sealed {
		sealed = append(sealed, sealedNonceWire{To: uint32(s.To), Nonce: s.Nonce, Ciphertext: s.Ciphertext})
	}
	return Commitment{ID: uint32(c.ID), D: c.D, E: c.E, Sealed: sealed}
}

func (fn *fakeNode) handleDKGRound1(w http.ResponseWriter, r *http.Request) {
	curve, suite, ok := fn.curveFromPath(r)
	if !ok {
		writeFakeErr(w, http.StatusBadRequest, "input", "unknown curve")
		return
	}
	var req struct {
		Passphrase string `json:"passphrase"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	source, err := rng.New(suite.Group(), fn.provider, curve, req.Passphrase, rng.PurposeDKG, nil)
	if err != nil {
		writeFakeErr(w, http.StatusInternalServerError, "resource", err.Error())
		return
	}
	sess := fn.session(curve, req.Passphrase, suite)
	pkg, err := sess.Round1(source.Func())
	if err != nil {
		writeFakeErr(w, http.StatusConflict, "protocol", err.Error())
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]interface{}{"package": fromDomainRound1(pkg)})
}

func (fn *fakeNode) handleDKGRound2(w http.ResponseWriter, r *http.Request) {
	curve, suite, ok := fn.curveFromPath(r)
	if !ok {
		writeFakeErr(w, http.StatusBadRequest, "input", "unknown curve")
		return
	}
	var req struct {
		Passphrase string                    `json:"passphrase"`
		Received   map[string]round1Package  `json:"received"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	received := make(map[party.ID]ciphersuite.DKGRound1Package, len(req.Received))
	for idStr, pkg := range req.Received {
		var id uint32
		fmt.Sscanf(idStr, "%d", &id)
		received[party.ID(id)] = toDomainRound1(pkg)
	}

	sess := fn.session(curve, req.Passphrase, suite)
	out, err := sess.Round2(received)
	if err != nil {
		writeFakeErr(w, http.StatusConflict, "protocol", err.Error())
		return
	}
	wirePkgs := make([]round2Package, len(out))
	for i, p := range out {
		wirePkgs[i] = fromDomainRound2(p)
	}
	writeFakeJSON(w, http.StatusOK, map[string]interface{}{"packages": wirePkgs})
}

func (fn *fakeNode) handleDKGFinalize(w http.ResponseWriter, r *http.Request) {
	curve, suite, ok := fn.curveFromPath(r)
	if !ok {
		writeFakeErr(w, http.StatusBadRequest, "input", "unknown curve")
		return
	}
	var req struct {
		Passphrase string          `json:"passphrase"`
		Received   []round2Package `json:"received"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	received := make(map[party.ID]ciphersuite.DKGRound2Package, len(req.Received))
	for _, w2 := range req.Received {
		pkg := toDomainRound2(w2)
		received[pkg.From] = pkg
	}

	sess := fn.session(curve, req.Passphrase, suite)
	key, pub, err := sess.Finalize(received)
	if err != nil {
		writeFakeErr(w, http.StatusConflict, "protocol", err.Error())
		return
	}

	fn.mu.Lock()
	k := fn.key(curve, req.Passphrase)
	fn.keys[k] = key
	fn.pubkeys[k] = pub
	delete(fn.sessions, k)
	fn.mu.Unlock()

	shares := make(map[string]hexBytes, len(pub.VerificationShares))
	for id, b := range pub.VerificationShares {
		shares[fmt.Sprintf("%d", id)] = b
	}
	writeFakeJSON(w, http.StatusOK, PubkeyInfo{
		Curve:              string(pub.Curve),
		Threshold:          pub.Threshold,
		MaxSigners:         pub.MaxSigners,
		GroupPublicKey:     pub.GroupPublicKey,
		VerificationShares: shares,
	})
}

func (fn *fakeNode) handlePubkey(w http.ResponseWriter, r *http.Request) {
	curve, _, ok := fn.curveFromPath(r)
	if !ok {
		writeFakeErr(w, http.StatusBadRequest, "input", "unknown curve")
		return
	}
	passphrase := r.URL.Query().Get("passphrase")

	fn.mu.Lock()
	pub, found := fn.pubkeys[fn.key(curve, passphrase)]
	fn.mu.Unlock()
	if !found {
		writeFakeErr(w, http.StatusBadRequest, "input", "no key package for this passphrase/curve")
		return
	}
	shares := make(map[string]hexBytes, len(pub.VerificationShares))
	for id, b := range pub.VerificationShares {
		shares[fmt.Sprintf("%d", id)] = b
	}
	writeFakeJSON(w, http.StatusOK, PubkeyInfo{
		Curve:              string(pub.Curve),
		Threshold:          pub.Threshold,
		MaxSigners:         pub.MaxSigners,
		GroupPublicKey:     pub.GroupPublicKey,
		VerificationShares: shares,
	})
}

func (fn *fakeNode) handleFrostRound1(w http.ResponseWriter, r *http.Request) {
	curve, suite, ok := fn.curveFromPath(r)
	if !ok {
		writeFakeErr(w, http.StatusBadRequest, "input", "unknown curve")
		return
	}
	var req struct {
		Passphrase   string   `json:"passphrase"`
		MessageHash  hexBytes `json:"message_hash"`
		Participants []uint32 `json:"participants"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	fn.mu.Lock()
	key, found := fn.keys[fn.key(curve, req.Passphrase)]
	fn.mu.Unlock()
	if !found {
		writeFakeErr(w, http.StatusBadRequest, "input", "no key package for this passphrase/curve")
		return
	}

	participants := make(party.IDSlice, len(req.Participants))
	for i, p := range req.Participants {
		participants[i] = party.ID(p)
	}

	source, err := rng.New(suite.Group(), fn.provider, curve, req.Passphrase, rng.PurposeNonce, req.MessageHash)
	if err != nil {
		writeFakeErr(w, http.StatusInternalServerError, "resource", err.Error())
		return
	}

	result, err := fn.signer.Round1(suite, key, participants, fn.id, req.Passphrase, req.MessageHash, source.Func())
	if err != nil {
		writeFakeErr(w, http.StatusConflict, "protocol", err.Error())
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]interface{}{
		"commitment": fromDomainCommitment(result.Commitments),
		"handle":     hexBytes(result.Handle),
	})
}

func (fn *fakeNode) handleFrostRound2(w http.ResponseWriter, r *http.Request) {
	curve, suite, ok := fn.curveFromPath(r)
	if !ok {
		writeFakeErr(w, http.StatusBadRequest, "input", "unknown curve")
		return
	}
	var req struct {
		Passphrase  string       `json:"passphrase"`
		Message     hexBytes     `json:"message"`
		MessageHash hexBytes     `json:"message_hash"`
		Handle      hexBytes     `json:"handle"`
		Commitments []Commitment `json:"commitments"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if fn.failRound2 {
		writeFakeErr(w, http.StatusInternalServerError, "resource", "simulated round2 failure")
		return
	}

	fn.mu.Lock()
	key, found := fn.keys[fn.key(curve, req.Passphrase)]
	fn.mu.Unlock()
	if !found {
		writeFakeErr(w, http.StatusBadRequest, "input", "no key package for this passphrase/curve")
		return
	}

	commitments := make([]ciphersuite.SigningCommitment, len(req.Commitments))
	for i, c := range req.Commitments {
		commitments[i] = toDomainCommitment(c)
	}

	share, err := fn.signer.Round2(suite, key, req.Passphrase, req.Message, req.MessageHash, fn.id, req.Handle, commitments)
	if err != nil {
		writeFakeErr(w, http.StatusConflict, "protocol", err.Error())
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]interface{}{
		"share": Share{ID: uint32(share.ID), Share: share.Share},
	})
}

func (fn *fakeNode) handleFrostAggregate(w http.ResponseWriter, r *http.Request) {
	curve, suite, ok := fn.curveFromPath(r)
	if !ok {
		writeFakeErr(w, http.StatusBadRequest, "input", "unknown curve")
		return
	}
	var req struct {
		Passphrase  string       `json:"passphrase"`
		Message     hexBytes     `json:"message"`
		Commitments []Commitment `json:"commitments"`
		Shares      []Share      `json:"shares"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	fn.mu.Lock()
	pub, found := fn.pubkeys[fn.key(curve, req.Passphrase)]
	fn.mu.Unlock()
	if !found {
		writeFakeErr(w, http.StatusBadRequest, "input", "no pubkey package for this passphrase/curve")
		return
	}

	commitments := make([]ciphersuite.SigningCommitment, len(req.Commitments))
	for i, c := range req.Commitments {
		commitments[i] = toDomainCommitment(c)
	}
	shares := make([]ciphersuite.SignatureShare, len(req.Shares))
	for i, s := range req.Shares {
		shares[i] = ciphersuite.SignatureShare{ID: party.ID(s.ID), Share: s.Share}
	}

	sig, err := suite.Aggregate(pub, req.Message, commitments, shares)
	if err != nil {
		writeFakeErr(w, http.StatusConflict, "protocol", err.Error())
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]interface{}{"signature": hexBytes(sig)})
}

// fakeFleet is a small, httptest-backed stand-in for an N-node deployment
// used by the signing and address aggregator suites: real DKG/FROST crypto
// behind the same wire contract internal/aggregator.NodeClient speaks.
type fakeFleet struct {
	nodes     []*fakeNode
	clients   []*NodeClient
	threshold int
}

func newFakeFleet(t *testing.T, n, threshold int) *fakeFleet {
	t.Helper()
	f := &fakeFleet{threshold: threshold}
	for i := 0; i < n; i++ {
		node := newFakeNode(t, i, n, threshold)
		f.nodes = append(f.nodes, node)
		f.clients = append(f.clients, NewNodeClient(i, node.http.URL, 0))
	}
	return f
}

func (f *fakeFleet) aggregatorConfig() *config.AggregatorConfig {
	nodes := make([]config.SignerNode, len(f.nodes))
	for i, node := range f.nodes {
		nodes[i] = config.SignerNode{Index: i, URL: node.http.URL}
	}
	return &config.AggregatorConfig{SignerNodes: nodes, Threshold: f.threshold}
}

// runDKG drives round1/round2/finalize across the whole fleet directly
// (bypassing AddressAggregator) so signing tests can set up keys without
// depending on the address aggregator's own behavior under test elsewhere.
func (f *fakeFleet) runDKG(t *testing.T, curve curvetag.Tag, passphrase string) {
	t.Helper()
	ctx := context.Background()
	n := len(f.clients)

	round1 := make(map[uint32]round1Package, n)
	for _, c := range f.clients {
		pkg, err := c.DKGRound1(ctx, string(curve), passphrase)
		require.NoError(t, err)
		round1[pkg.From] = pkg
	}

	round2ByRecipient := make(map[int][]round2Package, n)
	for _, c := range f.clients {
		out, err := c.DKGRound2(ctx, string(curve), passphrase, round1)
		require.NoError(t, err)
		for _, pkg := range out {
			round2ByRecipient[int(pkg.To)] = append(round2ByRecipient[int(pkg.To)], pkg)
		}
	}

	for _, c := range f.clients {
		_, err := c.DKGFinalize(ctx, string(curve), passphrase, round2ByRecipient[c.Index])
		require.NoError(t, err)
	}
}
