package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vaultfrost/custody/internal/hsm"
	"github.com/vaultfrost/custody/internal/noncehandle"
	"github.com/vaultfrost/custody/internal/signer"
	"github.com/vaultfrost/custody/internal/store"
	"github.com/vaultfrost/custody/pkg/party"
)

// testNode stands up one node's real Server behind an httptest.Server, the
// same way internal/aggregator talks to a node in production, so this suite
// exercises the full JSON-over-HTTP path rather than calling handlers
// directly.
type testNode struct {
	index int
	hsmP  hsm.Provider
	http  *httptest.Server
}

func newTestNode(t *testing.T, index, n, threshold int) *testNode {
	t.Helper()

	provider := hsm.NewSoftwareProvider(fmt.Sprintf("node-%d", index), "pin", []byte(fmt.Sprintf("root-secret-%d", index)), 5)

	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	st := store.New(backend, provider)

	sealer, err := noncehandle.NewSealer()
	require.NoError(t, err)
	signerNode := signer.NewNode(sealer, noncehandle.DefaultTTL)

	srv := NewServer(zap.NewNop(), party.ID(index), n, threshold, provider, st, signerNode, "127.0.0.1:0")
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	return &testNode{index: index, hsmP: provider, http: ts}
}

func (n *testNode) postJSON(t *testing.T, path string, body, out interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(n.http.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (n *testNode) getJSON(t *testing.T, path string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(n.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestServer_HSMLockedRejectsCryptoEndpoints(t *testing.T) {
	node := newTestNode(t, 0, 2, 2)
	// Deliberately left locked: Unlock was never called.

	var out errorBody
	resp := node.postJSON(t, "/api/dkg/schnorr-secp256k1/round1", dkgRound1Request{Passphrase: "p"}, &out)
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	require.NotEmpty(t, out.ErrorKind)

	var status map[string]any
	node.getJSON(t, "/api/hsm/status", &status)
	require.Equal(t, false, status["unlocked"])
}

func TestServer_HSMUnlockThenStatus(t *testing.T) {
	node := newTestNode(t, 0, 2, 2)

	var unlockOut map[string]any
	resp := node.postJSON(t, "/api/hsm/unlock", hsmUnlockRequest{Pin: "pin"}, &unlockOut)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, unlockOut["unlocked"])

	var status map[string]any
	node.getJSON(t, "/api/hsm/status", &status)
	require.Equal(t, true, status["unlocked"])

	var lockOut map[string]any
	node.postJSON(t, "/api/hsm/lock", map[string]any{}, &lockOut)
	require.Equal(t, false, lockOut["unlocked"])
}

func TestServer_UnknownCurveIsBadRequest(t *testing.T) {
	node := newTestNode(t, 0, 2, 2)
	var out errorBody
	resp := node.postJSON(t, "/api/dkg/not-a-curve/round1", dkgRound1Request{Passphrase: "p"}, &out)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "input", out.ErrorKind)
}

func TestServer_DKGAndFROSTRoundTrip(t *testing.T) {
	const n = 2
	const threshold = 2
	const curve = "schnorr-secp256k1"

	nodes := []*testNode{newTestNode(t, 0, n, threshold), newTestNode(t, 1, n, threshold)}
	for _, nd := range nodes {
		var out map[string]any
		resp := nd.postJSON(t, "/api/hsm/unlock", hsmUnlockRequest{Pin: "pin"}, &out)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	passphrase := "550e8400-e29b-41d4-a716-446655440000"

	// Round 1: every node emits its broadcast package.
	round1 := make(map[int]dkgRound1Wire, n)
	for _, nd := range nodes {
		var out dkgRound1Response
		resp := nd.postJSON(t, "/api/dkg/"+curve+"/round1", dkgRound1Request{Passphrase: passphrase}, &out)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		round1[nd.index] = out.Package
	}

	received := make(map[string]dkgRound1Wire, n)
	for idx, pkg := range round1 {
		received[fmt.Sprintf("%d", idx)] = pkg
	}

	// Round 2: every node produces its personalized packages addressed to
	// every peer, keyed by recipient.
	round2ByRecipient := make(map[int][]dkgRound2Wire, n)
	for _, nd := range nodes {
		var out dkgRound2Response
		resp := nd.postJSON(t, "/api/dkg/"+curve+"/round2", dkgRound2Request{Passphrase: passphrase, Received: received}, &out)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		for _, pkg := range out.Packages {
			round2ByRecipient[int(pkg.To)] = append(round2ByRecipient[int(pkg.To)], pkg)
		}
	}

	// Finalize: every node consumes the packages addressed to it.
	var groupPubkey string
	for _, nd := range nodes {
		var out pubkeyWire
		resp := nd.postJSON(t, "/api/dkg/"+curve+"/finalize", dkgFinalizeRequest{
			Passphrase: passphrase,
			Received:   round2ByRecipient[nd.index],
		}, &out)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NotEmpty(t, out.GroupPublicKey)
		if groupPubkey == "" {
			groupPubkey = fmt.Sprintf("%x", []byte(out.GroupPublicKey))
		} else {
			require.Equal(t, groupPubkey, fmt.Sprintf("%x", []byte(out.GroupPublicKey)), "all nodes must derive the same group public key")
		}
	}

	// The pubkey package stored at finalize and served by GET
	// /api/curve/{curve}/pubkey carries the same group public key that
	// finalize returned (byte-identical output from a re-run DKG is
	// exercised end to end in internal/integration, not here).
	var pubOut pubkeyWire
	resp := nodes[0].getJSON(t, "/api/curve/"+curve+"/pubkey?passphrase="+passphrase, &pubOut)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, groupPubkey, fmt.Sprintf("%x", []byte(pubOut.GroupPublicKey)))

	// FROST signing: round1 on every node, round2 on every node, aggregate
	// on any one node that has the cached pubkey package.
	message := []byte("hello")
	hash := sha256.Sum256(message)

	participants := make([]uint32, n)
	for i := range participants {
		participants[i] = uint32(i)
	}

	type commitAndHandle struct {
		commitment signingCommitmentWire
		handle     []byte
	}
	round1Results := make(map[int]commitAndHandle, n)
	for _, nd := range nodes {
		var out frostRound1Response
		resp := nd.postJSON(t, "/api/frost/"+curve+"/round1", frostRound1Request{
			Passphrase:   passphrase,
			MessageHash:  hash[:],
			Participants: participants,
		}, &out)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		round1Results[nd.index] = commitAndHandle{commitment: out.Commitment, handle: out.Handle}
	}

	commitments := make([]signingCommitmentWire, 0, n)
	for i := 0; i < n; i++ {
		commitments = append(commitments, round1Results[i].commitment)
	}

	shares := make([]signatureShareWire, 0, n)
	for _, nd := range nodes {
		var out frostRound2Response
		resp := nd.postJSON(t, "/api/frost/"+curve+"/round2", frostRound2Request{
			Passphrase:  passphrase,
			Message:     message,
			MessageHash: hash[:],
			Handle:      round1Results[nd.index].handle,
			Commitments: commitments,
		}, &out)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		shares = append(shares, out.Share)
	}

	var aggOut frostAggregateResponse
	resp = nodes[0].postJSON(t, "/api/frost/"+curve+"/aggregate", frostAggregateRequest{
		Passphrase:  passphrase,
		Message:     message,
		Commitments: commitments,
		Shares:      shares,
	}, &aggOut)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, []byte(aggOut.Signature), 64, "BIP-340 Schnorr signatures are 64 bytes")

	// Replaying a consumed nonce handle for the same (passphrase, message)
	// must be rejected (nonce single-use).
	var replayOut errorBody
	resp = nodes[0].postJSON(t, "/api/frost/"+curve+"/round2", frostRound2Request{
		Passphrase:  passphrase,
		Message:     message,
		MessageHash: hash[:],
		Handle:      round1Results[0].handle,
		Commitments: commitments,
	}, &replayOut)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "protocol", replayOut.ErrorKind)
}
