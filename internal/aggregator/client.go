// Package aggregator implements the two orchestrators: the address
// aggregator drives DKG to
// completion across every node and hands the result to an external chain
// encoder, and the signing aggregator selects a healthy quorum and drives
// FROST signing to a verified signature. Both talk to nodes exclusively
// over the HTTP surface in internal/httpapi — there is no in-process
// shortcut, matching the distilled spec's "nodes are independent
// processes" framing.
package aggregator

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vaultfrost/custody/internal/config"
	"github.com/vaultfrost/custody/internal/errs"
)

// hexBytes mirrors internal/httpapi's wire convention; duplicated here
// rather than imported since the two packages intentionally don't share
// unexported wire types across a process boundary.
type hexBytes []byte

func (h hexBytes) MarshalJSON() ([]byte, error) { return json.Marshal(hex.EncodeToString(h)) }

func (h *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = nil
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

type sealedNonceWire struct {
	To         uint32   `json:"to"`
	Nonce      hexBytes `json:"nonce"`
	Ciphertext hexBytes `json:"ciphertext"`
}

// Commitment is the aggregator's view of a node's round-1 signing
// commitment, mirroring httpapi's signingCommitmentWire.
type Commitment struct {
	ID     uint32            `json:"id"`
	D      hexBytes          `json:"d"`
	E      hexBytes          `json:"e"`
	Sealed []sealedNonceWire `json:"sealed,omitempty"`
}

// Share is one node's signature share.
type Share struct {
	ID    uint32   `json:"id"`
	Share hexBytes `json:"share"`
}

type round1Package struct {
	From          uint32     `json:"from"`
	Commitments   []hexBytes `json:"commitments"`
	PoKCommitment hexBytes   `json:"pok_commitment"`
	PoKResponse   hexBytes   `json:"pok_response"`
}

type round2Package struct {
	From       uint32   `json:"from"`
	To         uint32   `json:"to"`
	Nonce      hexBytes `json:"nonce"`
	Ciphertext hexBytes `json:"ciphertext"`
}

// PubkeyInfo is the aggregator's view of a node's cached public key.
type PubkeyInfo struct {
	Curve              string              `json:"curve"`
	Threshold          int                 `json:"threshold"`
	MaxSigners         int                 `json:"max_signers"`
	GroupPublicKey     hexBytes            `json:"group_public_key"`
	VerificationShares map[string]hexBytes `json:"verification_shares"`
}

// NodeClient is a thin HTTP client for one node's HTTP surface.
type NodeClient struct {
	Index      int
	BaseURL    string
	httpClient *http.Client
}

func NewNodeClient(index int, baseURL string, timeout time.Duration) *NodeClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NodeClient{Index: index, BaseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

func (c *NodeClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errs.Wrap(errs.Input, "encoding request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *NodeClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *NodeClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.Quorum, fmt.Sprintf("node %s unreachable", req.URL.Host), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.Resource, "reading node response", err)
	}
	if resp.StatusCode >= 300 {
		var eb struct {
			ErrorKind string `json:"error_kind"`
			Detail    string `json:"detail"`
		}
		_ = json.Unmarshal(body, &eb)
		return errs.New(errs.Kind(eb.ErrorKind), fmt.Sprintf("node returned %d: %s", resp.StatusCode, eb.Detail))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.Wrap(errs.Resource, "decoding node response", err)
	}
	return nil
}

func (c *NodeClient) Pubkey(ctx context.Context, curve, passphrase string) (PubkeyInfo, bool, error) {
	var out PubkeyInfo
	err := c.get(ctx, fmt.Sprintf("/api/curve/%s/pubkey?passphrase=%s", curve, passphrase), &out)
	if err != nil {
		if errs.KindOf(err) == errs.Input {
			return PubkeyInfo{}, false, nil
		}
		return PubkeyInfo{}, false, err
	}
	return out, true, nil
}

func (c *NodeClient) DKGRound1(ctx context.Context, curve, passphrase string) (round1Package, error) {
	var out struct {
		Package round1Package `json:"package"`
	}
	err := c.post(ctx, fmt.Sprintf("/api/dkg/%s/round1", curve), map[string]string{"passphrase": passphrase}, &out)
	return out.Package, err
}

func (c *NodeClient) DKGRound2(ctx context.Context, curve, passphrase string, received map[uint32]round1Package) ([]round2Package, error) {
	strReceived := make(map[string]round1Package, len(received))
	for id, pkg := range received {
		strReceived[fmt.Sprintf("%d", id)] = pkg
	}
	var out struct {
		Packages []round2Package `json:"packages"`
	}
	err := c.post(ctx, fmt.Sprintf("/api/dkg/%s/round2", curve), map[string]interface{}{
		"passphrase": passphrase,
		"received":   strReceived,
	}, &out)
	return out.Packages, err
}

func (c *NodeClient) DKGFinalize(ctx context.Context, curve, passphrase string, received []round2Package) (PubkeyInfo, error) {
	var out PubkeyInfo
	err := c.post(ctx, fmt.Sprintf("/api/dkg/%s/finalize", curve), map[string]interface{}{
		"passphrase": passphrase,
		"received":   received,
	}, &out)
	return out, err
}

func (c *NodeClient) FrostRound1(ctx context.Context, curve, passphrase string, messageHash []byte, participants []uint32) (Commitment, []byte, error) {
	var out struct {
		Commitment Commitment `json:"commitment"`
		Handle     hexBytes   `json:"handle"`
	}
	err := c.post(ctx, fmt.Sprintf("/api/frost/%s/round1", curve), map[string]interface{}{
		"passphrase":   passphrase,
		"message_hash": hexBytes(messageHash),
		"participants": participants,
	}, &out)
	return out.Commitment, out.Handle, err
}

func (c *NodeClient) FrostRound2(ctx context.Context, curve, passphrase string, message, messageHash, handle []byte, commitments []Commitment) (Share, error) {
	var out struct {
		Share Share `json:"share"`
	}
	err := c.post(ctx, fmt.Sprintf("/api/frost/%s/round2", curve), map[string]interface{}{
		"passphrase":   passphrase,
		"message":      hexBytes(message),
		"message_hash": hexBytes(messageHash),
		"handle":       hexBytes(handle),
		"commitments":  commitments,
	}, &out)
	return out.Share, err
}

func (c *NodeClient) FrostAggregate(ctx context.Context, curve, passphrase string, message []byte, commitments []Commitment, shares []Share) ([]byte, error) {
	var out struct {
		Signature hexBytes `json:"signature"`
	}
	err := c.post(ctx, fmt.Sprintf("/api/frost/%s/aggregate", curve), map[string]interface{}{
		"passphrase":  passphrase,
		"message":     hexBytes(message),
		"commitments": commitments,
		"shares":      shares,
	}, &out)
	return out.Signature, err
}

// NodesFromConfig builds one client per configured signer node.
func NodesFromConfig(nodes []config.SignerNode, timeout time.Duration) []*NodeClient {
	out := make([]*NodeClient, len(nodes))
	for i, n := range nodes {
		out[i] = NewNodeClient(n.Index, n.URL, timeout)
	}
	return out
}
