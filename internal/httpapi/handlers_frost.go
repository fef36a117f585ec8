package httpapi

import (
	"net/http"

	"github.com/fxamacker/cbor/v2"

	"github.com/vaultfrost/custody/internal/errs"
	"github.com/vaultfrost/custody/internal/rng"
	"github.com/vaultfrost/custody/pkg/ciphersuite"
	"github.com/vaultfrost/custody/pkg/curvetag"
	"github.com/vaultfrost/custody/pkg/party"
)

type frostRound1Request struct {
	Passphrase   string   `json:"passphrase"`
	MessageHash  hexBytes `json:"message_hash"`
	Participants []uint32 `json:"participants"`
}

type frostRound1Response struct {
	Commitment signingCommitmentWire `json:"commitment"`
	Handle     hexBytes              `json:"handle"`
}

func (s *Server) handleFrostRound1(w http.ResponseWriter, r *http.Request) {
	curve, suite, err := s.curveFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req frostRound1Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	key, err := s.loadKeyPackage(r, curve, req.Passphrase)
	if err != nil {
		writeError(w, err)
		return
	}

	participants := make(party.IDSlice, len(req.Participants))
	for i, p := range req.Participants {
		participants[i] = party.ID(p)
	}

	source, err := rng.New(suite.Group(), s.hsmP, curve, req.Passphrase, rng.PurposeNonce, req.MessageHash)
	if err != nil {
		writeError(w, errs.Wrap(errs.Resource, "deriving signing randomness", err))
		return
	}

	result, err := s.signer.Round1(suite, key, participants, s.self, req.Passphrase, req.MessageHash, source.Func())
	if err != nil {
		writeError(w, classifySignerErr(err))
		return
	}
	writeJSON(w, http.StatusOK, frostRound1Response{
		Commitment: toWireCommitment(result.Commitments),
		Handle:     result.Handle,
	})
}

type frostRound2Request struct {
	Passphrase  string                  `json:"passphrase"`
	Message     hexBytes                `json:"message"`
	MessageHash hexBytes                `json:"message_hash"`
	Handle      hexBytes                `json:"handle"`
	Commitments []signingCommitmentWire `json:"commitments"`
}

type frostRound2Response struct {
	Share signatureShareWire `json:"share"`
}

func (s *Server) handleFrostRound2(w http.ResponseWriter, r *http.Request) {
	curve, suite, err := s.curveFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req frostRound2Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	key, err := s.loadKeyPackage(r, curve, req.Passphrase)
	if err != nil {
		writeError(w, err)
		return
	}

	commitments := make([]ciphersuite.SigningCommitment, len(req.Commitments))
	for i, c := range req.Commitments {
		commitments[i] = fromWireCommitment(c)
	}

	share, err := s.signer.Round2(suite, key, req.Passphrase, req.Message, req.MessageHash, s.self, req.Handle, commitments)
	if err != nil {
		writeError(w, classifySignerErr(err))
		return
	}
	writeJSON(w, http.StatusOK, frostRound2Response{Share: toWireShare(share)})
}

type frostAggregateRequest struct {
	Passphrase  string                  `json:"passphrase"`
	Message     hexBytes                `json:"message"`
	Commitments []signingCommitmentWire `json:"commitments"`
	Shares      []signatureShareWire    `json:"shares"`
}

type frostAggregateResponse struct {
	Signature hexBytes `json:"signature"`
}

// handleFrostAggregate performs the pure, secret-free combination step:
// any node holding the cached pubkey package can run it, which is why
// this route sits alongside the node's other FROST routes even though
// aggregation is really the signing aggregator's job — the aggregator
// delegates the actual arithmetic to whichever node it already trusts
// to have the current pubkey package on file.
func (s *Server) handleFrostAggregate(w http.ResponseWriter, r *http.Request) {
	curve, suite, err := s.curveFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req frostAggregateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	raw, err := s.store.GetPubkeyPackage(r.Context(), curve, req.Passphrase)
	if err != nil {
		writeError(w, classifyStoreErr(err))
		return
	}
	var pub ciphersuite.PubkeyPackage
	if err := cbor.Unmarshal(raw, &pub); err != nil {
		writeError(w, errs.Wrap(errs.Resource, "decoding stored pubkey package", err))
		return
	}

	commitments := make([]ciphersuite.SigningCommitment, len(req.Commitments))
	for i, c := range req.Commitments {
		commitments[i] = fromWireCommitment(c)
	}
	shares := make([]ciphersuite.SignatureShare, len(req.Shares))
	for i, sh := range req.Shares {
		shares[i] = fromWireShare(sh)
	}

	sig, err := suite.Aggregate(pub, req.Message, commitments, shares)
	if err != nil {
		writeError(w, errs.Wrap(errs.Protocol, "signature aggregation failed verification", err))
		return
	}
	writeJSON(w, http.StatusOK, frostAggregateResponse{Signature: sig})
}

func (s *Server) loadKeyPackage(r *http.Request, curve curvetag.Tag, passphrase string) (ciphersuite.KeyPackage, error) {
	raw, err := s.store.GetKeyPackage(r.Context(), curve, passphrase)
	if err != nil {
		return ciphersuite.KeyPackage{}, classifyStoreErr(err)
	}
	var key ciphersuite.KeyPackage
	if err := cbor.Unmarshal(raw, &key); err != nil {
		return ciphersuite.KeyPackage{}, errs.Wrap(errs.Resource, "decoding stored key package", err)
	}
	return key, nil
}
