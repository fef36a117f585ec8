package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/vaultfrost/custody/pkg/ciphersuite"
	"github.com/vaultfrost/custody/pkg/party"
)

// hexBytes marshals a byte slice as a hex string, matching the "JSON
// bodies, hex for binary" wire convention.
type hexBytes []byte

func (h hexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

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
		return fmt.Errorf("httpapi: decoding hex field: %w", err)
	}
	*h = b
	return nil
}

type dkgRound1Wire struct {
	From          uint32     `json:"from"`
	Commitments   []hexBytes `json:"commitments"`
	PoKCommitment hexBytes   `json:"pok_commitment"`
	PoKResponse   hexBytes   `json:"pok_response"`
}

func toWireRound1(p ciphersuite.DKGRound1Package) dkgRound1Wire {
	commitments := make([]hexBytes, len(p.Commitments))
	for i, c := range p.Commitments {
		commitments[i] = c
	}
	return dkgRound1Wire{
		From:          uint32(p.From),
		Commitments:   commitments,
		PoKCommitment: p.PoKCommitment,
		PoKResponse:   p.PoKResponse,
	}
}

func fromWireRound1(w dkgRound1Wire) ciphersuite.DKGRound1Package {
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

type dkgRound2Wire struct {
	From       uint32   `json:"from"`
	To         uint32   `json:"to"`
	Nonce      hexBytes `json:"nonce"`
	Ciphertext hexBytes `json:"ciphertext"`
}

func toWireRound2(p ciphersuite.DKGRound2Package) dkgRound2Wire {
	return dkgRound2Wire{From: uint32(p.From), To: uint32(p.To), Nonce: p.Nonce, Ciphertext: p.Ciphertext}
}

func fromWireRound2(w dkgRound2Wire) ciphersuite.DKGRound2Package {
	return ciphersuite.DKGRound2Package{From: party.ID(w.From), To: party.ID(w.To), Nonce: w.Nonce, Ciphertext: w.Ciphertext}
}

type sealedNonceWire struct {
	To         uint32   `json:"to"`
	Nonce      hexBytes `json:"nonce"`
	Ciphertext hexBytes `json:"ciphertext"`
}

type signingCommitmentWire struct {
	ID     uint32            `json:"id"`
	D      hexBytes          `json:"d"`
	E      hexBytes          `json:"e"`
	Sealed []sealedNonceWire `json:"sealed,omitempty"`
}

func toWireCommitment(c ciphersuite.SigningCommitment) signingCommitmentWire {
	var sealed []sealedNonceWire
	for _, s := range c.Sealed {
		sealed = append(sealed, sealedNonceWire{To: uint32(s.To), Nonce: s.Nonce, Ciphertext: s.Ciphertext})
	}
	return signingCommitmentWire{ID: uint32(c.ID), D: c.D, E: c.E, Sealed: sealed}
}

func fromWireCommitment(w signingCommitmentWire) ciphersuite.SigningCommitment {
	var sealed []ciphersuite.SealedNonceEnvelope
	for _, s := range w.Sealed {
		sealed = append(sealed, ciphersuite.SealedNonceEnvelope{To: party.ID(s.To), Nonce: s.Nonce, Ciphertext: s.Ciphertext})
	}
	return ciphersuite.SigningCommitment{ID: party.ID(w.ID), D: w.D, E: w.E, Sealed: sealed}
}

type signatureShareWire struct {
	ID    uint32   `json:"id"`
	Share hexBytes `json:"share"`
}

func toWireShare(s ciphersuite.SignatureShare) signatureShareWire {
	return signatureShareWire{ID: uint32(s.ID), Share: s.Share}
}

func fromWireShare(w signatureShareWire) ciphersuite.SignatureShare {
	return ciphersuite.SignatureShare{ID: party.ID(w.ID), Share: w.Share}
}

type pubkeyWire struct {
	Curve              string              `json:"curve"`
	Threshold          int                 `json:"threshold"`
	MaxSigners         int                 `json:"max_signers"`
	GroupPublicKey     hexBytes            `json:"group_public_key"`
	VerificationShares map[string]hexBytes `json:"verification_shares"`
}

func toWirePubkey(p ciphersuite.PubkeyPackage) pubkeyWire {
	shares := make(map[string]hexBytes, len(p.VerificationShares))
	for id, b := range p.VerificationShares {
		shares[fmt.Sprintf("%d", id)] = b
	}
	return pubkeyWire{
		Curve:              string(p.Curve),
		Threshold:          p.Threshold,
		MaxSigners:         p.MaxSigners,
		GroupPublicKey:     p.GroupPublicKey,
		VerificationShares: shares,
	}
}

// errorBody is the {error_kind, detail} response shape every handler returns on failure.
type errorBody struct {
	ErrorKind string `json:"error_kind"`
	Detail    string `json:"detail"`
}
