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

type dkgRound1Request struct {
	Passphrase string `json:"passphrase"`
}

type dkgRound1Response struct {
	Package dkgRound1Wire `json:"package"`
}

func (s *Server) handleDKGRound1(w http.ResponseWriter, r *http.Request) {
	curve, suite, err := s.curveFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req dkgRound1Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	source, err := rng.New(suite.Group(), s.hsmP, curve, req.Passphrase, rng.PurposeDKG, nil)
	if err != nil {
		writeError(w, errs.Wrap(errs.Resource, "deriving dkg randomness", err))
		return
	}

	sess := s.dkgSession(curve, req.Passphrase, suite)
	pkg, err := sess.Round1(source.Func())
	if err != nil {
		writeError(w, classifyDKGErr(err))
		return
	}
	writeJSON(w, http.StatusOK, dkgRound1Response{Package: toWireRound1(pkg)})
}

type dkgRound2Request struct {
	Passphrase string                  `json:"passphrase"`
	Received   map[string]dkgRound1Wire `json:"received"`
}

type dkgRound2Response struct {
	Packages []dkgRound2Wire `json:"packages"`
}

func (s *Server) handleDKGRound2(w http.ResponseWriter, r *http.Request) {
	curve, suite, err := s.curveFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req dkgRound2Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	received := make(map[party.ID]ciphersuite.DKGRound1Package, len(req.Received))
	for idStr, w2 := range req.Received {
		id, perr := parsePartyID(idStr)
		if perr != nil {
			writeError(w, perr)
			return
		}
		received[id] = fromWireRound1(w2)
	}

	sess := s.dkgSession(curve, req.Passphrase, suite)
	out, err := sess.Round2(received)
	if err != nil {
		writeError(w, classifyDKGErr(err))
		return
	}

	wirePkgs := make([]dkgRound2Wire, len(out))
	for i, p := range out {
		wirePkgs[i] = toWireRound2(p)
	}
	writeJSON(w, http.StatusOK, dkgRound2Response{Packages: wirePkgs})
}

type dkgFinalizeRequest struct {
	Passphrase string          `json:"passphrase"`
	Received   []dkgRound2Wire `json:"received"`
}

func (s *Server) handleDKGFinalize(w http.ResponseWriter, r *http.Request) {
	curve, suite, err := s.curveFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req dkgFinalizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	received := make(map[party.ID]ciphersuite.DKGRound2Package, len(req.Received))
	for _, w2 := range req.Received {
		pkg := fromWireRound2(w2)
		received[pkg.From] = pkg
	}

	sess := s.dkgSession(curve, req.Passphrase, suite)
	key, pub, err := sess.Finalize(received)
	if err != nil {
		writeError(w, classifyDKGErr(err))
		return
	}

	keyBytes, err := cbor.Marshal(key)
	if err != nil {
		writeError(w, errs.Wrap(errs.Resource, "encoding key package", err))
		return
	}
	pubBytes, err := cbor.Marshal(pub)
	if err != nil {
		writeError(w, errs.Wrap(errs.Resource, "encoding pubkey package", err))
		return
	}

	ctx := r.Context()
	if err := s.store.PutKeyPackage(ctx, curve, req.Passphrase, keyBytes); err != nil {
		writeError(w, errs.Wrap(errs.Resource, "persisting key package", err))
		return
	}
	if err := s.store.PutPubkeyPackage(ctx, curve, req.Passphrase, pubBytes); err != nil {
		writeError(w, errs.Wrap(errs.Resource, "persisting pubkey package", err))
		return
	}

	s.dkgMu.Lock()
	delete(s.dkgSessions, s.sessionKey(curve, req.Passphrase))
	s.dkgMu.Unlock()

	writeJSON(w, http.StatusOK, toWirePubkey(pub))
}

func (s *Server) handlePubkey(w http.ResponseWriter, r *http.Request) {
	curve, _, err := s.curveFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	passphrase := r.URL.Query().Get("passphrase")

	raw, err := s.store.GetPubkeyPackage(r.Context(), curve, passphrase)
	if err != nil {
		writeError(w, classifyStoreErr(err))
		return
	}
	var pub ciphersuite.PubkeyPackage
	if err := cbor.Unmarshal(raw, &pub); err != nil {
		writeError(w, errs.Wrap(errs.Resource, "decoding stored pubkey package", err))
		return
	}
	writeJSON(w, http.StatusOK, toWirePubkey(pub))
}

// curveFromPath extracts and validates the {curve} path segment, and
// resolves the corresponding ciphersuite implementation.
func (s *Server) curveFromPath(r *http.Request) (curvetag.Tag, ciphersuite.Suite, error) {
	raw := r.PathValue("curve")
	curve, err := curvetag.Parse(raw)
	if err != nil {
		return "", nil, errs.Wrap(errs.Input, "parsing curve path segment", err)
	}
	suite, err := suiteFor(curve)
	if err != nil {
		return "", nil, err
	}
	return curve, suite, nil
}

func parsePartyID(s string) (party.ID, error) {
	var n uint32
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errs.New(errs.Input, "malformed participant id")
		}
		n = n*10 + uint32(r-'0')
	}
	return party.ID(n), nil
}
