// Package httpapi implements the node HTTP surface: DKG and FROST round
// endpoints, HSM control, and the health probe target. Routing follows
// the minimal, framework-free style of the
// eigenx-kms-go reference server (net/http.ServeMux, method+path
// dispatch, a small JSON codec helper) rather than adopting a router
// dependency the example pack doesn't otherwise use.
package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vaultfrost/custody/internal/dkg"
	"github.com/vaultfrost/custody/internal/errs"
	"github.com/vaultfrost/custody/internal/hsm"
	"github.com/vaultfrost/custody/internal/signer"
	"github.com/vaultfrost/custody/internal/store"
	"github.com/vaultfrost/custody/pkg/ciphersuite"
	"github.com/vaultfrost/custody/pkg/ciphersuite/ecdsa"
	"github.com/vaultfrost/custody/pkg/ciphersuite/eddsa"
	"github.com/vaultfrost/custody/pkg/ciphersuite/schnorr"
	"github.com/vaultfrost/custody/pkg/curvetag"
	"github.com/vaultfrost/custody/pkg/party"
)

// suites is the static tag -> implementation registry backing every
// curve-parameterized route.
var suites = map[curvetag.Tag]ciphersuite.Suite{
	curvetag.SchnorrSecp256k1: schnorr.Suite{},
	curvetag.ECDSASecp256k1:   ecdsa.Suite{},
	curvetag.Ed25519:          eddsa.Suite{},
}

func suiteFor(tag curvetag.Tag) (ciphersuite.Suite, error) {
	s, ok := suites[tag]
	if !ok {
		return nil, errs.New(errs.Input, fmt.Sprintf("unknown curve %q", tag))
	}
	return s, nil
}

// Server is one node's HTTP surface. It holds no signing secrets itself;
// those live behind the store and the HSM provider, unlocked for the
// duration of a request by their own gating.
type Server struct {
	logger *zap.Logger
	self   party.ID
	n      int
	threshold int

	hsmP   hsm.Provider
	store  *store.Store
	signer *signer.Node

	httpServer *http.Server

	dkgMu       sync.Mutex
	dkgSessions map[string]*dkg.Session
}

// NewServer wires a node's component instances into the HTTP surface.
func NewServer(logger *zap.Logger, self party.ID, n, threshold int, hsmP hsm.Provider, st *store.Store, signerNode *signer.Node, addr string) *Server {
	s := &Server{
		logger:      logger,
		self:        self,
		n:           n,
		threshold:   threshold,
		hsmP:        hsmP,
		store:       st,
		signer:      signerNode,
		dkgSessions: make(map[string]*dkg.Session),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/curve/{curve}/pubkey", s.handlePubkey)
	mux.HandleFunc("POST /api/dkg/{curve}/round1", s.handleDKGRound1)
	mux.HandleFunc("POST /api/dkg/{curve}/round2", s.handleDKGRound2)
	mux.HandleFunc("POST /api/dkg/{curve}/finalize", s.handleDKGFinalize)
	mux.HandleFunc("POST /api/frost/{curve}/round1", s.handleFrostRound1)
	mux.HandleFunc("POST /api/frost/{curve}/round2", s.handleFrostRound2)
	mux.HandleFunc("POST /api/frost/{curve}/aggregate", s.handleFrostAggregate)
	mux.HandleFunc("POST /api/hsm/unlock", s.handleHSMUnlock)
	mux.HandleFunc("POST /api/hsm/lock", s.handleHSMLock)
	mux.HandleFunc("GET /api/hsm/status", s.handleHSMStatus)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the server in the background, matching the teacher-style
// fire-and-log ListenAndServe pattern rather than blocking the caller.
func (s *Server) Start() {
	go func() {
		s.logger.Sugar().Infow("starting node http server", "addr", s.httpServer.Addr, "node", s.self)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("node http server stopped", "error", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// withMiddleware wraps every route with request-scoped zap logging and a
// panic-recovery guard.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := fmt.Sprintf("%x", sha256.Sum256([]byte(fmt.Sprintf("%d-%s-%s", start.UnixNano(), r.Method, r.URL.Path))))[:12]
		log := s.logger.With(zap.String("request_id", reqID), zap.Int("node", int(s.self)), zap.String("path", r.URL.Path))

		defer func() {
			if rec := recover(); rec != nil {
				log.Sugar().Errorw("panic handling request", "recovered", rec)
				writeError(w, errs.New(errs.Resource, "internal error"))
			}
		}()

		next.ServeHTTP(w, r)
		log.Debug("request handled", zap.Duration("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := errs.HTTPStatus(kind)
	if isLockedErr(err) {
		status = http.StatusLocked
	}
	writeJSON(w, status, errorBody{ErrorKind: string(kind), Detail: err.Error()})
}

func isLockedErr(err error) bool {
	return errors.Is(err, hsm.ErrLocked) || errors.Is(err, store.ErrLocked)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Wrap(errs.Input, "decoding request body", err)
	}
	return nil
}

func (s *Server) sessionKey(curve curvetag.Tag, passphrase string) string {
	return string(curve) + "|" + passphrase
}

func (s *Server) dkgSession(curve curvetag.Tag, passphrase string, suite ciphersuite.Suite) *dkg.Session {
	s.dkgMu.Lock()
	defer s.dkgMu.Unlock()
	key := s.sessionKey(curve, passphrase)
	sess, ok := s.dkgSessions[key]
	if !ok {
		sess = dkg.NewSession(suite, s.self, s.n, s.threshold)
		s.dkgSessions[key] = sess
	}
	return sess
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.hsmP.Unlocked() {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "hsm_unlocked": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "hsm_unlocked": true})
}
