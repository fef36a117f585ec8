package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vaultfrost/custody/internal/chainenc"
	"github.com/vaultfrost/custody/internal/errs"
	"github.com/vaultfrost/custody/pkg/curvetag"
)

// Server is the aggregator's own HTTP surface: POST /api/address/generate,
// POST /api/sign/message, plus GET /status backed by the health prober.
// PSBT build/parse is explicitly external — the aggregator would only
// compute sighashes, sign per passphrase, and inject the Schnorr
// signature — so /api/sign/psbt is not implemented here.
type Server struct {
	logger  *zap.Logger
	address *AddressAggregator
	signing *SigningAggregator

	httpServer *http.Server
}

func NewServer(logger *zap.Logger, address *AddressAggregator, signing *SigningAggregator, addr string) *Server {
	s := &Server{logger: logger, address: address, signing: signing}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/address/generate", s.handleGenerateAddress)
	mux.HandleFunc("POST /api/sign/message", s.handleSignMessage)
	mux.HandleFunc("GET /status", s.handleStatus)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withRecovery(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() {
	go func() {
		s.logger.Sugar().Infow("starting aggregator http server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("aggregator http server stopped", "error", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Sugar().Errorw("panic handling aggregator request", "recovered", rec)
				writeErr(w, errs.New(errs.Resource, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	writeJSON(w, errs.HTTPStatus(kind), map[string]string{"error_kind": string(kind), "detail": err.Error()})
}

type generateAddressRequest struct {
	Chain      string `json:"chain"`
	Passphrase string `json:"passphrase"`
}

type generateAddressResponse struct {
	Address    string   `json:"address"`
	Pubkey     hexBytes `json:"public_key"`
	Curve      string   `json:"curve"`
	Chain      string   `json:"chain"`
	Passphrase string   `json:"passphrase"`
}

func (s *Server) handleGenerateAddress(w http.ResponseWriter, r *http.Request) {
	var req generateAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.Wrap(errs.Input, "decoding request body", err))
		return
	}
	chain := chainenc.Chain(req.Chain)
	curve, err := chain.Curve()
	if err != nil {
		writeErr(w, errs.Wrap(errs.Input, "resolving chain to curve", err))
		return
	}
	addr, pub, err := s.address.GenerateAddress(r.Context(), chain, req.Passphrase)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, generateAddressResponse{
		Address:    addr,
		Pubkey:     pub,
		Curve:      curve,
		Chain:      req.Chain,
		Passphrase: req.Passphrase,
	})
}

type signMessageRequest struct {
	Curve      string   `json:"curve"`
	Passphrase string   `json:"passphrase"`
	Message    hexBytes `json:"message"`
}

type signMessageResponse struct {
	Signature hexBytes `json:"signature"`
	Verified  bool     `json:"verified"`
}

func (s *Server) handleSignMessage(w http.ResponseWriter, r *http.Request) {
	var req signMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errs.Wrap(errs.Input, "decoding request body", err))
		return
	}
	if _, err := curvetag.Parse(req.Curve); err != nil {
		writeErr(w, errs.Wrap(errs.Input, "parsing curve", err))
		return
	}
	sig, err := s.signing.SignMessage(r.Context(), req.Curve, req.Passphrase, req.Message)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signMessageResponse{Signature: sig, Verified: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := s.signing.prober.Probe(r.Context(), s.signing.threshold)
	writeJSON(w, http.StatusOK, report)
}
