package httpapi

import (
	"net/http"

	"github.com/vaultfrost/custody/internal/errs"
)

type hsmUnlockRequest struct {
	Pin string `json:"pin"`
}

func (s *Server) handleHSMUnlock(w http.ResponseWriter, r *http.Request) {
	var req hsmUnlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.hsmP.Unlock(req.Pin); err != nil {
		writeError(w, errs.Wrap(errs.State, "hsm unlock failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlocked": true})
}

func (s *Server) handleHSMLock(w http.ResponseWriter, r *http.Request) {
	s.hsmP.Lock()
	writeJSON(w, http.StatusOK, map[string]any{"unlocked": false})
}

func (s *Server) handleHSMStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"unlocked": s.hsmP.Unlocked(),
		"device":   s.hsmP.DeviceLabel(),
	})
}
