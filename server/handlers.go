package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vantagecrm/wabridge/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": message})
}

// writeServiceError maps session-manager errors onto the response codes
// the backend expects. Not connected is a service condition, not a server
// fault, so it surfaces as 503.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrTenantRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errors.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, errors.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errors.ErrDraining):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (s *Server) StartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.Start(r.PathValue("id")); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// StatusResponse is the connection summary polled by the backend.
type StatusResponse struct {
	Connected         bool   `json:"connected"`
	IdentityLabel     string `json:"identityLabel"`
	HasPairingCode    bool   `json:"hasPairingCode"`
	HasSession        bool   `json:"hasSession"`
	HasHandle         bool   `json:"hasHandle"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
	SessionState      string `json:"sessionState"`
	Timestamp         string `json:"timestamp"`
}

func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.PathValue("id")
		snap, _ := s.service.Snapshot(tenantID)
		writeJSON(w, http.StatusOK, StatusResponse{
			Connected:         snap.Connected(),
			IdentityLabel:     snap.IdentityLabel,
			HasPairingCode:    len(snap.PairingImage) > 0,
			HasSession:        s.service.HasCredentials(tenantID),
			HasHandle:         snap.HasHandle,
			ReconnectAttempts: snap.ReconnectAttempts,
			SessionState:      snap.State.String(),
			Timestamp:         time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (s *Server) PairingCodeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, _ := s.service.Snapshot(r.PathValue("id"))
		if len(snap.PairingImage) == 0 {
			writeError(w, http.StatusNotFound, "no pairing code available")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"dataUrl": pairingDataURL(snap.PairingImage),
		})
	}
}

// pairingDataURL wraps the PNG so the backend can drop it straight into
// an img tag.
func pairingDataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

func (s *Server) ResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.Reset(r.Context(), r.PathValue("id")); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (s *Server) DisconnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.Disconnect(r.Context(), r.PathValue("id")); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (s *Server) DiagnosticsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.service.Diagnostics(r.PathValue("id")))
	}
}

// SendRequest is an outbound text message.
type SendRequest struct {
	To       string `json:"to"`
	Text     string `json:"text"`
	TenantID string `json:"tenantId"`
}

func (s *Server) SendHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.To == "" || req.Text == "" {
			writeError(w, http.StatusBadRequest, "to and text are required")
			return
		}
		receipt, elapsed, err := s.service.Send(r.Context(), req.TenantID, req.To, req.Text)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":         true,
			"messageId":  receipt.MessageID,
			"durationMs": elapsed.Milliseconds(),
		})
	}
}

// SendTypingRequest toggles the typing indicator in a chat.
type SendTypingRequest struct {
	JID      string `json:"jid"`
	Typing   bool   `json:"typing"`
	TenantID string `json:"tenantId"`
}

func (s *Server) SendTypingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendTypingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.JID == "" {
			writeError(w, http.StatusBadRequest, "jid is required")
			return
		}
		if err := s.service.SendTyping(r.Context(), req.TenantID, req.JID, req.Typing); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
