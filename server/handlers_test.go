package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagecrm/wabridge/internal/config"
	"github.com/vantagecrm/wabridge/internal/errors"
	"github.com/vantagecrm/wabridge/sessions"
	"github.com/vantagecrm/wabridge/wire"
)

type stubService struct {
	startErr      error
	resetErr      error
	disconnectErr error
	sendErr       error
	typingErr     error

	snap     sessions.Snapshot
	snapOK   bool
	hasCreds bool
	receipt  wire.SendReceipt

	started      []string
	reset        []string
	disconnected []string
}

func (s *stubService) Start(tenantID string) error {
	s.started = append(s.started, tenantID)
	return s.startErr
}

func (s *stubService) Reset(_ context.Context, tenantID string) error {
	s.reset = append(s.reset, tenantID)
	return s.resetErr
}

func (s *stubService) Disconnect(_ context.Context, tenantID string) error {
	s.disconnected = append(s.disconnected, tenantID)
	return s.disconnectErr
}

func (s *stubService) Send(_ context.Context, tenantID, to, text string) (wire.SendReceipt, time.Duration, error) {
	if s.sendErr != nil {
		return wire.SendReceipt{}, 0, s.sendErr
	}
	return s.receipt, 25 * time.Millisecond, nil
}

func (s *stubService) SendTyping(_ context.Context, tenantID, to string, composing bool) error {
	return s.typingErr
}

func (s *stubService) Snapshot(tenantID string) (sessions.Snapshot, bool) {
	return s.snap, s.snapOK
}

func (s *stubService) HasCredentials(tenantID string) bool {
	return s.hasCreds
}

func (s *stubService) Diagnostics(tenantID string) sessions.DiagnosticsReport {
	return sessions.DiagnosticsReport{TenantID: tenantID, SessionState: s.snap.State.String()}
}

func newTestServer(t *testing.T, svc SessionService) *Server {
	t.Helper()
	t.Setenv("ENV", "test")
	t.Setenv("API_KEY", "secret")
	return New(config.New(), svc)
}

func doRequest(s *Server, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHealthNeedsNoAuth(t *testing.T) {
	s := newTestServer(t, &stubService{})
	rec := doRequest(s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
}

func TestSharedSecretRequired(t *testing.T) {
	svc := &stubService{}
	s := newTestServer(t, svc)

	rec := doRequest(s, http.MethodPost, "/tenant/acme/start", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodPost, "/tenant/acme/start", "wrong", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, svc.started, "rejected requests must have no side effects")

	rec = doRequest(s, http.MethodPost, "/tenant/acme/start", "secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"acme"}, svc.started)
}

func TestStatusHandler(t *testing.T) {
	svc := &stubService{
		snap: sessions.Snapshot{
			TenantID:          "acme",
			State:             sessions.StateConnected,
			IdentityLabel:     "Acme Corp",
			ReconnectAttempts: 2,
			HasHandle:         true,
		},
		snapOK:   true,
		hasCreds: true,
	}
	s := newTestServer(t, svc)

	rec := doRequest(s, http.MethodGet, "/tenant/acme/status", "secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, "Acme Corp", body["identityLabel"])
	assert.Equal(t, false, body["hasPairingCode"])
	assert.Equal(t, true, body["hasSession"])
	assert.Equal(t, true, body["hasHandle"])
	assert.Equal(t, float64(2), body["reconnectAttempts"])
	assert.Equal(t, "connected", body["sessionState"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestStatusHandlerUnknownTenant(t *testing.T) {
	s := newTestServer(t, &stubService{})
	rec := doRequest(s, http.MethodGet, "/tenant/nobody/status", "secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["connected"])
	assert.Equal(t, "not_started", body["sessionState"])
}

func TestPairingCodeHandler(t *testing.T) {
	svc := &stubService{}
	s := newTestServer(t, svc)

	rec := doRequest(s, http.MethodGet, "/tenant/acme/qr", "secret", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	svc.snap = sessions.Snapshot{State: sessions.StateAwaitingPairing, PairingImage: []byte{0x89, 'P', 'N', 'G'}}
	svc.snapOK = true

	rec = doRequest(s, http.MethodGet, "/tenant/acme/qr", "secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dataURL, _ := decodeBody(t, rec)["dataUrl"].(string)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"), "got %q", dataURL)
}

func TestResetAndDisconnectHandlers(t *testing.T) {
	svc := &stubService{}
	s := newTestServer(t, svc)

	rec := doRequest(s, http.MethodPost, "/tenant/acme/reset", "secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"acme"}, svc.reset)

	rec = doRequest(s, http.MethodPost, "/tenant/acme/disconnect", "secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"acme"}, svc.disconnected)
}

func TestDiagnosticsHandler(t *testing.T) {
	s := newTestServer(t, &stubService{})
	rec := doRequest(s, http.MethodGet, "/tenant/acme/diagnostics", "secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", decodeBody(t, rec)["tenantId"])
}

func TestSendHandler(t *testing.T) {
	svc := &stubService{receipt: wire.SendReceipt{MessageID: "msg-1"}}
	s := newTestServer(t, svc)

	rec := doRequest(s, http.MethodPost, "/send", "secret", SendRequest{
		To: "2@s.whatsapp.net", Text: "hello", TenantID: "acme",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "msg-1", body["messageId"])
	assert.Equal(t, float64(25), body["durationMs"])
}

func TestSendHandlerValidation(t *testing.T) {
	s := newTestServer(t, &stubService{})

	rec := doRequest(s, http.MethodPost, "/send", "secret", SendRequest{TenantID: "acme"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader("not json"))
	req.Header.Set("X-Api-Key", "secret")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendHandlerNotConnected(t *testing.T) {
	svc := &stubService{sendErr: errors.ErrNotConnected}
	s := newTestServer(t, svc)

	rec := doRequest(s, http.MethodPost, "/send", "secret", SendRequest{
		To: "2@s.whatsapp.net", Text: "hello", TenantID: "acme",
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSendTypingHandler(t *testing.T) {
	svc := &stubService{}
	s := newTestServer(t, svc)

	rec := doRequest(s, http.MethodPost, "/sendTyping", "secret", SendTypingRequest{
		JID: "2@s.whatsapp.net", Typing: true, TenantID: "acme",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	svc.typingErr = errors.ErrNotConnected
	rec = doRequest(s, http.MethodPost, "/sendTyping", "secret", SendTypingRequest{
		JID: "2@s.whatsapp.net", TenantID: "acme",
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTenantRequiredMapsToBadRequest(t *testing.T) {
	svc := &stubService{startErr: errors.ErrTenantRequired}
	s := newTestServer(t, svc)
	rec := doRequest(s, http.MethodPost, "/tenant/acme/start", "secret", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
