// Package relay forwards traffic and lifecycle changes to the CRM backend
// over webhooks. Delivery is best effort: a failed post is logged, counted,
// and dropped so the connection supervisor is never blocked on the backend.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vantagecrm/wabridge/wire"
)

const (
	incomingPath = "/webhook/incoming"
	statusPath   = "/status-webhook"

	secretHeader = "X-Api-Key"
)

// Client posts webhooks to the backend.
type Client struct {
	backendURL string
	secret     string
	http       *http.Client
	dropped    atomic.Int64
}

func New(backendURL, secret string, timeout time.Duration) *Client {
	return &Client{
		backendURL: backendURL,
		secret:     secret,
		http:       &http.Client{Timeout: timeout},
	}
}

type incomingPayload struct {
	TenantID   string         `json:"tenantId"`
	DeliveryID string         `json:"deliveryId"`
	Payload    []wire.Message `json:"payload"`
}

type statusPayload struct {
	TenantID string `json:"tenantId"`
	Status   string `json:"status"`
	Reason   string `json:"reason"`
}

// FilterEchoes drops messages sent by the bridge's own identity so the
// backend only sees traffic from the other party.
func FilterEchoes(batch []wire.Message) []wire.Message {
	out := make([]wire.Message, 0, len(batch))
	for _, msg := range batch {
		if msg.FromSelf {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// ForwardIncoming relays an inbound batch to the backend. Self-echoes are
// filtered first; an empty surviving batch posts nothing.
func (c *Client) ForwardIncoming(ctx context.Context, tenantID string, batch []wire.Message) {
	batch = FilterEchoes(batch)
	if len(batch) == 0 {
		return
	}
	payload := incomingPayload{
		TenantID:   tenantID,
		DeliveryID: uuid.NewString(),
		Payload:    batch,
	}
	if err := c.post(ctx, incomingPath, payload); err != nil {
		c.dropped.Add(1)
		log.Error().Err(err).Str("tenant", tenantID).Int("messages", len(batch)).Msg("incoming webhook dropped")
		return
	}
	log.Debug().Str("tenant", tenantID).Int("messages", len(batch)).Msg("incoming batch relayed")
}

// NotifyStatus reports a session lifecycle change to the backend.
func (c *Client) NotifyStatus(ctx context.Context, tenantID, status, reason string) {
	payload := statusPayload{TenantID: tenantID, Status: status, Reason: reason}
	if err := c.post(ctx, statusPath, payload); err != nil {
		c.dropped.Add(1)
		log.Error().Err(err).Str("tenant", tenantID).Str("status", status).Msg("status webhook dropped")
		return
	}
	log.Info().Str("tenant", tenantID).Str("status", status).Str("reason", reason).Msg("status notified")
}

// Dropped returns the number of webhook deliveries abandoned since the
// process started.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(secretHeader, c.secret)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
