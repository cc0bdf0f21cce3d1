// Package webhook forwards normalized session events to the configured
// external sink. Delivery is best effort: failures are reported to the
// caller for logging and never affect session management.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aki/wamux/internal/automation"
)

const requestTimeout = 10 * time.Second

// messagePayload is the normalized message record posted to the sink.
type messagePayload struct {
	Event       string `json:"event"`
	AgentID     string `json:"agent_id"`
	From        string `json:"from"`
	Participant string `json:"participant,omitempty"`
	Body        string `json:"body"`
	Timestamp   int64  `json:"timestamp"`
	HasMedia    bool   `json:"has_media"`
	MediaType   string `json:"media_type,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
	IsGroup     bool   `json:"is_group"`
	SenderName  string `json:"sender_name,omitempty"`
	FromMe      bool   `json:"from_me"`
	Direction   string `json:"direction"`
}

// connectedPayload notifies the sink that a session finished pairing.
type connectedPayload struct {
	Event       string `json:"event"`
	Action      string `json:"action"`
	AgentID     string `json:"agent_id"`
	PhoneNumber string `json:"phone_number"`
	SessionID   string `json:"session_id"`
}

// Notifier posts session events to a single sink URL with a bearer secret.
// A Notifier with an empty URL silently drops everything, so callers never
// need to special-case an unconfigured sink.
type Notifier struct {
	url    string
	secret string
	client *http.Client
}

// New creates a Notifier for the given sink URL and secret.
func New(url, secret string) *Notifier {
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: requestTimeout},
	}
}

// NotifyMessage forwards one message event for the session identified by key.
func (n *Notifier) NotifyMessage(ctx context.Context, key string, msg automation.Message) error {
	direction := "inbound"
	if msg.FromMe {
		direction = "outbound"
	}
	return n.post(ctx, messagePayload{
		Event:       "message",
		AgentID:     key,
		From:        msg.From,
		Participant: msg.Participant,
		Body:        msg.Body,
		Timestamp:   msg.Timestamp,
		HasMedia:    msg.HasMedia,
		MediaType:   msg.MediaType,
		ContactName: msg.ContactName,
		IsGroup:     msg.IsGroup,
		SenderName:  msg.SenderName,
		FromMe:      msg.FromMe,
		Direction:   direction,
	})
}

// NotifyConnected reports a successful pairing and the resulting identity.
func (n *Notifier) NotifyConnected(ctx context.Context, key, identity string) error {
	return n.post(ctx, connectedPayload{
		Event:       "connection",
		Action:      "connected",
		AgentID:     key,
		PhoneNumber: identity,
		SessionID:   key,
	})
}

func (n *Notifier) post(ctx context.Context, payload any) error {
	if n.url == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal sink payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("Authorization", "Bearer "+n.secret)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sink request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}
