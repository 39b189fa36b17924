// ABOUTME: Outbound reply delivery to the messaging channel
// ABOUTME: HTTPReplySender pushes composed bodies as JSON to a configured URL

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ReplySender delivers composed reply bodies to a farmer
type ReplySender interface {
	Send(ctx context.Context, farmerID string, bodies []string) error
}

// OutboundReply is the JSON body HTTPReplySender posts
type OutboundReply struct {
	FarmerID string   `json:"farmer_id"`
	Messages []string `json:"messages"`
}

// HTTPReplySender posts replies to a channel relay
type HTTPReplySender struct {
	url       string
	authToken string
	client    *http.Client
}

// NewHTTPReplySender creates a sender posting to url. authToken, when set, is
// sent as a bearer token.
func NewHTTPReplySender(url, authToken string, timeout time.Duration) *HTTPReplySender {
	return &HTTPReplySender{
		url:       url,
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

// Send posts the bodies in one request. Any non-2xx status is an error.
func (s *HTTPReplySender) Send(ctx context.Context, farmerID string, bodies []string) error {
	payload, err := json.Marshal(OutboundReply{FarmerID: farmerID, Messages: bodies})
	if err != nil {
		return fmt.Errorf("encoding reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("reply relay returned status %d", resp.StatusCode)
	}
	return nil
}
