// ABOUTME: Inbound webhook handlers for the JSON relay and Twilio WhatsApp
// ABOUTME: Turns channel payloads into orchestrator messages and returns or pushes the replies

package gateway

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/awaki-gateway/internal/orchestrator"
)

// maxWebhookBody caps inbound webhook bodies
const maxWebhookBody = 1 << 20

// InboundRequest is the JSON body for POST /webhook/inbound
type InboundRequest struct {
	FarmerID   string `json:"farmer_id"`
	Text       string `json:"text"`
	MediaURL   string `json:"media_url,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	ReceivedAt string `json:"received_at,omitempty"` // RFC 3339; defaults to now
}

// InboundResponse is the JSON response for POST /webhook/inbound
type InboundResponse struct {
	FarmerID  string   `json:"farmer_id"`
	MessageID string   `json:"message_id"`
	Intent    string   `json:"intent,omitempty"`
	Messages  []string `json:"messages"`
	Replayed  bool     `json:"replayed,omitempty"`
	Delivered bool     `json:"delivered"`
}

// twimlResponse is the TwiML document returned to Twilio
type twimlResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Messages []string `xml:"Message"`
}

// handleInbound handles POST /webhook/inbound.
func (g *Gateway) handleInbound(w http.ResponseWriter, r *http.Request) {
	var req InboundRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.FarmerID) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "farmer_id is required")
		return
	}

	receivedAt := time.Now()
	if req.ReceivedAt != "" {
		ts, err := time.Parse(time.RFC3339, req.ReceivedAt)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "received_at must be RFC 3339")
			return
		}
		receivedAt = ts
	}

	out, ok := g.process(w, r, orchestrator.InboundMessage{
		FarmerID:   strings.TrimSpace(req.FarmerID),
		Text:       req.Text,
		MediaRef:   req.MediaURL,
		MessageID:  req.MessageID,
		ReceivedAt: receivedAt,
	})
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(InboundResponse{
		FarmerID:  out.FarmerID,
		MessageID: out.MessageID,
		Intent:    string(out.Decision.Kind),
		Messages:  out.Bodies,
		Replayed:  out.Replayed,
		Delivered: g.deliver(r.Context(), out),
	})
}

// handleTwilio handles POST /webhook/twilio. Replies go back inline as TwiML
// unless a reply relay is configured and accepted them.
func (g *Gateway) handleTwilio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	from := strings.TrimPrefix(r.PostFormValue("From"), "whatsapp:")
	if from == "" {
		http.Error(w, "From is required", http.StatusBadRequest)
		return
	}

	msg := orchestrator.InboundMessage{
		FarmerID:   from,
		Text:       r.PostFormValue("Body"),
		MessageID:  r.PostFormValue("MessageSid"),
		ReceivedAt: time.Now(),
	}
	if n, _ := strconv.Atoi(r.PostFormValue("NumMedia")); n > 0 {
		// Only photos can be classified; voice notes and documents are ignored
		if strings.HasPrefix(r.PostFormValue("MediaContentType0"), "image/") || r.PostFormValue("MediaContentType0") == "" {
			msg.MediaRef = r.PostFormValue("MediaUrl0")
		}
	}

	out, ok := g.process(w, r, msg)
	if !ok {
		return
	}

	doc := twimlResponse{}
	if !g.deliver(r.Context(), out) && (g.replies == nil || !out.Replayed) {
		doc.Messages = out.Bodies
	}

	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(doc)
}

// process runs a message through the orchestrator and writes an error
// response when it could not be handled at all.
func (g *Gateway) process(w http.ResponseWriter, r *http.Request, msg orchestrator.InboundMessage) (*orchestrator.Outcome, bool) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}

	out, err := g.handler.Handle(r.Context(), msg)
	switch {
	case err == nil:
		g.logger.Debug("inbound message handled",
			"farmer_id", out.FarmerID,
			"message_id", out.MessageID,
			"intent", out.Decision.Kind,
			"bodies", len(out.Bodies),
			"replayed", out.Replayed)
		return out, true
	case errors.Is(err, orchestrator.ErrMissingFarmer):
		g.sendJSONError(w, http.StatusBadRequest, "farmer_id is required")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		g.logger.Warn("inbound message abandoned", "farmer_id", msg.FarmerID, "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		g.logger.Error("failed to handle inbound message", "farmer_id", msg.FarmerID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
	return nil, false
}

// deliver pushes the reply through the configured sender. Replays are not
// pushed again since the first delivery already reached the farmer.
func (g *Gateway) deliver(ctx context.Context, out *orchestrator.Outcome) bool {
	if g.replies == nil || out.Replayed || len(out.Bodies) == 0 {
		return false
	}
	if err := g.replies.Send(context.WithoutCancel(ctx), out.FarmerID, out.Bodies); err != nil {
		g.logger.Error("failed to push reply", "farmer_id", out.FarmerID, "message_id", out.MessageID, "error", err)
		return false
	}
	return true
}
