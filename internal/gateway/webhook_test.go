// ABOUTME: Tests for the JSON and Twilio inbound webhooks
// ABOUTME: Verifies payload mapping, error statuses, reply push and TwiML rendering

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/awaki-gateway/internal/auth"
	"github.com/2389/awaki-gateway/internal/config"
	"github.com/2389/awaki-gateway/internal/orchestrator"
)

func postJSON(t *testing.T, h http.Handler, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook/inbound", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func postForm(h http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInbound_MapsPayload(t *testing.T) {
	gw := newTestGateway(t)

	rec := postJSON(t, gw.Handler(), InboundRequest{
		FarmerID:   " +254700000001 ",
		Text:       "What is wrong with my maize?",
		MediaURL:   "https://media.example/leaf.jpg",
		MessageID:  "wamid.1",
		ReceivedAt: "2026-03-01T08:30:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	msgs := gw.handler.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "+254700000001", msgs[0].FarmerID)
	assert.Equal(t, "What is wrong with my maize?", msgs[0].Text)
	assert.Equal(t, "https://media.example/leaf.jpg", msgs[0].MediaRef)
	assert.Equal(t, "wamid.1", msgs[0].MessageID)
	assert.True(t, msgs[0].ReceivedAt.Equal(time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)))

	var resp InboundResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "wamid.1", resp.MessageID)
	assert.Equal(t, "greeting", resp.Intent)
	assert.Equal(t, []string{"Hello! Send a photo of your crop."}, resp.Messages)
	assert.False(t, resp.Delivered)
}

func TestInbound_GeneratesMessageID(t *testing.T) {
	gw := newTestGateway(t)

	rec := postJSON(t, gw.Handler(), InboundRequest{FarmerID: "f1", Text: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	msgs := gw.handler.Messages()
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].MessageID, 36)
	assert.WithinDuration(t, time.Now(), msgs[0].ReceivedAt, 5*time.Second)
}

func TestInbound_BadRequests(t *testing.T) {
	gw := newTestGateway(t)

	tests := []struct {
		name    string
		body    any
		wantErr string
	}{
		{"missing farmer", InboundRequest{Text: "hi"}, "farmer_id is required"},
		{"blank farmer", InboundRequest{FarmerID: "   ", Text: "hi"}, "farmer_id is required"},
		{"bad timestamp", InboundRequest{FarmerID: "f1", ReceivedAt: "yesterday"}, "received_at must be RFC 3339"},
		{"not an object", []int{1, 2}, "invalid JSON body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, gw.Handler(), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var errResp map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
			assert.Equal(t, tt.wantErr, errResp["error"])
		})
	}
	assert.Empty(t, gw.handler.Messages())
}

func TestInbound_HandlerErrors(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{orchestrator.ErrMissingFarmer, http.StatusBadRequest},
		{fmt.Errorf("waiting for farmer turn: %w", context.Canceled), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		gw := newTestGateway(t)
		gw.handler.err = tt.err
		rec := postJSON(t, gw.Handler(), InboundRequest{FarmerID: "f1", Text: "hi"})
		assert.Equal(t, tt.wantStatus, rec.Code, tt.err.Error())
	}
}

func TestInbound_WebhookToken(t *testing.T) {
	gw := newTestGateway(t, func(cfg *config.Config, d *deps) { cfg.Auth.WebhookToken = "hook" })

	rec := postJSON(t, gw.Handler(), InboundRequest{FarmerID: "f1", Text: "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(t, gw.Handler(), InboundRequest{FarmerID: "f1", Text: "hi"}, "Authorization", "Bearer hook")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, gw.handler.Messages(), 1)
}

func TestInbound_PushesReplies(t *testing.T) {
	sender := &fakeSender{}
	gw := newTestGateway(t, func(cfg *config.Config, d *deps) { d.replies = sender })

	rec := postJSON(t, gw.Handler(), InboundRequest{FarmerID: "f1", Text: "hi", MessageID: "m1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InboundResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Delivered)
	assert.Equal(t, []string{"Hello! Send a photo of your crop."}, sender.sent["f1"])
}

func TestInbound_ReplayIsNotPushedAgain(t *testing.T) {
	sender := &fakeSender{}
	gw := newTestGateway(t, func(cfg *config.Config, d *deps) { d.replies = sender })
	gw.handler.outcome = func(msg orchestrator.InboundMessage) *orchestrator.Outcome {
		return &orchestrator.Outcome{FarmerID: msg.FarmerID, MessageID: msg.MessageID, Bodies: []string{"again"}, Replayed: true}
	}

	rec := postJSON(t, gw.Handler(), InboundRequest{FarmerID: "f1", Text: "hi", MessageID: "m1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InboundResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Replayed)
	assert.False(t, resp.Delivered)
	assert.Equal(t, []string{"again"}, resp.Messages)
	assert.Equal(t, 0, sender.calls)
}

func TestInbound_PushFailureStillAnswers(t *testing.T) {
	sender := &fakeSender{err: errors.New("relay down")}
	gw := newTestGateway(t, func(cfg *config.Config, d *deps) { d.replies = sender })

	rec := postJSON(t, gw.Handler(), InboundRequest{FarmerID: "f1", Text: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InboundResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Delivered)
	assert.NotEmpty(t, resp.Messages)
}

func decodeTwiML(t *testing.T, rec *httptest.ResponseRecorder) twimlResponse {
	t.Helper()
	var doc twimlResponse
	require.NoError(t, xml.NewDecoder(rec.Body).Decode(&doc))
	return doc
}

func TestTwilio_MapsFormAndRendersTwiML(t *testing.T) {
	gw := newTestGateway(t)
	gw.handler.outcome = func(msg orchestrator.InboundMessage) *orchestrator.Outcome {
		return &orchestrator.Outcome{FarmerID: msg.FarmerID, MessageID: msg.MessageID, Bodies: []string{"part one", "part two"}}
	}

	rec := postForm(gw.Handler(), url.Values{
		"From":              {"whatsapp:+254700000001"},
		"Body":              {"check this"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/media/ME1"},
		"MediaContentType0": {"image/jpeg"},
		"MessageSid":        {"SM123"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))

	msgs := gw.handler.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "+254700000001", msgs[0].FarmerID)
	assert.Equal(t, "check this", msgs[0].Text)
	assert.Equal(t, "https://api.twilio.com/media/ME1", msgs[0].MediaRef)
	assert.Equal(t, "SM123", msgs[0].MessageID)

	assert.Equal(t, []string{"part one", "part two"}, decodeTwiML(t, rec).Messages)
}

func TestTwilio_IgnoresNonImageMedia(t *testing.T) {
	gw := newTestGateway(t)

	rec := postForm(gw.Handler(), url.Values{
		"From":              {"whatsapp:+254700000001"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/media/ME2"},
		"MediaContentType0": {"audio/ogg"},
		"MessageSid":        {"SM124"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, gw.handler.Messages()[0].MediaRef)
}

func TestTwilio_MissingFrom(t *testing.T) {
	gw := newTestGateway(t)
	rec := postForm(gw.Handler(), url.Values{"Body": {"hi"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTwilio_PushedRepliesLeaveTwiMLEmpty(t *testing.T) {
	sender := &fakeSender{}
	gw := newTestGateway(t, func(cfg *config.Config, d *deps) { d.replies = sender })

	rec := postForm(gw.Handler(), url.Values{"From": {"whatsapp:+254700000001"}, "Body": {"hi"}, "MessageSid": {"SM1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeTwiML(t, rec).Messages)
	assert.Len(t, sender.sent["+254700000001"], 1)
}

func TestTwilio_PushFailureFallsBackInline(t *testing.T) {
	sender := &fakeSender{err: errors.New("relay down")}
	gw := newTestGateway(t, func(cfg *config.Config, d *deps) { d.replies = sender })

	rec := postForm(gw.Handler(), url.Values{"From": {"whatsapp:+254700000001"}, "Body": {"hi"}, "MessageSid": {"SM1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Hello! Send a photo of your crop."}, decodeTwiML(t, rec).Messages)
}

func TestTwilio_SignatureRequired(t *testing.T) {
	gw := newTestGateway(t, func(cfg *config.Config, d *deps) {
		cfg.Auth.TwilioAuthToken = "tw-secret"
		cfg.Server.PublicURL = "https://awaki.example.org"
	})
	form := url.Values{"From": {"whatsapp:+254700000001"}, "Body": {"hi"}, "MessageSid": {"SM9"}}

	rec := postForm(gw.Handler(), form)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", auth.TwilioSignature("tw-secret", "https://awaki.example.org/webhook/twilio", form))
	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, gw.handler.Messages(), 1)
}
