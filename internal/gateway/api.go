// ABOUTME: Operator HTTP API for stats, farmer conversation history and turn search
// ABOUTME: Read-only endpoints guarded by operator JWTs

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/awaki-gateway/internal/orchestrator"
	"github.com/2389/awaki-gateway/internal/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	defaultStatsWindow  = 24 * time.Hour
)

// StatsResponse is the JSON response for GET /api/stats
type StatsResponse struct {
	Since         string                `json:"since"`
	Store         *store.Stats          `json:"store"`
	Orchestrator  orchestrator.Counters `json:"orchestrator"`
	ReplayEntries int                   `json:"replay_entries"`
}

// HistoryTurn is one turn in GET /api/farmers/{id}/history
type HistoryTurn struct {
	ID         string            `json:"id"`
	MessageID  string            `json:"message_id,omitempty"`
	Speaker    string            `json:"speaker"`
	Text       string            `json:"text"`
	MediaRef   string            `json:"media_ref,omitempty"`
	Annotation *store.Annotation `json:"annotation,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

// HistoryResponse is the JSON response for GET /api/farmers/{id}/history
type HistoryResponse struct {
	FarmerID         string             `json:"farmer_id"`
	Name             string             `json:"name,omitempty"`
	Region           string             `json:"region,omitempty"`
	Coordinates      *store.Coordinates `json:"coordinates,omitempty"`
	Crops            []string           `json:"crops,omitempty"`
	Language         string             `json:"language,omitempty"`
	AwaitingLocation bool               `json:"awaiting_location,omitempty"`
	LastSeenAt       string             `json:"last_seen_at"`
	Turns            []HistoryTurn      `json:"turns"`
}

// SearchHit is one farmer message in GET /api/turns with the reply it got
type SearchHit struct {
	FarmerID string       `json:"farmer_id"`
	Turn     HistoryTurn  `json:"turn"`
	Reply    *HistoryTurn `json:"reply,omitempty"`
}

// SearchResponse is the JSON response for GET /api/turns
type SearchResponse struct {
	Query string      `json:"query"`
	Hits  []SearchHit `json:"hits"`
}

// handleStats handles GET /api/stats. The optional since parameter (RFC 3339)
// bounds the recent-turns count and defaults to the last 24 hours.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-defaultStatsWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = ts
	}

	stats, err := g.store.Stats(r.Context(), since)
	if err != nil {
		g.logger.Error("failed to read store stats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := StatsResponse{
		Since:        since.UTC().Format(time.RFC3339),
		Store:        stats,
		Orchestrator: g.handler.Counters(),
	}
	if g.replay != nil {
		resp.ReplayEntries = g.replay.Len()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleFarmerHistory handles GET /api/farmers/{id}/history.
// Returns the most recent turns oldest first; limit defaults to 20, max 100.
func (g *Gateway) handleFarmerHistory(w http.ResponseWriter, r *http.Request) {
	farmerID := r.PathValue("id")
	if farmerID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "farmer id is required")
		return
	}

	limit, ok := g.parseLimit(w, r)
	if !ok {
		return
	}

	profile, err := g.store.GetProfile(r.Context(), farmerID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "farmer not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load farmer profile", "farmer_id", farmerID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	turns, err := g.store.ReadWindow(r.Context(), farmerID, limit)
	if err != nil {
		g.logger.Error("failed to read farmer history", "farmer_id", farmerID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := HistoryResponse{
		FarmerID:         profile.ID,
		Name:             profile.Name,
		Region:           profile.Region,
		Coordinates:      profile.Coordinates,
		Crops:            profile.Crops,
		Language:         profile.Language,
		AwaitingLocation: profile.AwaitingLocation,
		LastSeenAt:       profile.LastSeenAt.UTC().Format(time.RFC3339),
		Turns:            make([]HistoryTurn, len(turns)),
	}
	for i, t := range turns {
		resp.Turns[i] = historyTurn(t)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleSearchTurns handles GET /api/turns?q=. It finds farmer messages
// containing q, newest first; limit defaults to 20, max 100.
func (g *Gateway) handleSearchTurns(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		g.sendJSONError(w, http.StatusBadRequest, "q is required")
		return
	}

	limit, ok := g.parseLimit(w, r)
	if !ok {
		return
	}

	hits, err := g.store.SearchTurns(r.Context(), q, limit)
	if err != nil {
		g.logger.Error("failed to search turns", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := SearchResponse{Query: q, Hits: make([]SearchHit, len(hits))}
	for i, ex := range hits {
		resp.Hits[i] = SearchHit{FarmerID: ex.Farmer.FarmerID, Turn: historyTurn(ex.Farmer)}
		if ex.Reply != nil {
			reply := historyTurn(ex.Reply)
			resp.Hits[i].Reply = &reply
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// parseLimit reads the limit query parameter. On a bad value it writes the
// error response and returns false.
func (g *Gateway) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultHistoryLimit, true
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed < 1 {
		g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(parsed, maxHistoryLimit), true
}

func historyTurn(t *store.Turn) HistoryTurn {
	return HistoryTurn{
		ID:         t.ID,
		MessageID:  t.MessageID,
		Speaker:    string(t.Speaker),
		Text:       t.Text,
		MediaRef:   t.MediaRef,
		Annotation: t.Annotation,
		CreatedAt:  t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
