// ABOUTME: Advisory adapter backed by the Anthropic Messages API
// ABOUTME: Builds a chronological prompt from the conversation window and returns AdvisoryText

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	defaultAdvisoryBaseURL = "https://api.anthropic.com"
	defaultAdvisoryModel   = "claude-sonnet-4-20250514"
	anthropicVersion       = "2023-06-01"
)

// Role of a window entry in the advisory prompt
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// WindowEntry is one prior exchange passed to the advisory model
type WindowEntry struct {
	Role Role
	Text string
	At   time.Time
}

// AdvisoryRequest asks the model for farming advice
type AdvisoryRequest struct {
	FarmerID string
	Window   []WindowEntry
	Text     string // the farmer's current message
	Context  string // evidence gathered this turn (detection label, weather snapshot)
}

// AdvisoryConfig configures the advisory adapter
type AdvisoryConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Policy      Policy
}

// AdvisoryAdapter calls the language model for advisory prose
type AdvisoryAdapter struct {
	cfg    AdvisoryConfig
	client *http.Client
	logger *slog.Logger
}

// NewAdvisoryAdapter creates an advisory adapter. A nil client uses http.DefaultClient.
func NewAdvisoryAdapter(cfg AdvisoryConfig, client *http.Client, logger *slog.Logger) *AdvisoryAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAdvisoryBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultAdvisoryModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Policy.Timeout == 0 {
		cfg.Policy.Timeout = DefaultAdvisoryTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdvisoryAdapter{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "advisory"),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Invoke asks the model for advice on the farmer's message.
func (a *AdvisoryAdapter) Invoke(ctx context.Context, req AdvisoryRequest) (AdvisoryText, error) {
	payload, err := json.Marshal(anthropicRequest{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		System:      systemPrompt,
		Messages:    buildMessages(req),
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return AdvisoryText{}, fmt.Errorf("marshaling advisory request: %w", err)
	}

	start := time.Now()
	res, err := run(ctx, a.cfg.Policy, AdapterAdvisory, a.logger, func(ctx context.Context) (AdvisoryText, error) {
		return a.call(ctx, payload)
	})
	if err != nil {
		a.logger.Warn("advisory call failed", "farmer_id", req.FarmerID, "kind", KindOf(err), "error", err)
		return AdvisoryText{}, err
	}

	a.logger.Debug("advisory call completed",
		"farmer_id", req.FarmerID,
		"window", len(req.Window),
		"elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}

func (a *AdvisoryAdapter) call(ctx context.Context, payload []byte) (AdvisoryText, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.cfg.BaseURL, "/")+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return AdvisoryText{}, newError(AdapterAdvisory, KindMalformedResponse, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	body, err := doRequest(a.client, AdapterAdvisory, httpReq, maxResponseBytes)
	if err != nil {
		return AdvisoryText{}, err
	}

	var parsed anthropicResponse
	if err := decodeJSON(AdapterAdvisory, body, &parsed); err != nil {
		return AdvisoryText{}, err
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return AdvisoryText{}, newError(AdapterAdvisory, KindMalformedResponse, fmt.Errorf("empty model response"))
	}
	return AdvisoryText{Text: text}, nil
}

// buildMessages renders the request as an alternating user/assistant message
// list. The window is ordered oldest to newest (stable on equal timestamps),
// consecutive same-role entries are merged, leading assistant entries are
// dropped, and the current message with any gathered context goes last.
func buildMessages(req AdvisoryRequest) []anthropicMessage {
	window := make([]WindowEntry, len(req.Window))
	copy(window, req.Window)
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].At.Before(window[j].At)
	})

	msgs := make([]anthropicMessage, 0, len(window)+1)
	appendMsg := func(role Role, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if len(msgs) == 0 && role != RoleUser {
			return
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == string(role) {
			msgs[n-1].Content += "\n\n" + text
			return
		}
		msgs = append(msgs, anthropicMessage{Role: string(role), Content: text})
	}

	for _, e := range window {
		appendMsg(e.Role, e.Text)
	}

	current := strings.TrimSpace(req.Text)
	if req.Context != "" {
		if current == "" {
			current = req.Context
		} else {
			current = req.Context + "\n\nThe farmer asks: " + current
		}
	}
	if current == "" {
		current = "Hello"
	}
	appendMsg(RoleUser, current)

	return msgs
}

const systemPrompt = `You are AwakiFarmer, an agricultural assistant for African smallholder farmers growing maize and coffee.

Help farmers identify crop diseases and pests, and give practical, affordable advice that can be carried out with locally available inputs. Understand East African conditions: long rains March to May, short rains October to December.

Keep answers to two or three short paragraphs in plain language. Give concrete quantities and timings. Offer organic or cultural options before chemical ones, and name the chemical only with its dosage. When detection results or weather data are supplied, base the advice on them.

Never recommend machinery or products unavailable in rural areas, and never promise yield improvements.`
