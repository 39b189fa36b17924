// ABOUTME: Vision adapter backed by a Hugging Face image-classification endpoint
// ABOUTME: Downloads the farmer's photo, classifies it, and returns a ranked DiseaseDetection

package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
)

const (
	defaultVisionModelURL = "https://api-inference.huggingface.co/models/Diginsa/Plant-Disease-Detection-Project"

	// DefaultConfidenceFloor is the top confidence below which a detection is hedged
	DefaultConfidenceFloor = 0.4

	defaultMaxMediaBytes = 10 << 20
)

// VisionRequest references the photo to classify. Crop, when known, selects
// a crop-specific model.
type VisionRequest struct {
	FarmerID string
	MediaURL string
	Crop     string
}

// VisionConfig configures the vision adapter
type VisionConfig struct {
	ModelURL        string
	MaizeModelURL   string // used for photos of maize when set
	APIToken        string
	ConfidenceFloor float64
	MaxMediaBytes   int64

	// Basic auth for fetching media, e.g. Twilio account SID and auth token
	MediaUsername string
	MediaPassword string

	Policy Policy
}

// VisionAdapter classifies crop photos
type VisionAdapter struct {
	cfg    VisionConfig
	client *http.Client
	logger *slog.Logger
}

// NewVisionAdapter creates a vision adapter. A nil client uses http.DefaultClient.
func NewVisionAdapter(cfg VisionConfig, client *http.Client, logger *slog.Logger) *VisionAdapter {
	if cfg.ModelURL == "" {
		cfg.ModelURL = defaultVisionModelURL
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = DefaultConfidenceFloor
	}
	if cfg.MaxMediaBytes <= 0 {
		cfg.MaxMediaBytes = defaultMaxMediaBytes
	}
	if cfg.Policy.Timeout == 0 {
		cfg.Policy.Timeout = DefaultVisionTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionAdapter{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "vision"),
	}
}

type prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Invoke downloads and classifies the referenced photo.
func (v *VisionAdapter) Invoke(ctx context.Context, req VisionRequest) (DiseaseDetection, error) {
	if req.MediaURL == "" {
		return DiseaseDetection{}, newError(AdapterVision, KindMalformedResponse, fmt.Errorf("empty media reference"))
	}

	start := time.Now()
	res, err := run(ctx, v.cfg.Policy, AdapterVision, v.logger, func(ctx context.Context) (DiseaseDetection, error) {
		return v.call(ctx, v.modelFor(req.Crop), req.MediaURL)
	})
	if err != nil {
		v.logger.Warn("vision call failed", "farmer_id", req.FarmerID, "kind", KindOf(err), "error", err)
		return DiseaseDetection{}, err
	}

	v.logger.Info("image classified",
		"farmer_id", req.FarmerID,
		"crop", req.Crop,
		"label", res.Label,
		"confidence", res.Confidence,
		"low_confidence", res.LowConfidence,
		"elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}

// modelFor picks the inference endpoint for a crop.
func (v *VisionAdapter) modelFor(crop string) string {
	if strings.EqualFold(crop, "maize") && v.cfg.MaizeModelURL != "" {
		return v.cfg.MaizeModelURL
	}
	return v.cfg.ModelURL
}

func (v *VisionAdapter) call(ctx context.Context, modelURL, mediaURL string) (DiseaseDetection, error) {
	image, err := v.fetchMedia(ctx, mediaURL)
	if err != nil {
		return DiseaseDetection{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, modelURL, bytes.NewReader(image))
	if err != nil {
		return DiseaseDetection{}, newError(AdapterVision, KindMalformedResponse, err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	if v.cfg.APIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.cfg.APIToken)
	}

	body, err := doRequest(v.client, AdapterVision, httpReq, maxResponseBytes)
	if err != nil {
		return DiseaseDetection{}, err
	}

	var preds []prediction
	if err := decodeJSON(AdapterVision, body, &preds); err != nil {
		return DiseaseDetection{}, err
	}

	cands := make([]Candidate, 0, len(preds))
	for _, p := range preds {
		cands = append(cands, Candidate{Label: cleanLabel(p.Label), Confidence: p.Score})
	}

	det := newDetection(cands, v.cfg.ConfidenceFloor)
	if det.Label == "" {
		return DiseaseDetection{}, newError(AdapterVision, KindMalformedResponse, fmt.Errorf("no predictions"))
	}
	return det, nil
}

func (v *VisionAdapter) fetchMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, newError(AdapterVision, KindMalformedResponse, fmt.Errorf("media reference: %w", err))
	}
	if v.cfg.MediaUsername != "" {
		httpReq.SetBasicAuth(v.cfg.MediaUsername, v.cfg.MediaPassword)
	}

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(AdapterVision, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, classifyStatus(AdapterVision, resp.StatusCode, body)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, v.cfg.MaxMediaBytes+1))
	if err != nil {
		return nil, classifyTransport(AdapterVision, err)
	}
	if int64(len(data)) > v.cfg.MaxMediaBytes {
		return nil, newError(AdapterVision, KindMalformedResponse, fmt.Errorf("media exceeds %d bytes", v.cfg.MaxMediaBytes))
	}
	if len(data) == 0 {
		return nil, newError(AdapterVision, KindMalformedResponse, fmt.Errorf("empty media"))
	}
	return data, nil
}

// cleanLabel turns model labels like "Corn_(maize)___Northern_Leaf_Blight" into
// "Corn (maize) Northern Leaf Blight".
func cleanLabel(label string) string {
	fields := strings.Fields(strings.ReplaceAll(label, "_", " "))
	for i, f := range fields {
		r := []rune(f)
		if len(r) > 0 && unicode.IsLower(r[0]) && r[0] != '(' {
			r[0] = unicode.ToUpper(r[0])
			fields[i] = string(r)
		}
	}
	return strings.Join(fields, " ")
}
