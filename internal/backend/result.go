// ABOUTME: Result types produced by the backend adapters
// ABOUTME: AdvisoryText, DiseaseDetection and WeatherSnapshot behind a sealed Result interface

package backend

import (
	"sort"
	"time"
)

// Result is implemented by every adapter result type.
type Result interface {
	isResult()
}

// AdvisoryText is prose returned by the advisory model
type AdvisoryText struct {
	Text string
}

// Candidate is one (label, confidence) pair of a classification
type Candidate struct {
	Label      string
	Confidence float64
}

// DiseaseDetection is the image classifier's verdict.
// Differential holds at most three candidates sorted by descending confidence;
// the first entry is the top prediction.
type DiseaseDetection struct {
	Label         string
	Confidence    float64
	Differential  []Candidate
	LowConfidence bool
}

// Coordinates is a resolved position
type Coordinates struct {
	Lat float64
	Lon float64
}

// WeatherSnapshot is current conditions plus a 24h rain outlook
type WeatherSnapshot struct {
	Location      string
	Country       string
	Coordinates   Coordinates
	TempC         float64
	FeelsLikeC    float64
	Humidity      float64
	WindKPH       float64
	Description   string
	Precipitation bool    // rain expected within the forecast horizon
	RainMM        float64 // total expected rain over the horizon
	ObservedAt    time.Time
}

func (AdvisoryText) isResult()     {}
func (DiseaseDetection) isResult() {}
func (WeatherSnapshot) isResult()  {}

// maxDifferential is how many candidates a detection keeps
const maxDifferential = 3

// newDetection builds a detection from raw predictions: confidences clamped to
// [0,1], sorted descending (label breaks ties), truncated to the top three.
func newDetection(preds []Candidate, floor float64) DiseaseDetection {
	cands := make([]Candidate, 0, len(preds))
	for _, p := range preds {
		if p.Label == "" {
			continue
		}
		cands = append(cands, Candidate{Label: p.Label, Confidence: clamp01(p.Confidence)})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Confidence != cands[j].Confidence {
			return cands[i].Confidence > cands[j].Confidence
		}
		return cands[i].Label < cands[j].Label
	})
	if len(cands) > maxDifferential {
		cands = cands[:maxDifferential]
	}

	var d DiseaseDetection
	d.Differential = cands
	if len(cands) > 0 {
		d.Label = cands[0].Label
		d.Confidence = cands[0].Confidence
	}
	d.LowConfidence = d.Confidence < floor
	return d
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
