// ABOUTME: Store interface and data types for awaki-gateway persistence
// ABOUTME: Defines FarmerProfile, Turn and the Store interface for the conversation store

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Speaker identifies who produced a conversation turn
type Speaker string

const (
	SpeakerFarmer    Speaker = "farmer"
	SpeakerAssistant Speaker = "assistant"
)

// Coordinates is a resolved geographic position
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// FarmerProfile is the per-address identity record. It is created on the first
// inbound message and touched on every message after that.
type FarmerProfile struct {
	ID          string // channel address, e.g. "+254700000001"
	Region      string // free-text region name as stated by the farmer
	Coordinates *Coordinates
	Name        string
	Crops       []string // canonical crop names, first mention first
	Language    string   // lexicon language code of recent messages
	// AwaitingLocation is set while the last reply is waiting for the farmer to
	// say where their farm is
	AwaitingLocation bool
	CreatedAt        time.Time
	LastSeenAt       time.Time
}

// HasCrop reports whether crop is on the profile.
func (p *FarmerProfile) HasCrop(crop string) bool {
	for _, c := range p.Crops {
		if c == crop {
			return true
		}
	}
	return false
}

// ProfileUpdate carries the fields an upsert may change.
//
// Empty strings and nil Coordinates leave the stored values untouched, except
// that a changed Region without Coordinates clears the old coordinates.
// Crops are added to the stored set. AwaitingLocation is replaced on every update.
type ProfileUpdate struct {
	Region           string
	Coordinates      *Coordinates
	Name             string
	Crops            []string
	Language         string
	AwaitingLocation bool
	SeenAt           time.Time
}

// mergeCrops appends the crops in add that are not already in have.
func mergeCrops(have, add []string) []string {
	out := append([]string(nil), have...)
	for _, c := range add {
		if c == "" {
			continue
		}
		found := false
		for _, h := range out {
			if h == c {
				found = true
				break
			}
		}
		if !found {
			out = append(out, c)
		}
	}
	return out
}

// Candidate is one entry of a disease differential
type Candidate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// DetectionNote records the disease classification an assistant turn used
type DetectionNote struct {
	Label         string      `json:"label"`
	Confidence    float64     `json:"confidence"`
	LowConfidence bool        `json:"low_confidence,omitempty"`
	Differential  []Candidate `json:"differential,omitempty"`
}

// WeatherNote records the weather snapshot an assistant turn used
type WeatherNote struct {
	Location      string       `json:"location"`
	Coordinates   *Coordinates `json:"coordinates,omitempty"`
	TempC         float64      `json:"temp_c"`
	Humidity      float64      `json:"humidity"`
	Precipitation bool         `json:"precipitation"`
	RainMM        float64      `json:"rain_mm,omitempty"`
}

// Annotation is the structured data attached to assistant turns
type Annotation struct {
	Intent    string         `json:"intent,omitempty"`
	Detection *DetectionNote `json:"detection,omitempty"`
	Weather   *WeatherNote   `json:"weather,omitempty"`
	Failed    []string       `json:"failed,omitempty"` // adapters that errored during the turn

	// Messages holds the outbound bodies when the reply was split, so a
	// redelivered message can be answered with the same messages
	Messages []string `json:"messages,omitempty"`
}

// Empty reports whether the annotation carries no backend data
func (a *Annotation) Empty() bool {
	return a == nil || (a.Detection == nil && a.Weather == nil)
}

// Turn is one immutable entry in a farmer's conversation history
type Turn struct {
	ID         string
	FarmerID   string
	MessageID  string // inbound message id the turn belongs to
	Speaker    Speaker
	Text       string
	MediaRef   string
	Annotation *Annotation
	CreatedAt  time.Time
}

// Bodies returns the outbound messages an assistant turn was sent as.
func (t *Turn) Bodies() []string {
	if t.Annotation != nil && len(t.Annotation.Messages) > 0 {
		return append([]string(nil), t.Annotation.Messages...)
	}
	return []string{t.Text}
}

// Exchange is a farmer turn found by a search, with the reply it received.
// Reply is nil when no assistant turn was stored for the message.
type Exchange struct {
	Farmer *Turn
	Reply  *Turn
}

// Stats aggregates store counts for the operator stats endpoint
type Stats struct {
	Farmers            int `json:"farmers"`
	ActiveFarmersSince int `json:"active_farmers_since"` // farmers with a turn at or after since
	Turns              int `json:"turns"`
	TurnsSince         int `json:"turns_since"`
	ImageTurns         int `json:"image_turns"`
}

// Store defines the interface for farmer and conversation persistence.
//
// Turns are append-only. AppendTurn keeps timestamps strictly increasing per
// farmer: a turn stamped at or before the farmer's latest turn is moved to just
// after it, so ReadWindow order and timestamp order always agree.
type Store interface {
	// Turns
	AppendTurn(ctx context.Context, turn *Turn) error
	ReadWindow(ctx context.Context, farmerID string, n int) ([]*Turn, error)

	// FindReply returns the assistant turn stored for an inbound message id,
	// or ErrNotFound
	FindReply(ctx context.Context, farmerID, messageID string) (*Turn, error)

	// SearchTurns finds farmer turns whose text contains query
	// (case-insensitive), newest first, each with its reply
	SearchTurns(ctx context.Context, query string, limit int) ([]*Exchange, error)

	// Profiles
	GetProfile(ctx context.Context, farmerID string) (*FarmerProfile, error)
	UpsertProfile(ctx context.Context, farmerID string, update ProfileUpdate) (*FarmerProfile, error)

	// Stats returns counts; the Since fields count from since onwards
	Stats(ctx context.Context, since time.Time) (*Stats, error)

	// Ping checks the store is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// nextTimestamp returns ts, or the smallest instant after last when ts does not
// come after it.
func nextTimestamp(ts, last time.Time) time.Time {
	if ts.After(last) {
		return ts
	}
	return last.Add(time.Nanosecond)
}
