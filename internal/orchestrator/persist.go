// ABOUTME: Records the farmer and assistant turns plus the profile touch at the end of a message
// ABOUTME: Builds the turn annotation from the detection and weather that shaped the reply

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/awaki-gateway/internal/intent"
	"github.com/2389/awaki-gateway/internal/store"
)

// persist writes the profile update and the turn pair. The assistant turn is
// only written once the farmer turn is stored; failures are joined.
func (o *Orchestrator) persist(ctx context.Context, t *turn, bodies []string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	at := t.msg.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	var errs []error
	if _, err := o.store.UpsertProfile(ctx, t.msg.FarmerID, profileUpdate(t, at)); err != nil {
		errs = append(errs, fmt.Errorf("upsert profile: %w", err))
	}

	farmerTurn := &store.Turn{
		ID:        uuid.New().String(),
		FarmerID:  t.msg.FarmerID,
		MessageID: t.msg.MessageID,
		Speaker:   store.SpeakerFarmer,
		Text:      t.msg.Text,
		MediaRef:  t.msg.MediaRef,
		CreatedAt: at,
	}
	if err := o.store.AppendTurn(ctx, farmerTurn); err != nil {
		return errors.Join(append(errs, fmt.Errorf("append farmer turn: %w", err))...)
	}

	// The store bumps timestamps that would not sort after the farmer turn
	assistantTurn := &store.Turn{
		ID:         uuid.New().String(),
		FarmerID:   t.msg.FarmerID,
		MessageID:  t.msg.MessageID,
		Speaker:    store.SpeakerAssistant,
		Text:       strings.Join(bodies, "\n\n"),
		Annotation: annotation(t, bodies),
		CreatedAt:  time.Now(),
	}
	if err := o.store.AppendTurn(ctx, assistantTurn); err != nil {
		errs = append(errs, fmt.Errorf("append assistant turn: %w", err))
	}
	return errors.Join(errs...)
}

// profileUpdate touches last-seen and records what the message told us about
// the farmer. A place named in a weather question that resolved becomes the
// region with its coordinates. A place the farmer says they are in becomes the
// region without coordinates, unless the geocoder rejected it.
func profileUpdate(t *turn, at time.Time) store.ProfileUpdate {
	update := store.ProfileUpdate{
		SeenAt:           at,
		Name:             t.decision.Name,
		Crops:            t.decision.Crops,
		Language:         t.decision.Language,
		AwaitingLocation: t.askedLocation,
	}
	switch {
	case t.weather != nil && t.decision.HintSource == intent.HintText:
		update.Region = t.weather.Location
		if update.Region == "" {
			update.Region = t.decision.LocationHint
		}
		update.Coordinates = &store.Coordinates{Lat: t.weather.Coordinates.Lat, Lon: t.weather.Coordinates.Lon}
	case t.decision.StatedLocation != "" && !t.locationUnresolved:
		update.Region = t.decision.StatedLocation
	}
	return update
}

// annotation records what evidence the reply was built on and, for a split
// reply, the messages it was sent as. On a total failure it carries neither
// detection nor weather.
func annotation(t *turn, bodies []string) *store.Annotation {
	a := &store.Annotation{
		Intent: string(t.decision.Kind),
		Failed: append([]string(nil), t.failed...),
	}
	if len(bodies) > 1 {
		a.Messages = append([]string(nil), bodies...)
	}
	if t.totalFailure() {
		return a
	}

	if d := t.detection; d != nil {
		note := &store.DetectionNote{
			Label:         d.Label,
			Confidence:    d.Confidence,
			LowConfidence: d.LowConfidence,
		}
		for _, c := range d.Differential {
			note.Differential = append(note.Differential, store.Candidate{Label: c.Label, Confidence: c.Confidence})
		}
		a.Detection = note
	}
	if w := t.weather; w != nil {
		a.Weather = &store.WeatherNote{
			Location:      w.Location,
			Coordinates:   &store.Coordinates{Lat: w.Coordinates.Lat, Lon: w.Coordinates.Lon},
			TempC:         w.TempC,
			Humidity:      w.Humidity,
			Precipitation: w.Precipitation,
			RainMM:        w.RainMM,
		}
	}
	return a
}
