// ABOUTME: Per-intent dispatch table and the merge of backend results into reply sections
// ABOUTME: First-stage backend calls run alongside the window read; advisory runs after them

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/awaki-gateway/internal/agronomy"
	"github.com/2389/awaki-gateway/internal/backend"
	"github.com/2389/awaki-gateway/internal/compose"
	"github.com/2389/awaki-gateway/internal/intent"
	"github.com/2389/awaki-gateway/internal/store"
)

// errNotConfigured is reported for a backend that was never wired
var errNotConfigured = errors.New("backend not configured")

// dispatchFunc gathers the backend results for one intent into t
type dispatchFunc func(ctx context.Context, logger *slog.Logger, t *turn)

// turn is the working state of one message between dispatch and persist
type turn struct {
	msg      InboundMessage
	decision intent.Decision
	profile  *store.FarmerProfile
	window   []backend.WindowEntry

	advice    *backend.AdvisoryText
	detection *backend.DiseaseDetection
	weather   *backend.WeatherSnapshot
	planting  string
	clarify   string

	// askedLocation is set when the reply asks where the farm is;
	// locationUnresolved when the geocoder rejected the place named
	askedLocation      bool
	locationUnresolved bool

	invoked []string
	failed  []string
}

func (o *Orchestrator) dispatchTable() map[intent.Kind]dispatchFunc {
	return map[intent.Kind]dispatchFunc{
		intent.KindGreeting:        o.dispatchAdvisory,
		intent.KindGeneralAdvisory: o.dispatchAdvisory,
		intent.KindDiseaseQuery:    o.dispatchDisease,
		intent.KindWeatherQuery:    o.dispatchWeather,
		intent.KindUnknown:         o.dispatchUnknown,
	}
}

func (o *Orchestrator) dispatchAdvisory(ctx context.Context, logger *slog.Logger, t *turn) {
	t.window = o.readWindow(ctx, logger, t.msg.FarmerID)
	o.callAdvisory(ctx, logger, t, "")
}

func (o *Orchestrator) dispatchDisease(ctx context.Context, logger *slog.Logger, t *turn) {
	var g errgroup.Group
	g.Go(func() error {
		t.window = o.readWindow(ctx, logger, t.msg.FarmerID)
		return nil
	})
	g.Go(func() error {
		t.record(backend.AdapterVision)
		if o.vision == nil {
			o.adapterFailed(logger, t, backend.AdapterVision, errNotConfigured)
			return nil
		}
		det, err := o.vision.Invoke(ctx, backend.VisionRequest{
			FarmerID: t.msg.FarmerID,
			MediaURL: t.msg.MediaRef,
			Crop:     t.crop(),
		})
		if err != nil {
			o.adapterFailed(logger, t, backend.AdapterVision, err)
			return nil
		}
		t.detection = &det
		return nil
	})
	_ = g.Wait()

	o.callAdvisory(ctx, logger, t, o.detectionContext(t.detection))
}

func (o *Orchestrator) dispatchWeather(ctx context.Context, logger *slog.Logger, t *turn) {
	if t.decision.LocationHint == "" {
		t.clarify = compose.LocationText
		t.askedLocation = true
		o.dispatchAdvisory(ctx, logger, t)
		return
	}

	req := backend.WeatherRequest{FarmerID: t.msg.FarmerID, Location: t.decision.LocationHint}
	if t.decision.HintSource == intent.HintProfile && t.profile != nil && t.profile.Coordinates != nil {
		req.Coordinates = &backend.Coordinates{Lat: t.profile.Coordinates.Lat, Lon: t.profile.Coordinates.Lon}
	}

	var g errgroup.Group
	g.Go(func() error {
		t.window = o.readWindow(ctx, logger, t.msg.FarmerID)
		return nil
	})
	g.Go(func() error {
		t.record(backend.AdapterWeather)
		if o.weather == nil {
			o.adapterFailed(logger, t, backend.AdapterWeather, errNotConfigured)
			return nil
		}
		snap, err := o.weather.Invoke(ctx, req)
		if err != nil {
			o.adapterFailed(logger, t, backend.AdapterWeather, err)
			if backend.IsKind(err, backend.KindLocationNotResolved) {
				t.clarify = compose.LocationNotFoundText(t.decision.LocationHint)
				t.askedLocation = true
				t.locationUnresolved = true
			}
			return nil
		}
		t.weather = &snap
		return nil
	})
	_ = g.Wait()

	o.callAdvisory(ctx, logger, t, weatherContext(t.weather))
}

func (o *Orchestrator) dispatchUnknown(_ context.Context, _ *slog.Logger, t *turn) {
	t.clarify = compose.UnknownText
}

func (o *Orchestrator) callAdvisory(ctx context.Context, logger *slog.Logger, t *turn, evidence string) {
	if t.decision.Kind == intent.KindDiseaseQuery && t.detection == nil {
		evidence = "The farmer sent a crop photo but it could not be analysed. " +
			"Ask them to describe the symptoms or send a clearer photo."
	}

	if t.planting != "" {
		evidence = joinContext(evidence, "Planting calendar for "+t.plantingCrop()+" this month: "+plain(t.planting))
	}
	evidence = joinContext(farmerContext(t), evidence)

	t.record(backend.AdapterAdvisory)
	res, err := o.advisory.Invoke(ctx, backend.AdvisoryRequest{
		FarmerID: t.msg.FarmerID,
		Window:   t.window,
		Text:     t.msg.Text,
		Context:  evidence,
	})
	if err != nil {
		o.adapterFailed(logger, t, backend.AdapterAdvisory, err)
		return
	}
	t.advice = &res
}

func (o *Orchestrator) adapterFailed(logger *slog.Logger, t *turn, adapter string, err error) {
	o.adapterFails.Add(1)
	t.failed = append(t.failed, adapter)
	logger.Warn("backend call failed",
		"adapter", adapter,
		"kind", backend.KindOf(err),
		"error", err)
}

// record notes that an adapter was invoked. Vision and weather run alongside
// the window read only, so there is never more than one writer.
func (t *turn) record(adapter string) {
	t.invoked = append(t.invoked, adapter)
}

// totalFailure is true when backends were invoked and every one of them failed.
func (t *turn) totalFailure() bool {
	return len(t.invoked) > 0 && len(t.failed) == len(t.invoked)
}

// merge turns gathered results into ordered sections. A total failure
// collapses to a single apology.
func (t *turn) merge() compose.Payload {
	if t.totalFailure() {
		return compose.Payload{Sections: []compose.Section{{Kind: compose.SectionApology, Text: compose.ApologyText}}}
	}

	var sections []compose.Section
	if t.detection != nil {
		sections = append(sections, compose.Section{Kind: compose.SectionDetection, Detection: t.detection})
	}
	if t.weather != nil {
		sections = append(sections, compose.Section{Kind: compose.SectionWeather, Weather: t.weather})
	}
	if t.planting != "" {
		sections = append(sections, compose.Section{Kind: compose.SectionPlanting, Text: t.planting})
	}
	if t.advice != nil && strings.TrimSpace(t.advice.Text) != "" {
		sections = append(sections, compose.Section{Kind: compose.SectionAdvisory, Text: t.advice.Text})
	}
	if t.clarify != "" {
		sections = append(sections, compose.Section{Kind: compose.SectionClarification, Text: t.clarify})
	}
	if len(sections) == 0 {
		sections = append(sections, compose.Section{Kind: compose.SectionApology, Text: compose.ApologyText})
	}
	return compose.Payload{Sections: sections}
}

// crop is the crop the message is about: the first one named, else the
// farmer's only crop on record.
func (t *turn) crop() string {
	if len(t.decision.Crops) > 0 {
		return t.decision.Crops[0]
	}
	if t.profile != nil && len(t.profile.Crops) == 1 {
		return t.profile.Crops[0]
	}
	return ""
}

// plantingCrop is the first crop with a planting calendar, from the message
// and then from the profile.
func (t *turn) plantingCrop() string {
	for _, c := range t.decision.Crops {
		if agronomy.HasCalendar(c) {
			return c
		}
	}
	if t.profile != nil {
		for _, c := range t.profile.Crops {
			if agronomy.HasCalendar(c) {
				return c
			}
		}
	}
	return ""
}

// plantingNote returns calendar advice for planting questions about a crop
// with a calendar, for the month the message arrived.
func plantingNote(t *turn) string {
	if !t.decision.Planting {
		return ""
	}
	at := t.msg.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	text, ok := agronomy.Planting(t.plantingCrop(), at.Month())
	if !ok {
		return ""
	}
	return text
}

// farmerContext tells the model what is known about the farmer.
func farmerContext(t *turn) string {
	var facts []string
	if p := t.profile; p != nil {
		if p.Name != "" {
			facts = append(facts, "name "+p.Name)
		}
		if p.Region != "" {
			facts = append(facts, "farms in "+p.Region)
		}
		if len(p.Crops) > 0 {
			facts = append(facts, "grows "+strings.Join(p.Crops, ", "))
		}
	}

	var b strings.Builder
	if len(facts) > 0 {
		b.WriteString("About the farmer: " + strings.Join(facts, "; ") + ".")
	}
	if t.decision.Language == "sw" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("The farmer writes in Swahili, so reply in Swahili.")
	}
	return b.String()
}

func joinContext(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}

// plain strips the chat emphasis markers from reply text.
func plain(s string) string {
	return strings.ReplaceAll(s, "*", "")
}

func (o *Orchestrator) detectionContext(d *backend.DiseaseDetection) string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "A crop disease classifier analysed the farmer's photo. Top result: %s (%.0f%% confidence).",
		d.Label, d.Confidence*100)
	if len(d.Differential) > 1 {
		var others []string
		for _, c := range d.Differential[1:] {
			others = append(others, fmt.Sprintf("%s (%.0f%%)", c.Label, c.Confidence*100))
		}
		b.WriteString(" Other candidates: " + strings.Join(others, ", ") + ".")
	}
	if o.composer.Hedged(d) {
		b.WriteString(" The classifier is not confident, so say the diagnosis is uncertain.")
	}
	b.WriteString(" Explain the likely cause and practical treatment steps.")
	return b.String()
}

func weatherContext(w *backend.WeatherSnapshot) string {
	if w == nil {
		return ""
	}
	place := w.Location
	if w.Country != "" {
		place += ", " + w.Country
	}
	rain := "no rain expected in the next 24 hours"
	if w.Precipitation {
		rain = fmt.Sprintf("about %.1f mm of rain expected in the next 24 hours", w.RainMM)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Current weather in %s: %.0f°C, humidity %.0f%%, %s; %s. ",
		place, w.TempC, w.Humidity, w.Description, rain)
	b.WriteString("Irrigation rule of thumb: " + plain(agronomy.Irrigation(*w)))
	for _, warn := range agronomy.Warnings(*w) {
		b.WriteString(" " + plain(warn))
	}
	b.WriteString(" Use this to advise on irrigation and field work.")
	return b.String()
}
