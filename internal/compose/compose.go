// ABOUTME: Renders merged reply sections into channel-sized message bodies
// ABOUTME: Headers per section, confidence hedging, and section-boundary splitting

package compose

import (
	"fmt"
	"sort"
	"strings"

	"github.com/2389/awaki-gateway/internal/agronomy"
	"github.com/2389/awaki-gateway/internal/backend"
)

// DefaultLimit is the WhatsApp single-message limit enforced by Twilio
const DefaultLimit = 1600

// Canned texts. These are the only fixed strings the farmer ever sees.
const (
	ApologyText = "Sorry, I couldn't process your message right now. Please try again in a few minutes."

	UnknownText = "I didn't quite catch that. You can ask me about your crops, send a photo of a sick plant, or ask about the weather."

	LocationText = "To give you weather advice I need to know where your farm is. Please reply with your town or county, for example \"Nyeri\"."
)

// LocationNotFoundText asks the farmer to restate a place the geocoder could not resolve.
func LocationNotFoundText(place string) string {
	return fmt.Sprintf("I couldn't find a place called %q. Please send the name of the nearest town.", place)
}

// SectionKind identifies a reply section. The numeric order is the render order.
type SectionKind int

const (
	SectionDetection SectionKind = iota
	SectionWeather
	SectionPlanting
	SectionAdvisory
	SectionClarification
	SectionApology
)

func (k SectionKind) String() string {
	switch k {
	case SectionDetection:
		return "detection"
	case SectionWeather:
		return "weather"
	case SectionPlanting:
		return "planting"
	case SectionAdvisory:
		return "advisory"
	case SectionClarification:
		return "clarification"
	case SectionApology:
		return "apology"
	default:
		return fmt.Sprintf("section(%d)", int(k))
	}
}

// Section is one part of a reply. Detection and Weather are set for their
// kinds; Text carries advisory prose, planting guidance or clarification wording.
type Section struct {
	Kind      SectionKind
	Detection *backend.DiseaseDetection
	Weather   *backend.WeatherSnapshot
	Text      string
}

// Payload is the merged set of sections for one reply
type Payload struct {
	Sections []Section
}

// Kinds lists the section kinds in render order.
func (p Payload) Kinds() []SectionKind {
	kinds := make([]SectionKind, 0, len(p.Sections))
	for _, s := range ordered(p.Sections) {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

// Composer turns payloads into message bodies. The zero value uses
// DefaultLimit and backend.DefaultConfidenceFloor.
type Composer struct {
	Limit int
	Floor float64 // detections below this confidence are hedged
}

// New creates a composer with the given per-message limit in characters and
// confidence floor.
func New(limit int, floor float64) *Composer {
	return &Composer{Limit: limit, Floor: floor}
}

// Hedged reports whether a detection must be presented as uncertain.
func (c *Composer) Hedged(d *backend.DiseaseDetection) bool {
	floor := c.Floor
	if floor <= 0 {
		floor = backend.DefaultConfidenceFloor
	}
	return d.LowConfidence || d.Confidence < floor
}

// Render produces one or more message bodies, each within the limit.
// The same payload always renders to the same bodies.
func (c *Composer) Render(p Payload) []string {
	limit := c.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	sections := ordered(p.Sections)
	blocks := make([]string, 0, len(sections))
	for _, s := range sections {
		if blk := c.renderSection(s, len(blocks) > 0); blk != "" {
			blocks = append(blocks, blk)
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, ApologyText)
	}
	return pack(blocks, limit)
}

func ordered(sections []Section) []Section {
	out := make([]Section, len(sections))
	copy(out, sections)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Kind < out[j].Kind
	})
	return out
}

// renderSection formats one section. The advice header is only shown when
// another section precedes it, so a plain answer reads as a normal chat reply.
func (c *Composer) renderSection(s Section, hasPrevious bool) string {
	switch s.Kind {
	case SectionDetection:
		if s.Detection == nil {
			return ""
		}
		return "*Disease check*\n" + detectionBody(s.Detection, c.Hedged(s.Detection))
	case SectionWeather:
		if s.Weather == nil {
			return ""
		}
		return "*Weather for " + weatherPlace(s.Weather) + "*\n" + weatherBody(s.Weather)
	case SectionPlanting:
		body := strings.TrimSpace(s.Text)
		if body == "" {
			return ""
		}
		return "*Planting calendar*\n" + body
	case SectionAdvisory:
		body := NormalizeMarkdown(s.Text)
		if body == "" {
			return ""
		}
		if hasPrevious {
			return "*Advice*\n" + body
		}
		return body
	default:
		return strings.TrimSpace(s.Text)
	}
}

func detectionBody(d *backend.DiseaseDetection, hedged bool) string {
	var b strings.Builder
	if hedged {
		fmt.Fprintf(&b, "I'm not certain, but this is possibly *%s* (%s confidence). "+
			"A clearer photo of the affected leaves in daylight would help me check again.",
			d.Label, percent(d.Confidence))
	} else {
		fmt.Fprintf(&b, "This looks like *%s* (%s confidence).", d.Label, percent(d.Confidence))
	}

	var others []string
	for _, cand := range d.Differential {
		if cand.Label == d.Label {
			continue
		}
		others = append(others, fmt.Sprintf("%s (%s)", cand.Label, percent(cand.Confidence)))
	}
	if len(others) > 0 {
		b.WriteString("\nOther candidates: " + strings.Join(others, ", ") + ".")
	}
	return b.String()
}

func weatherPlace(w *backend.WeatherSnapshot) string {
	if w.Country != "" {
		return w.Location + ", " + w.Country
	}
	return w.Location
}

func weatherBody(w *backend.WeatherSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Now: %.0f°C", w.TempC)
	if w.FeelsLikeC != 0 && w.FeelsLikeC != w.TempC {
		fmt.Fprintf(&b, " (feels like %.0f°C)", w.FeelsLikeC)
	}
	fmt.Fprintf(&b, ", humidity %.0f%%", w.Humidity)
	if w.WindKPH > 0 {
		fmt.Fprintf(&b, ", wind %.0f km/h", w.WindKPH)
	}
	if w.Description != "" {
		b.WriteString(", " + w.Description)
	}
	b.WriteString(".\n")
	if w.Precipitation {
		fmt.Fprintf(&b, "Rain expected in the next 24 hours (about %.1f mm).", w.RainMM)
	} else {
		b.WriteString("No rain expected in the next 24 hours.")
	}

	b.WriteString("\n" + agronomy.Irrigation(*w))
	for _, warning := range agronomy.Warnings(*w) {
		b.WriteString("\n" + warning)
	}
	return b.String()
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}
