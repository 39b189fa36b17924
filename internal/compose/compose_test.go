// ABOUTME: Tests for reply rendering, hedging, markdown normalization and splitting
// ABOUTME: Checks section order, size limits, and deterministic output

package compose

import (
	"fmt"
	"strings"
	"testing"

	"github.com/2389/awaki-gateway/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blightDetection(low bool) *backend.DiseaseDetection {
	d := &backend.DiseaseDetection{
		Label:      "Northern Corn Leaf Blight",
		Confidence: 0.873,
		Differential: []backend.Candidate{
			{Label: "Northern Corn Leaf Blight", Confidence: 0.873},
			{Label: "Common Rust", Confidence: 0.066},
			{Label: "Gray Leaf Spot", Confidence: 0.05},
		},
		LowConfidence: low,
	}
	if low {
		d.Confidence = 0.31
		d.Differential[0].Confidence = 0.31
	}
	return d
}

func TestRender_PlainAdvisoryHasNoHeader(t *testing.T) {
	c := New(DefaultLimit, 0.4)
	bodies := c.Render(Payload{Sections: []Section{{Kind: SectionAdvisory, Text: "Hello! How can I help with your farm today?"}}})
	assert.Equal(t, []string{"Hello! How can I help with your farm today?"}, bodies)
}

func TestRender_SectionOrder(t *testing.T) {
	c := New(DefaultLimit, 0.4)
	bodies := c.Render(Payload{Sections: []Section{
		{Kind: SectionAdvisory, Text: "Remove infected leaves and rotate crops."},
		{Kind: SectionDetection, Detection: blightDetection(false)},
	}})
	require.Len(t, bodies, 1)

	body := bodies[0]
	assert.True(t, strings.HasPrefix(body, "*Disease check*\n"))
	det := strings.Index(body, "Northern Corn Leaf Blight")
	adv := strings.Index(body, "*Advice*")
	require.NotEqual(t, -1, det)
	require.NotEqual(t, -1, adv)
	assert.Less(t, det, adv)
	assert.Contains(t, body, "87% confidence")
	assert.Contains(t, body, "Other candidates: Common Rust (7%), Gray Leaf Spot (5%).")
}

func TestRender_Hedging(t *testing.T) {
	c := New(DefaultLimit, 0.4)
	advice := Section{Kind: SectionAdvisory, Text: "Spray a copper fungicide."}

	low := strings.Join(c.Render(Payload{Sections: []Section{{Kind: SectionDetection, Detection: blightDetection(true)}, advice}}), "\n")
	assert.Contains(t, low, "I'm not certain")
	assert.Contains(t, low, "possibly")
	assert.Contains(t, low, "31% confidence")

	high := strings.Join(c.Render(Payload{Sections: []Section{{Kind: SectionDetection, Detection: blightDetection(false)}, advice}}), "\n")
	assert.NotContains(t, high, "not certain")
	assert.NotContains(t, high, "possibly")
}

func TestRender_HedgesBelowFloor(t *testing.T) {
	c := New(DefaultLimit, 0.4)
	render := func(conf float64) string {
		det := &backend.DiseaseDetection{Label: "Rust", Confidence: conf}
		return strings.Join(c.Render(Payload{Sections: []Section{{Kind: SectionDetection, Detection: det}}}), "\n")
	}

	assert.Contains(t, render(0.2), "I'm not certain")
	assert.Contains(t, render(0.399), "I'm not certain")
	assert.NotContains(t, render(0.4), "not certain")
	assert.Contains(t, render(0.4), "This looks like *Rust* (40% confidence).")
}

func TestComposer_Hedged(t *testing.T) {
	zero := &Composer{}
	assert.True(t, zero.Hedged(&backend.DiseaseDetection{Confidence: 0.39}))
	assert.False(t, zero.Hedged(&backend.DiseaseDetection{Confidence: 0.4}))

	strict := New(DefaultLimit, 0.7)
	assert.True(t, strict.Hedged(&backend.DiseaseDetection{Confidence: 0.6}))
	assert.True(t, strict.Hedged(&backend.DiseaseDetection{Confidence: 0.9, LowConfidence: true}))
	assert.False(t, strict.Hedged(&backend.DiseaseDetection{Confidence: 0.7}))
}

func TestRender_WeatherBeforeAdvice(t *testing.T) {
	c := New(DefaultLimit, 0.4)
	bodies := c.Render(Payload{Sections: []Section{
		{Kind: SectionAdvisory, Text: "Hold off on watering; rain is coming."},
		{Kind: SectionWeather, Weather: &backend.WeatherSnapshot{
			Location: "Nyeri", Country: "KE", TempC: 21.4, Humidity: 72,
			Description: "light rain", Precipitation: true, RainMM: 5.5,
		}},
	}})
	require.Len(t, bodies, 1)

	body := bodies[0]
	assert.True(t, strings.HasPrefix(body, "*Weather for Nyeri, KE*\n"))
	assert.Contains(t, body, "Now: 21°C, humidity 72%, light rain.")
	assert.Contains(t, body, "Rain expected in the next 24 hours (about 5.5 mm).")
	assert.Contains(t, body, "Wait and monitor")
	assert.Less(t, strings.Index(body, "*Weather for"), strings.Index(body, "*Advice*"))
}

func TestRender_DryWeather(t *testing.T) {
	c := New(DefaultLimit, 0.4)
	bodies := c.Render(Payload{Sections: []Section{{Kind: SectionWeather, Weather: &backend.WeatherSnapshot{Location: "Kitui", TempC: 31}}}})
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "*Weather for Kitui*")
	assert.Contains(t, bodies[0], "No rain expected")
	assert.Contains(t, bodies[0], "Irrigate soon")
}

func TestRender_WeatherDetailsAndWarnings(t *testing.T) {
	c := New(DefaultLimit, 0.4)
	bodies := c.Render(Payload{Sections: []Section{{Kind: SectionWeather, Weather: &backend.WeatherSnapshot{
		Location: "Garissa", TempC: 37.2, FeelsLikeC: 39.8, Humidity: 65, WindKPH: 34.6,
		Description: "clear sky", Precipitation: true, RainMM: 14,
	}}}})
	require.Len(t, bodies, 1)

	body := bodies[0]
	assert.Contains(t, body, "Now: 37°C (feels like 40°C), humidity 65%, wind 35 km/h, clear sky.")
	assert.Contains(t, body, "Hold off on irrigation")
	assert.Contains(t, body, "Heat warning")
	assert.Contains(t, body, "Wind warning")
	assert.Less(t, strings.Index(body, "Heat warning"), strings.Index(body, "Wind warning"))
}

func TestRender_PlantingBetweenWeatherAndAdvice(t *testing.T) {
	c := New(DefaultLimit, 0.4)
	p := Payload{Sections: []Section{
		{Kind: SectionAdvisory, Text: "Use certified seed."},
		{Kind: SectionPlanting, Text: "Plant now, ahead of the long rains."},
	}}
	bodies := c.Render(p)
	require.Len(t, bodies, 1)
	assert.Equal(t, "*Planting calendar*\nPlant now, ahead of the long rains.\n\n*Advice*\nUse certified seed.", bodies[0])
	assert.Equal(t, []SectionKind{SectionPlanting, SectionAdvisory}, p.Kinds())
}

func TestRender_ClarificationAfterAdvice(t *testing.T) {
	c := New(DefaultLimit, 0.4)
	bodies := c.Render(Payload{Sections: []Section{
		{Kind: SectionClarification, Text: LocationText},
		{Kind: SectionAdvisory, Text: "Water early in the morning."},
	}})
	require.Len(t, bodies, 1)
	assert.Equal(t, "Water early in the morning.\n\n"+LocationText, bodies[0])
}

func TestRender_EmptyPayloadApologises(t *testing.T) {
	c := &Composer{}
	assert.Equal(t, []string{ApologyText}, c.Render(Payload{}))
	assert.Equal(t, []string{ApologyText}, c.Render(Payload{Sections: []Section{{Kind: SectionApology, Text: ApologyText}}}))
	// Sections without content render nothing
	assert.Equal(t, []string{ApologyText}, c.Render(Payload{Sections: []Section{{Kind: SectionDetection}}}))
}

func TestRender_Deterministic(t *testing.T) {
	c := New(120, 0.4)
	p := Payload{Sections: []Section{
		{Kind: SectionDetection, Detection: blightDetection(true)},
		{Kind: SectionAdvisory, Text: strings.Repeat("Keep the field clean. ", 20)},
	}}
	assert.Equal(t, c.Render(p), c.Render(p))
}

func TestRender_SplitsWithinLimit(t *testing.T) {
	const limit = 160
	c := New(limit, 0.4)
	var sentences []string
	for i := 0; i < 30; i++ {
		sentences = append(sentences, fmt.Sprintf("Sentence %02d is about maize.", i))
	}
	bodies := c.Render(Payload{Sections: []Section{
		{Kind: SectionDetection, Detection: blightDetection(false)},
		{Kind: SectionAdvisory, Text: strings.Join(sentences, " ")},
	}})

	require.Greater(t, len(bodies), 1)
	assert.True(t, strings.HasPrefix(bodies[0], "*Disease check*"))
	for _, b := range bodies {
		assert.LessOrEqual(t, runeLen(b), limit)
		assert.True(t, strings.HasSuffix(b, "."), "body should end on a sentence: %q", b)
	}
}

func TestPack_SectionBoundaries(t *testing.T) {
	a := strings.Repeat("a", 40)
	b := strings.Repeat("b", 40)
	c := strings.Repeat("c", 40)
	assert.Equal(t, []string{a + "\n\n" + b, c}, pack([]string{a, b, c}, 90))
	assert.Equal(t, []string{a + "\n\n" + b + "\n\n" + c}, pack([]string{a, b, c}, 124))
}

func TestSplitSentences(t *testing.T) {
	var parts []string
	for i := 0; i < 10; i++ {
		parts = append(parts, fmt.Sprintf("Sentence %02d is about maize.", i))
	}
	text := strings.Join(parts, " ")

	chunks := splitSentences(text, 60)
	require.Len(t, chunks, 5)
	for _, ch := range chunks {
		assert.LessOrEqual(t, runeLen(ch), 60)
		assert.True(t, strings.HasSuffix(ch, "."))
	}
	assert.Equal(t, text, strings.Join(chunks, " "))
}

func TestSplitSentences_HardCut(t *testing.T) {
	word := strings.Repeat("a", 250)
	chunks := splitSentences(word, 100)
	require.Len(t, chunks, 3)
	assert.Equal(t, 100, runeLen(chunks[0]))
	assert.Equal(t, 100, runeLen(chunks[1]))
	assert.Equal(t, 50, runeLen(chunks[2]))
}

func TestSplitSentences_CountsRunes(t *testing.T) {
	text := strings.Repeat("Mvua ni nzuri ☔. ", 10)
	for _, ch := range splitSentences(text, 40) {
		assert.LessOrEqual(t, runeLen(ch), 40)
	}
}

func TestNormalizeMarkdown(t *testing.T) {
	src := "## Steps\n\n1. Remove **infected** leaves\n2. Spray *copper* fungicide\n\n- keep spacing\n- weed often\n\nSee [guide](https://example.org/guide)."
	want := "*Steps*\n\n1. Remove *infected* leaves\n2. Spray _copper_ fungicide\n\n• keep spacing\n• weed often\n\nSee guide (https://example.org/guide)."
	assert.Equal(t, want, NormalizeMarkdown(src))
}

func TestNormalizeMarkdown_PlainTextUnchanged(t *testing.T) {
	assert.Equal(t, "Apply manure before planting.", NormalizeMarkdown("  Apply manure before planting.  "))
	assert.Equal(t, "", NormalizeMarkdown("   "))
}

func TestNormalizeMarkdown_DropsHTMLAndRules(t *testing.T) {
	got := NormalizeMarkdown("<div>hidden</div>\n\nFirst\n\n---\n\nSecond")
	assert.Equal(t, "First\n\nSecond", got)
}

func TestNormalizeMarkdown_NestedList(t *testing.T) {
	got := NormalizeMarkdown("- Prepare land\n  - clear weeds\n  - dig holes\n- Plant")
	assert.Equal(t, "• Prepare land\n   • clear weeds\n   • dig holes\n• Plant", got)
}

func TestPayloadKinds(t *testing.T) {
	p := Payload{Sections: []Section{{Kind: SectionAdvisory}, {Kind: SectionWeather}, {Kind: SectionDetection}}}
	assert.Equal(t, []SectionKind{SectionDetection, SectionWeather, SectionAdvisory}, p.Kinds())
	assert.Equal(t, "weather", SectionWeather.String())
}
