// ABOUTME: Rule-based intent classifier for inbound farmer messages
// ABOUTME: Maps text and media to an intent kind, a location hint and stated profile facts

package intent

import (
	"strings"
	"unicode"
)

// Kind is the category of a farmer message
type Kind string

const (
	KindGreeting        Kind = "greeting"
	KindDiseaseQuery    Kind = "disease_query"
	KindWeatherQuery    Kind = "weather_query"
	KindGeneralAdvisory Kind = "general_advisory"
	KindUnknown         Kind = "unknown"
)

// HintSource records where a location hint came from
type HintSource string

const (
	HintNone    HintSource = ""
	HintText    HintSource = "text"
	HintProfile HintSource = "profile"
)

// Message is the part of an inbound message the classifier looks at
type Message struct {
	Text     string
	MediaRef string

	// AwaitingLocation is set when the previous reply asked the farmer where
	// their farm is, so a bare place name is read as the answer.
	AwaitingLocation bool
}

// Decision is the classifier output. Kind, HasImage and the location hint
// drive dispatch; the remaining fields are profile facts the farmer stated.
type Decision struct {
	Kind         Kind
	HasImage     bool
	LocationHint string
	HintSource   HintSource

	StatedLocation string   // where the farmer said they are
	Name           string   // the farmer's name, when introduced
	Crops          []string // canonical crops mentioned, in order
	Planting       bool     // the farmer asked about planting or sowing
	Language       string   // lexicon language the message is written in
}

// Classifier assigns intents using a lexicon. It is pure and safe for concurrent use.
type Classifier struct {
	lex          Lexicon
	greetingVoc  map[string]bool
	prepositions []string
	stopwords    map[string]bool
}

// NewClassifier builds a classifier over the given lexicon.
func NewClassifier(lex Lexicon) *Classifier {
	lex.normalize()

	voc := make(map[string]bool)
	for _, g := range lex.Greetings {
		for _, tok := range strings.Fields(g) {
			voc[tok] = true
		}
	}
	for _, f := range lex.GreetingFillers {
		for _, tok := range strings.Fields(f) {
			voc[tok] = true
		}
	}

	stop := make(map[string]bool, len(lex.LocationStopwords))
	for _, s := range lex.LocationStopwords {
		stop[s] = true
	}

	return &Classifier{
		lex:          lex,
		greetingVoc:  voc,
		prepositions: lex.LocationPrepositions,
		stopwords:    stop,
	}
}

// Classify assigns an intent to msg. profileRegion is the farmer's stored
// region and is used as the location hint when the text names none.
func (c *Classifier) Classify(msg Message, profileRegion string) Decision {
	hasImage := strings.TrimSpace(msg.MediaRef) != ""
	tokens := tokenize(msg.Text)
	stated := c.statedLocation(msg.Text, msg.AwaitingLocation)

	var d Decision
	switch {
	case hasImage:
		d = Decision{Kind: KindDiseaseQuery, HasImage: true}
	case len(tokens) == 0:
		d = Decision{Kind: KindUnknown}
	case c.isGreeting(tokens):
		d = Decision{Kind: KindGreeting}
	case containsPhrase(tokens, c.lex.WeatherTriggers):
		d = Decision{Kind: KindWeatherQuery}
		d.LocationHint, d.HintSource = c.weatherLocation(msg.Text, stated, profileRegion)
	case msg.AwaitingLocation:
		if stated == "" {
			stated = c.bareLocation(msg.Text, tokens)
		}
		if stated != "" {
			// Answer to a location question: serve the weather it was asked for
			d = Decision{Kind: KindWeatherQuery, LocationHint: stated, HintSource: HintText}
		} else {
			d = Decision{Kind: KindGeneralAdvisory}
		}
	default:
		d = Decision{Kind: KindGeneralAdvisory}
	}

	d.StatedLocation = stated
	d.Name = c.after(msg.Text, c.lex.NameStatements, c.cleanName)
	d.Crops = c.crops(tokens)
	d.Planting = containsPhrase(tokens, c.lex.PlantingTriggers)
	d.Language = c.language(tokens)
	return Normalize(d, hasImage)
}

// Normalize enforces that DiseaseQuery is only ever paired with an image.
// A disease decision without media is downgraded to GeneralAdvisory.
func Normalize(d Decision, hasImage bool) Decision {
	d.HasImage = hasImage
	if d.Kind == KindDiseaseQuery && !hasImage {
		d.Kind = KindGeneralAdvisory
	}
	return d
}

// isGreeting is true when every token belongs to the greeting vocabulary and
// at least one is a real greeting rather than a filler.
func (c *Classifier) isGreeting(tokens []string) bool {
	for _, tok := range tokens {
		if !c.greetingVoc[tok] {
			return false
		}
	}
	return containsPhrase(tokens, c.lex.Greetings)
}

// weatherLocation picks the place a weather question is about: a place after
// a location preposition, then one the farmer said they are in, then the
// stored profile region, and last a capitalised trailing fragment
// ("Should I water my coffee today? Nyeri").
func (c *Classifier) weatherLocation(text, stated, profileRegion string) (string, HintSource) {
	if hint := c.after(text, c.prepositions, c.cleanHint); hint != "" {
		return hint, HintText
	}
	if stated != "" {
		return stated, HintText
	}
	if region := strings.TrimSpace(profileRegion); region != "" {
		return region, HintProfile
	}
	if hint := c.trailingFragment(text); hint != "" {
		return hint, HintText
	}
	return "", HintNone
}

// statedLocation finds "I'm in X" style statements. Outside a pending
// location question the place must be capitalised, which keeps phrases like
// "I am in trouble" out of the profile.
func (c *Classifier) statedLocation(text string, awaiting bool) string {
	hint := c.after(text, c.lex.LocationStatements, c.cleanHint)
	if hint == "" || (!awaiting && !startsUpper(hint)) {
		return ""
	}
	return hint
}

// bareLocation accepts a short reply such as "Nyeri" or "Mount Kenya" as a
// place name.
func (c *Classifier) bareLocation(text string, tokens []string) string {
	if strings.ContainsRune(text, '?') || len(tokens) > 3 || !c.placeLike(tokens) {
		return ""
	}
	return c.cleanHint(text)
}

func (c *Classifier) trailingFragment(text string) string {
	idx := strings.LastIndexFunc(strings.TrimRightFunc(text, func(r rune) bool {
		return isBreak(r) || unicode.IsSpace(r)
	}), isBreak)
	if idx < 0 {
		return ""
	}
	frag := strings.TrimSpace(text[idx+1:])
	if frag == "" || len(strings.Fields(frag)) > 3 || !startsUpper(frag) {
		return ""
	}
	if !c.placeLike(tokenize(frag)) {
		return ""
	}
	return c.cleanHint(frag)
}

// placeLike rejects fragments made of words the lexicon already gives a
// meaning: weather and planting words, crops and greetings.
func (c *Classifier) placeLike(tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	if containsPhrase(tokens, c.lex.WeatherTriggers) || containsPhrase(tokens, c.lex.PlantingTriggers) {
		return false
	}
	for _, tok := range tokens {
		if _, crop := c.lex.Crops[tok]; crop {
			return false
		}
	}
	return !c.isGreeting(tokens)
}

// wordToken is one token of a whitespace-separated word
type wordToken struct {
	tok   string
	word  int
	first bool
	last  bool
}

// after finds the last occurrence of any phrase that starts and ends on word
// boundaries and returns clean applied to the words that follow it, up to
// the next sentence break.
func (c *Classifier) after(text string, phrases []string, clean func(string) string) string {
	words := strings.Fields(text)
	var toks []wordToken
	for i, w := range words {
		parts := tokenize(w)
		for j, p := range parts {
			toks = append(toks, wordToken{tok: p, word: i, first: j == 0, last: j == len(parts)-1})
		}
	}

	for k := len(toks) - 1; k >= 0; k-- {
		if !toks[k].first {
			continue
		}
		for _, phrase := range phrases {
			want := strings.Fields(phrase)
			if k+len(want) > len(toks) || !matchTokens(toks[k:k+len(want)], want) {
				continue
			}
			end := toks[k+len(want)-1]
			if !end.last || strings.TrimRightFunc(words[end.word], isBreak) != words[end.word] {
				continue
			}

			var cand []string
			for _, w := range words[end.word+1:] {
				trimmed := strings.TrimRightFunc(w, isBreak)
				cand = append(cand, trimmed)
				if trimmed != w {
					break
				}
			}
			if hint := clean(strings.Join(cand, " ")); hint != "" {
				return hint
			}
		}
	}
	return ""
}

func matchTokens(toks []wordToken, want []string) bool {
	for i, w := range want {
		if toks[i].tok != w {
			return false
		}
	}
	return true
}

// cutAtStopword keeps the words before the first stopword or preposition
// after the first word ("Nyeri and my maize" -> "Nyeri").
func (c *Classifier) cutAtStopword(words []string) []string {
	for i := 1; i < len(words); i++ {
		tok := tokenize(words[i])
		if len(tok) == 0 {
			continue
		}
		if c.stopwords[tok[0]] || containsPhrase(tok[:1], c.prepositions) {
			return words[:i]
		}
	}
	return words
}

// cleanHint strips punctuation and trailing time words and rejects
// candidates that start with a stopword ("for my farm", "in the next days").
func (c *Classifier) cleanHint(raw string) string {
	words := c.cutAtStopword(strings.Fields(strings.TrimFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})))

	for len(words) > 0 {
		trimmed := false
		for _, tw := range c.lex.TrailingTimeWords {
			n := len(strings.Fields(tw))
			if n > len(words) {
				continue
			}
			if strings.Join(tokenize(strings.Join(words[len(words)-n:], " ")), " ") == tw {
				words = words[:len(words)-n]
				trimmed = true
				break
			}
		}
		if !trimmed {
			break
		}
	}
	if len(words) == 0 || len(words) > 4 {
		return ""
	}

	first := tokenize(words[0])
	if len(first) == 0 || c.stopwords[first[0]] || !unicode.IsLetter([]rune(first[0])[0]) {
		return ""
	}
	return strings.TrimFunc(strings.Join(words, " "), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// cleanName keeps up to two letter-only words and capitalises them.
func (c *Classifier) cleanName(raw string) string {
	words := c.cutAtStopword(strings.Fields(raw))
	if len(words) == 0 {
		return ""
	}
	if len(words) > 2 {
		words = words[:2]
	}

	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) })
		if w == "" || strings.IndexFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && r != '\'' && r != '-' }) >= 0 {
			break
		}
		if c.stopwords[strings.ToLower(w)] {
			break
		}
		r := []rune(w)
		out = append(out, string(unicode.ToUpper(r[0]))+string(r[1:]))
	}
	return strings.Join(out, " ")
}

// crops lists the canonical crops named in tokens, first mention first.
func (c *Classifier) crops(tokens []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range tokens {
		crop, ok := c.lex.Crops[tok]
		if !ok || seen[crop] {
			continue
		}
		seen[crop] = true
		out = append(out, crop)
	}
	return out
}

// language returns the lexicon language with the most marker words in
// tokens, or "" when none leads.
func (c *Classifier) language(tokens []string) string {
	counts := make(map[string]int)
	for _, tok := range tokens {
		if lang, ok := c.lex.markers[tok]; ok {
			counts[lang]++
		}
	}

	best, bestN, tie := "", 0, false
	for lang, n := range counts {
		switch {
		case n > bestN:
			best, bestN, tie = lang, n, false
		case n == bestN:
			tie = true
		}
	}
	if tie {
		return ""
	}
	return best
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

func isBreak(r rune) bool {
	switch r {
	case '?', '!', '.', ',', ';', ':', '\n':
		return true
	}
	return false
}

// tokenize lowercases text and splits it on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsPhrase reports whether any phrase appears in tokens on word boundaries.
func containsPhrase(tokens []string, phrases []string) bool {
	if len(tokens) == 0 {
		return false
	}
	joined := " " + strings.Join(tokens, " ") + " "
	for _, p := range phrases {
		if strings.Contains(joined, " "+p+" ") {
			return true
		}
	}
	return false
}
