// ABOUTME: Configurable word lists that drive intent classification
// ABOUTME: Loads per-language lexicons from TOML, with an embedded default set

package intent

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed lexicon.toml
var defaultLexiconTOML string

// DefaultLanguages are enabled when no language set is configured
var DefaultLanguages = []string{"en", "sw"}

// Lexicon holds the word lists for one or more languages
type Lexicon struct {
	Greetings            []string          `toml:"greetings"`
	GreetingFillers      []string          `toml:"greeting_fillers"`
	WeatherTriggers      []string          `toml:"weather_triggers"`
	LocationPrepositions []string          `toml:"location_prepositions"`
	LocationStatements   []string          `toml:"location_statements"` // "i am in", "niko"
	LocationStopwords    []string          `toml:"location_stopwords"`
	TrailingTimeWords    []string          `toml:"trailing_time_words"`
	NameStatements       []string          `toml:"name_statements"`
	PlantingTriggers     []string          `toml:"planting_triggers"`
	Crops                map[string]string `toml:"crops"` // word -> canonical crop name

	// markers maps a word to the one language it belongs to
	markers map[string]string
}

type lexiconFile struct {
	Languages map[string]Lexicon `toml:"languages"`
}

// DefaultLexicon returns the embedded lexicon for DefaultLanguages.
func DefaultLexicon() Lexicon {
	lex, err := parseLexicon(defaultLexiconTOML, DefaultLanguages)
	if err != nil {
		// The embedded file is part of the binary; failing to parse it is a build defect
		panic(fmt.Sprintf("intent: embedded lexicon: %v", err))
	}
	return lex
}

// LoadLexicon reads a lexicon TOML file and merges the requested languages.
// An empty path uses the embedded lexicon; an empty language list uses DefaultLanguages.
func LoadLexicon(path string, languages []string) (Lexicon, error) {
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	if path == "" {
		return parseLexicon(defaultLexiconTOML, languages)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Lexicon{}, fmt.Errorf("reading lexicon file: %w", err)
	}
	return parseLexicon(string(data), languages)
}

func parseLexicon(data string, languages []string) (Lexicon, error) {
	var file lexiconFile
	if _, err := toml.Decode(data, &file); err != nil {
		return Lexicon{}, fmt.Errorf("parsing lexicon: %w", err)
	}

	merged := Lexicon{Crops: make(map[string]string), markers: make(map[string]string)}
	ambiguous := make(map[string]bool)
	for _, lang := range languages {
		lex, ok := file.Languages[lang]
		if !ok {
			return Lexicon{}, fmt.Errorf("lexicon has no language %q", lang)
		}
		merged.Greetings = append(merged.Greetings, lex.Greetings...)
		merged.GreetingFillers = append(merged.GreetingFillers, lex.GreetingFillers...)
		merged.WeatherTriggers = append(merged.WeatherTriggers, lex.WeatherTriggers...)
		merged.LocationPrepositions = append(merged.LocationPrepositions, lex.LocationPrepositions...)
		merged.LocationStatements = append(merged.LocationStatements, lex.LocationStatements...)
		merged.LocationStopwords = append(merged.LocationStopwords, lex.LocationStopwords...)
		merged.TrailingTimeWords = append(merged.TrailingTimeWords, lex.TrailingTimeWords...)
		merged.NameStatements = append(merged.NameStatements, lex.NameStatements...)
		merged.PlantingTriggers = append(merged.PlantingTriggers, lex.PlantingTriggers...)
		for word, crop := range lex.Crops {
			merged.Crops[word] = crop
		}

		// Words that appear in more than one language say nothing about the language
		for _, word := range lex.vocabulary() {
			if prev, seen := merged.markers[word]; seen && prev != lang {
				ambiguous[word] = true
			}
			merged.markers[word] = lang
		}
	}
	for word := range ambiguous {
		delete(merged.markers, word)
	}

	merged.normalize()
	if len(merged.Greetings) == 0 && len(merged.WeatherTriggers) == 0 {
		return Lexicon{}, fmt.Errorf("lexicon for %v is empty", languages)
	}
	return merged, nil
}

// vocabulary lists the single words a language uses for greetings, weather,
// planting and crops.
func (l *Lexicon) vocabulary() []string {
	var words []string
	for _, list := range [][]string{l.Greetings, l.WeatherTriggers, l.PlantingTriggers, l.LocationStatements} {
		for _, entry := range list {
			words = append(words, tokenize(entry)...)
		}
	}
	for word := range l.Crops {
		words = append(words, tokenize(word)...)
	}
	return words
}

// normalize lowercases and tokenizes every entry and removes duplicates,
// so matching is independent of file order.
func (l *Lexicon) normalize() {
	crops := make(map[string]string, len(l.Crops))
	for word, crop := range l.Crops {
		if norm := strings.Join(tokenize(word), " "); norm != "" {
			crops[norm] = strings.ToLower(strings.TrimSpace(crop))
		}
	}
	l.Crops = crops

	for _, list := range []*[]string{
		&l.Greetings,
		&l.GreetingFillers,
		&l.WeatherTriggers,
		&l.LocationPrepositions,
		&l.LocationStatements,
		&l.LocationStopwords,
		&l.TrailingTimeWords,
		&l.NameStatements,
		&l.PlantingTriggers,
	} {
		seen := make(map[string]bool, len(*list))
		out := make([]string, 0, len(*list))
		for _, entry := range *list {
			norm := strings.Join(tokenize(entry), " ")
			if norm == "" || seen[norm] {
				continue
			}
			seen[norm] = true
			out = append(out, norm)
		}
		// Longest phrase first so multi-word entries win over their prefixes
		sort.SliceStable(out, func(i, j int) bool {
			return len(out[i]) > len(out[j])
		})
		*list = out
	}
}
