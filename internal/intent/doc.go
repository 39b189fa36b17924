// Package intent classifies inbound farmer messages.
//
// # Rules
//
// Classification is rule based and evaluated in order:
//
//  1. Any attached media makes the message a DiseaseQuery with HasImage set
//  2. Empty or punctuation-only text is Unknown
//  3. Text made only of greeting words is a Greeting
//  4. Text containing a weather trigger is a WeatherQuery
//  5. When the previous reply asked for the farm location, a place name
//     ("Nyeri", "I'm in Nyeri") is a WeatherQuery for that place
//  6. Anything else is GeneralAdvisory
//
// # Location hints
//
// For weather queries the classifier looks for a place name after the last
// location preposition ("rain in Nyeri"), then a place the farmer says they
// are in, then the farmer's stored region, and only then a capitalised
// fragment after a sentence break ("Should I water my coffee today? Nyeri").
// HintSource records which one won.
//
// # Profile facts
//
// Every message is also scanned for facts worth keeping on the farmer's
// profile, whatever its intent: a stated location ("I'm in Nyeri", "niko
// Nyeri"), a name ("my name is Wanjiku"), crops ("mahindi" is maize), whether
// the farmer asks about planting, and the language the message is written in.
//
// # Lexicon
//
// Word lists come from a TOML lexicon with one table per language:
//
//	[languages.en]
//	greetings = ["hi", "hello"]
//	weather_triggers = ["weather", "rain"]
//
// An embedded default covers English and Swahili; LoadLexicon reads an
// override file and merges the configured languages.
package intent
