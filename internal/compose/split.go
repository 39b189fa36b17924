// ABOUTME: Packs rendered sections into messages that fit the channel limit
// ABOUTME: Splits on section boundaries first, then sentences, hard-cutting only as a last resort

package compose

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const sectionSep = "\n\n"

// pack greedily fills messages with whole blocks. A block that alone exceeds
// the limit is broken into sentence-sized pieces first.
func pack(blocks []string, limit int) []string {
	var out []string
	cur := ""
	for _, blk := range blocks {
		pieces := []string{blk}
		if runeLen(blk) > limit {
			pieces = splitSentences(blk, limit)
		}
		for _, p := range pieces {
			switch {
			case cur == "":
				cur = p
			case runeLen(cur)+runeLen(sectionSep)+runeLen(p) <= limit:
				cur += sectionSep + p
			default:
				out = append(out, cur)
				cur = p
			}
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// splitSentences breaks text into chunks of at most limit runes, cutting
// only after sentence terminators or line breaks where possible.
func splitSentences(text string, limit int) []string {
	var chunks []string
	cur := ""
	for _, s := range sentences(text) {
		if runeLen(cur)+runeLen(s) <= limit {
			cur += s
			continue
		}
		if t := strings.TrimSpace(cur); t != "" {
			chunks = append(chunks, t)
		}
		cur = ""
		for runeLen(s) > limit {
			head, rest := hardCut(s, limit)
			if head != "" {
				chunks = append(chunks, head)
			}
			s = rest
		}
		cur = s
	}
	if t := strings.TrimSpace(cur); t != "" {
		chunks = append(chunks, t)
	}
	return chunks
}

// sentences splits text after '.', '!', '?' followed by whitespace and after
// newlines. The pieces keep their trailing whitespace so they rejoin exactly.
func sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		end := -1
		switch {
		case r == '\n':
			end = i + 1
		case (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]):
			end = i + 1
		}
		if end < 0 {
			continue
		}
		for end < len(runes) && runes[end] == ' ' {
			end++
		}
		out = append(out, string(runes[start:end]))
		start = end
		i = end - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

// hardCut splits s at the last space within limit runes, or exactly at the
// limit when there is no space.
func hardCut(s string, limit int) (string, string) {
	runes := []rune(s)
	cut := limit
	for i := limit; i > limit/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	head := strings.TrimSpace(string(runes[:cut]))
	rest := strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace)
	return head, rest
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
