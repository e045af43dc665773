// Package keywords finds configured keywords in post text using whole-word,
// case-insensitive matching, with a dedicated rule for the short acronym "IA"
// which would otherwise fire inside ordinary French words and contractions.
package keywords

import (
	"sort"
	"strings"
	"unicode"
)

// acronym is the keyword handled by the isolated-acronym rule. A configured
// keyword is treated as the acronym when it equals this after trimming.
const acronym = "IA"

// DefaultKeywords is the keyword set used when none is configured.
var DefaultKeywords = []string{
	"photographe", "vidéaste", "vidéo", "montage", "réseaux sociaux",
	"créatif", "contenu", "freelance", "indépendant",
	"photographer", "videographer", "video editor", "editing", "social media",
	"creative", "content creator", "content creation",
	"intelligence artificielle", "artificial intelligence", " IA ",
	"chatgpt", "automatisation", "automation",
	"marketing", "branding", "design", "graphiste", "motion", "animation",
	"community manager", "gestionnaire de communauté",
	"stratégie digitale", "digital strategy",
}

// FindMatches returns the configured keywords found in text, in configuration
// order, each at most once. The acronym keyword is reported as "IA".
func FindMatches(text string, keywords []string) []string {
	lower := lowerRunes(text)
	var found []string
	seen := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		name := kw
		if isAcronym(kw) {
			name = acronym
		}
		if seen[name] {
			continue
		}
		if len(occurrences(lower, kw)) > 0 {
			seen[name] = true
			found = append(found, name)
		}
	}
	return found
}

// Highlight wraps every keyword occurrence in text with open and close,
// preserving the original casing of the matched text. Earlier keywords win
// when occurrences overlap.
func Highlight(text string, keywords []string, open, close string) string {
	orig := []rune(text)
	lower := lowerRunes(text)
	marked := make([]bool, len(orig))
	var spans []span
	for _, kw := range keywords {
		for _, sp := range occurrences(lower, kw) {
			if overlaps(marked, sp) {
				continue
			}
			for i := sp.start; i < sp.end; i++ {
				marked[i] = true
			}
			spans = append(spans, sp)
		}
	}
	if len(spans) == 0 {
		return text
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	prev := 0
	for _, sp := range spans {
		b.WriteString(string(orig[prev:sp.start]))
		b.WriteString(open)
		b.WriteString(string(orig[sp.start:sp.end]))
		b.WriteString(close)
		prev = sp.end
	}
	b.WriteString(string(orig[prev:]))
	return b.String()
}

type span struct{ start, end int }

func overlaps(marked []bool, sp span) bool {
	for i := sp.start; i < sp.end; i++ {
		if marked[i] {
			return true
		}
	}
	return false
}

func isAcronym(kw string) bool {
	return strings.TrimSpace(kw) == acronym
}

// lowerRunes lowercases rune by rune so indexes stay aligned with the input.
func lowerRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = unicode.ToLower(r)
	}
	return rs
}

// occurrences returns the rune spans of kw in the lowercased text that pass
// the boundary rule for kw.
func occurrences(lower []rune, kw string) []span {
	if isAcronym(kw) {
		return acronymOccurrences(lower)
	}
	needle := lowerRunes(strings.TrimSpace(kw))
	if len(needle) == 0 {
		return nil
	}
	var out []span
	for i := 0; i+len(needle) <= len(lower); i++ {
		if !hasAt(lower, needle, i) {
			continue
		}
		end := i + len(needle)
		if boundaryBefore(lower, i, needle[0]) && boundaryAfter(lower, end, needle[len(needle)-1]) {
			out = append(out, span{i, end})
			i = end - 1
		}
	}
	return out
}

func hasAt(hay, needle []rune, i int) bool {
	for j, r := range needle {
		if hay[i+j] != r {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// boundaryBefore reports a word boundary at i. A keyword that starts with a
// non-word rune needs no boundary on that side.
func boundaryBefore(s []rune, i int, first rune) bool {
	if !isWordRune(first) {
		return true
	}
	return i == 0 || !isWordRune(s[i-1])
}

func boundaryAfter(s []rune, end int, last rune) bool {
	if !isWordRune(last) {
		return true
	}
	return end == len(s) || !isWordRune(s[end])
}

// acronymLetter is the letter class that may not touch the acronym.
func acronymLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || r == 'é' || r == 'è' || r == 'ê' || r == 'ë'
}

// apostrophe accepts the typographic form mobile keyboards insert.
func apostrophe(r rune) bool {
	return r == '\'' || r == '’'
}

// acronymOccurrences finds "ia" flanked by non-letters, skipping elided forms
// such as "l'ia" or "j'ia".
func acronymOccurrences(lower []rune) []span {
	var out []span
	for i := 0; i+1 < len(lower); i++ {
		if lower[i] != 'i' || lower[i+1] != 'a' {
			continue
		}
		if i > 0 && acronymLetter(lower[i-1]) {
			continue
		}
		if i+2 < len(lower) && acronymLetter(lower[i+2]) {
			continue
		}
		if elided(lower, i) {
			continue
		}
		out = append(out, span{i, i + 2})
	}
	return out
}

func elided(lower []rune, i int) bool {
	if i < 2 || !apostrophe(lower[i-1]) {
		return false
	}
	switch lower[i-2] {
	case 'j', 'n', 't', 'l':
		return true
	}
	return false
}
