// Package analysis holds the deterministic text heuristics shared by the
// insight engine and memory hints: keyword extraction and participant
// detection. No provider calls happen here.
package analysis

import (
	"sort"
	"strings"
)

// maxKeywords caps the keyword set per text.
const maxKeywords = 20

// Keywords extracts up to 20 significant tokens from the text, most frequent
// first. The pipeline is: lower-case, strip everything but letters, digits
// and whitespace, split, drop tokens of three characters or fewer, drop stop
// words, count, rank.
func Keywords(text string) []string {
	counts := map[string]int{}
	order := map[string]int{} // first-seen position, the rank tiebreaker

	for i, token := range Tokenize(text) {
		if _, seen := counts[token]; !seen {
			order[token] = i
		}
		counts[token]++
	}

	tokens := make([]string, 0, len(counts))
	for token := range counts {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return order[tokens[i]] < order[tokens[j]]
	})

	if len(tokens) > maxKeywords {
		tokens = tokens[:maxKeywords]
	}
	return tokens
}

// Tokenize lower-cases the text, maps every character outside [a-z0-9] and
// whitespace to a space, and returns the tokens longer than three characters
// that are not stop words. Duplicates are preserved in order.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == ' ', r == '\t', r == '\n':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 3 || IsStopWord(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// SharedKeywords counts how many keywords two pre-extracted sets share.
func SharedKeywords(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, k := range a {
		set[k] = struct{}{}
	}
	shared := 0
	for _, k := range b {
		if _, ok := set[k]; ok {
			shared++
		}
	}
	return shared
}
