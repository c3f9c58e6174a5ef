package analysis

import (
	"regexp"
	"strings"
)

var (
	attendeesLineRe = regexp.MustCompile(`(?i)^\s*attendees?\s*:\s*(.+)$`)
	attendeeSplitRe = regexp.MustCompile(`[,;&]`)
	speakerPrefixRe = regexp.MustCompile(`^([A-Za-z]{2,15}):`)
)

// People detects participant names in a transcript, lower-cased and
// deduplicated in order of first appearance. Two signals contribute:
//
//   - an "Attendees:" header line, split on commas, semicolons and
//     ampersands, keeping the first word of each entry
//   - speaker prefixes, lines starting with a short name followed by a colon
//
// Both are heuristics; a name list is a hint for the insight cards, not an
// identity system.
func People(text string) []string {
	seen := map[string]struct{}{}
	people := make([]string, 0, 8)
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if len(name) < 2 || len(name) > 19 {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		people = append(people, name)
	}

	for _, line := range strings.Split(text, "\n") {
		if m := attendeesLineRe.FindStringSubmatch(line); m != nil {
			for _, entry := range attendeeSplitRe.Split(m[1], -1) {
				fields := strings.Fields(entry)
				if len(fields) > 0 {
					add(fields[0])
				}
			}
			continue
		}
		if m := speakerPrefixRe.FindStringSubmatch(line); m != nil {
			add(m[1])
		}
	}

	return people
}

// TitleCase upper-cases the first letter of an already lower-cased name.
func TitleCase(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
