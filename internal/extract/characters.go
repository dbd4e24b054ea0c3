package extract

import (
	"regexp"
	"sort"
	"strings"
)

// Character is a recurring proper name detected across the manuscript.
type Character struct {
	Name     string `json:"name"`
	Mentions int    `json:"mentions"`
	// FirstChapter is the index of the chapter where the name first occurs.
	FirstChapter int `json:"first_chapter"`
}

const defaultMinMentions = 3

var properName = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)

// Words that satisfy the proper-name pattern at sentence starts but never
// denote a character.
var nameStopwords = map[string]struct{}{
	"The": {}, "And": {}, "But": {}, "She": {}, "His": {}, "Her": {},
	"They": {}, "Then": {}, "When": {}, "What": {}, "With": {}, "There": {},
	"This": {}, "That": {}, "Chapter": {}, "Not": {}, "Now": {}, "After": {},
	"Before": {}, "While": {}, "Though": {}, "However": {}, "Yes": {},
	"Perhaps": {}, "Meanwhile": {}, "Suddenly": {},
}

// DetectCharacters scans chapters for recurring capitalized names. Names
// mentioned fewer than minMentions times are dropped (minMentions <= 0
// selects a default). Results are ordered by descending mention count, ties
// broken alphabetically so output stays deterministic.
func DetectCharacters(chapters []Chapter, minMentions int) []Character {
	if minMentions <= 0 {
		minMentions = defaultMinMentions
	}
	counts := make(map[string]*Character)
	for _, ch := range chapters {
		for _, name := range properName.FindAllString(ch.Text, -1) {
			if _, stop := nameStopwords[name]; stop {
				continue
			}
			c, ok := counts[name]
			if !ok {
				c = &Character{Name: name, FirstChapter: ch.Index}
				counts[name] = c
			}
			c.Mentions++
		}
	}

	out := make([]Character, 0, len(counts))
	for _, c := range counts {
		if c.Mentions >= minMentions {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return strings.Compare(out[i].Name, out[j].Name) < 0
	})
	return out
}
