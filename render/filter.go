package render

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Filter returns model narrowed to the items matching text, for lists and
// grids whose Filtering flag is set. Other models, and an empty text, are
// returned unchanged. The input model is never modified, and its dirty flags
// carry over: a caller that changes the search text marks the result itself.
//
// Every whitespace-separated term must match an item, either as a
// case-insensitive substring of its title, subtitle or keywords, or within a
// small edit distance of one of their words. Sections left empty are dropped.
func Filter(model Model, text string) Model {
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 || !model.Base().Filtering {
		return model
	}
	switch m := model.(type) {
	case *ListModel:
		cp := *m
		cp.Sections = filterSections(m.Sections, terms)
		return &cp
	case *GridModel:
		cp := *m
		cp.Sections = filterSections(m.Sections, terms)
		return &cp
	}
	return model
}

func filterSections(sections []Section, terms []string) []Section {
	var out []Section
	for _, s := range sections {
		var items []Item
		for _, it := range s.Items {
			if itemMatches(it, terms) {
				items = append(items, it)
			}
		}
		if len(items) == 0 {
			continue
		}
		s.Items = items
		out = append(out, s)
	}
	return out
}

func itemMatches(it Item, terms []string) bool {
	fields := append([]string{it.Title, it.Subtitle}, it.Keywords...)
	haystack := strings.ToLower(strings.Join(fields, " "))
	words := strings.Fields(haystack)
	for _, term := range terms {
		if !termMatches(term, haystack, words) {
			return false
		}
	}
	return true
}

func termMatches(term, haystack string, words []string) bool {
	if strings.Contains(haystack, term) {
		return true
	}
	n := len([]rune(term))
	if n < 3 {
		return false
	}
	tolerance := 1
	if n >= 6 {
		tolerance = 2
	}
	for _, w := range words {
		// Compare against the same-length prefix of the word.
		if r := []rune(w); len(r) > n {
			w = string(r[:n])
		}
		if levenshtein.ComputeDistance(term, w) <= tolerance {
			return true
		}
	}
	return false
}
