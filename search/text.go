package search

import (
	"strings"
	"unicode"
)

// stopWords are ignored when checking for verbatim matches.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "be": {}, "is": {}, "are": {}, "was": {},
	"to": {}, "of": {}, "and": {}, "in": {}, "that": {}, "have": {}, "it": {},
	"for": {}, "not": {}, "on": {}, "with": {}, "as": {}, "you": {}, "do": {},
	"at": {}, "this": {}, "but": {}, "by": {}, "from": {}, "or": {}, "what": {},
}

// terms lowercases text and splits it on anything that is not a letter or
// digit, dropping stop words.
func terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; !stop {
			out = append(out, f)
		}
	}
	return out
}

// containsAllQueryWords reports whether every query term appears in document.
// A query made only of stop words never matches.
func containsAllQueryWords(document, query string) bool {
	queryTerms := terms(query)
	if len(queryTerms) == 0 {
		return false
	}

	docTerms := make(map[string]struct{})
	for _, t := range terms(document) {
		docTerms[t] = struct{}{}
	}
	for _, q := range queryTerms {
		if _, ok := docTerms[q]; !ok {
			return false
		}
	}
	return true
}
