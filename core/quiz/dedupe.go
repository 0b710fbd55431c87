package quiz

import (
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// duplicateRatio is the similarity ratio from which two prompts are considered duplicates.
const duplicateRatio = .85

func promptWords(prompt string) []string {
	return strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func similar(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	m := difflib.NewMatcher(a, b)
	if m.QuickRatio() < duplicateRatio {
		return false
	}
	return m.Ratio() >= duplicateRatio
}

// dedupe drops the questions of `incoming` whose prompt is too similar to
// an `existing` prompt or to an earlier incoming prompt.
func dedupe(existing, incoming []Question) []Question {
	seen := make([][]string, 0, len(existing)+len(incoming))
	for _, q := range existing {
		seen = append(seen, promptWords(q.Prompt))
	}

	res := make([]Question, 0, len(incoming))
	for _, q := range incoming {
		words := promptWords(q.Prompt)
		dup := false
		for _, s := range seen {
			if similar(words, s) {
				dup = true
				break
			}
		}
		if !dup {
			seen = append(seen, words)
			res = append(res, q)
		}
	}
	return res
}
