package quiz

import (
	"fmt"
	"strings"

	"github.com/trezcool/quizbank/core"
)

// normalizeQuestion cleans q and enforces the rules of its kind:
//  - multiple_choice: 2 to 6 distinct options, the answer is one of them
//  - true_false: the answer is "true" or "false"
//  - short_answer: a non-empty answer and no options
func normalizeQuestion(q *Question) error {
	q.Kind = core.CleanString(q.Kind, true /* lower */)
	q.Prompt = core.CleanString(q.Prompt)
	q.Answer = core.CleanString(q.Answer)
	q.Explanation = core.CleanString(q.Explanation)
	q.Options = core.CleanStrings(q.Options)

	if q.Prompt == "" {
		return core.NewFieldError("prompt", "this field cannot be blank")
	}

	switch q.Kind {
	case KindMultipleChoice:
		opts := make([]string, 0, len(q.Options))
		seen := make(map[string]bool, len(q.Options))
		for _, o := range q.Options {
			if lo := strings.ToLower(o); !seen[lo] {
				seen[lo] = true
				opts = append(opts, o)
			}
		}
		if len(opts) < minOptions || len(opts) > maxOptions {
			return core.NewFieldError("options", fmt.Sprintf("multiple choice questions need %d to %d distinct options", minOptions, maxOptions))
		}
		q.Options = opts
		for _, o := range opts {
			if strings.EqualFold(o, q.Answer) {
				q.Answer = o
				return nil
			}
		}
		return core.NewFieldError("answer", "the answer must be one of the options")

	case KindTrueFalse:
		ans := strings.ToLower(q.Answer)
		if ans != "true" && ans != "false" {
			return core.NewFieldError("answer", "the answer must be true or false")
		}
		q.Answer = ans
		q.Options = []string{"true", "false"}
		return nil

	case KindShortAnswer:
		if q.Answer == "" {
			return core.NewFieldError("answer", "this field is required")
		}
		q.Options = []string{}
		return nil

	default:
		return core.NewFieldError("kind", "invalid question kind")
	}
}

// normalizeQuestions drops the questions that are not valid for their kind.
func normalizeQuestions(qs []Question) []Question {
	res := make([]Question, 0, len(qs))
	for _, q := range qs {
		if err := normalizeQuestion(&q); err == nil {
			res = append(res, q)
		}
	}
	return res
}

// filterKinds keeps the questions whose kind is in `kinds` (all when empty).
func filterKinds(qs []Question, kinds []string) []Question {
	if len(kinds) == 0 {
		return qs
	}
	res := qs[:0]
	for _, q := range qs {
		if contains(kinds, q.Kind) {
			res = append(res, q)
		}
	}
	return res
}
