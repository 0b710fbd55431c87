// Package generator holds what the question generator backends share.
package generator

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/trezcool/quizbank/core/quiz"
)

// ParseQuestions reads the questions of a generator payload.
// `path` points to the questions array ("" when the payload is the array itself).
// Entries without a prompt are dropped; the quiz service enforces the remaining rules.
func ParseQuestions(payload []byte, path string) []quiz.Question {
	arr := gjson.ParseBytes(payload)
	if path != "" {
		arr = arr.Get(path)
	}
	if !arr.IsArray() {
		return nil
	}

	questions := make([]quiz.Question, 0)
	arr.ForEach(func(_, item gjson.Result) bool {
		if q, ok := parseQuestion(item); ok {
			questions = append(questions, q)
		}
		return true
	})
	return questions
}

func firstOf(item gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := item.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func parseQuestion(item gjson.Result) (quiz.Question, bool) {
	if !item.IsObject() {
		return quiz.Question{}, false
	}
	q := quiz.Question{
		Kind:        strings.ToLower(strings.TrimSpace(firstOf(item, "kind", "type").String())),
		Prompt:      strings.TrimSpace(firstOf(item, "question", "prompt").String()),
		Explanation: strings.TrimSpace(item.Get("explanation").String()),
		Options:     []string{},
	}
	if q.Prompt == "" {
		return quiz.Question{}, false
	}
	for _, opt := range firstOf(item, "options", "choices").Array() {
		q.Options = append(q.Options, opt.String())
	}

	// booleans and numbers come as they are ("true", "4")
	ans := firstOf(item, "answer", "correct_answer")
	if ans.IsArray() {
		if arr := ans.Array(); len(arr) > 0 {
			ans = arr[0]
		}
	}
	q.Answer = strings.TrimSpace(ans.String())
	if q.Kind == "" {
		q.Kind = guessKind(q)
	}
	return q, true
}

func guessKind(q quiz.Question) string {
	switch {
	case len(q.Options) > 2:
		return quiz.KindMultipleChoice
	case strings.EqualFold(q.Answer, "true") || strings.EqualFold(q.Answer, "false"):
		return quiz.KindTrueFalse
	case len(q.Options) > 0:
		return quiz.KindMultipleChoice
	default:
		return quiz.KindShortAnswer
	}
}
