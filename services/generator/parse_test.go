package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/quizbank/core/quiz"
)

func TestParseQuestions(t *testing.T) {
	payload := []byte(`{"result": {"questions": [
		{"kind": "Multiple_Choice", "question": " Which keyword starts a goroutine? ", "options": ["go", "defer"], "answer": "go"},
		{"type": "true_false", "prompt": "Maps are ordered", "answer": false, "explanation": "iteration order is random"},
		{"prompt": "Who created Go?", "correct_answer": ["Google"]},
		{"prompt": "Pick a loop keyword", "choices": ["for", "while", "loop"], "answer": "for"},
		{"kind": "short_answer", "answer": "no prompt"},
		"garbage"
	]}}`)

	got := ParseQuestions(payload, "result.questions")
	want := []quiz.Question{
		{Kind: quiz.KindMultipleChoice, Prompt: "Which keyword starts a goroutine?", Options: []string{"go", "defer"}, Answer: "go"},
		{Kind: quiz.KindTrueFalse, Prompt: "Maps are ordered", Options: []string{}, Answer: "false", Explanation: "iteration order is random"},
		{Kind: quiz.KindShortAnswer, Prompt: "Who created Go?", Options: []string{}, Answer: "Google"},
		{Kind: quiz.KindMultipleChoice, Prompt: "Pick a loop keyword", Options: []string{"for", "while", "loop"}, Answer: "for"},
	}
	assert.Equal(t, want, got)
}

func TestParseQuestions_NotAnArray(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		path    string
	}{
		{name: "missing path", payload: `{"questions": []}`, path: "result.questions"},
		{name: "object", payload: `{"questions": {"prompt": "x"}}`, path: "questions"},
		{name: "invalid json", payload: `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, ParseQuestions([]byte(tt.payload), tt.path))
		})
	}
}

func TestParseQuestions_TopLevelArray(t *testing.T) {
	got := ParseQuestions([]byte(`[{"question": "2 + 2?", "answer": 4}]`), "")
	assert.Equal(t, []quiz.Question{{Kind: quiz.KindShortAnswer, Prompt: "2 + 2?", Options: []string{}, Answer: "4"}}, got)
}
