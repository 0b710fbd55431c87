package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailMessage_Render(t *testing.T) {
	data := map[string]interface{}{"Name": "Ada", "Title": "Go basics", "Count": 3, "QuizID": "q1"}

	tests := []struct {
		name     string
		msg      EmailMessage
		wantErr  string
		wantText []string
		wantHTML bool
	}{
		{
			name:     "plain body",
			msg:      EmailMessage{BodyStr: "hello"},
			wantText: []string{"hello"},
		},
		{
			name:     "template",
			msg:      EmailMessage{TemplateName: "quiz_ready", TemplateData: data},
			wantText: []string{`Your quiz "Go basics" is ready with 3 questions.`, "https://app.test/quizzes/q1", "The QuizBank team"},
			wantHTML: true,
		},
		{
			name:     "body wins over text template",
			msg:      EmailMessage{BodyStr: "hello", TemplateName: "quiz_ready", TemplateData: data},
			wantText: []string{"hello"},
			wantHTML: true,
		},
		{
			name:    "unknown template",
			msg:     EmailMessage{TemplateName: "nope"},
			wantErr: `unknown email template "nope"`,
		},
		{
			name:    "missing data",
			msg:     EmailMessage{TemplateName: "quiz_ready", TemplateData: map[string]interface{}{}},
			wantErr: "rendering quiz_ready.txt",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.msg
			err := msg.Render("QuizBank", "https://app.test")
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			for _, want := range tc.wantText {
				assert.Contains(t, msg.TextContent, want)
			}
			assert.Equal(t, tc.wantHTML, msg.HTMLContent != "")
		})
	}
}

func TestEmailMessage_Attach(t *testing.T) {
	var msg EmailMessage
	require.NoError(t, msg.Attach(strings.NewReader("a,b\n1,2\n"), "quiz.csv", "text/csv"))
	require.NoError(t, msg.Attach(strings.NewReader("plain"), "notes.txt"))

	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "YSxiCjEsMgo=", msg.Attachments[0].Content.String())
	assert.Equal(t, "text/csv", msg.Attachments[0].ContentType)
	assert.Equal(t, "text/plain; charset=utf-8", msg.Attachments[1].ContentType)
	assert.True(t, msg.HasAttachments())
	assert.False(t, msg.HasRecipients())
}
