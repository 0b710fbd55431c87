package emailsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/sendgrid/rest"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/quizbank/core"
	logsvc "github.com/trezcool/quizbank/services/logger"
)

func testConfig() *core.Config {
	return &core.Config{
		Env:              "TEST",
		TestMode:         true,
		AppName:          "QuizBank",
		FrontendBaseURL:  "https://app.quizbank.test",
		DefaultFromEmail: mail.Address{Name: "QuizBank", Address: "noreply@quizbank.test"},
	}
}

func TestConsoleServiceMock_SendMessages(t *testing.T) {
	conf := testConfig()
	var logs bytes.Buffer
	svc := NewConsoleServiceMock(conf, logsvc.NewRollbarLogger(log.New(&logs, "", 0), conf))

	ready := &core.EmailMessage{
		To:           []mail.Address{{Name: "Ada", Address: "ada@test.io"}},
		Subject:      "Your quiz is ready",
		TemplateName: "quiz_ready",
		TemplateData: map[string]interface{}{"Name": "Ada", "Title": "Go basics", "Count": 3, "QuizID": "q1"},
	}
	noRecipient := &core.EmailMessage{Subject: "nobody", BodyStr: "hello"}
	unknown := &core.EmailMessage{To: ready.To, TemplateName: "does_not_exist"}

	svc.SendMessages(ready, noRecipient, unknown)

	sent := svc.SentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].TextContent, `Your quiz "Go basics" is ready with 3 questions.`)
	assert.Contains(t, sent[0].TextContent, "https://app.quizbank.test/quizzes/q1")
	assert.Contains(t, sent[0].HTMLContent, "Go basics")
	assert.Contains(t, logs.String(), "rendering email")

	svc.Reset()
	assert.Empty(t, svc.SentMessages())
}

func TestConsoleService_format(t *testing.T) {
	conf := testConfig()
	svc := &consoleService{conf: conf, disableOutput: true}

	msg := core.EmailMessage{
		To:          []mail.Address{{Address: "ada@test.io"}},
		Subject:     "Export",
		TextContent: "see attachment",
	}
	require.NoError(t, msg.Attach(strings.NewReader("a,b\n"), "quiz.csv", "text/csv"))

	out := svc.format(msg)
	assert.Contains(t, out, "Subject: [QuizBank] Export")
	assert.Contains(t, out, "multipart/mixed")
	assert.Contains(t, out, "attachment; filename=quiz.csv")
	assert.Contains(t, out, "see attachment")
}

func TestSendgridService_prepare(t *testing.T) {
	conf := testConfig()
	svc := NewSendgridService(conf, nil).(*sendgridService)

	msg := core.EmailMessage{
		To:          []mail.Address{{Name: "Ada", Address: "ada@test.io"}},
		Cc:          []mail.Address{{Address: "cc@test.io"}},
		Subject:     "Hello",
		TextContent: "text",
		HTMLContent: "<p>html</p>",
	}
	require.NoError(t, msg.Attach(strings.NewReader("data"), "quiz.txt", "text/plain"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(sgmail.GetRequestBody(svc.prepare(msg)), &body))

	pers := body["personalizations"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "[QuizBank] Hello", pers["subject"])
	assert.Equal(t, "ada@test.io", pers["to"].([]interface{})[0].(map[string]interface{})["email"])
	assert.Len(t, body["content"], 2)
	att := body["attachments"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "quiz.txt", att["filename"])
	assert.Equal(t, "ZGF0YQ==", att["content"])
	assert.Equal(t, "noreply@quizbank.test", body["from"].(map[string]interface{})["email"])
}

func TestSendgridService_prepareTags(t *testing.T) {
	conf := testConfig()
	svc := NewSendgridService(conf, nil).(*sendgridService)

	msg := core.EmailMessage{
		To:           []mail.Address{{Address: "ada@test.io"}},
		Subject:      "Ready",
		TemplateName: "quiz_ready",
		TextContent:  "text",
	}
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(sgmail.GetRequestBody(svc.prepare(msg)), &body))

	assert.Equal(t, []interface{}{"quiz_ready", "TEST"}, body["categories"])
	pers := body["personalizations"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"template": "quiz_ready"}, pers["custom_args"])
	sandbox := body["mail_settings"].(map[string]interface{})["sandbox_mode"].(map[string]interface{})
	assert.Equal(t, true, sandbox["enable"])
}

func TestSendgridService_send(t *testing.T) {
	retryBackoff = time.Millisecond
	msg := core.EmailMessage{To: []mail.Address{{Address: "ada@test.io"}}, Subject: "Hi", TextContent: "text"}

	tests := []struct {
		name      string
		statuses  []int
		wantCalls int
		wantErr   string
	}{
		{name: "accepted", statuses: []int{http.StatusAccepted}, wantCalls: 1},
		{name: "retried then accepted", statuses: []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusAccepted}, wantCalls: 3},
		{name: "client error is final", statuses: []int{http.StatusBadRequest}, wantCalls: 1, wantErr: "sendgrid status 400: nope"},
		{name: "gives up", statuses: []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable}, wantCalls: 3, wantErr: "sendgrid status 503: nope"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewSendgridService(testConfig(), nil).(*sendgridService)
			var calls int
			svc.api = func(req rest.Request) (*rest.Response, error) {
				assert.Equal(t, rest.Method(http.MethodPost), req.Method)
				status := tc.statuses[calls]
				calls++
				return &rest.Response{StatusCode: status, Body: "nope"}, nil
			}

			err := svc.send(context.Background(), msg)
			assert.Equal(t, tc.wantCalls, calls)
			if tc.wantErr != "" {
				assert.EqualError(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
