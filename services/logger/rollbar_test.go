package logsvc

import (
	"bytes"
	"log"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/user"
)

func newTestLogger(buf *bytes.Buffer) *RollbarLogger {
	return NewRollbarLogger(log.New(buf, "", 0), &core.Config{Env: "TEST", TestMode: true})
}

func TestRollbarLogger_Print(t *testing.T) {
	usr := user.User{ID: "user_1", Email: "ada@test.io", Name: "Ada"}

	tests := []struct {
		name    string
		named   string
		log     func(l *RollbarLogger)
		wantOut string
	}{
		{
			name: "message only",
			log: func(l *RollbarLogger) {
				l.Info("server started")
			},
			wantOut: "INFO server started\n",
		},
		{
			name: "error fields and user",
			log: func(l *RollbarLogger) {
				l.Error("creating quiz", errors.New("boom"), map[string]interface{}{"quiz": "q1", "count": 5}, usr)
			},
			wantOut: "ERROR creating quiz: boom count=5 quiz=q1\n",
		},
		{
			name: "field maps are merged",
			log: func(l *RollbarLogger) {
				l.Warn("slow poll", map[string]interface{}{"a": 1}, map[string]interface{}{"b": 2, "a": 3})
			},
			wantOut: "WARN slow poll a=3 b=2\n",
		},
		{
			name:  "named",
			named: "db",
			log: func(l *RollbarLogger) {
				l.Debug("migrated", map[string]interface{}{"version": 7}, "extra")
			},
			wantOut: "DEBUG [db] migrated version=7 extra\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newTestLogger(&buf)
			if tc.named != "" {
				logger = logger.Named(tc.named)
			}
			tc.log(logger)
			assert.Equal(t, tc.wantOut, buf.String())
			assert.NotContains(t, buf.String(), usr.Email)
		})
	}
}

func TestRollbarLogger_Prepare(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf).Named("poller")
	usr := user.User{ID: "user_1", Email: "ada@test.io", Name: "Ada"}
	err := errors.New("boom")

	e := logger.parse([]interface{}{usr, err, map[string]interface{}{"job": "j1"}, "extra", user.User{ID: "user_2"}})
	require.NotNil(t, e.person)
	assert.Equal(t, "user_1", e.person.ID)
	assert.Equal(t, err, e.err)

	args := logger.prepare("polling", e)
	assert.Equal(t, []interface{}{
		err,
		map[string]interface{}{"job": "j1", "component": "poller", "message": "polling"},
		"extra",
	}, args)

	args = newTestLogger(&buf).prepare("msg", entry{extra: []interface{}{"extra"}})
	assert.Equal(t, []interface{}{"msg", "extra"}, args)
}
