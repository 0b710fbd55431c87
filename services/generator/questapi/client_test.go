package questapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/quizbank/core/quiz"
	"github.com/trezcool/quizbank/testutil"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) quiz.Generator {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	conf := testutil.Config()
	conf.Generator.BaseURL = srv.URL + "/"
	conf.Generator.APIKey = "secret"
	return NewClient(conf, testutil.Logger())
}

func TestClient_Submit(t *testing.T) {
	var got quiz.GenerationRequest
	gen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/jobs", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id": "j-42"}`))
	})

	req := quiz.GenerationRequest{Content: "Go", Title: "t", Count: 3, Kinds: []string{"true_false"}, Difficulty: "easy", Language: "en"}
	jobID, err := gen.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "j-42", jobID)
	assert.Equal(t, req, got)
}

func TestClient_SubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusBadGateway, body: `bad gateway`},
		{name: "rejected", status: http.StatusUnprocessableEntity, body: `{"error": "content too short"}`},
		{name: "no job id", status: http.StatusOK, body: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := gen.Submit(context.Background(), quiz.GenerationRequest{})
			assert.Error(t, err)
		})
	}
}

func TestClient_Result(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    quiz.GenerationResult
		wantErr bool
	}{
		{
			name:   "pending",
			status: http.StatusOK,
			body:   `{"status": "processing"}`,
			want:   quiz.GenerationResult{Status: quiz.JobPending},
		},
		{
			name:   "completed",
			status: http.StatusOK,
			body:   `{"status": "completed", "result": {"questions": [{"kind": "true_false", "question": "Go is compiled", "answer": true}]}}`,
			want: quiz.GenerationResult{Status: quiz.JobCompleted, Questions: []quiz.Question{
				{Kind: quiz.KindTrueFalse, Prompt: "Go is compiled", Options: []string{}, Answer: "true"},
			}},
		},
		{
			name:   "failed",
			status: http.StatusOK,
			body:   `{"status": "failed", "error": "content too short"}`,
			want:   quiz.GenerationResult{Status: quiz.JobFailed, Error: "content too short"},
		},
		{
			name:   "transient",
			status: http.StatusServiceUnavailable,
			want:   quiz.GenerationResult{Status: quiz.JobPending},
		},
		{
			name:    "unknown job",
			status:  http.StatusNotFound,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/jobs/j-1", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			got, err := gen.Result(context.Background(), "j-1")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
