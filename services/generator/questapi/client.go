// Package questapi is a client of the hosted question generation job API.
package questapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/quiz"
	"github.com/trezcool/quizbank/services/generator"
)

const maxResponseBytes = 4 << 20

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  core.Logger
}

var _ quiz.Generator = (*client)(nil) // interface compliance check

func NewClient(conf *core.Config, logger core.Logger) quiz.Generator {
	timeout := conf.Generator.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		baseURL: strings.TrimRight(conf.Generator.BaseURL, "/"),
		apiKey:  conf.Generator.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type apiError struct {
	status int
	body   string
}

func (e apiError) Error() string {
	return fmt.Sprintf("generation api: %d %s", e.status, e.body)
}

func (e apiError) transient() bool {
	return e.status >= 500 || e.status == http.StatusTooManyRequests
}

func (c *client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request")
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, method+" "+path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "reading response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiError{status: resp.StatusCode, body: core.Truncate(strings.TrimSpace(string(data)), 200)}
	}
	return data, nil
}

func (c *client) Submit(ctx context.Context, req quiz.GenerationRequest) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/v1/jobs", req)
	if err != nil {
		return "", err
	}
	jobID := gjson.GetBytes(data, "job_id").String()
	if jobID == "" {
		return "", errors.New("generation api: no job id in response")
	}
	return jobID, nil
}

// Result fetches the job state. Transient failures are reported as pending.
func (c *client) Result(ctx context.Context, jobID string) (quiz.GenerationResult, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		var apiErr apiError
		if errors.As(err, &apiErr) && !apiErr.transient() {
			return quiz.GenerationResult{}, err
		}
		c.logger.Warn("polling generation job", err, map[string]interface{}{"job": jobID})
		return quiz.GenerationResult{Status: quiz.JobPending}, nil
	}

	switch status := gjson.GetBytes(data, "status").String(); status {
	case "completed":
		return quiz.GenerationResult{
			Status:    quiz.JobCompleted,
			Questions: generator.ParseQuestions(data, "result.questions"),
		}, nil
	case "failed":
		return quiz.GenerationResult{Status: quiz.JobFailed, Error: gjson.GetBytes(data, "error").String()}, nil
	default: // pending, processing
		return quiz.GenerationResult{Status: quiz.JobPending}, nil
	}
}
