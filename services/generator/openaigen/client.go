// Package openaigen generates questions with the OpenAI chat completion API.
// Jobs run in the background of the process; their results are kept in memory for a while.
package openaigen

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/quiz"
	"github.com/trezcool/quizbank/services/generator"
)

const systemPrompt = `You write quiz questions from the content the user provides.
Answer with a JSON object {"questions": [...]} where each question is
{"kind": "multiple_choice"|"true_false"|"short_answer", "question": string, "options": [string], "answer": string, "explanation": string}.
multiple_choice questions have 2 to 6 options and the answer is one of them.
true_false questions have the answer "true" or "false" and no options.
short_answer questions have a short answer and no options.
Only ask about facts stated in the content.`

var kindNames = map[string]string{
	quiz.KindMultipleChoice: "multiple choice",
	quiz.KindTrueFalse:      "true/false",
	quiz.KindShortAnswer:    "short answer",
}

type job struct {
	done     bool
	result   quiz.GenerationResult
	finished time.Time
}

type client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	ttl     time.Duration
	logger  core.Logger
	now     func() time.Time

	mu   sync.Mutex
	jobs map[string]*job
}

var _ quiz.Generator = (*client)(nil) // interface compliance check

func NewClient(conf *core.Config, logger core.Logger) quiz.Generator {
	return newClient(conf, logger)
}

func newClient(conf *core.Config, logger core.Logger) *client {
	apiConf := openai.DefaultConfig(conf.Generator.APIKey)
	if conf.Generator.BaseURL != "" {
		apiConf.BaseURL = strings.TrimRight(conf.Generator.BaseURL, "/")
	}
	c := &client{
		api:     openai.NewClientWithConfig(apiConf),
		model:   conf.Generator.Model,
		timeout: conf.Generator.Timeout,
		ttl:     conf.Generator.ResultTTL,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		jobs:    make(map[string]*job),
	}
	if c.model == "" {
		c.model = openai.GPT4oMini
	}
	if c.timeout <= 0 {
		c.timeout = 2 * time.Minute
	}
	if c.ttl <= 0 {
		c.ttl = time.Hour
	}
	return c
}

func userPrompt(req quiz.GenerationRequest) string {
	kinds := make([]string, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		kinds = append(kinds, kindNames[k])
	}
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "Write %d %s questions", req.Count, req.Difficulty)
	if len(kinds) > 0 {
		_, _ = fmt.Fprintf(&b, " (%s)", strings.Join(kinds, ", "))
	}
	_, _ = fmt.Fprintf(&b, " in the language %q", req.Language)
	if req.Title != "" {
		_, _ = fmt.Fprintf(&b, " for a quiz titled %q", req.Title)
	}
	b.WriteString(".\n\nContent:\n")
	b.WriteString(req.Content)
	return b.String()
}

// Submit starts the completion in the background and returns its job id.
func (c *client) Submit(_ context.Context, req quiz.GenerationRequest) (string, error) {
	jobID := uuid.New().String()
	c.mu.Lock()
	c.evict()
	c.jobs[jobID] = &job{}
	c.mu.Unlock()

	go c.run(jobID, req)
	return jobID, nil
}

func (c *client) run(jobID string, req quiz.GenerationRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	res := quiz.GenerationResult{Status: quiz.JobCompleted}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	switch {
	case err != nil:
		c.logger.Error("openai chat completion", errors.Wrap(err, "generating questions"), map[string]interface{}{"job": jobID})
		res = quiz.GenerationResult{Status: quiz.JobFailed, Error: "the question generator could not process this content"}
	case len(resp.Choices) == 0:
		res = quiz.GenerationResult{Status: quiz.JobFailed, Error: "the question generator returned no answer"}
	default:
		res.Questions = generator.ParseQuestions([]byte(resp.Choices[0].Message.Content), "questions")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.jobs[jobID]; ok {
		j.done = true
		j.result = res
		j.finished = c.now()
	}
}

func (c *client) Result(_ context.Context, jobID string) (quiz.GenerationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evict()

	j, ok := c.jobs[jobID]
	if !ok {
		// finished too long ago, or submitted before a restart
		return quiz.GenerationResult{}, errors.Wrapf(quiz.ErrUnknownJob, "job %q", jobID)
	}
	if !j.done {
		return quiz.GenerationResult{Status: quiz.JobPending}, nil
	}
	return j.result, nil
}

// evict drops the results older than the ttl. The caller holds the lock.
func (c *client) evict() {
	now := c.now()
	for id, j := range c.jobs {
		if j.done && now.Sub(j.finished) > c.ttl {
			delete(c.jobs, id)
		}
	}
}
