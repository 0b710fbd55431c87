package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/quiz"
)

func ctx() context.Context { return context.Background() }

func NewID() string { return uuid.New().String() }

// Generator is an in-memory quiz.Generator. Jobs stay pending until a result is set.
type Generator struct {
	mu        sync.Mutex
	n         int
	Requests  []quiz.GenerationRequest
	results   map[string]quiz.GenerationResult
	SubmitErr error
	ResultErr error
}

var _ quiz.Generator = (*Generator)(nil)

func NewGenerator() *Generator {
	return &Generator{results: make(map[string]quiz.GenerationResult)}
}

func (g *Generator) Submit(_ context.Context, req quiz.GenerationRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SubmitErr != nil {
		return "", g.SubmitErr
	}
	g.n++
	g.Requests = append(g.Requests, req)
	return fmt.Sprintf("job-%d", g.n), nil
}

func (g *Generator) Result(_ context.Context, jobID string) (quiz.GenerationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ResultErr != nil {
		return quiz.GenerationResult{}, g.ResultErr
	}
	if res, ok := g.results[jobID]; ok {
		return res, nil
	}
	return quiz.GenerationResult{Status: quiz.JobPending}, nil
}

func (g *Generator) Complete(jobID string, questions ...quiz.Question) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[jobID] = quiz.GenerationResult{Status: quiz.JobCompleted, Questions: questions}
}

func (g *Generator) Fail(jobID, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[jobID] = quiz.GenerationResult{Status: quiz.JobFailed, Error: reason}
}

func (g *Generator) LastRequest() quiz.GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Requests) == 0 {
		return quiz.GenerationRequest{}
	}
	return g.Requests[len(g.Requests)-1]
}

// Content is a quiz.ContentSource returning canned text.
type Content struct {
	Pages map[string]string // {url: text}
	Err   error
}

var _ quiz.ContentSource = (*Content)(nil)

func (c *Content) FetchURLs(_ context.Context, urls []string) (string, error) {
	if c.Err != nil {
		return "", c.Err
	}
	var buf bytes.Buffer
	for i, u := range urls {
		if i > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(c.Pages[u])
	}
	return buf.String(), nil
}

func (c *Content) ExtractDocument(_ context.Context, _ string, data []byte) (string, error) {
	if c.Err != nil {
		return "", c.Err
	}
	return string(data), nil
}

// Quota is a quiz.Quota that records reservations.
type Quota struct {
	mu         sync.Mutex
	Reserved   []int
	ReserveErr error
	FeatureErr error
}

var _ quiz.Quota = (*Quota)(nil)

func (q *Quota) Reserve(_ context.Context, _ string, questions int, _ bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ReserveErr != nil {
		return q.ReserveErr
	}
	q.Reserved = append(q.Reserved, questions)
	return nil
}

func (q *Quota) CheckFeature(context.Context, string, string) error {
	return q.FeatureErr
}

// Forms is a quiz.FormsExporter that records exported quizzes.
type Forms struct {
	Exported []quiz.Quiz
	Tokens   []string
	Err      error
}

var _ quiz.FormsExporter = (*Forms)(nil)

func (f *Forms) CreateForm(_ context.Context, accessToken string, qz quiz.Quiz) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	f.Exported = append(f.Exported, qz)
	f.Tokens = append(f.Tokens, accessToken)
	return "https://docs.google.com/forms/d/e/" + qz.ID + "/viewform", nil
}

// FileStore is an in-memory core.FileStore.
type FileStore struct {
	mu    sync.Mutex
	Files map[string][]byte
}

var _ core.FileStore = (*FileStore)(nil)

func NewFileStore() *FileStore {
	return &FileStore{Files: make(map[string][]byte)}
}

func (fs *FileStore) Save(_ context.Context, key string, r io.Reader, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.Files[key] = data
	return nil
}

func (fs *FileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.Files[key]
	if !ok {
		return nil, core.ErrFileNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (fs *FileStore) Delete(_ context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.Files[key]; !ok {
		return core.ErrFileNotFound
	}
	delete(fs.Files, key)
	return nil
}
