package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logsvc "github.com/trezcool/quizbank/services/logger"
	"github.com/trezcool/quizbank/testutil"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestScheduler(t *testing.T) {
	out := new(syncBuffer)
	s := New(logsvc.NewRollbarLogger(log.New(out, "", 0), testutil.Config()))

	var runs, panics int32
	require.NoError(t, s.Every("count", "@every 1s", time.Second, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return errors.New("boom")
	}))
	require.NoError(t, s.Every("panic", "@every 1s", 0, func(ctx context.Context) error {
		atomic.AddInt32(&panics, 1)
		panic("kaboom")
	}))
	assert.Error(t, s.Every("bad", "every minute", 0, func(ctx context.Context) error { return nil }))

	s.Start()
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) > 0 && atomic.LoadInt32(&panics) > 0
	}, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	logs := out.String()
	assert.Contains(t, logs, "scheduled job failed")
	assert.Contains(t, logs, "kaboom")
}

func TestScheduler_StopCancelsJobs(t *testing.T) {
	s := New(testutil.Logger())
	started := make(chan struct{})
	var once sync.Once
	require.NoError(t, s.Every("long", "@every 1s", 0, func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}))
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
