package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducklinghq/duckling/internal/engine"
	"github.com/ducklinghq/duckling/internal/files"
	"github.com/ducklinghq/duckling/internal/settings"
)

func newTestHarness(t *testing.T, factory engine.Factory, maxConcurrent int) (*Scheduler, *Registry, *files.Manager) {
	t.Helper()
	root := t.TempDir()
	fm, err := files.NewManager(filepath.Join(root, "uploads"), filepath.Join(root, "outputs"))
	require.NoError(t, err)

	adapter, err := NewAdapter(factory, 4, nil)
	require.NoError(t, err)

	sched := NewScheduler(adapter, NewMaterializer(fm, nil, nil), nil, maxConcurrent)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})

	return sched, NewRegistry(fm), fm
}

func waitForCompletion(t *testing.T, done <-chan *Job) *Job {
	t.Helper()
	select {
	case job := <-done:
		return job
	case <-time.After(10 * time.Second):
		t.Fatal("job did not complete in time")
		return nil
	}
}

func TestScheduler_CompletesJob(t *testing.T) {
	factory := stubFactory(nil, func(engine.Options) (*engine.Result, error) {
		return successResult(), nil
	})
	sched, reg, _ := newTestHarness(t, factory, 2)

	job := reg.Create("in.pdf", "report.pdf", settings.Defaults(), "")
	done := make(chan *Job, 1)
	sched.Submit(job, func(j *Job) { done <- j })

	completed := waitForCompletion(t, done)
	view := completed.View()

	assert.Equal(t, StatusCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
	assert.Equal(t, "Conversion completed successfully", view.Message)
	require.NotNil(t, view.Result)
	assert.Equal(t, "# Title\n\nbody", view.Result.MarkdownPreview)
	assert.Contains(t, view.Result.FormatsAvailable, "markdown")
	assert.NotNil(t, view.CompletedAt)

	mdPath, ok := completed.OutputPath("markdown")
	require.True(t, ok)
	data, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", string(data))
}

func TestScheduler_BoundedConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	release := make(chan struct{})

	factory := stubFactory(nil, func(engine.Options) (*engine.Result, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		return successResult(), nil
	})
	sched, reg, _ := newTestHarness(t, factory, 2)

	done := make(chan *Job, 4)
	for i := 0; i < 4; i++ {
		job := reg.Create("in.pdf", "doc.pdf", settings.Defaults(), "")
		sched.Submit(job, func(j *Job) { done <- j })
	}

	// Give the dispatcher time to launch everything it is willing to.
	time.Sleep(200 * time.Millisecond)
	assert.LessOrEqual(t, current.Load(), int32(2))

	close(release)
	for i := 0; i < 4; i++ {
		waitForCompletion(t, done)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestScheduler_FIFODispatchOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	factory := func(opts engine.Options) (engine.Converter, error) {
		return converterFunc(func(ctx context.Context, inputPath string) (*engine.Result, error) {
			mu.Lock()
			order = append(order, inputPath)
			mu.Unlock()
			return successResult(), nil
		}), nil
	}
	sched, reg, _ := newTestHarness(t, factory, 1)

	done := make(chan *Job, 3)
	inputs := []string{"first.pdf", "second.pdf", "third.pdf"}
	for _, in := range inputs {
		job := reg.Create(in, "doc.pdf", settings.Defaults(), "")
		sched.Submit(job, func(j *Job) { done <- j })
	}
	for range inputs {
		waitForCompletion(t, done)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, inputs, order)
}

func TestScheduler_NotifierFiresExactlyOnceOnPanic(t *testing.T) {
	factory := func(opts engine.Options) (engine.Converter, error) {
		return &stubConverter{opts: opts, panicOn: true}, nil
	}
	sched, reg, _ := newTestHarness(t, factory, 1)

	var notified atomic.Int32
	job := reg.Create("in.pdf", "doc.pdf", settings.Defaults(), "")
	done := make(chan *Job, 1)
	sched.Submit(job, func(j *Job) {
		notified.Add(1)
		done <- j
	})

	completed := waitForCompletion(t, done)
	time.Sleep(100 * time.Millisecond)

	view := completed.View()
	assert.Equal(t, StatusFailed, view.Status)
	assert.Contains(t, view.Error, "panic")
	assert.NotNil(t, view.CompletedAt)
	assert.Equal(t, int32(1), notified.Load())
}

func TestScheduler_CallbackPanicDoesNotKillScheduler(t *testing.T) {
	factory := stubFactory(nil, func(engine.Options) (*engine.Result, error) {
		return successResult(), nil
	})
	sched, reg, _ := newTestHarness(t, factory, 1)

	first := reg.Create("a.pdf", "a.pdf", settings.Defaults(), "")
	sched.Submit(first, func(*Job) { panic("callback exploded") })

	second := reg.Create("b.pdf", "b.pdf", settings.Defaults(), "")
	done := make(chan *Job, 1)
	sched.Submit(second, func(j *Job) { done <- j })

	completed := waitForCompletion(t, done)
	assert.Equal(t, StatusCompleted, completed.View().Status)
}

func TestScheduler_TerminalEngineErrorFailsJob(t *testing.T) {
	factory := stubFactory(nil, func(engine.Options) (*engine.Result, error) {
		return nil, errors.New("disk full")
	})
	sched, reg, _ := newTestHarness(t, factory, 1)

	job := reg.Create("in.pdf", "doc.pdf", settings.Defaults(), "")
	done := make(chan *Job, 1)
	sched.Submit(job, func(j *Job) { done <- j })

	view := waitForCompletion(t, done).View()
	assert.Equal(t, StatusFailed, view.Status)
	assert.Equal(t, "disk full", view.Error)
	assert.Equal(t, "Conversion failed: disk full", view.Message)
}

func TestScheduler_EngineFailureStatusFailsJob(t *testing.T) {
	factory := stubFactory(nil, func(engine.Options) (*engine.Result, error) {
		return &engine.Result{
			Status: engine.StatusFailure,
			Errors: []string{"unreadable stream"},
		}, nil
	})
	sched, reg, _ := newTestHarness(t, factory, 1)

	job := reg.Create("in.pdf", "doc.pdf", settings.Defaults(), "")
	done := make(chan *Job, 1)
	sched.Submit(job, func(j *Job) { done <- j })

	view := waitForCompletion(t, done).View()
	assert.Equal(t, StatusFailed, view.Status)
	assert.Contains(t, view.Error, "Conversion failed with status: failure")
	assert.Contains(t, view.Error, "unreadable stream")
}

func TestScheduler_DegradedRetryCompletesJob(t *testing.T) {
	factory := stubFactory(nil, func(opts engine.Options) (*engine.Result, error) {
		if opts.OCR.Enabled {
			return nil, errors.New("CUDA out of memory")
		}
		return successResult(), nil
	})
	sched, reg, _ := newTestHarness(t, factory, 1)

	job := reg.Create("in.pdf", "doc.pdf", settings.Defaults(), "")
	done := make(chan *Job, 1)
	sched.Submit(job, func(j *Job) { done <- j })

	view := waitForCompletion(t, done).View()
	assert.Equal(t, StatusCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
	assert.Empty(t, view.Error)
}

// converterFunc adapts a function to the engine.Converter interface.
type converterFunc func(ctx context.Context, inputPath string) (*engine.Result, error)

func (f converterFunc) Convert(ctx context.Context, inputPath string) (*engine.Result, error) {
	return f(ctx, inputPath)
}
