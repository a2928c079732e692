package convert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ducklinghq/duckling/internal/engine"
	"github.com/ducklinghq/duckling/internal/observability"
)

// dispatchPoll bounds how long the dispatcher waits before rechecking the
// queue and the shutdown signal.
const dispatchPoll = 500 * time.Millisecond

// CompletionFunc is called exactly once when a job reaches a terminal state.
type CompletionFunc func(*Job)

type submission struct {
	job        *Job
	onComplete CompletionFunc
}

// Scheduler runs submitted jobs with bounded parallelism. Submissions are
// dispatched in FIFO order; at most maxConcurrent workers run at a time.
// Submit never blocks. Running jobs are not cancelled mid-flight.
type Scheduler struct {
	adapter       *Adapter
	materializer  *Materializer
	logger        *observability.Logger
	maxConcurrent int

	mu    sync.Mutex
	queue []submission

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	live     atomic.Int32
	wg       sync.WaitGroup
}

// NewScheduler starts the dispatcher goroutine.
func NewScheduler(adapter *Adapter, materializer *Materializer, logger *observability.Logger, maxConcurrent int) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	s := &Scheduler{
		adapter:       adapter,
		materializer:  materializer,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.dispatch()
	return s
}

// Submit enqueues a pending job. The queue-position message lets pollers see
// where the job sits before a worker picks it up.
func (s *Scheduler) Submit(job *Job, onComplete CompletionFunc) {
	s.mu.Lock()
	s.queue = append(s.queue, submission{job: job, onComplete: onComplete})
	position := len(s.queue)
	s.mu.Unlock()

	job.setMessage(fmt.Sprintf("Queued for processing (position: %d)", position))
	s.notifyWake()
}

// QueueLen returns the number of submissions not yet dispatched.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Shutdown stops dispatching and waits for running workers to finish or the
// context to expire. Queued jobs that were never dispatched stay pending.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) notifyWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) pop() (submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return submission{}, false
	}
	sub := s.queue[0]
	s.queue = s.queue[1:]
	return sub, true
}

func (s *Scheduler) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if int(s.live.Load()) < s.maxConcurrent {
			if sub, ok := s.pop(); ok {
				s.live.Add(1)
				s.wg.Add(1)
				go s.runJob(sub)
				continue
			}
		}

		select {
		case <-s.stopCh:
			return
		case <-s.wake:
		case <-time.After(dispatchPoll):
		}
	}
}

func (s *Scheduler) runJob(sub submission) {
	defer s.wg.Done()
	defer func() {
		s.live.Add(-1)
		s.notifyWake()
	}()

	job := sub.job

	// Terminal bookkeeping and the completion callback run exactly once,
	// whatever path the worker took, including a panic.
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			job.fail(msg, "Conversion failed: "+msg)
			if s.logger != nil {
				s.logger.Error().
					Str("job_id", job.ID).
					Interface("panic", r).
					Msg("Conversion worker panicked")
			}
		}
		job.markCompletedAt()
		s.notifyCompletion(sub)
	}()

	s.process(job)
}

func (s *Scheduler) notifyCompletion(sub submission) {
	if sub.onComplete == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error().
				Str("job_id", sub.job.ID).
				Interface("panic", r).
				Msg("Completion callback panicked")
		}
	}()
	sub.onComplete(sub.job)
}

func (s *Scheduler) process(job *Job) {
	job.setProcessing()
	job.setProgress(10, "Starting document conversion...")

	snap := job.Settings
	if snap.OCR.Enabled {
		job.setProgress(20, fmt.Sprintf("Analyzing document with OCR (%s, %s)...", snap.OCR.Backend, snap.OCR.Language))
	} else {
		job.setProgress(20, "Analyzing document structure...")
	}

	job.setProgress(30, "")
	res, degraded, err := s.adapter.Convert(context.Background(), job.InputPath, snap, func() {
		job.setProgress(25, "OCR failed, retrying without OCR...")
	})
	if err != nil {
		job.fail(err.Error(), "Conversion failed: "+err.Error())
		return
	}
	if degraded {
		job.setMessage("Converted without OCR (OCR initialization failed)")
	}

	job.setProgress(50, "Processing document content...")

	if res.Status == engine.StatusFailure {
		msg := fmt.Sprintf("Conversion failed with status: %s", res.Status)
		if len(res.Errors) > 0 {
			msg += " - " + strings.Join(res.Errors, "; ")
		}
		job.fail(msg, msg)
		return
	}

	if err := s.materializer.Materialize(job, res); err != nil {
		job.fail(err.Error(), "Conversion failed: "+err.Error())
		return
	}

	if s.logger != nil {
		s.logger.Info().
			Str("job_id", job.ID).
			Str("filename", job.OriginalFilename).
			Bool("degraded", degraded).
			Msg("Conversion finished")
	}
}
