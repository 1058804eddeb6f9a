package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/cairoprove/internal/model"
	"github.com/seantiz/cairoprove/internal/notify"
	"github.com/seantiz/cairoprove/internal/store"
	"github.com/seantiz/cairoprove/internal/workdir"
)

const publishTimeout = 2 * time.Second

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = errors.New("engine is shut down")

// msgShutdown is recorded on jobs that never obtained a slot before shutdown.
const msgShutdown = "dispatcher shut down before the job started"

// Prover runs the proving pipeline for one job.
type Prover interface {
	Prove(ctx context.Context, dir *workdir.Dir, input model.ProverInput, logf func(string)) (string, error)
}

// Config holds dispatcher settings.
type Config struct {
	// MaxConcurrent bounds how many pipelines execute at once. Values below 1
	// are treated as 1.
	MaxConcurrent int

	// KeepFailed retains the working directory of failed jobs for inspection.
	// Otherwise it is deleted as soon as the job fails.
	KeepFailed bool
}

// Engine registers jobs and executes their pipelines asynchronously, never
// running more than MaxConcurrent pipelines at a time.
type Engine struct {
	store     store.Store
	prover    Prover
	publisher notify.Publisher
	logger    *slog.Logger
	cfg       Config
	broker    *LogBroker

	slots  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewEngine creates a dispatcher. A nil publisher disables event publishing.
func NewEngine(s store.Store, p Prover, pub notify.Publisher, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if pub == nil {
		pub = notify.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     s,
		prover:    p,
		publisher: pub,
		logger:    logger,
		cfg:       cfg,
		broker:    NewLogBroker(),
		slots:     make(chan struct{}, cfg.MaxConcurrent),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Broker returns the engine's log broker for SSE subscription.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

// Capacity returns the configured pipeline concurrency bound.
func (e *Engine) Capacity() int {
	return cap(e.slots)
}

// Active returns how many pipelines are executing right now.
func (e *Engine) Active() int {
	return len(e.slots)
}

// Submit registers a queued job for input and starts its execution in the
// background. It returns as soon as the job is visible in the store. The
// engine takes ownership of dir: it is promoted or released when the job ends.
// If Submit returns an error no job exists and dir still belongs to the caller.
func (e *Engine) Submit(ctx context.Context, input model.ProverInput, dir *workdir.Dir) (uint64, error) {
	// The lock orders wg registration against Close; nothing under it may
	// wait on the network.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}

	j := &model.Job{
		Kind:    input.Kind,
		Layout:  input.Layout,
		Workdir: dir.Path(),
	}
	if err := e.store.Create(ctx, j); err != nil {
		e.mu.Unlock()
		return 0, fmt.Errorf("create job: %w", err)
	}

	jobsTotal.WithLabelValues(string(input.Kind), string(model.StatusQueued)).Inc()
	jobsWaiting.Inc()
	e.wg.Go(func() {
		e.execute(j.ID, input, dir)
	})
	e.mu.Unlock()

	return j.ID, nil
}

// Wait blocks until all in-flight jobs finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close stops the dispatcher. Jobs still waiting for a slot fail, running
// stages are cancelled, and Close returns once every job has reached a
// terminal state.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// execute runs one job: wait for a slot, queued→running, then the pipeline.
func (e *Engine) execute(id uint64, input model.ProverInput, dir *workdir.Dir) {
	defer e.broker.Close(id)
	logger := e.logger.With("job_id", id)

	// Only this goroutine publishes events for id, so they stay ordered.
	e.publish(id, model.StatusQueued, "")

	select {
	case e.slots <- struct{}{}:
	case <-e.ctx.Done():
		jobsWaiting.Dec()
		e.finish(logger, id, input.Kind, dir, model.StatusFailed, msgShutdown)
		return
	}
	jobsWaiting.Dec()
	pipelinesActive.Inc()
	defer func() {
		pipelinesActive.Dec()
		<-e.slots
	}()

	// A slot can free up in the same instant shutdown begins.
	if e.ctx.Err() != nil {
		e.finish(logger, id, input.Kind, dir, model.StatusFailed, msgShutdown)
		return
	}

	if err := e.store.Update(e.ctx, id, model.StatusRunning, ""); err != nil {
		logger.Error("failed to transition to running", "error", err)
		e.finish(logger, id, input.Kind, dir, model.StatusFailed, fmt.Sprintf("failed to start: %v", err))
		return
	}
	jobsTotal.WithLabelValues(string(input.Kind), string(model.StatusRunning)).Inc()
	e.publish(id, model.StatusRunning, "")
	logger.Info("pipeline started", "kind", input.Kind, "layout", input.Layout, "workdir", dir.Path())

	start := time.Now()
	msg, err := e.prove(id, input, dir)
	if err != nil {
		logger.Warn("pipeline failed", "duration_ms", time.Since(start).Milliseconds(), "error", err)
		e.finish(logger, id, input.Kind, dir, model.StatusFailed, err.Error())
		return
	}

	logger.Info("pipeline completed", "duration_ms", time.Since(start).Milliseconds())
	e.finish(logger, id, input.Kind, dir, model.StatusCompleted, msg)
}

// prove runs the pipeline, turning a panic into an error so the job still
// reaches a terminal state and its slot is returned.
func (e *Engine) prove(id uint64, input model.ProverInput, dir *workdir.Dir) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panicked: %v", r)
		}
	}()
	return e.prover.Prove(e.ctx, dir, input, func(line string) {
		e.broker.Publish(id, line)
	})
}

// finish applies the retention policy to dir and records the terminal status.
// The directory is settled first so a completed job's artifacts exist by the
// time the status is observable.
func (e *Engine) finish(logger *slog.Logger, id uint64, kind model.Kind, dir *workdir.Dir, status model.Status, msg string) {
	if status == model.StatusCompleted || e.cfg.KeepFailed {
		dir.Promote()
	} else if err := dir.Release(); err != nil {
		logger.Error("failed to release workdir", "error", err)
	}

	// Terminal writes must land even while shutting down.
	ctx := context.WithoutCancel(e.ctx)
	if err := e.store.Update(ctx, id, status, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn("status update for unknown job", "status", status)
		} else {
			logger.Error("failed to record terminal status", "status", status, "error", err)
		}
		return
	}

	jobsTotal.WithLabelValues(string(kind), string(status)).Inc()
	e.publish(id, status, msg)
}

func (e *Engine) publish(id uint64, status model.Status, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	ev := notify.Event{JobID: id, Status: status, Message: msg, At: time.Now().UTC()}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Warn("failed to publish job event", "job_id", id, "status", status, "error", err)
	}
}
