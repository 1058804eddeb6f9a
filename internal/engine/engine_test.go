package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/cairoprove/internal/engine"
	"github.com/seantiz/cairoprove/internal/model"
	"github.com/seantiz/cairoprove/internal/notify"
	"github.com/seantiz/cairoprove/internal/store"
	"github.com/seantiz/cairoprove/internal/workdir"
)

// fakeProver is a configurable Prover for dispatcher tests. It tracks the
// peak number of concurrent Prove calls.
type fakeProver struct {
	delay   time.Duration
	err     error
	panics  bool
	release chan struct{}

	active atomic.Int32
	peak   atomic.Int32
}

func (f *fakeProver) Prove(ctx context.Context, dir *workdir.Dir, _ model.ProverInput, logf func(string)) (string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	logf("running stage")

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if f.panics {
		panic("stage exploded")
	}
	if f.err != nil {
		return "", f.err
	}
	os.WriteFile(dir.Artifact(workdir.ArtifactProof), []byte(`{}`), 0o644)
	return "proof generated at " + dir.Artifact(workdir.ArtifactProof), nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Ping(context.Context) error { return nil }
func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) statuses(id uint64) []model.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Status
	for _, ev := range r.events {
		if ev.JobID == id {
			out = append(out, ev.Status)
		}
	}
	return out
}

type testEnv struct {
	eng   *engine.Engine
	store store.Store
	dirs  *workdir.Manager
	pub   *recordingPublisher
}

func newTestEngine(t *testing.T, p engine.Prover, cfg engine.Config) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	dirs, err := workdir.NewManager(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	pub := &recordingPublisher{}
	eng := engine.NewEngine(s, p, pub, cfg, logger)
	t.Cleanup(eng.Close)
	return &testEnv{eng: eng, store: s, dirs: dirs, pub: pub}
}

func (env *testEnv) submit(t *testing.T) (uint64, *workdir.Dir) {
	t.Helper()
	dir, err := env.dirs.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	id, err := env.eng.Submit(context.Background(), model.ProverInput{
		Kind:    model.KindCairo,
		Program: []byte(`{}`),
		Layout:  "small",
	}, dir)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return id, dir
}

// waitForStatus polls the store until the job reaches the expected status.
func waitForStatus(t *testing.T, s store.Store, id uint64, expected model.Status, timeout time.Duration) *model.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		j, err := s.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if j.Status == expected {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %d did not reach status %q within %v", id, expected, timeout)
	return nil
}

func TestSubmitHappyPath(t *testing.T) {
	p := &fakeProver{release: make(chan struct{})}
	env := newTestEngine(t, p, engine.Config{MaxConcurrent: 1})

	id, dir := env.submit(t)
	if id != 1 {
		t.Errorf("first job id = %d, want 1", id)
	}

	// The job is registered before Submit returns.
	got, err := env.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.StatusQueued && got.Status != model.StatusRunning {
		t.Errorf("initial status = %q, want queued or running", got.Status)
	}
	if got.Workdir != dir.Path() {
		t.Errorf("Workdir = %q, want %q", got.Workdir, dir.Path())
	}

	waitForStatus(t, env.store, id, model.StatusRunning, 2*time.Second)
	close(p.release)

	done := waitForStatus(t, env.store, id, model.StatusCompleted, 2*time.Second)
	if !strings.Contains(done.Message, dir.Path()) {
		t.Errorf("message %q does not reference workdir %s", done.Message, dir.Path())
	}
	if done.StartedAt == nil || done.FinishedAt == nil {
		t.Errorf("timestamps not set: started=%v finished=%v", done.StartedAt, done.FinishedAt)
	}
	if !dir.Promoted() {
		t.Error("completed job's workdir was not promoted")
	}
	if _, err := os.Stat(dir.Artifact(workdir.ArtifactProof)); err != nil {
		t.Errorf("proof missing from completed workdir: %v", err)
	}

	env.eng.Wait()
	want := []model.Status{model.StatusQueued, model.StatusRunning, model.StatusCompleted}
	got2 := env.pub.statuses(id)
	if len(got2) != len(want) {
		t.Fatalf("published %v, want %v", got2, want)
	}
	for i := range want {
		if got2[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got2[i], want[i])
		}
	}
}

func TestSubmitFailureReleasesWorkdir(t *testing.T) {
	p := &fakeProver{err: errors.New("trace stage failed: exit status 1")}
	env := newTestEngine(t, p, engine.Config{MaxConcurrent: 1, KeepFailed: false})

	id, dir := env.submit(t)
	failed := waitForStatus(t, env.store, id, model.StatusFailed, 2*time.Second)
	if failed.Message == "" || !strings.Contains(failed.Message, "trace stage failed") {
		t.Errorf("message = %q, want stage diagnostic", failed.Message)
	}

	env.eng.Wait()
	if _, err := os.Stat(dir.Path()); !os.IsNotExist(err) {
		t.Errorf("failed workdir still present: %v", err)
	}
}

func TestSubmitFailureKeepsWorkdirWhenConfigured(t *testing.T) {
	p := &fakeProver{err: errors.New("prove stage failed")}
	env := newTestEngine(t, p, engine.Config{MaxConcurrent: 1, KeepFailed: true})

	id, dir := env.submit(t)
	waitForStatus(t, env.store, id, model.StatusFailed, 2*time.Second)
	env.eng.Wait()

	if !dir.Promoted() {
		t.Error("failed workdir not retained with KeepFailed")
	}
	if _, err := os.Stat(dir.Path()); err != nil {
		t.Errorf("failed workdir removed: %v", err)
	}
}

func TestSubmitPanicMarksFailedAndFreesSlot(t *testing.T) {
	p := &fakeProver{panics: true}
	env := newTestEngine(t, p, engine.Config{MaxConcurrent: 1})

	first, _ := env.submit(t)
	failed := waitForStatus(t, env.store, first, model.StatusFailed, 2*time.Second)
	if !strings.Contains(failed.Message, "panicked") {
		t.Errorf("message = %q, want panic diagnostic", failed.Message)
	}

	// The slot was returned, so the next job still runs.
	second, _ := env.submit(t)
	waitForStatus(t, env.store, second, model.StatusFailed, 2*time.Second)
	env.eng.Wait()
	if env.eng.Active() != 0 {
		t.Errorf("Active() = %d after all jobs finished", env.eng.Active())
	}
}

func TestSubmitConcurrencyBound(t *testing.T) {
	const bound = 2
	const jobs = 8

	p := &fakeProver{delay: 30 * time.Millisecond}
	env := newTestEngine(t, p, engine.Config{MaxConcurrent: bound})

	start := time.Now()
	ids := make([]uint64, 0, jobs)
	for range jobs {
		id, _ := env.submit(t)
		ids = append(ids, id)
	}
	// Registration never waits for pipelines.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("submitting %d jobs took %v", jobs, elapsed)
	}
	for _, id := range ids {
		j, err := env.store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("job %d not visible after Submit: %v", id, err)
		}
		if j.Status.Terminal() {
			t.Errorf("job %d already %q right after submission", id, j.Status)
		}
	}

	env.eng.Wait()
	for _, id := range ids {
		waitForStatus(t, env.store, id, model.StatusCompleted, time.Second)
	}
	if peak := p.peak.Load(); peak > bound {
		t.Errorf("peak concurrent pipelines = %d, want <= %d", peak, bound)
	}
	if peak := p.peak.Load(); peak < 1 {
		t.Errorf("peak = %d, pipelines never ran", peak)
	}
	if env.eng.Capacity() != bound {
		t.Errorf("Capacity() = %d, want %d", env.eng.Capacity(), bound)
	}
}

func TestSubmitIDsAreSequential(t *testing.T) {
	env := newTestEngine(t, &fakeProver{}, engine.Config{MaxConcurrent: 4})

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[uint64]bool)
	for range 20 {
		wg.Go(func() {
			id, _ := env.submit(t)
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		})
	}
	wg.Wait()

	for id := uint64(1); id <= 20; id++ {
		if !seen[id] {
			t.Errorf("job id %d never assigned", id)
		}
	}
}

func TestCloseFailsWaitingJobs(t *testing.T) {
	p := &fakeProver{release: make(chan struct{})}
	env := newTestEngine(t, p, engine.Config{MaxConcurrent: 1})

	running, _ := env.submit(t)
	waitForStatus(t, env.store, running, model.StatusRunning, 2*time.Second)
	waiting, waitingDir := env.submit(t)

	env.eng.Close()

	j, _ := env.store.Get(context.Background(), waiting)
	if j.Status != model.StatusFailed {
		t.Fatalf("waiting job status = %q, want failed", j.Status)
	}
	if !strings.Contains(j.Message, "shut down") {
		t.Errorf("message = %q, want shutdown diagnostic", j.Message)
	}
	if _, err := os.Stat(waitingDir.Path()); !os.IsNotExist(err) {
		t.Errorf("waiting job's workdir not released: %v", err)
	}

	r, _ := env.store.Get(context.Background(), running)
	if r.Status != model.StatusFailed {
		t.Errorf("running job status after Close = %q, want failed", r.Status)
	}

	dir, _ := env.dirs.Acquire()
	if _, err := env.eng.Submit(context.Background(), model.ProverInput{Kind: model.KindCairo}, dir); !errors.Is(err, engine.ErrClosed) {
		t.Errorf("Submit after Close error = %v, want ErrClosed", err)
	}
}

func TestStageOutputReachesBroker(t *testing.T) {
	p := &fakeProver{release: make(chan struct{})}
	env := newTestEngine(t, p, engine.Config{MaxConcurrent: 1})

	id, _ := env.submit(t)
	waitForStatus(t, env.store, id, model.StatusRunning, 2*time.Second)

	ch, unsub := env.eng.Broker().Subscribe(id)
	defer unsub()
	close(p.release)

	var lines []string
	for l := range ch {
		lines = append(lines, l)
	}
	if len(lines) != 1 || lines[0] != "running stage" {
		t.Errorf("log lines = %v, want [running stage]", lines)
	}
}

// stallingPublisher blocks every Publish until its context expires, like a
// Redis server that accepts connections but never answers.
type stallingPublisher struct{ notify.Nop }

func (stallingPublisher) Publish(ctx context.Context, _ notify.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSubmitDoesNotWaitForPublisher(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s := store.NewMemoryStore()
	dirs, err := workdir.NewManager(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	p := &fakeProver{}
	eng := engine.NewEngine(s, p, stallingPublisher{}, engine.Config{MaxConcurrent: 4}, logger)
	t.Cleanup(eng.Close)

	const n = 4
	start := time.Now()
	var wg sync.WaitGroup
	for range n {
		dir, err := dirs.Acquire()
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		wg.Go(func() {
			if _, err := eng.Submit(context.Background(), model.ProverInput{Kind: model.KindCairo, Layout: "small"}, dir); err != nil {
				t.Errorf("Submit: %v", err)
			}
		})
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("%d concurrent submits took %v, want well under the publish timeout", n, elapsed)
	}
	_, total, _ := s.List(context.Background(), 10, 0)
	if total != n {
		t.Errorf("registered %d jobs, want %d", total, n)
	}

	// Each event waits out the publish timeout, but the jobs still finish.
	for id := uint64(1); id <= n; id++ {
		waitForStatus(t, s, id, model.StatusCompleted, 10*time.Second)
	}
	eng.Wait()
}
