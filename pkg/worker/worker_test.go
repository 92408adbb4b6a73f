package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/z-wentao/voicetrace/pkg/engine"
	"github.com/z-wentao/voicetrace/pkg/models"
	"github.com/z-wentao/voicetrace/pkg/orchestrator"
	"github.com/z-wentao/voicetrace/pkg/queue"
	"github.com/z-wentao/voicetrace/pkg/storage"
)

// stubEngine runs a caller-provided function and counts invocations per input.
type stubEngine struct {
	mu      sync.Mutex
	calls   map[string]int
	analyze func(ctx context.Context, inputRef string) (*engine.RawOutput, error)
}

func newStubEngine(fn func(ctx context.Context, inputRef string) (*engine.RawOutput, error)) *stubEngine {
	return &stubEngine{calls: make(map[string]int), analyze: fn}
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Analyze(ctx context.Context, inputRef string, opts models.Options) (*engine.RawOutput, error) {
	s.mu.Lock()
	s.calls[inputRef]++
	s.mu.Unlock()
	return s.analyze(ctx, inputRef)
}

func (s *stubEngine) callCount(inputRef string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[inputRef]
}

func goodOutput() *engine.RawOutput {
	return &engine.RawOutput{
		Status: "success",
		Segments: []engine.RawSegment{
			{Speaker: "SPEAKER_00", StartTime: 0.0, EndTime: 2.0, Text: "hello"},
		},
		Metadata: engine.RawMetadata{Duration: 2.0, NumSpeakers: 1},
	}
}

func newTestPool(eng engine.Engine, size int, jobTimeout, cancelPoll time.Duration) (*Pool, *orchestrator.Orchestrator) {
	q := queue.NewMemoryQueue(100)
	orch := orchestrator.New(storage.NewMemoryJobStore(), storage.NewMemoryResultStore(), q)
	return NewPool(q, orch, eng, size, jobTimeout, cancelPoll), orch
}

// waitForTerminal polls until the job reaches a terminal state or the
// deadline expires.
func waitForTerminal(t *testing.T, orch *orchestrator.Orchestrator, jobID string, timeout time.Duration) *models.Job {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := orch.GetJob(jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.State.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state within %v", jobID, timeout)
	return nil
}

// TestPoolCompletesJob verifies the dequeue -> claim -> infer -> normalize ->
// complete path end to end.
func TestPoolCompletesJob(t *testing.T) {
	eng := newStubEngine(func(ctx context.Context, inputRef string) (*engine.RawOutput, error) {
		return goodOutput(), nil
	})
	pool, orch := newTestPool(eng, 2, 5*time.Second, 10*time.Millisecond)

	job, err := orch.Submit("/audio/a.wav", "a.wav", models.Options{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	pool.Start()
	defer pool.Stop()

	got := waitForTerminal(t, orch, job.ID, 3*time.Second)
	if got.State != models.StateCompleted {
		t.Fatalf("state = %s (%s), want completed", got.State, got.Error)
	}
	if got.AnalysisID == "" {
		t.Fatal("completed job has no analysis_id")
	}

	result, err := orch.GetResult(got.AnalysisID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if len(result.Segments) != 1 || result.Segments[0].ID != "seg_0001" {
		t.Fatalf("result segments wrong: %+v", result.Segments)
	}
	if result.Metadata.Runtime != "stub" {
		t.Fatalf("runtime = %s, want stub", result.Metadata.Runtime)
	}

	// The engine saw the job exactly once.
	if n := eng.callCount("/audio/a.wav"); n != 1 {
		t.Fatalf("engine invoked %d times, want 1", n)
	}
}

// TestPoolIsolatesFailures verifies one failing job does not affect the
// batch: the rest still complete and every job lands in a terminal state.
func TestPoolIsolatesFailures(t *testing.T) {
	eng := newStubEngine(func(ctx context.Context, inputRef string) (*engine.RawOutput, error) {
		if inputRef == "/audio/bad.wav" {
			return nil, fmt.Errorf("decoder blew up")
		}
		return goodOutput(), nil
	})
	pool, orch := newTestPool(eng, 2, 5*time.Second, 10*time.Millisecond)

	var ids []string
	for _, name := range []string{"a.wav", "bad.wav", "c.wav"} {
		job, err := orch.Submit("/audio/"+name, name, models.Options{})
		if err != nil {
			t.Fatalf("submit %s: %v", name, err)
		}
		ids = append(ids, job.ID)
	}

	pool.Start()
	defer pool.Stop()

	states := make(map[string]models.JobState)
	for _, id := range ids {
		job := waitForTerminal(t, orch, id, 3*time.Second)
		states[job.ID] = job.State
	}

	if states[ids[0]] != models.StateCompleted || states[ids[2]] != models.StateCompleted {
		t.Fatalf("healthy jobs should complete: %v", states)
	}
	if states[ids[1]] != models.StateFailed {
		t.Fatalf("bad job state = %s, want failed", states[ids[1]])
	}

	bad, err := orch.GetJob(ids[1])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if bad.Error == "" {
		t.Fatal("failed job should record a reason")
	}
}

// TestPoolJobTimeout verifies a stuck inference is failed with a timeout
// reason instead of hanging the worker.
func TestPoolJobTimeout(t *testing.T) {
	eng := newStubEngine(func(ctx context.Context, inputRef string) (*engine.RawOutput, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	pool, orch := newTestPool(eng, 1, 100*time.Millisecond, 10*time.Millisecond)

	job, err := orch.Submit("/audio/slow.wav", "slow.wav", models.Options{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	pool.Start()
	defer pool.Stop()

	got := waitForTerminal(t, orch, job.ID, 3*time.Second)
	if got.State != models.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.Error != "timeout" {
		t.Fatalf("error = %q, want timeout", got.Error)
	}
}

// TestPoolCancelDuringRun verifies the cooperative checkpoint: a running job
// with cancel intent lands in canceled and stores no result.
func TestPoolCancelDuringRun(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	eng := newStubEngine(func(ctx context.Context, inputRef string) (*engine.RawOutput, error) {
		once.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return goodOutput(), nil
		}
	})
	pool, orch := newTestPool(eng, 1, 10*time.Second, 10*time.Millisecond)

	job, err := orch.Submit("/audio/a.wav", "a.wav", models.Options{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	pool.Start()
	defer pool.Stop()

	<-started
	if _, err := orch.RequestCancel(job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got := waitForTerminal(t, orch, job.ID, 3*time.Second)
	if got.State != models.StateCanceled {
		t.Fatalf("state = %s, want canceled", got.State)
	}
	if got.AnalysisID != "" {
		t.Fatal("canceled job must not reference a result")
	}
}

// TestPoolConcurrencyLimit verifies at most N jobs run at once.
func TestPoolConcurrencyLimit(t *testing.T) {
	const poolSize = 2

	var mu sync.Mutex
	running, peak := 0, 0
	eng := newStubEngine(func(ctx context.Context, inputRef string) (*engine.RawOutput, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return goodOutput(), nil
	})
	pool, orch := newTestPool(eng, poolSize, 5*time.Second, 10*time.Millisecond)

	var ids []string
	for i := 0; i < 6; i++ {
		job, err := orch.Submit(fmt.Sprintf("/audio/f%d.wav", i), "f.wav", models.Options{})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, job.ID)
	}

	pool.Start()
	defer pool.Stop()

	for _, id := range ids {
		waitForTerminal(t, orch, id, 5*time.Second)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > poolSize {
		t.Fatalf("peak concurrency = %d, want <= %d", peak, poolSize)
	}
}
