package test

import (
	"context"
	"sync"
	"time"

	model "github.com/tigerroll/feedpipe/pkg/batch/core/domain/model"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/worker"
)

// Invocation is one recorded call of a RecordingWorker.
type Invocation struct {
	Stage  model.Stage
	Target worker.Target
}

// RecordingWorker is a fake worker.StageWorker that records its invocations and
// detects two entities occupying the same stage at once.
type RecordingWorker struct {
	// Delay is how long each invocation occupies its stage.
	Delay time.Duration
	// OnInvoke, when set, runs at the start of every invocation.
	OnInvoke func(ctx context.Context, stage model.Stage, target worker.Target)

	mu            sync.Mutex
	failures      map[string]string
	active        map[model.Stage]int
	overlaps      int
	maxBusyStages int
	calls         []Invocation
}

var _ worker.StageWorker = (*RecordingWorker)(nil)

// NewRecordingWorker creates a worker succeeding after delay on every call.
func NewRecordingWorker(delay time.Duration) *RecordingWorker {
	return &RecordingWorker{
		Delay:    delay,
		failures: make(map[string]string),
		active:   make(map[model.Stage]int),
	}
}

func failureKey(entityKey string, stage model.Stage) string {
	return entityKey + "|" + stage.String()
}

// FailOn makes the invocation of stage for entityKey fail with diagnostic.
func (w *RecordingWorker) FailOn(entityKey string, stage model.Stage, diagnostic string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures[failureKey(entityKey, stage)] = diagnostic
}

// ClearFailures makes every later invocation succeed.
func (w *RecordingWorker) ClearFailures() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = make(map[string]string)
}

func (w *RecordingWorker) Invoke(ctx context.Context, stage model.Stage, target worker.Target) worker.Outcome {
	w.mu.Lock()
	w.active[stage]++
	if w.active[stage] > 1 {
		w.overlaps++
	}
	busy := 0
	for _, n := range w.active {
		if n > 0 {
			busy++
		}
	}
	if busy > w.maxBusyStages {
		w.maxBusyStages = busy
	}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.active[stage]--
		w.calls = append(w.calls, Invocation{Stage: stage, Target: target})
		w.mu.Unlock()
	}()

	if w.OnInvoke != nil {
		w.OnInvoke(ctx, stage, target)
	}

	var interrupted bool
	if w.Delay > 0 {
		select {
		case <-time.After(w.Delay):
		case <-ctx.Done():
			interrupted = true
		}
	}

	if interrupted || ctx.Err() != nil {
		return worker.Failed("interrupted")
	}
	w.mu.Lock()
	diag, ok := w.failures[failureKey(target.EntityKey, stage)]
	w.mu.Unlock()
	if ok {
		return worker.Failed(diag)
	}
	return worker.Succeeded()
}

// Calls returns the recorded invocations in completion order.
func (w *RecordingWorker) Calls() []Invocation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Invocation(nil), w.calls...)
}

// StagesFor returns the stages invoked for entityKey in completion order.
func (w *RecordingWorker) StagesFor(entityKey string) []model.Stage {
	w.mu.Lock()
	defer w.mu.Unlock()
	var stages []model.Stage
	for _, c := range w.calls {
		if c.Target.EntityKey == entityKey {
			stages = append(stages, c.Stage)
		}
	}
	return stages
}

// Overlaps returns how many invocations found their stage already occupied.
func (w *RecordingWorker) Overlaps() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.overlaps
}

// MaxBusyStages returns the largest number of stages observed running at once.
func (w *RecordingWorker) MaxBusyStages() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxBusyStages
}
