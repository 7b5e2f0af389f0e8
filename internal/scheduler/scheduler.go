package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SCHEDULER - Named periodic tasks
// ═══════════════════════════════════════════════════════════════════════════════
//
// Each task gets its own goroutine with a ticker loop. Tasks receive the
// runner's context and must return promptly once it is cancelled. A slow
// task never delays the others.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Task is one named periodic job.
type Task struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Fn         func(ctx context.Context)
}

// Runner drives registered tasks on their intervals.
type Runner struct {
	mu      sync.Mutex
	tasks   []Task
	runs    map[string]*int64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New returns an empty runner.
func New() *Runner {
	return &Runner{runs: make(map[string]*int64)}
}

// Add registers a task. No-op after Start.
func (r *Runner) Add(t Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		log.Warn().Str("task", t.Name).Msg("⚠️ Scheduler already running, task ignored")
		return
	}
	if t.Interval <= 0 || t.Fn == nil {
		log.Warn().Str("task", t.Name).Msg("⚠️ Invalid task ignored")
		return
	}
	r.tasks = append(r.tasks, t)
	r.runs[t.Name] = new(int64)
}

// Start launches one goroutine per task. Returns immediately.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true

	ctx, r.cancel = context.WithCancel(ctx)
	for _, t := range r.tasks {
		r.wg.Add(1)
		go r.loop(ctx, t)
	}
	log.Info().Int("tasks", len(r.tasks)).Msg("⏰ Scheduler started")
}

// Stop cancels all tasks and waits for them to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	log.Info().Msg("⏰ Scheduler stopped")
}

// Runs reports how many times the named task has fired.
func (r *Runner) Runs(name string) int64 {
	r.mu.Lock()
	counter, ok := r.runs[name]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counter)
}

func (r *Runner) loop(ctx context.Context, t Task) {
	defer r.wg.Done()

	counter := r.runs[t.Name]
	run := func() {
		t.Fn(ctx)
		atomic.AddInt64(counter, 1)
	}

	if t.RunAtStart {
		run()
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			run()
		case <-ctx.Done():
			return
		}
	}
}
