// Package cron implements the scheduler: load tasks, recompute
// overdue next_run at startup, run a select-soonest loop with a
// bounded sleep ceiling, execute fires through the instance pool with
// retry/backoff, and persist state after each fire.
package cron

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/clud-dev/clud/internal/apperr"
	"github.com/clud-dev/clud/internal/applog"
	"github.com/clud-dev/clud/internal/cronexpr"
	"github.com/clud-dev/clud/internal/instance"
	"github.com/clud-dev/clud/internal/pool"
	"github.com/clud-dev/clud/internal/store"
)

// sleepCeiling bounds every wakeup wait so OS clock jumps
// (suspend/resume, NTP step) are noticed promptly.
const sleepCeiling = time.Hour

// disableAfterFailures is the fixed number of consecutive failed fires
// after which a task is auto-disabled. This is independent of
// RetryPolicy.Attempts, which bounds retries within a single fire —
// conflating the two would shift the disable threshold whenever
// cron_retry_attempts is tuned away from its default.
const disableAfterFailures = 3

// RetryPolicy parameterizes the exponential backoff (2s, 4s, 8s for
// the default attempts=3/base=2s). Attempts counts retries after the
// first run, so one fire runs at most Attempts+1 times.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
}

// delay returns the backoff before retry attempt n (1-indexed).
func (r RetryPolicy) delay(n int) time.Duration {
	d := r.Base
	for i := 1; i < n; i++ {
		d *= 2
	}
	return d
}

// Pool is the subset of *pool.Pool the scheduler needs, so tests can
// substitute a fake.
type Pool interface {
	Acquire(ctx context.Context, sessionID string, factory instance.Factory, publisher instance.Publisher) (*instance.Instance, error)
	Drop(sessionID string)
}

var _ Pool = (*pool.Pool)(nil)

// Scheduler runs the select-soonest loop over every enabled task.
type Scheduler struct {
	store       *store.CronStore
	pool        Pool
	publisher   instance.Publisher
	factory     instance.Factory
	retry       RetryPolicy
	logDir      func(taskID string) string
	logger      *log.Logger
	execTimeout time.Duration

	// persistMu serializes the load-modify-save sequence that records a
	// fire's outcome. Concurrently firing tasks (runDueTasks spawns one
	// goroutine per due task) must not interleave their read-modify-write
	// of the single shared cron document, or one task's save can clobber
	// another's freshly recomputed next_run/consecutive_failures with a
	// stale snapshot. It does not guard fire() itself, so tasks still
	// execute concurrently.
	persistMu sync.Mutex

	stopCh chan struct{}
	doneCh chan struct{}
	wakeCh chan struct{}
}

// New constructs a Scheduler. logDir returns the per-task log
// directory (`<logs-dir>/cron/<task-id>/`); execTimeout bounds a
// single execution's wall-clock time beyond the retry-count bound, so
// a wedged subprocess cannot stall the scheduler loop forever.
func New(st *store.CronStore, p Pool, publisher instance.Publisher, factory instance.Factory, retry RetryPolicy, logDir func(string) string, logger *log.Logger, execTimeout time.Duration) *Scheduler {
	return &Scheduler{
		store:       st,
		pool:        p,
		publisher:   publisher,
		factory:     factory,
		retry:       retry,
		logDir:      logDir,
		logger:      logger,
		execTimeout: execTimeout,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		wakeCh:      make(chan struct{}, 1),
	}
}

// Wake interrupts the scheduler's current sleep so it re-selects
// immediately, used after a task is added, removed, or edited.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Stop halts the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Run recomputes overdue next_run values (crash recovery), then
// drives the scheduler loop until Stop is called. It blocks; run it
// in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)

	if err := s.recoverOnStartup(); err != nil {
		applog.Record(s.logger, "error", "cron", string(apperr.KindOf(err)), "startup recovery failed", map[string]any{"error": err.Error()})
	}

	for {
		sleepFor, hasTask := s.nextSleepDuration()
		if !hasTask || sleepFor > sleepCeiling {
			sleepFor = sleepCeiling
		}

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-s.wakeCh:
			continue
		case <-time.After(sleepFor):
		}

		s.runDueTasks(ctx)
	}
}

// recoverOnStartup validates task_file existence (warning only) and
// recomputes next_run for any task whose next_run has already passed,
// without replaying missed fires.
func (s *Scheduler) recoverOnStartup() error {
	doc, err := s.store.Load()
	if err != nil {
		return err
	}

	now := time.Now()
	changed := false
	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		if _, err := os.Stat(t.TaskFile); err != nil {
			applog.Record(s.logger, "warn", "cron", "", "task file missing at startup", map[string]any{"task_id": t.ID, "task_file": t.TaskFile})
		}
		if !t.Enabled {
			continue
		}
		if t.NextRun.Before(now) {
			next, err := cronexpr.NextFire(t.Expression, now)
			if err != nil {
				applog.Record(s.logger, "error", "cron", string(apperr.KindValidation), "cannot recompute next_run", map[string]any{"task_id": t.ID, "error": err.Error()})
				continue
			}
			t.NextRun = next
			changed = true
		}
	}
	if changed {
		return s.store.Save(doc)
	}
	return nil
}

// nextSleepDuration returns how long until the soonest enabled task's
// next_run, or ok=false if no task is enabled.
func (s *Scheduler) nextSleepDuration() (time.Duration, bool) {
	doc, err := s.store.Load()
	if err != nil {
		applog.Record(s.logger, "error", "cron", string(apperr.KindOf(err)), "failed loading cron document", map[string]any{"error": err.Error()})
		return 0, false
	}

	var soonest *time.Time
	for _, t := range doc.Tasks {
		if !t.Enabled {
			continue
		}
		nr := t.NextRun
		if soonest == nil || nr.Before(*soonest) {
			soonest = &nr
		}
	}
	if soonest == nil {
		return 0, false
	}
	d := time.Until(*soonest)
	if d < 0 {
		d = 0
	}
	return d, true
}

// runDueTasks executes every enabled task whose next_run has passed,
// concurrently — no queue, no interlock between tasks.
func (s *Scheduler) runDueTasks(ctx context.Context) {
	doc, err := s.store.Load()
	if err != nil {
		applog.Record(s.logger, "error", "cron", string(apperr.KindOf(err)), "failed loading cron document", map[string]any{"error": err.Error()})
		return
	}

	now := time.Now()
	var due []string
	for _, t := range doc.Tasks {
		if t.Enabled && !t.NextRun.After(now) {
			due = append(due, t.ID)
		}
	}
	sort.Strings(due)

	for _, id := range due {
		go s.executeAndPersist(ctx, id)
	}
}

// executeAndPersist runs one task's fire (with retries), then updates
// its persisted state and reschedules next_run. The fire itself runs
// outside persistMu so tasks due at the same instant still execute
// concurrently; only the resulting document update is serialized.
func (s *Scheduler) executeAndPersist(ctx context.Context, taskID string) {
	task, ok := s.loadTask(taskID)
	if !ok {
		return
	}

	success := s.fire(ctx, task)
	now := time.Now()

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	doc, err := s.store.Load()
	if err != nil {
		applog.Record(s.logger, "error", "cron", string(apperr.KindOf(err)), "failed loading cron document", map[string]any{"error": err.Error()})
		return
	}

	idx := -1
	for i, t := range doc.Tasks {
		if t.ID == taskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	if success {
		doc.Tasks[idx].ConsecutiveFailures = 0
	} else {
		doc.Tasks[idx].ConsecutiveFailures++
		doc.Tasks[idx].LastFailureTime = &now
		if doc.Tasks[idx].ConsecutiveFailures >= disableAfterFailures {
			doc.Tasks[idx].Enabled = false
		}
	}
	doc.Tasks[idx].LastRun = &now

	if doc.Tasks[idx].Enabled {
		next, err := cronexpr.NextFire(task.Expression, now)
		if err != nil {
			applog.Record(s.logger, "error", "cron", string(apperr.KindValidation), "cannot compute next_run", map[string]any{"task_id": taskID, "error": err.Error()})
		} else {
			doc.Tasks[idx].NextRun = next
		}
	}

	if err := s.store.Save(doc); err != nil {
		applog.Record(s.logger, "error", "cron", string(apperr.KindOf(err)), "failed persisting cron document", map[string]any{"task_id": taskID, "error": err.Error()})
	}
}

// loadTask fetches one task's current persisted fields by id, used to
// read the expression/task_file that fire() needs before persistMu is
// taken (fire can run for seconds; it must not hold the document lock).
func (s *Scheduler) loadTask(taskID string) (store.CronTask, bool) {
	doc, err := s.store.Load()
	if err != nil {
		applog.Record(s.logger, "error", "cron", string(apperr.KindOf(err)), "failed loading cron document", map[string]any{"error": err.Error()})
		return store.CronTask{}, false
	}
	for _, t := range doc.Tasks {
		if t.ID == taskID {
			return t, true
		}
	}
	return store.CronTask{}, false
}

// fire runs task_file's contents through a fresh Instance, retrying
// up to s.retry.Attempts times with exponential backoff. Returns true
// if any attempt exits 0.
func (s *Scheduler) fire(ctx context.Context, task store.CronTask) bool {
	content, err := os.ReadFile(task.TaskFile)
	if err != nil {
		applog.Record(s.logger, "error", "cron", string(apperr.KindIO), "task file unreadable", map[string]any{"task_id": task.ID, "error": err.Error()})
		return false
	}

	for attempt := 1; attempt <= s.retry.Attempts+1; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.retry.delay(attempt - 1)):
			}
		}

		ok := s.runOneAttempt(ctx, task, string(content), attempt)
		if ok {
			return true
		}
	}
	return false
}

// runOneAttempt spawns one Instance, writes the prompt, waits for
// exit, and records the start and the outcome of the attempt in the
// per-execution log file. The subprocess's own output goes to the
// publisher and is not copied into that file.
func (s *Scheduler) runOneAttempt(ctx context.Context, task store.CronTask, prompt string, attempt int) bool {
	execCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()

	sessionID := fmt.Sprintf("cron:%s:%d", task.ID, time.Now().Unix())

	logPath := filepath.Join(s.logDir(task.ID), time.Now().UTC().Format("2006-01-02T15-04-05.000Z")+".log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		applog.Record(s.logger, "warn", "cron", string(apperr.KindIO), "cannot create log dir", map[string]any{"task_id": task.ID, "error": err.Error()})
	}
	execLogger, closer, err := applog.New(logPath, false)
	if err == nil {
		defer closer.Close()
	}

	inst, err := s.pool.Acquire(execCtx, sessionID, s.factory, s.publisher)
	if err != nil {
		applog.Record(s.logger, "error", "cron", string(apperr.KindOf(err)), "failed acquiring instance", map[string]any{"task_id": task.ID, "attempt": attempt, "error": err.Error()})
		return false
	}
	defer s.pool.Drop(sessionID)

	if execLogger != nil {
		applog.Record(execLogger, "info", "cron", "", "starting execution", map[string]any{"task_id": task.ID, "attempt": attempt})
	}

	if err := inst.Send(prompt); err != nil {
		applog.Record(s.logger, "error", "cron", string(apperr.KindOf(err)), "failed sending prompt", map[string]any{"task_id": task.ID, "attempt": attempt, "error": err.Error()})
		return false
	}

	waitErr := inst.Wait()
	success := waitErr == nil
	if execLogger != nil {
		level := "info"
		msg := "execution succeeded"
		if !success {
			level = "error"
			msg = "execution failed"
		}
		ctxFields := map[string]any{"task_id": task.ID, "attempt": attempt}
		if waitErr != nil {
			ctxFields["error"] = waitErr.Error()
		}
		applog.Record(execLogger, level, "cron", "", msg, ctxFields)
	}
	return success
}
