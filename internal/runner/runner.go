package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/casewise/ccc/internal/config"
	"github.com/casewise/ccc/internal/event"
	"github.com/casewise/ccc/internal/logging"
	"github.com/casewise/ccc/internal/prompt"
	"github.com/casewise/ccc/internal/session"
	"github.com/casewise/ccc/internal/util"
	"github.com/casewise/ccc/internal/workspace"
)

const activityLimit = 120

// Config carries the per-session supervision knobs.
type Config struct {
	// Timeout bounds one attempt's wall-clock time. Zero disables the check.
	Timeout time.Duration
	// PollInterval paces the supervision tick.
	PollInterval time.Duration
	// GracePeriod is how long a graceful terminate waits before killing.
	GracePeriod time.Duration
	// CleanRetryWorkspace removes files from prior attempts before a retry.
	CleanRetryWorkspace bool
	// Env holds extra per-session environment entries for the worker.
	Env map[string]string
}

// Runner supervises the worker process for a single session. It owns the
// session state for the duration of the run: every mutation goes through the
// runner, is persisted to the workspace, and is announced on the bus as a
// snapshot. Retries relaunch the worker under the same runner.
type Runner struct {
	bus       *event.Bus
	logger    *logging.Logger
	cfg       Config
	workerCfg config.WorkerConfig
	tracker   *workspace.Tracker
	factory   WorkerFactory

	mu         sync.Mutex
	state      *session.State
	worker     WorkerProcess
	taskPrompt string
	timedOut   bool
	terminated bool
	pending    []*session.State

	// pubMu serializes flush so state-change events reach the bus in the
	// order the transitions were queued.
	pubMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

// NewRunner builds a runner for a pending session. The tracker must be rooted
// at the session workspace. A nil factory launches real processes.
func NewRunner(state *session.State, tracker *workspace.Tracker, bus *event.Bus, logger *logging.Logger, cfg Config, workerCfg config.WorkerConfig, factory WorkerFactory) *Runner {
	if factory == nil {
		factory = NewExecWorker
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{
		bus:       bus,
		logger:    logger.WithSession(state.SessionID),
		cfg:       cfg,
		workerCfg: workerCfg,
		tracker:   tracker,
		factory:   factory,
		state:     state,
		done:      make(chan struct{}),
	}
}

// SessionID returns the supervised session's id.
func (r *Runner) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.SessionID
}

// StateSnapshot returns a deep copy of the current session state.
func (r *Runner) StateSnapshot() *session.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Done is closed once the session reaches a terminal status with no retry
// pending.
func (r *Runner) Done() <-chan struct{} { return r.done }

// WaitForCompletion blocks until the session is finally terminal, across
// retries, and reports whether it completed successfully.
func (r *Runner) WaitForCompletion() bool {
	<-r.done
	return r.StateSnapshot().Status == session.StatusCompleted
}

// Start launches the first attempt with the given task prompt.
func (r *Runner) Start(taskPrompt string, input map[string]string) error {
	r.mu.Lock()
	defer r.flush()
	defer r.mu.Unlock()

	r.taskPrompt = taskPrompt
	r.state.TaskDescription = taskPrompt
	if input != nil {
		r.state.InputSpec = input
	}
	if err := r.state.Transition(session.StatusStarting); err != nil {
		return err
	}
	r.persistLocked()
	r.publishStateLocked()

	return r.launchLocked(taskPrompt)
}

// Retry re-arms a failed session and launches the next attempt with a retry
// prompt built from the last recorded error. Callers should gate on
// ShouldRetry; an ineligible session is rejected.
func (r *Runner) Retry() error {
	r.mu.Lock()
	defer r.flush()
	defer r.mu.Unlock()

	if r.terminated {
		return fmt.Errorf("session %s was terminated", r.state.SessionID)
	}
	if !r.state.ShouldRetry() {
		return fmt.Errorf("session %s is not eligible for retry", r.state.SessionID)
	}
	attempt := r.state.RetryCount + 1
	lastError := r.state.LastError

	if r.cfg.CleanRetryWorkspace {
		r.cleanWorkspaceLocked()
	}
	if err := r.state.ArmRetry(); err != nil {
		return err
	}
	r.timedOut = false
	r.persistLocked()
	r.publishStateLocked()
	r.logger.Info("retrying session", "attempt", attempt, "last_error", lastError)

	return r.launchLocked(prompt.BuildRetry(attempt, lastError, r.taskPrompt))
}

// Terminate stops the session. A graceful terminate signals the worker and
// escalates to a kill after the grace period; force kills immediately. The
// session lands in the terminated status and never retries. Terminating an
// already terminal session keeps its status but still cancels any pending
// retry and releases waiters.
func (r *Runner) Terminate(force bool) error {
	r.mu.Lock()
	if r.state.Status.IsTerminal() {
		r.terminated = true
		r.mu.Unlock()
		r.closeDone()
		return nil
	}
	r.terminated = true
	if err := r.state.Transition(session.StatusTerminated); err != nil {
		r.mu.Unlock()
		return err
	}
	now := time.Now()
	r.state.CompletedAt = &now
	if r.state.StartedAt != nil {
		r.state.ExecutionSeconds = now.Sub(*r.state.StartedAt).Seconds()
	}
	r.state.CurrentActivity = "Terminated"
	worker := r.worker
	r.persistLocked()
	r.publishStateLocked()
	r.mu.Unlock()
	r.flush()

	r.logger.Info("terminating session", "force", force)
	if worker != nil {
		r.stopWorker(worker, force)
	}
	r.closeDone()
	return nil
}

// launchLocked builds the invocation, starts the worker, and spawns the
// output and supervision goroutines. Caller holds the mutex and the state is
// in the starting status.
func (r *Runner) launchLocked(taskPrompt string) error {
	inv := BuildInvocation(r.workerCfg, r.state.SessionID, r.tracker.Dir(), taskPrompt)
	for key, value := range r.cfg.Env {
		inv.Env = append(inv.Env, fmt.Sprintf("%s=%s", key, value))
	}
	worker := r.factory(inv)

	if err := worker.Start(); err != nil {
		r.state.RecordError(fmt.Sprintf("failed to start worker: %v", err))
		if terr := r.state.Transition(session.StatusFailed); terr != nil {
			r.logger.Error("failed transition after launch error", "error", terr)
		}
		r.persistLocked()
		r.publishStateLocked()
		if !r.state.ShouldRetry() {
			r.closeDone()
		}
		return err
	}

	r.worker = worker
	r.state.PID = worker.PID()
	if err := r.state.MarkStarted(); err != nil {
		return err
	}
	r.persistLocked()
	r.publishStateLocked()
	r.logger.Info("worker started", "pid", r.state.PID, "command", inv.Command)

	go r.consumeOutput(worker)
	go r.supervise(worker)
	return nil
}

// consumeOutput forwards worker output lines as events and keeps the
// current-activity field roughly in sync with the latest stdout line.
func (r *Runner) consumeOutput(worker WorkerProcess) {
	for line := range worker.Lines() {
		r.bus.Publish(event.NewSessionOutput(r.SessionID(), line.Stream, line.Text))
		if line.Stream == StreamStdout && line.Text != "" {
			r.mu.Lock()
			if r.state.Status == session.StatusRunning {
				r.state.CurrentActivity = util.TruncateString(line.Text, activityLimit)
			}
			r.mu.Unlock()
		}
	}
}

// supervise polls the running worker until it exits: enforcing the timeout,
// scanning the workspace for new files, and persisting the state each tick.
func (r *Runner) supervise(worker WorkerProcess) {
	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-worker.Done():
			r.finishAttempt(worker)
			return
		case <-ticker.C:
			r.tick(worker)
		}
	}
}

func (r *Runner) tick(worker WorkerProcess) {
	r.mu.Lock()
	if r.state.Status != session.StatusRunning {
		r.mu.Unlock()
		return
	}

	var elapsed time.Duration
	if r.state.StartedAt != nil {
		elapsed = time.Since(*r.state.StartedAt)
		r.state.ExecutionSeconds = elapsed.Seconds()
	}

	created := r.scanWorkspaceLocked()

	fireTimeout := false
	if r.cfg.Timeout > 0 && !r.timedOut && elapsed > r.cfg.Timeout {
		r.timedOut = true
		fireTimeout = true
		r.state.RecordError(fmt.Sprintf("session timed out after %s", r.cfg.Timeout))
	}

	r.persistLocked()
	sessionID := r.state.SessionID
	r.mu.Unlock()

	for _, path := range created {
		r.bus.Publish(event.NewSessionFileCreated(sessionID, path))
	}
	if fireTimeout {
		r.logger.Warn("session timed out, terminating worker", "timeout", r.cfg.Timeout)
		go r.stopWorker(worker, false)
	}
}

// finishAttempt settles the session once the worker has exited: a last
// workspace scan, then the terminal transition for this attempt. The done
// channel closes unless a retry is still owed.
func (r *Runner) finishAttempt(worker WorkerProcess) {
	r.mu.Lock()
	created := r.scanWorkspaceLocked()

	if r.terminated {
		r.persistLocked()
		sessionID := r.state.SessionID
		r.mu.Unlock()
		for _, path := range created {
			r.bus.Publish(event.NewSessionFileCreated(sessionID, path))
		}
		r.closeDone()
		return
	}

	exitCode := worker.ExitCode()
	switch {
	case r.timedOut:
		// Timeout already recorded the error.
		if err := r.state.MarkCompleted(false); err != nil {
			r.logger.Error("failed transition after timeout", "error", err)
		}
	case exitCode == 0:
		if err := r.state.MarkCompleted(true); err != nil {
			r.logger.Error("failed transition after exit", "error", err)
		}
		r.state.CurrentActivity = "Completed"
	default:
		r.state.RecordError(fmt.Sprintf("worker exited with code %d", exitCode))
		if err := r.state.MarkCompleted(false); err != nil {
			r.logger.Error("failed transition after exit", "error", err)
		}
	}

	r.worker = nil
	r.persistLocked()
	r.publishStateLocked()
	snapshot := r.state.Clone()
	r.mu.Unlock()

	for _, path := range created {
		r.bus.Publish(event.NewSessionFileCreated(snapshot.SessionID, path))
	}
	r.flush()
	r.logger.Info("worker exited",
		"exit_code", exitCode,
		"status", snapshot.Status.String(),
		"files_created", len(snapshot.FilesCreated))

	if !snapshot.ShouldRetry() {
		r.closeDone()
	}
}

// stopWorker signals the worker and, for graceful stops, escalates to a kill
// once the grace period passes without an exit.
func (r *Runner) stopWorker(worker WorkerProcess, force bool) {
	if err := worker.Signal(force); err != nil {
		r.logger.Warn("failed to signal worker", "error", err)
	}
	if force {
		return
	}
	grace := r.cfg.GracePeriod
	if grace <= 0 {
		grace = time.Second
	}
	select {
	case <-worker.Done():
	case <-time.After(grace):
		if err := worker.Signal(true); err != nil {
			r.logger.Warn("failed to kill worker", "error", err)
		}
	}
}

// scanWorkspaceLocked records freshly discovered workspace files on the state
// and returns the ones that were new. Caller holds the mutex.
func (r *Runner) scanWorkspaceLocked() []string {
	fresh, err := r.tracker.Scan()
	if err != nil {
		r.logger.Warn("workspace scan failed", "error", err)
		return nil
	}
	var created []string
	for _, path := range fresh {
		if r.state.AddFileCreated(path) {
			created = append(created, path)
		}
	}
	return created
}

// cleanWorkspaceLocked removes the tracked output files of prior attempts.
// Internal files (logs, the state file) are never tracked and survive.
func (r *Runner) cleanWorkspaceLocked() {
	for _, path := range r.tracker.Files() {
		full := filepath.Join(r.tracker.Dir(), filepath.FromSlash(path))
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("failed to remove file before retry", "path", path, "error", err)
		}
	}
}

func (r *Runner) persistLocked() {
	if err := r.state.Save(); err != nil {
		r.logger.Warn("failed to persist session state", "error", err)
	}
}

// publishStateLocked queues a snapshot for publication. Events go out on
// flush, after the lock is released, so handlers can call back into the
// runner without deadlocking.
func (r *Runner) publishStateLocked() {
	r.pending = append(r.pending, r.state.Clone())
}

func (r *Runner) flush() {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	r.mu.Lock()
	queued := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, snapshot := range queued {
		r.bus.Publish(event.NewSessionStateChanged(snapshot))
	}
}

func (r *Runner) closeDone() {
	r.doneOnce.Do(func() { close(r.done) })
}
