// Package orchestrator coordinates many concurrent sessions: it creates
// session workspaces, starts runners, aggregates their state-change events,
// schedules retries, executes whole workflows in dependency order, and keeps
// a persisted status view of everything it manages.
package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/casewise/ccc/internal/config"
	"github.com/casewise/ccc/internal/event"
	"github.com/casewise/ccc/internal/logging"
	"github.com/casewise/ccc/internal/orchestrator/retry"
	"github.com/casewise/ccc/internal/prompt"
	"github.com/casewise/ccc/internal/runner"
	"github.com/casewise/ccc/internal/session"
	"github.com/casewise/ccc/internal/taskgraph"
	"github.com/casewise/ccc/internal/workflow"
	"github.com/casewise/ccc/internal/workspace"
)

// Orchestrator supervises all sessions under one workspace root. Event
// handlers run on runner goroutines; the mutex serializes every touch of the
// aggregate state.
type Orchestrator struct {
	id     string
	root   string
	cfg    *config.Config
	bus    *event.Bus
	logger *logging.Logger

	retries *retry.Manager

	// factory overrides the worker process implementation, for tests.
	factory runner.WorkerFactory

	mu       sync.Mutex
	state    *State
	runners  map[string]*runner.Runner
	trackers map[string]*workspace.Tracker
	draining bool
}

// New creates an orchestrator rooted at the given workspace directory and
// subscribes it to the bus. A nil bus gets a private one.
func New(root string, cfg *config.Config, bus *event.Bus, logger *logging.Logger) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if bus == nil {
		bus = event.NewBus()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	if err := os.MkdirAll(config.SessionsDir(root), 0o755); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}

	id := uuid.NewString()
	o := &Orchestrator{
		id:       id,
		root:     root,
		cfg:      cfg,
		bus:      bus,
		logger:   logger.WithComponent("orchestrator"),
		retries:  retry.NewManager(),
		state:    NewState(id, root, cfg.Orchestrator.MaxNotifications, cfg.Orchestrator.MaxEvents),
		runners:  make(map[string]*runner.Runner),
		trackers: make(map[string]*workspace.Tracker),
	}

	bus.Subscribe(event.TypeSessionStateChanged, o.handleStateChanged)
	bus.Subscribe(event.TypeSessionFileCreated, o.handleFileCreated)

	o.mu.Lock()
	o.persistLocked()
	o.mu.Unlock()
	o.logger.Info("orchestrator started", "orchestrator_id", id, "root", root)
	return o, nil
}

// ID returns the orchestrator's run identifier.
func (o *Orchestrator) ID() string { return o.id }

// Bus returns the event bus sessions publish on.
func (o *Orchestrator) Bus() *event.Bus { return o.bus }

// CreateSession creates a session and its workspace for a task, using the
// configured session timeout. The session is not started.
func (o *Orchestrator) CreateSession(task taskgraph.TaskDefinition) (*runner.Runner, error) {
	return o.createSession(task, o.cfg.Session.Timeout(), nil)
}

// StartSession creates a session for the task and launches the worker
// immediately. The session id is returned without waiting for completion;
// progress arrives through events and GetStatus. An empty prompt gets the
// generated task prompt; env entries are added to the worker's environment.
func (o *Orchestrator) StartSession(task taskgraph.TaskDefinition, taskPrompt string, input map[string]string, env map[string]string) (string, error) {
	r, err := o.createSession(task, o.cfg.Session.Timeout(), env)
	if err != nil {
		return "", err
	}
	if taskPrompt == "" {
		taskPrompt = prompt.BuildTask(task)
	}
	if err := r.Start(taskPrompt, input); err != nil {
		return r.SessionID(), err
	}
	return r.SessionID(), nil
}

func (o *Orchestrator) createSession(task taskgraph.TaskDefinition, timeout time.Duration, env map[string]string) (*runner.Runner, error) {
	if task.Name == "" || task.Component == "" {
		return nil, fmt.Errorf("task name and component are required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.draining {
		return nil, fmt.Errorf("orchestrator is shutting down")
	}

	// The parallelism bound is advisory at this level; workflows enforce a
	// real bound through their worker pool.
	if max := o.cfg.Orchestrator.MaxParallelSessions; max > 0 && len(o.state.ActiveSessions) >= max {
		o.logger.Warn("session capacity exceeded",
			"active", len(o.state.ActiveSessions), "max", max)
		o.state.AddNotification(LevelWarning,
			"creating session beyond capacity: %d active, limit %d",
			len(o.state.ActiveSessions), max)
	}

	o.state.TotalSessionsCreated++
	id := fmt.Sprintf("ccc-%s-%s-%03d", task.Name, task.Component, o.state.TotalSessionsCreated)
	dir := workspaceDir(o.root, id)

	tracker, err := workspace.NewTracker(dir)
	if err != nil {
		o.state.TotalSessionsCreated--
		return nil, fmt.Errorf("create session workspace: %w", err)
	}

	st := session.NewState(id, task.Name, task.Component, dir, o.cfg.Session.MaxRetries)
	rcfg := runner.Config{
		Timeout:             timeout,
		PollInterval:        o.cfg.Session.PollInterval(),
		GracePeriod:         o.cfg.Session.GracePeriod(),
		CleanRetryWorkspace: o.cfg.Session.CleanRetryWorkspace,
		Env:                 env,
	}
	r := runner.NewRunner(st, tracker, o.bus, o.logger, rcfg, o.cfg.Worker, o.factory)

	o.runners[id] = r
	o.trackers[id] = tracker
	o.state.SessionStates[id] = st.Clone()
	o.state.setSessionBucket(id, session.StatusPending)
	o.state.AddEvent("session.created", id, task.Name)
	o.persistLocked()

	o.logger.Info("session created", "session_id", id, "task", task.Name)
	return r, nil
}

// Runner returns the runner for a session id, or nil.
func (o *Orchestrator) Runner(sessionID string) *runner.Runner {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runners[sessionID]
}

// handleStateChanged folds a session state snapshot into the aggregates and
// schedules a retry when a failed session still has budget.
func (o *Orchestrator) handleStateChanged(e event.Event) {
	sc, ok := e.(event.SessionStateChanged)
	if !ok || sc.Snapshot == nil {
		return
	}
	snap := sc.Snapshot

	scheduleRetry := false
	o.mu.Lock()
	o.state.SessionStates[snap.SessionID] = snap
	o.state.setSessionBucket(snap.SessionID, snap.Status)

	switch snap.Status {
	case session.StatusCompleted:
		o.state.TotalTasksCompleted++
		o.state.AddEvent("session.completed", snap.SessionID, snap.TaskName)
		o.state.AddNotification(LevelInfo, "session %s completed (%d files)",
			snap.SessionID, len(snap.FilesCreated))
		o.retries.RecordAttempt(snap.SessionID, true, "")
	case session.StatusFailed:
		o.state.ErrorCount++
		o.retries.RecordAttempt(snap.SessionID, false, snap.LastError)
		if snap.ShouldRetry() {
			attempt := snap.RetryCount + 1
			if o.retries.MarkScheduled(snap.SessionID, attempt) {
				scheduleRetry = true
				o.state.AddNotification(LevelWarning, "session %s failed, scheduling retry %d/%d: %s",
					snap.SessionID, attempt, snap.MaxRetries, snap.LastError)
			}
		} else {
			o.state.TotalTasksFailed++
			o.state.AddEvent("session.failed", snap.SessionID, snap.LastError)
			o.state.AddNotification(LevelError, "session %s failed permanently: %s",
				snap.SessionID, snap.LastError)
		}
	case session.StatusTerminated:
		o.state.TotalTasksFailed++
		o.state.AddEvent("session.terminated", snap.SessionID, snap.TaskName)
	}
	o.persistLocked()
	o.mu.Unlock()

	if scheduleRetry {
		go o.retrySession(snap.SessionID)
	}
}

func (o *Orchestrator) handleFileCreated(e event.Event) {
	fc, ok := e.(event.SessionFileCreated)
	if !ok {
		return
	}
	o.mu.Lock()
	o.state.AddEvent("session.file_created", fc.SessionID, fc.Path)
	o.persistLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) retrySession(sessionID string) {
	o.mu.Lock()
	draining := o.draining
	o.mu.Unlock()
	if draining {
		o.logger.Info("skipping retry during shutdown", "session_id", sessionID)
		return
	}

	r := o.Runner(sessionID)
	if r == nil {
		o.logger.Warn("cannot retry unknown session", "session_id", sessionID)
		return
	}
	if err := r.Retry(); err != nil {
		o.logger.Error("retry failed", "session_id", sessionID, "error", err)
		o.mu.Lock()
		o.state.AddNotification(LevelError, "retry of %s failed: %v", sessionID, err)
		o.persistLocked()
		o.mu.Unlock()
	}
}

// TaskResult is the outcome of one workflow task.
type TaskResult struct {
	Task      string   `json:"task"`
	SessionID string   `json:"session_id,omitempty"`
	Status    string   `json:"status"`
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
	Files     []string `json:"files,omitempty"`
	Seconds   float64  `json:"seconds"`
}

// Task result statuses beyond the session ones.
const (
	StatusSkipped  = "skipped"
	StatusTimedOut = "timed_out"
	StatusError    = "error"
)

// WorkflowResult summarizes a workflow execution.
type WorkflowResult struct {
	Workflow  string                   `json:"workflow"`
	Success   bool                     `json:"success"`
	StartedAt time.Time                `json:"started_at"`
	Duration  time.Duration            `json:"duration"`
	Tasks     map[string]*TaskResult   `json:"tasks"`
	Plan      *taskgraph.ExecutionPlan `json:"plan"`
}

// ExecuteWorkflow runs every task of the workflow to a terminal state and
// returns the per-task outcomes. Parallel workflows run phase by phase with
// at most the configured number of concurrent sessions; sequential workflows
// run one task at a time in the submitted order and stop after the first
// failure. Tasks
// whose dependencies failed are skipped, never started. Only one workflow
// may run at a time.
func (o *Orchestrator) ExecuteWorkflow(spec *workflow.Spec) (*WorkflowResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	defs := spec.Definitions()
	plan, err := taskgraph.Analyze(defs)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.state.CurrentWorkflow != "" {
		running := o.state.CurrentWorkflow
		o.mu.Unlock()
		return nil, fmt.Errorf("workflow %q is already running", running)
	}
	o.state.CurrentWorkflow = spec.Name
	o.state.AddEvent("workflow.started", "", spec.Name)
	o.persistLocked()
	o.mu.Unlock()

	o.bus.Publish(event.NewWorkflowStarted(spec.Name, len(spec.Tasks), spec.Parallel))
	o.logger.Info("workflow started",
		"workflow", spec.Name, "tasks", len(spec.Tasks), "parallel", spec.Parallel,
		"phases", len(plan.Phases))

	start := time.Now()
	var deadline time.Time
	if d := o.cfg.Orchestrator.WorkflowTimeout(); d > 0 {
		deadline = start.Add(d)
	}

	result := &WorkflowResult{
		Workflow:  spec.Name,
		StartedAt: start,
		Tasks:     make(map[string]*TaskResult),
		Plan:      plan,
	}

	byName := make(map[string]taskgraph.TaskDefinition, len(defs))
	for _, def := range defs {
		byName[def.Name] = def
	}

	if spec.Parallel {
		o.runParallel(spec, plan, defs, byName, deadline, result)
	} else {
		o.runSequential(spec, byName, deadline, result)
	}

	result.Duration = time.Since(start)
	result.Success = true
	for _, tr := range result.Tasks {
		if !tr.Success {
			result.Success = false
		}
	}

	o.mu.Lock()
	o.state.CurrentWorkflow = ""
	o.state.AddEvent("workflow.completed", "", fmt.Sprintf("%s success=%v", spec.Name, result.Success))
	o.persistLocked()
	o.mu.Unlock()

	o.bus.Publish(event.NewWorkflowCompleted(spec.Name, result.Success, result.Duration))
	o.logger.Info("workflow completed",
		"workflow", spec.Name, "success", result.Success, "duration", result.Duration)
	return result, nil
}

// runSequential executes tasks strictly in the order they were submitted,
// stopping at the first failure. Validation has already rejected cycles; the
// declared order is trusted, not re-sorted by dependencies.
func (o *Orchestrator) runSequential(spec *workflow.Spec, byName map[string]taskgraph.TaskDefinition, deadline time.Time, result *WorkflowResult) {
	failed := false
	for _, task := range spec.Tasks {
		name := task.Name
		if failed {
			result.Tasks[name] = &TaskResult{
				Task:   name,
				Status: StatusSkipped,
				Error:  "skipped after earlier failure",
			}
			continue
		}
		tr := o.executeTask(spec, byName[name], deadline)
		result.Tasks[name] = tr
		if !tr.Success {
			failed = true
		}
	}
}

func (o *Orchestrator) runParallel(spec *workflow.Spec, plan *taskgraph.ExecutionPlan, defs []taskgraph.TaskDefinition, byName map[string]taskgraph.TaskDefinition, deadline time.Time, result *WorkflowResult) {
	max := o.cfg.Orchestrator.MaxParallelSessions
	batches := taskgraph.Batches(plan.Phases, defs, max)

	var resMu sync.Mutex
	failedTasks := make(map[string]bool)

	for _, batch := range batches {
		p := pool.New()
		if max > 0 {
			p = p.WithMaxGoroutines(max)
		}
		for _, name := range batch {
			def := byName[name]

			resMu.Lock()
			var blockedBy string
			for _, dep := range def.Dependencies {
				if failedTasks[dep] {
					blockedBy = dep
					break
				}
			}
			resMu.Unlock()

			if blockedBy != "" {
				resMu.Lock()
				failedTasks[name] = true
				result.Tasks[name] = &TaskResult{
					Task:   name,
					Status: StatusSkipped,
					Error:  fmt.Sprintf("skipped: dependency %q failed", blockedBy),
				}
				resMu.Unlock()
				continue
			}

			p.Go(func() {
				tr := o.executeTask(spec, def, deadline)
				resMu.Lock()
				result.Tasks[name] = tr
				if !tr.Success {
					failedTasks[name] = true
				}
				resMu.Unlock()
			})
		}
		p.Wait()
	}
}

// executeTask runs one task through a fresh session to its final state.
func (o *Orchestrator) executeTask(spec *workflow.Spec, def taskgraph.TaskDefinition, deadline time.Time) *TaskResult {
	task := spec.Task(def.Name)

	timeout := o.cfg.Session.Timeout()
	if task.TimeoutSeconds > 0 {
		timeout = time.Duration(task.TimeoutSeconds) * time.Second
	}

	r, err := o.createSession(def, timeout, nil)
	if err != nil {
		return &TaskResult{Task: def.Name, Status: StatusError, Error: err.Error()}
	}

	taskPrompt := task.Prompt
	if taskPrompt == "" {
		taskPrompt = prompt.BuildTask(def)
	}

	if err := r.Start(taskPrompt, task.Input); err != nil {
		// The session state already records the launch failure; fall
		// through to the wait so retries still apply.
		o.logger.Warn("worker launch failed", "session_id", r.SessionID(), "error", err)
	}

	success, timedOut := o.waitRunner(r, deadline)
	st := r.StateSnapshot()

	tr := &TaskResult{
		Task:      def.Name,
		SessionID: st.SessionID,
		Status:    st.Status.String(),
		Success:   success,
		Error:     st.LastError,
		Files:     st.FilesCreated,
		Seconds:   st.ExecutionSeconds,
	}
	if timedOut {
		tr.Status = StatusTimedOut
		if tr.Error == "" {
			tr.Error = "workflow deadline exceeded"
		}
	}
	return tr
}

// waitRunner waits for a session to settle, bounded by the workflow
// deadline. A session that overruns the deadline is reported as timed out
// but left running; its own timeout, or TerminateAll, is what stops it.
func (o *Orchestrator) waitRunner(r *runner.Runner, deadline time.Time) (success, timedOut bool) {
	if deadline.IsZero() {
		return r.WaitForCompletion(), false
	}
	select {
	case <-r.Done():
		return r.StateSnapshot().Status == session.StatusCompleted, false
	case <-time.After(time.Until(deadline)):
		o.logger.Warn("workflow deadline exceeded, session left running",
			"session_id", r.SessionID())
		return false, true
	}
}

// Status is a point-in-time snapshot of the orchestrator for displays.
type Status struct {
	OrchestratorID  string
	Uptime          time.Duration
	CurrentWorkflow string

	Active    int
	Completed int
	Failed    int

	TotalSessionsCreated int
	TotalTasksCompleted  int
	TotalTasksFailed     int
	ErrorCount           int

	Sessions      map[string]*session.State
	Notifications []Notification
	Events        []EventRecord
}

// GetStatus returns a consistent snapshot without blocking running sessions.
func (o *Orchestrator) GetStatus() *Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	sessions := make(map[string]*session.State, len(o.state.SessionStates))
	for id, st := range o.state.SessionStates {
		sessions[id] = st.Clone()
	}
	return &Status{
		OrchestratorID:       o.state.OrchestratorID,
		Uptime:               time.Since(o.state.StartedAt),
		CurrentWorkflow:      o.state.CurrentWorkflow,
		Active:               len(o.state.ActiveSessions),
		Completed:            len(o.state.CompletedSessions),
		Failed:               len(o.state.FailedSessions),
		TotalSessionsCreated: o.state.TotalSessionsCreated,
		TotalTasksCompleted:  o.state.TotalTasksCompleted,
		TotalTasksFailed:     o.state.TotalTasksFailed,
		ErrorCount:           o.state.ErrorCount,
		Sessions:             sessions,
		Notifications:        append([]Notification(nil), o.state.Notifications...),
		Events:               append([]EventRecord(nil), o.state.ImportantEvents...),
	}
}

// Summary renders the current status as text.
func (o *Orchestrator) Summary() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Summary()
}

// TerminateAll stops every non-terminal session and refuses new ones.
func (o *Orchestrator) TerminateAll(force bool) {
	o.mu.Lock()
	o.draining = true
	runners := make([]*runner.Runner, 0, len(o.runners))
	for _, r := range o.runners {
		runners = append(runners, r)
	}
	o.mu.Unlock()

	for _, r := range runners {
		if err := r.Terminate(force); err != nil {
			o.logger.Error("terminate failed", "session_id", r.SessionID(), "error", err)
		}
	}
}

// Shutdown terminates all sessions, releases workspace watchers, and saves
// the final state.
func (o *Orchestrator) Shutdown(force bool) {
	o.TerminateAll(force)

	o.mu.Lock()
	for _, tracker := range o.trackers {
		tracker.Close()
	}
	o.persistLocked()
	o.mu.Unlock()
	o.logger.Info("orchestrator shut down", "orchestrator_id", o.id)
}

func workspaceDir(root, sessionID string) string {
	return filepath.Join(config.SessionsDir(root), sessionID)
}

func (o *Orchestrator) persistLocked() {
	if err := o.state.SaveTo(config.StateFile(o.root)); err != nil {
		o.logger.Warn("failed to persist orchestrator state", "error", err)
	}
}
