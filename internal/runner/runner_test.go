package runner

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/casewise/ccc/internal/config"
	"github.com/casewise/ccc/internal/event"
	"github.com/casewise/ccc/internal/logging"
	"github.com/casewise/ccc/internal/session"
	"github.com/casewise/ccc/internal/workspace"
)

// newTestRunner wires a runner around a shell script worker. The task prompt
// becomes the script's $0, which the scripts ignore.
func newTestRunner(t *testing.T, script string, cfg Config) (*Runner, *event.Bus, string) {
	t.Helper()
	dir := t.TempDir()
	tracker, err := workspace.NewTracker(dir)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	t.Cleanup(func() { tracker.Close() })

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 100 * time.Millisecond
	}
	workerCfg := config.WorkerConfig{Command: "sh", Args: []string{"-c", script}}
	state := session.NewState("ccc-test-comp-001", "test", "comp", dir, 0)
	bus := event.NewBus()
	r := NewRunner(state, tracker, bus, logging.NopLogger(), cfg, workerCfg, nil)
	return r, bus, dir
}

func waitForStatus(t *testing.T, r *Runner, want session.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.StateSnapshot().Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session never reached %s, stuck at %s", want, r.StateSnapshot().Status)
}

func TestRunSuccess(t *testing.T) {
	r, _, dir := newTestRunner(t, "echo working; touch result.txt", Config{})

	if err := r.Start("build the thing", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !r.WaitForCompletion() {
		t.Fatalf("expected success, got status %s (%s)",
			r.StateSnapshot().Status, r.StateSnapshot().LastError)
	}

	st := r.StateSnapshot()
	if st.Status != session.StatusCompleted {
		t.Errorf("status = %s, want completed", st.Status)
	}
	found := false
	for _, f := range st.FilesCreated {
		if f == "result.txt" {
			found = true
		}
	}
	if !found {
		t.Errorf("FilesCreated = %v, want result.txt included", st.FilesCreated)
	}
	if st.CompletedAt == nil || st.StartedAt == nil {
		t.Error("expected start and completion timestamps to be set")
	}

	persisted, err := session.Load(session.StatePath(dir))
	if err != nil {
		t.Fatalf("Load persisted state: %v", err)
	}
	if persisted.Status != session.StatusCompleted {
		t.Errorf("persisted status = %s, want completed", persisted.Status)
	}
}

func TestRunFailureRecordsExitCode(t *testing.T) {
	r, _, _ := newTestRunner(t, "echo boom >&2; exit 3", Config{})

	if err := r.Start("doomed task", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.WaitForCompletion() {
		t.Fatal("expected failure")
	}

	st := r.StateSnapshot()
	if st.Status != session.StatusFailed {
		t.Errorf("status = %s, want failed", st.Status)
	}
	if !strings.Contains(st.LastError, "exited with code 3") {
		t.Errorf("LastError = %q, want exit code mentioned", st.LastError)
	}
	if st.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", st.ErrorCount)
	}
}

func TestLaunchFailure(t *testing.T) {
	r, _, _ := newTestRunner(t, "", Config{})
	r.workerCfg.Command = "/nonexistent/worker-binary"

	if err := r.Start("task", nil); err == nil {
		t.Fatal("expected launch error")
	}
	st := r.StateSnapshot()
	if st.Status != session.StatusFailed {
		t.Errorf("status = %s, want failed", st.Status)
	}
	if !strings.Contains(st.LastError, "failed to start worker") {
		t.Errorf("LastError = %q", st.LastError)
	}
	// No retry budget, so the runner is already settled.
	if r.WaitForCompletion() {
		t.Error("expected WaitForCompletion to report failure")
	}
}

func TestTimeoutFailsSession(t *testing.T) {
	r, _, _ := newTestRunner(t, "sleep 30", Config{
		Timeout:      100 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		GracePeriod:  50 * time.Millisecond,
	})

	if err := r.Start("slow task", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.WaitForCompletion() {
		t.Fatal("expected timeout failure")
	}

	st := r.StateSnapshot()
	if st.Status != session.StatusFailed {
		t.Errorf("status = %s, want failed", st.Status)
	}
	if !strings.Contains(st.LastError, "timed out") {
		t.Errorf("LastError = %q, want timeout mentioned", st.LastError)
	}
}

func TestTerminate(t *testing.T) {
	r, _, _ := newTestRunner(t, "sleep 30", Config{})

	if err := r.Start("long task", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, r, session.StatusRunning)

	if err := r.Terminate(false); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if r.WaitForCompletion() {
		t.Fatal("terminated session must not report success")
	}
	st := r.StateSnapshot()
	if st.Status != session.StatusTerminated {
		t.Errorf("status = %s, want terminated", st.Status)
	}
	if st.CompletedAt == nil {
		t.Error("expected completion timestamp on terminate")
	}

	// Terminating again is a no-op.
	if err := r.Terminate(true); err != nil {
		t.Errorf("second Terminate: %v", err)
	}
}

func TestTerminateCancelsPendingRetry(t *testing.T) {
	r, _, _ := newTestRunner(t, "exit 1", Config{})
	r.state.MaxRetries = 1

	if err := r.Start("doomed task", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, r, session.StatusFailed)
	if !r.StateSnapshot().ShouldRetry() {
		t.Fatal("expected retry eligibility before terminate")
	}

	if err := r.Terminate(false); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if err := r.Retry(); err == nil {
		t.Fatal("Retry should be refused after Terminate")
	}

	// Waiters are released and the session never restarts.
	if r.WaitForCompletion() {
		t.Fatal("terminated session reported success")
	}
	if st := r.StateSnapshot(); st.Status != session.StatusFailed {
		t.Errorf("status = %s, want failed kept", st.Status)
	}
}

func TestRetryAfterFailure(t *testing.T) {
	// First attempt leaves a marker and fails; the retry sees it and succeeds.
	script := "if [ -f marker ]; then exit 0; else touch marker; exit 1; fi"
	r, _, _ := newTestRunner(t, script, Config{})
	r.state.MaxRetries = 1

	if err := r.Start("flaky task", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, r, session.StatusFailed)

	st := r.StateSnapshot()
	if !st.ShouldRetry() {
		t.Fatalf("expected retry eligibility, state: %+v", st)
	}
	if err := r.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !r.WaitForCompletion() {
		t.Fatalf("retry should succeed, got %s (%s)",
			r.StateSnapshot().Status, r.StateSnapshot().LastError)
	}

	st = r.StateSnapshot()
	if st.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", st.RetryCount)
	}
	if st.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want error history kept", st.ErrorCount)
	}
}

func TestRetryIneligible(t *testing.T) {
	r, _, _ := newTestRunner(t, "exit 1", Config{})

	if err := r.Start("task", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.WaitForCompletion() {
		t.Fatal("expected failure")
	}
	if err := r.Retry(); err == nil {
		t.Error("expected retry rejection with zero budget")
	}
}

func TestActivityTruncationKeepsValidUTF8(t *testing.T) {
	// 200 two-byte runes on stdout; the activity field must cut on a rune
	// boundary, not mid-byte.
	script := `printf 'é%.0s' $(seq 200); echo; sleep 0.3`
	r, _, _ := newTestRunner(t, script, Config{})

	if err := r.Start("noisy task", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var activity string
	for time.Now().Before(deadline) {
		if a := r.StateSnapshot().CurrentActivity; strings.Contains(a, "é") {
			activity = a
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if activity == "" {
		t.Fatal("activity never captured the stdout line")
	}
	if !utf8.ValidString(activity) {
		t.Errorf("activity is not valid UTF-8: %q", activity)
	}
	if n := len([]rune(activity)); n > 120 {
		t.Errorf("activity rune length = %d, want <= 120", n)
	}
	r.WaitForCompletion()
}

func TestOutputEvents(t *testing.T) {
	r, bus, _ := newTestRunner(t, "echo out-line; echo err-line >&2", Config{})

	var mu sync.Mutex
	var lines []event.SessionOutput
	bus.Subscribe(event.TypeSessionOutput, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, e.(event.SessionOutput))
	})

	if err := r.Start("chatty task", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !r.WaitForCompletion() {
		t.Fatal("expected success")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(lines)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawStdout, sawStderr bool
	for _, l := range lines {
		if l.Stream == StreamStdout && l.Line == "out-line" {
			sawStdout = true
		}
		if l.Stream == StreamStderr && l.Line == "err-line" {
			sawStderr = true
		}
	}
	if !sawStdout || !sawStderr {
		t.Errorf("output events = %+v, want both streams", lines)
	}
}

func TestStateChangeEvents(t *testing.T) {
	r, bus, _ := newTestRunner(t, "true", Config{})

	var mu sync.Mutex
	var statuses []session.Status
	bus.Subscribe(event.TypeSessionStateChanged, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, e.(event.SessionStateChanged).Snapshot.Status)
	})

	if err := r.Start("task", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !r.WaitForCompletion() {
		t.Fatal("expected success")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []session.Status{session.StatusStarting, session.StatusRunning, session.StatusCompleted}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("statuses[%d] = %s, want %s", i, statuses[i], want[i])
		}
	}
}

func TestWorkerLogsWritten(t *testing.T) {
	r, _, dir := newTestRunner(t, "echo logged-line", Config{})

	if err := r.Start("task", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !r.WaitForCompletion() {
		t.Fatal("expected success")
	}

	data, err := os.ReadFile(filepath.Join(dir, "stdout.log"))
	if err != nil {
		t.Fatalf("read stdout.log: %v", err)
	}
	if !strings.Contains(string(data), "logged-line") {
		t.Errorf("stdout.log = %q, want line mirrored", data)
	}

	// Log files are internal and must not show up as created output.
	for _, f := range r.StateSnapshot().FilesCreated {
		if strings.HasSuffix(f, ".log") {
			t.Errorf("log file %s tracked as created output", f)
		}
	}
}

func TestBuildInvocation(t *testing.T) {
	wcfg := config.WorkerConfig{
		Command:         "claude",
		Args:            []string{"--print"},
		SkipPermissions: true,
		Env:             map[string]string{"EXTRA": "1"},
	}
	inv := BuildInvocation(wcfg, "ccc-task-comp-001", "/tmp/ws", "do it")

	if inv.Command != "claude" {
		t.Errorf("Command = %q", inv.Command)
	}
	wantArgs := []string{"--print", "--dangerously-skip-permissions", "do it"}
	if len(inv.Args) != len(wantArgs) {
		t.Fatalf("Args = %v, want %v", inv.Args, wantArgs)
	}
	for i := range wantArgs {
		if inv.Args[i] != wantArgs[i] {
			t.Errorf("Args[%d] = %q, want %q", i, inv.Args[i], wantArgs[i])
		}
	}
	if inv.Args[len(inv.Args)-1] != "do it" {
		t.Error("prompt must be the final argument")
	}

	var sawID, sawWS, sawExtra bool
	for _, e := range inv.Env {
		switch e {
		case "CCC_SESSION_ID=ccc-task-comp-001":
			sawID = true
		case "CCC_WORKSPACE=/tmp/ws":
			sawWS = true
		case "EXTRA=1":
			sawExtra = true
		}
	}
	if !sawID || !sawWS || !sawExtra {
		t.Errorf("Env missing expected entries: %v", inv.Env)
	}
}
