// Package runner manages one external worker process per session attempt:
// launching it in the session workspace, streaming its output, enforcing the
// timeout, discovering produced files, and driving the session state machine
// through its lifecycle. All observable coordination happens through events
// published on the shared bus.
package runner

import (
	"fmt"
	"os"

	"github.com/casewise/ccc/internal/config"
)

// Invocation describes one worker process launch.
type Invocation struct {
	// Command is the worker executable.
	Command string
	// Args precede nothing else; the task prompt is the final argument.
	Args []string
	// Dir is the session workspace the process runs in.
	Dir string
	// Env entries ("KEY=value") are appended to the inherited environment.
	Env []string
}

// OutputLine is one line read from the worker's stdout or stderr.
type OutputLine struct {
	// Stream is "stdout" or "stderr".
	Stream string
	// Text is the line content without the trailing newline.
	Text string
}

// WorkerProcess abstracts the external worker so tests can substitute fakes.
// The runner is the only consumer: it drains Lines and selects on Done.
type WorkerProcess interface {
	// Start launches the process. An error means the launch itself failed
	// and no process is running.
	Start() error

	// Lines delivers output lines from both streams in read order. The
	// channel is closed once both streams are drained and the process has
	// exited.
	Lines() <-chan OutputLine

	// Done is closed after the process exits and its output is drained.
	Done() <-chan struct{}

	// ExitCode returns the process exit code. Valid only after Done is
	// closed; -1 when the process was killed or the code is unknown.
	ExitCode() int

	// PID returns the process id, or 0 before Start.
	PID() int

	// Signal requests termination: graceful when force is false, an
	// immediate kill when true. Signaling an exited process is not an error.
	Signal(force bool) error
}

// WorkerFactory creates the WorkerProcess for an invocation. The default is
// NewExecWorker; tests inject fakes.
type WorkerFactory func(inv Invocation) WorkerProcess

// BuildInvocation assembles the worker invocation for a session: configured
// command and args, the permission-bypass flag when configured, then the
// task prompt as the final argument. The session id and workspace are
// exported into the environment along with any configured extras.
func BuildInvocation(wcfg config.WorkerConfig, sessionID, dir, taskPrompt string) Invocation {
	args := append([]string(nil), wcfg.Args...)
	if wcfg.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	args = append(args, taskPrompt)

	env := os.Environ()
	for key, value := range wcfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	env = append(env,
		fmt.Sprintf("CCC_SESSION_ID=%s", sessionID),
		fmt.Sprintf("CCC_WORKSPACE=%s", dir),
	)

	return Invocation{
		Command: wcfg.Command,
		Args:    args,
		Dir:     dir,
		Env:     env,
	}
}
