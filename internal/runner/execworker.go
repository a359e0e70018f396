package runner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// StreamStdout and StreamStderr name the two worker output streams.
	StreamStdout = "stdout"
	StreamStderr = "stderr"

	lineBuffer = 256
)

// ExecWorker runs the worker as a real child process via os/exec. Each output
// stream is read line by line, appended to a per-stream log file in the
// workspace, and forwarded on the lines channel.
type ExecWorker struct {
	inv   Invocation
	cmd   *exec.Cmd
	lines chan OutputLine
	done  chan struct{}

	mu       sync.Mutex
	exited   bool
	exitCode int
}

// NewExecWorker returns an unstarted worker for the invocation.
func NewExecWorker(inv Invocation) WorkerProcess {
	return &ExecWorker{
		inv:      inv,
		lines:    make(chan OutputLine, lineBuffer),
		done:     make(chan struct{}),
		exitCode: -1,
	}
}

// Start launches the process and begins draining its output streams.
func (w *ExecWorker) Start() error {
	cmd := exec.Command(w.inv.Command, w.inv.Args...)
	cmd.Dir = w.inv.Dir
	cmd.Env = w.inv.Env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", w.inv.Command, err)
	}
	w.cmd = cmd

	go w.monitor(stdout, stderr)
	return nil
}

// monitor drains both streams, waits for the process, then closes lines and
// done in that order so consumers observe all output before completion.
func (w *ExecWorker) monitor(stdout, stderr io.Reader) {
	var readers errgroup.Group
	readers.Go(func() error { return w.readStream(StreamStdout, stdout) })
	readers.Go(func() error { return w.readStream(StreamStderr, stderr) })
	_ = readers.Wait()

	err := w.cmd.Wait()

	w.mu.Lock()
	w.exited = true
	if w.cmd.ProcessState != nil {
		w.exitCode = w.cmd.ProcessState.ExitCode()
	} else if err != nil {
		w.exitCode = -1
	}
	w.mu.Unlock()

	close(w.lines)
	close(w.done)
}

// readStream forwards lines from one stream and mirrors them into
// {stream}.log inside the workspace with a timestamp prefix.
func (w *ExecWorker) readStream(stream string, r io.Reader) error {
	logPath := filepath.Join(w.inv.Dir, stream+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logFile = nil
	}
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := scanner.Text()
		if logFile != nil {
			fmt.Fprintf(logFile, "%s - %s\n", time.Now().Format(time.RFC3339), text)
		}
		w.lines <- OutputLine{Stream: stream, Text: text}
	}
	return scanner.Err()
}

// Lines implements WorkerProcess.
func (w *ExecWorker) Lines() <-chan OutputLine { return w.lines }

// Done implements WorkerProcess.
func (w *ExecWorker) Done() <-chan struct{} { return w.done }

// ExitCode implements WorkerProcess.
func (w *ExecWorker) ExitCode() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exitCode
}

// PID implements WorkerProcess.
func (w *ExecWorker) PID() int {
	if w.cmd == nil || w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

// Signal implements WorkerProcess. Graceful termination sends SIGTERM;
// force kills outright.
func (w *ExecWorker) Signal(force bool) error {
	w.mu.Lock()
	exited := w.exited
	w.mu.Unlock()
	if exited || w.cmd == nil || w.cmd.Process == nil {
		return nil
	}
	if force {
		return w.cmd.Process.Kill()
	}
	return w.cmd.Process.Signal(syscall.SIGTERM)
}
