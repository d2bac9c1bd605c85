package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Stream names passed to line callbacks
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// Command describes one child process
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is appended to the parent environment
	Env []string
}

// String renders the command line for logs
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a command run to completion
type Result struct {
	Output   string
	ExitCode int
}

// ExitError reports a process that ran but exited nonzero
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
}

// LineFunc receives one line of output. Calls are serialized.
type LineFunc func(stream, line string)

// Runner is the process execution facility used by the deployment pipeline
type Runner interface {
	// Run runs cmd to completion capturing combined output.
	// A nonzero exit is reported as *ExitError alongside the result.
	Run(ctx context.Context, cmd Command) (Result, error)
	// Stream runs cmd, delivering stdout/stderr lines as they are produced,
	// and returns the exit code. err is only set when the process could not run.
	Stream(ctx context.Context, cmd Command, onLine LineFunc) (int, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// NewExecRunner creates a runner backed by os/exec
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	return cmd
}

// Run implements Runner
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := r.command(ctx, c)
	out, err := cmd.CombinedOutput()
	res := Result{Output: string(out)}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", c.Name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Command: c.String(), ExitCode: res.ExitCode, Output: res.Output}
	}
	res.ExitCode = -1
	return res, fmt.Errorf("failed to run %s: %w", c.Name, err)
}

// Stream implements Runner
func (r *ExecRunner) Stream(ctx context.Context, c Command, onLine LineFunc) (int, error) {
	cmd := r.command(ctx, c)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to open stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}

	var mu sync.Mutex
	emit := func(stream, line string) {
		if onLine == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		onLine(stream, line)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go scanLines(&wg, stdout, Stdout, emit)
	go scanLines(&wg, stderr, Stderr, emit)
	wg.Wait()

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, fmt.Errorf("%s: %w", c.Name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed to wait for %s: %w", c.Name, err)
}

// MaxLineSize is the longest line handed to a LineFunc. Longer lines arrive split
// into consecutive pieces of at most this size.
const MaxLineSize = 64 * 1024

func scanLines(wg *sync.WaitGroup, r io.Reader, stream string, emit LineFunc) {
	defer wg.Done()
	reader := bufio.NewReaderSize(r, MaxLineSize)
	continued := false
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				emit(stream, fmt.Sprintf("[output truncated: %v]", err))
				// Drain so the child never blocks on a full pipe
				_, _ = io.Copy(io.Discard, r)
			}
			return
		}
		// A line that filled the buffer exactly leaves an empty tail behind
		if !(continued && !isPrefix && len(chunk) == 0) {
			emit(stream, string(chunk))
		}
		continued = isPrefix
	}
}
