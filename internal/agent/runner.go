// Package agent spawns the external coding agent for one loop iteration.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"

	"github.com/schmitthub/ralph/internal/logger"
)

const (
	// DefaultCommand is the agent command line the prompt is appended to.
	DefaultCommand = "opencode run"

	// DefaultGracePeriod is how long a cancelled agent has between SIGTERM
	// and SIGKILL.
	DefaultGracePeriod = 5 * time.Second
)

// Invocation describes one agent run.
type Invocation struct {
	// Prompt is passed as the final argument.
	Prompt string

	// Model, if set, is passed as --model before the prompt.
	Model string

	// Dir is the working directory of the child. Empty means the current one.
	Dir string

	// Env entries are appended to the inherited environment.
	Env []string

	// Stdout and Stderr, if set, receive a live copy of the child's output.
	Stdout io.Writer
	Stderr io.Writer
}

// Result is the captured outcome of a run that started and exited.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner runs the agent. A non-zero exit is reported in Result, not as an
// error; errors mean the agent could not be run or the run was cancelled.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// CommandRunner runs the agent as a child process.
type CommandRunner struct {
	argv        []string
	gracePeriod time.Duration
}

var _ Runner = (*CommandRunner)(nil)

// NewCommandRunner parses commandLine with shell quoting rules.
func NewCommandRunner(commandLine string, gracePeriod time.Duration) (*CommandRunner, error) {
	if strings.TrimSpace(commandLine) == "" {
		commandLine = DefaultCommand
	}
	argv, err := shlex.Split(commandLine)
	if err != nil {
		return nil, fmt.Errorf("parsing agent command %q: %w", commandLine, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("agent command %q is empty", commandLine)
	}
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &CommandRunner{argv: argv, gracePeriod: gracePeriod}, nil
}

// Args returns the full argument vector for inv, program first.
func (r *CommandRunner) Args(inv Invocation) []string {
	args := make([]string, 0, len(r.argv)+3)
	args = append(args, r.argv...)
	if inv.Model != "" {
		args = append(args, "--model", inv.Model)
	}
	return append(args, inv.Prompt)
}

// Run implements Runner.
func (r *CommandRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	args := r.Args(inv)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = teeWriter(&stdout, inv.Stdout)
	cmd.Stderr = teeWriter(&stderr, inv.Stderr)

	killer := &groupKiller{grace: r.gracePeriod}
	cmd.Cancel = func() error { return killer.terminate(cmd.Process) }
	// Pipe copying must not outlive a child that ignores SIGTERM.
	cmd.WaitDelay = r.gracePeriod + time.Second

	logger.Debug().Strs("argv", args[:len(args)-1]).Int("prompt_len", len(inv.Prompt)).Msg("starting agent")

	start := time.Now()
	err := cmd.Run()
	killer.stop()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("agent run cancelled: %w", ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("running agent %s: %w", args[0], err)
		}
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode < 0 {
			// Killed by a signal that was not ours.
			result.ExitCode = 1
		}
	}

	logger.Debug().Int("exit_code", result.ExitCode).Dur("duration", result.Duration).Msg("agent exited")
	return result, nil
}

// groupKiller sends SIGTERM to the child's process group and escalates to
// SIGKILL once the grace period has passed.
type groupKiller struct {
	grace time.Duration

	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

func (k *groupKiller) terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.done {
		return nil
	}
	k.timer = time.AfterFunc(k.grace, func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		if !k.done {
			logger.Warn().Int("pid", p.Pid).Msg("agent ignored SIGTERM, killing")
			_ = killGroup(p)
		}
	})
	return terminateGroup(p)
}

func (k *groupKiller) stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.done = true
	if k.timer != nil {
		k.timer.Stop()
	}
}

func teeWriter(buf *bytes.Buffer, mirror io.Writer) io.Writer {
	if mirror == nil {
		return buf
	}
	return io.MultiWriter(buf, mirror)
}
