// Package loop is the external loop driver: it spawns the agent once per
// iteration with the same task until the agent emits the completion promise,
// the iteration cap is passed, or the agent fails.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schmitthub/ralph/internal/agent"
	"github.com/schmitthub/ralph/internal/completion"
	"github.com/schmitthub/ralph/internal/logger"
	"github.com/schmitthub/ralph/internal/prompt"
	"github.com/schmitthub/ralph/internal/state"
)

const (
	// DefaultCompletionPromise is the marker used when none is configured.
	DefaultCompletionPromise = "COMPLETE"

	// DefaultDelay is the pause after a normal iteration.
	DefaultDelay = 2 * time.Second

	// DefaultErrorDelay is the pause after an iteration that errored.
	DefaultErrorDelay = 5 * time.Second

	// SentinelExitCode is returned when the agent printed a misconfiguration sentinel.
	SentinelExitCode = 1
)

// Outcome is the terminal state of a loop.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeMaxIterations Outcome = "max_iterations"
	OutcomeAgentFailed   Outcome = "agent_failed"
	OutcomeCancelled     Outcome = "cancelled"
)

// Committer records the working tree after a successful iteration.
type Committer interface {
	Commit(ctx context.Context, iteration int) (bool, error)
}

// Result represents the outcome of running the loop.
type Result struct {
	// Outcome is the terminal state.
	Outcome Outcome

	// LoopID identifies the loop record this run owned.
	LoopID string

	// LoopsCompleted is the number of agent invocations that ran to exit.
	LoopsCompleted int

	// Iteration is the iteration number the loop stopped at.
	Iteration int

	// ExitCode is the process exit code the caller should use.
	ExitCode int

	// ExitReason describes why the loop exited.
	ExitReason string
}

// Options configures a loop run.
type Options struct {
	// Prompt is the task sent on every iteration.
	Prompt string

	// MaxIterations caps the loop; 0 is unlimited.
	MaxIterations int

	// CompletionPromise is the marker the agent emits when done.
	CompletionPromise string

	// Model is passed to the agent when set.
	Model string

	// WorkDir is the agent's working directory.
	WorkDir string

	// Env entries are added to the agent's environment.
	Env []string

	// AutoCommit commits the working tree after each unfinished iteration.
	AutoCommit bool

	// Sentinels are misconfiguration markers; any of them in the agent's
	// output fails the loop.
	Sentinels []string

	// Delay and ErrorDelay are the pauses between iterations. Zero means
	// the default; a negative value means no pause.
	Delay      time.Duration
	ErrorDelay time.Duration

	// Stdout and Stderr receive a live copy of the agent's output.
	Stdout io.Writer
	Stderr io.Writer

	// OnLoopStart is called before each iteration.
	OnLoopStart func(st *state.LoopState)

	// OnLoopEnd is called after each iteration with the agent result, which
	// is nil when the iteration errored.
	OnLoopEnd func(st *state.LoopState, res *agent.Result, err error)
}

func (o *Options) applyDefaults() {
	if strings.TrimSpace(o.CompletionPromise) == "" {
		o.CompletionPromise = DefaultCompletionPromise
	}
	if o.Delay == 0 {
		o.Delay = DefaultDelay
	}
	if o.ErrorDelay == 0 {
		o.ErrorDelay = DefaultErrorDelay
	}
}

// Runner executes loops.
type Runner struct {
	store     state.Store
	history   *state.HistoryStore
	agent     agent.Runner
	committer Committer

	now   func() time.Time
	newID func() string
}

// NewRunner creates a Runner. history and committer may be nil.
func NewRunner(store state.Store, history *state.HistoryStore, agentRunner agent.Runner, committer Committer) *Runner {
	return &Runner{
		store:     store,
		history:   history,
		agent:     agentRunner,
		committer: committer,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Run creates the loop record and iterates until a terminal outcome. The
// returned error is reserved for setup failures, including
// state.ErrAlreadyActive; everything after the record exists is reported
// through Result.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	opts.applyDefaults()
	if strings.TrimSpace(opts.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}
	if opts.MaxIterations < 0 {
		return nil, fmt.Errorf("max iterations must be >= 0, got %d", opts.MaxIterations)
	}

	st := &state.LoopState{
		Active:            true,
		Iteration:         1,
		MaxIterations:     opts.MaxIterations,
		CompletionPromise: opts.CompletionPromise,
		Prompt:            opts.Prompt,
		StartedAt:         r.now(),
		Model:             opts.Model,
		LoopID:            r.newID(),
		Driver:            state.DriverCLI,
	}
	if err := r.store.Create(st); err != nil {
		return nil, err
	}

	logger.SetContext(st.LoopID, string(st.Driver))
	defer logger.ClearContext()

	logger.Info().
		Int("max_iterations", st.MaxIterations).
		Str("completion_promise", st.CompletionPromise).
		Msg("loop started")
	r.record(st, state.EventStarted, "")

	result := &Result{LoopID: st.LoopID}

	for {
		if ctx.Err() != nil {
			return r.cancel(st, result, "interrupted"), nil
		}

		cur, err := r.store.Load()
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("failed to reload loop state, continuing with in-memory copy")
		case cur == nil || !cur.Active:
			return r.stopped(st, result, "loop state cleared externally"), nil
		case cur.LoopID != st.LoopID:
			logger.Warn().Str("owner", cur.LoopID).Msg("loop state belongs to another loop, stopping")
			return r.stopped(st, result, "loop state taken over by another loop"), nil
		default:
			// A failed write leaves the record behind the in-memory count.
			if cur.Iteration < st.Iteration {
				cur.Iteration = st.Iteration
			}
			st = cur
		}

		if st.Exceeded(st.Iteration) {
			return r.finish(st, result, OutcomeMaxIterations, 0,
				fmt.Sprintf("reached maximum iterations (%d)", st.MaxIterations)), nil
		}

		if opts.OnLoopStart != nil {
			opts.OnLoopStart(st.Clone())
		}
		logger.Info().
			Int("iteration", st.Iteration).
			Int("max_iterations", st.MaxIterations).
			Msg("starting loop iteration")

		res, iterErr := r.iterate(ctx, st, opts)
		if ctx.Err() != nil {
			return r.cancel(st, result, "interrupted"), nil
		}
		if opts.OnLoopEnd != nil {
			opts.OnLoopEnd(st.Clone(), res, iterErr)
		}

		if iterErr != nil {
			logger.Warn().Err(iterErr).Int("iteration", st.Iteration).Msg("iteration failed, retrying")
			r.record(st, state.EventError, iterErr.Error())
			r.advance(st)
			if !sleep(ctx, opts.ErrorDelay) {
				return r.cancel(st, result, "interrupted"), nil
			}
			continue
		}

		result.LoopsCompleted++
		logger.Info().
			Int("iteration", st.Iteration).
			Int("exit_code", res.ExitCode).
			Dur("duration", res.Duration).
			Msg("completed loop iteration")

		if sentinel, ok := agent.ContainsSentinel(res, opts.Sentinels); ok {
			return r.finish(st, result, OutcomeAgentFailed, SentinelExitCode,
				fmt.Sprintf("agent output contains %q: placeholder plugin is active, check the agent's plugin configuration", sentinel)), nil
		}
		if res.ExitCode != 0 {
			return r.finish(st, result, OutcomeAgentFailed, res.ExitCode,
				fmt.Sprintf("agent exited with code %d", res.ExitCode)), nil
		}
		if completion.Matches(res.Stdout, st.CompletionPromise) {
			return r.finish(st, result, OutcomeCompleted, 0, "agent signaled completion"), nil
		}

		if opts.AutoCommit && r.committer != nil {
			committed, err := r.committer.Commit(ctx, st.Iteration)
			if err != nil {
				logger.Warn().Err(err).Int("iteration", st.Iteration).Msg("auto-commit failed")
			} else if committed {
				logger.Debug().Int("iteration", st.Iteration).Msg("auto-committed iteration")
			}
		}

		r.record(st, state.EventIteration, "")
		r.advance(st)
		if !sleep(ctx, opts.Delay) {
			return r.cancel(st, result, "interrupted"), nil
		}
	}
}

// iterate builds the prompt and runs the agent once.
func (r *Runner) iterate(ctx context.Context, st *state.LoopState, opts Options) (*agent.Result, error) {
	text, err := prompt.Build(st)
	if err != nil {
		return nil, err
	}
	return r.agent.Run(ctx, agent.Invocation{
		Prompt: text,
		Model:  st.Model,
		Dir:    opts.WorkDir,
		Env:    opts.Env,
		Stdout: opts.Stdout,
		Stderr: opts.Stderr,
	})
}

// errForeignLoop aborts an update of a record owned by another loop.
var errForeignLoop = errors.New("loop state belongs to another loop")

// advance increments the iteration and persists it, unless the record was
// cleared or replaced meanwhile; the next reload then stops the loop. A
// failed write is logged and retried at the next iteration.
func (r *Runner) advance(st *state.LoopState) {
	next := st.Iteration + 1
	updated, err := r.store.Update(func(cur *state.LoopState) error {
		if cur.LoopID != st.LoopID {
			return errForeignLoop
		}
		cur.Iteration = next
		return nil
	})
	switch {
	case err == nil:
		*st = *updated
	case errors.Is(err, state.ErrNoActiveLoop), errors.Is(err, errForeignLoop):
		st.Iteration = next
	default:
		st.Iteration = next
		logger.Error().Err(err).Int("iteration", next).Msg("failed to save loop state")
	}
}

// finish clears the loop record and fills in the result.
func (r *Runner) finish(st *state.LoopState, result *Result, outcome Outcome, code int, reason string) *Result {
	if _, err := r.store.ClearIf(st.LoopID); err != nil {
		logger.Error().Err(err).Msg("failed to clear loop state")
	}
	result.Outcome = outcome
	result.Iteration = st.Iteration
	result.ExitCode = code
	result.ExitReason = reason

	event := map[Outcome]string{
		OutcomeCompleted:     state.EventCompleted,
		OutcomeMaxIterations: state.EventMaxIterations,
		OutcomeAgentFailed:   state.EventAgentFailed,
		OutcomeCancelled:     state.EventCancelled,
	}[outcome]
	r.record(st, event, reason)

	ev := logger.Info()
	if outcome == OutcomeAgentFailed {
		ev = logger.Error()
	}
	ev.Str("outcome", string(outcome)).Int("iteration", st.Iteration).Str("reason", reason).Msg("loop finished")
	return result
}

func (r *Runner) cancel(st *state.LoopState, result *Result, reason string) *Result {
	return r.finish(st, result, OutcomeCancelled, 0, reason)
}

// stopped ends the loop without touching the record, which is either gone
// or owned by someone else.
func (r *Runner) stopped(st *state.LoopState, result *Result, reason string) *Result {
	result.Outcome = OutcomeCancelled
	result.Iteration = st.Iteration
	result.ExitReason = reason
	r.record(st, state.EventCancelled, reason)
	logger.Info().Str("reason", reason).Int("iteration", st.Iteration).Msg("loop stopped")
	return result
}

func (r *Runner) record(st *state.LoopState, event, detail string) {
	if err := r.history.Record(st, event, detail); err != nil {
		logger.Warn().Err(err).Str("event", event).Msg("failed to record loop history")
	}
}

// sleep waits for d unless ctx ends first. It reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
