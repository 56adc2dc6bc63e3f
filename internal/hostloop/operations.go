package hostloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"

	"github.com/schmitthub/ralph/internal/prompt"
	"github.com/schmitthub/ralph/internal/state"
)

// ErrInvalidArgument wraps bad operation arguments.
var ErrInvalidArgument = errors.New("invalid argument")

// StartArgs are the arguments of the start operation.
type StartArgs struct {
	Prompt            string `mapstructure:"prompt"`
	MaxIterations     int    `mapstructure:"maxIterations"`
	CompletionPromise string `mapstructure:"completionPromise"`
	Model             string `mapstructure:"model"`
}

// DecodeStartArgs decodes loosely typed arguments, accepting numbers given
// as strings or floats.
func DecodeStartArgs(args map[string]any) (StartArgs, error) {
	var out StartArgs
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(args); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	out.Prompt = strings.TrimSpace(out.Prompt)
	if out.Prompt == "" {
		return out, fmt.Errorf("%w: prompt is required", ErrInvalidArgument)
	}
	if out.MaxIterations < 0 {
		return out, fmt.Errorf("%w: maxIterations must be >= 0", ErrInvalidArgument)
	}
	return out, nil
}

// Start creates a loop at iteration 1 bound to the calling session and
// returns the iteration-1 prompt.
func (p *Plugin) Start(_ context.Context, call OperationCall) (string, error) {
	args, err := DecodeStartArgs(call.Args)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(args.CompletionPromise) == "" {
		args.CompletionPromise = p.defaults.CompletionPromise
	}
	if args.Model == "" {
		args.Model = p.defaults.Model
	}
	if _, set := call.Args["maxIterations"]; !set {
		args.MaxIterations = p.defaults.MaxIterations
	}

	st := &state.LoopState{
		Active:            true,
		Iteration:         1,
		MaxIterations:     args.MaxIterations,
		CompletionPromise: args.CompletionPromise,
		Prompt:            args.Prompt,
		StartedAt:         p.now(),
		Model:             args.Model,
		SessionID:         call.SessionID,
		LoopID:            p.newID(),
		Driver:            state.DriverHost,
	}
	if err := p.store.Create(st); err != nil {
		return "", err
	}

	text, err := prompt.Build(st)
	if err != nil {
		_, _ = p.store.ClearIf(st.LoopID)
		return "", err
	}

	p.record(st, state.EventStarted, "")
	p.log.Info().
		Str("loop_id", st.LoopID).
		Str("session", st.SessionID).
		Int("max_iterations", st.MaxIterations).
		Msg("ralph loop started")
	return text, nil
}

// Status describes the active loop.
func (p *Plugin) Status(_ context.Context, _ OperationCall) (string, error) {
	st, err := p.store.Load()
	if err != nil {
		return "", err
	}
	if st == nil || !st.Active {
		return NoActiveLoop, nil
	}
	return Describe(st, p.now()), nil
}

// Cancel clears the active loop.
func (p *Plugin) Cancel(_ context.Context, _ OperationCall) (string, error) {
	st, err := state.CancelActive(p.store)
	if err != nil {
		return "", err
	}
	if st == nil {
		return NoActiveLoop, nil
	}
	p.record(st, state.EventCancelled, "cancelled by operation")
	p.log.Info().Str("loop_id", st.LoopID).Int("iteration", st.Iteration).Msg("ralph loop cancelled")
	return CancelledMessage(st), nil
}

// CancelledMessage reports the iteration a cancelled loop stopped at.
func CancelledMessage(st *state.LoopState) string {
	return fmt.Sprintf("Cancelled ralph loop at iteration %d.", st.Iteration)
}

// Describe renders a plain-text snapshot of st as of now.
func Describe(st *state.LoopState, now time.Time) string {
	var b strings.Builder
	b.WriteString("Active ralph loop\n")
	fmt.Fprintf(&b, "  Iteration:  %d of %s\n", st.Iteration, prompt.MaxLabel(st.MaxIterations))
	fmt.Fprintf(&b, "  Promise:    %s\n", st.CompletionPromise)
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(&b, "  Running:    %s\n", units.HumanDuration(now.Sub(st.StartedAt)))
	}
	if st.Driver != "" {
		fmt.Fprintf(&b, "  Driver:     %s\n", st.Driver)
	}
	if st.SessionID != "" {
		fmt.Fprintf(&b, "  Session:    %s\n", st.SessionID)
	}
	if st.Model != "" {
		fmt.Fprintf(&b, "  Model:      %s\n", st.Model)
	}
	fmt.Fprintf(&b, "  Task:       %s", firstLine(st.Prompt, 72))
	return b.String()
}

func firstLine(s string, limit int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if r := []rune(s); len(r) > limit {
		s = string(r[:limit-3]) + "..."
	}
	return s
}
