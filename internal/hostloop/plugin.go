package hostloop

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/schmitthub/ralph/internal/completion"
	"github.com/schmitthub/ralph/internal/prompt"
	"github.com/schmitthub/ralph/internal/state"
)

// Operation names.
const (
	OpStart  = "ralph_start"
	OpStatus = "ralph_status"
	OpCancel = "ralph_cancel"
)

// NoActiveLoop is reported by status and cancel when nothing is running.
const NoActiveLoop = "No active ralph loop."

var errForeignLoop = errors.New("loop state belongs to another loop")

// Defaults fill in start arguments the caller leaves out.
type Defaults struct {
	MaxIterations     int
	CompletionPromise string
	Model             string
}

// Plugin is the in-host driver.
type Plugin struct {
	host     Host
	store    state.Store
	history  *state.HistoryStore
	log      Logger
	defaults Defaults

	// processing guards idle handling against overlapping continuations.
	processing atomic.Bool

	now   func() time.Time
	newID func() string
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithHistory records loop events into h.
func WithHistory(h *state.HistoryStore) Option {
	return func(p *Plugin) { p.history = h }
}

// WithDefaults sets the start defaults.
func WithDefaults(d Defaults) Option {
	return func(p *Plugin) { p.defaults = d }
}

// New creates a plugin for host over store. Call Register to attach it.
func New(host Host, store state.Store, opts ...Option) *Plugin {
	p := &Plugin{
		host:  host,
		store: store,
		log:   host.Logger(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.defaults.CompletionPromise == "" {
		p.defaults.CompletionPromise = "COMPLETE"
	}
	return p
}

// Register subscribes to host events and exposes the loop operations.
func (p *Plugin) Register() {
	p.host.Subscribe(EventIdle, p.HandleIdle)
	p.host.Subscribe(EventMessageUpdated, p.HandleMessageUpdated)

	p.host.RegisterOperation(OpStart,
		"Start a ralph loop: the task is re-sent every time the session goes idle until the completion promise is output.",
		p.Start)
	p.host.RegisterOperation(OpStatus, "Show the active ralph loop.", p.Status)
	p.host.RegisterOperation(OpCancel, "Cancel the active ralph loop.", p.Cancel)

	p.host.TransformOutgoingMessage(p.TransformMessage)
}

// HandleIdle continues the loop when the session finishes a turn.
func (p *Plugin) HandleIdle(ctx context.Context, ev Event) {
	if !p.processing.CompareAndSwap(false, true) {
		p.log.Debug().Str("session", ev.SessionID).Msg("idle while processing, ignored")
		return
	}
	defer p.processing.Store(false)

	// Cancellation may have raced this event.
	st, err := p.store.Load()
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to load loop state")
		return
	}
	if !ownsLoop(st) {
		return
	}
	if st.SessionID != "" && ev.SessionID != "" && st.SessionID != ev.SessionID {
		return
	}

	if st.LastOutput != "" && completion.Matches(st.LastOutput, st.CompletionPromise) {
		p.finish(st, state.EventCompleted, "assistant signaled completion")
		return
	}
	if st.Exceeded(st.Iteration) {
		p.finish(st, state.EventMaxIterations, "reached maximum iterations")
		return
	}

	sessionID := st.SessionID
	if sessionID == "" {
		sessionID = ev.SessionID
	}
	if sessionID == "" {
		p.log.Warn().Str("loop_id", st.LoopID).Msg("ralph loop has no session to continue in, waiting for the next idle event")
		return
	}

	updated, err := p.store.Update(func(cur *state.LoopState) error {
		if cur.LoopID != st.LoopID {
			return errForeignLoop
		}
		cur.Iteration++
		cur.SessionID = sessionID
		return nil
	})
	if err != nil {
		if !errors.Is(err, state.ErrNoActiveLoop) && !errors.Is(err, errForeignLoop) {
			p.log.Error().Err(err).Msg("failed to save loop state")
		}
		return
	}

	text, err := prompt.Build(updated)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to build iteration prompt")
		return
	}

	p.log.Info().
		Str("loop_id", updated.LoopID).
		Str("session", sessionID).
		Int("iteration", updated.Iteration).
		Msg("continuing ralph loop")
	p.record(updated, state.EventIteration, "")

	if err := p.host.Prompt(ctx, sessionID, text, updated.Model); err != nil {
		// Left as is so a human can decide whether to retry or cancel.
		p.log.Error().Err(err).Str("session", sessionID).Int("iteration", updated.Iteration).Msg("failed to submit ralph prompt")
		p.record(updated, state.EventError, err.Error())
	}
}

// HandleMessageUpdated stores a completing assistant message so the next
// idle event can end the loop.
func (p *Plugin) HandleMessageUpdated(_ context.Context, ev Event) {
	if ev.Role != RoleAssistant {
		return
	}
	text := ev.Text()
	if text == "" {
		return
	}

	st, err := p.store.Load()
	if err != nil || !ownsLoop(st) {
		return
	}
	if st.SessionID != "" && ev.SessionID != "" && st.SessionID != ev.SessionID {
		return
	}
	if !completion.Matches(text, st.CompletionPromise) {
		return
	}

	_, err = p.store.Update(func(cur *state.LoopState) error {
		if cur.LoopID != st.LoopID {
			return errForeignLoop
		}
		cur.LastOutput = text
		return nil
	})
	if err != nil {
		if !errors.Is(err, state.ErrNoActiveLoop) && !errors.Is(err, errForeignLoop) {
			p.log.Error().Err(err).Msg("failed to save loop state")
		}
		return
	}
	p.log.Info().Str("loop_id", st.LoopID).Int("iteration", st.Iteration).Msg("completion promise detected, stopping at next idle")
}

// TransformMessage appends the loop banner to outgoing user messages.
func (p *Plugin) TransformMessage(_ context.Context, msg *Message) error {
	if msg == nil || msg.Role != RoleUser {
		return nil
	}
	st, err := p.store.Load()
	if err != nil || !ownsLoop(st) {
		return nil
	}
	msg.Parts = append(msg.Parts, Part{
		Type:      PartText,
		Text:      prompt.Banner(st),
		Synthetic: true,
	})
	return nil
}

// ownsLoop reports whether st is an active loop this driver may advance.
// Records without a driver predate the field and are treated as host loops.
func ownsLoop(st *state.LoopState) bool {
	if st == nil || !st.Active {
		return false
	}
	return st.Driver == "" || st.Driver == state.DriverHost
}

// Processing reports whether an idle event is being handled.
func (p *Plugin) Processing() bool {
	return p.processing.Load()
}

func (p *Plugin) finish(st *state.LoopState, event, reason string) {
	cleared, err := p.store.ClearIf(st.LoopID)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to clear loop state")
		return
	}
	if !cleared {
		return
	}
	p.record(st, event, reason)
	p.log.Info().Str("loop_id", st.LoopID).Int("iteration", st.Iteration).Str("reason", reason).Msg("ralph loop finished")
}

func (p *Plugin) record(st *state.LoopState, event, detail string) {
	if err := p.history.Record(st, event, detail); err != nil {
		p.log.Warn().Err(err).Str("event", event).Msg("failed to record loop history")
	}
}
