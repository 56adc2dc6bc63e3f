// Package hostloop is the in-host loop driver. It reacts to a running agent
// host's events instead of spawning processes: every time the host session
// goes idle it re-submits the task, until the assistant emits the
// completion promise or the iteration cap is passed.
//
// The driver only depends on the narrow Host capability interface, so it can
// run against any host runtime that can deliver events, register
// operations, and accept prompts.
package hostloop

import (
	"context"

	"github.com/rs/zerolog"
)

// EventKind names an event the host emits.
type EventKind string

const (
	// EventIdle is emitted when a session finishes a turn.
	EventIdle EventKind = "idle"
	// EventMessageUpdated is emitted when a message's content changes.
	EventMessageUpdated EventKind = "message-updated"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PartText is the type of a text-bearing message part.
const PartText = "text"

// Part is one piece of a chat message.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// Synthetic marks parts added by a transform rather than the author.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Event is a host-emitted event.
type Event struct {
	Kind      EventKind
	SessionID string
	MessageID string
	Role      string
	Parts     []Part
}

// Text concatenates the event's text parts.
func (e Event) Text() string {
	return joinText(e.Parts)
}

// Message is an outgoing chat message that transforms may annotate.
type Message struct {
	SessionID string `json:"sessionID"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
}

// OperationCall is one invocation of a registered operation.
type OperationCall struct {
	// SessionID is the session of the tool call that invoked the operation.
	SessionID string
	// Args are the loosely typed call arguments.
	Args map[string]any
}

// EventHandler handles one host event.
type EventHandler func(ctx context.Context, ev Event)

// OperationHandler handles an operation call and returns text for the caller.
type OperationHandler func(ctx context.Context, call OperationCall) (string, error)

// MessageTransform may modify an outgoing message in place.
type MessageTransform func(ctx context.Context, msg *Message) error

// Logger is the host's logging channel.
type Logger interface {
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
}

// Host is the capability set the driver needs from its host runtime.
type Host interface {
	// Subscribe registers handler for events of kind.
	Subscribe(kind EventKind, handler EventHandler)

	// RegisterOperation exposes an invokable operation.
	RegisterOperation(name, description string, handler OperationHandler)

	// TransformOutgoingMessage registers a hook run on every outgoing message.
	TransformOutgoingMessage(hook MessageTransform)

	// Prompt submits text as a user turn into the session.
	Prompt(ctx context.Context, sessionID, text, model string) error

	// Logger returns the host logging channel.
	Logger() Logger
}

func joinText(parts []Part) string {
	var text string
	for _, p := range parts {
		if p.Type != PartText || p.Text == "" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += p.Text
	}
	return text
}
