package opencode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/schmitthub/ralph/internal/hostloop"
)

// OpenCode bus event types the adapter understands.
const (
	EventSessionIdle        = "session.idle"
	EventMessageUpdated     = "message.updated"
	EventMessagePartUpdated = "message.part.updated"
	EventServerConnected    = "server.connected"
)

// WatcherConfig configures the SSE event watcher.
type WatcherConfig struct {
	// ReconnectDelay is the initial delay before reconnecting after disconnect.
	// Defaults to 1 second.
	ReconnectDelay time.Duration

	// MaxReconnectDelay is the maximum delay between reconnection attempts.
	// Defaults to 30 seconds.
	MaxReconnectDelay time.Duration

	// ReconnectBackoffFactor multiplies the delay on each failed attempt.
	// Defaults to 2.0.
	ReconnectBackoffFactor float64
}

func (c *WatcherConfig) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.ReconnectBackoffFactor <= 0 {
		c.ReconnectBackoffFactor = 2.0
	}
}

// rawEvent is one decoded bus event.
type rawEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

type sessionProps struct {
	SessionID string `json:"sessionID"`
}

type messageInfo struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Role      string `json:"role"`
}

type messageProps struct {
	Info messageInfo `json:"info"`
}

type partInfo struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"`
	Text      string `json:"text"`
}

type partProps struct {
	Part partInfo `json:"part"`
}

// maxBufferedMessages bounds the per-message part buffer.
const maxBufferedMessages = 64

// translator turns OpenCode bus events into host events. Part updates are
// streamed with the cumulative text, so the latest version of each part wins.
type translator struct {
	mu    sync.Mutex
	parts map[string][]partInfo // message ID -> parts in arrival order
	order []string
}

func newTranslator() *translator {
	return &translator{parts: make(map[string][]partInfo)}
}

// translate returns the host event for ev, if any.
func (t *translator) translate(ev rawEvent) (hostloop.Event, bool, error) {
	switch ev.Type {
	case EventSessionIdle:
		var p sessionProps
		if err := json.Unmarshal(ev.Properties, &p); err != nil {
			return hostloop.Event{}, false, fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		return hostloop.Event{Kind: hostloop.EventIdle, SessionID: p.SessionID}, true, nil

	case EventMessagePartUpdated:
		var p partProps
		if err := json.Unmarshal(ev.Properties, &p); err != nil {
			return hostloop.Event{}, false, fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		t.storePart(p.Part)
		return hostloop.Event{}, false, nil

	case EventMessageUpdated:
		var p messageProps
		if err := json.Unmarshal(ev.Properties, &p); err != nil {
			return hostloop.Event{}, false, fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		return hostloop.Event{
			Kind:      hostloop.EventMessageUpdated,
			SessionID: p.Info.SessionID,
			MessageID: p.Info.ID,
			Role:      p.Info.Role,
			Parts:     t.messageParts(p.Info.ID),
		}, true, nil
	}
	return hostloop.Event{}, false, nil
}

func (t *translator) storePart(p partInfo) {
	if p.MessageID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	parts, seen := t.parts[p.MessageID]
	if !seen {
		t.order = append(t.order, p.MessageID)
		if len(t.order) > maxBufferedMessages {
			delete(t.parts, t.order[0])
			t.order = t.order[1:]
		}
	}
	for i := range parts {
		if parts[i].ID == p.ID {
			parts[i] = p
			t.parts[p.MessageID] = parts
			return
		}
	}
	t.parts[p.MessageID] = append(parts, p)
}

func (t *translator) messageParts(messageID string) []hostloop.Part {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := t.parts[messageID]
	out := make([]hostloop.Part, 0, len(parts))
	for _, p := range parts {
		out = append(out, hostloop.Part{Type: p.Type, Text: p.Text})
	}
	return out
}

// watch runs the SSE connection with automatic reconnection until ctx ends.
func (h *Host) watch(ctx context.Context, emit func(hostloop.Event)) {
	delay := h.watcher.ReconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := h.connectAndStream(ctx, emit)
		if ctx.Err() != nil {
			return
		}
		// A clean close still needs a reconnect.
		if err == nil {
			err = errors.New("connection closed")
		}
		if connected {
			delay = h.watcher.ReconnectDelay
		}

		h.log.Warn().
			Err(err).
			Str("url", h.baseURL).
			Dur("retry_in", delay).
			Msg("event stream failed, will retry")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * h.watcher.ReconnectBackoffFactor)
		if delay > h.watcher.MaxReconnectDelay {
			delay = h.watcher.MaxReconnectDelay
		}
	}
}

// connectAndStream opens the event stream and processes it. It reports
// whether the connection was established.
func (h *Host) connectAndStream(ctx context.Context, emit func(hostloop.Event)) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/event", nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := h.stream.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	h.log.Debug().Str("url", h.baseURL).Msg("event stream connected")
	return true, h.streamEvents(ctx, resp.Body, emit)
}

// streamEvents reads SSE frames from body until it closes.
func (h *Host) streamEvents(ctx context.Context, body io.Reader, emit func(hostloop.Event)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()

		if line == "" {
			if len(dataLines) > 0 {
				h.handleFrame(eventType, strings.Join(dataLines, "\n"), emit)
			}
			eventType = ""
			dataLines = nil
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		// id:, retry: and comments are ignored
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func (h *Host) handleFrame(eventType, data string, emit func(hostloop.Event)) {
	var ev rawEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		h.log.Debug().Err(err).Str("event_type", eventType).Msg("skipping undecodable event")
		return
	}
	if ev.Type == "" {
		ev.Type = eventType
	}

	out, ok, err := h.translator.translate(ev)
	if err != nil {
		h.log.Debug().Err(err).Msg("skipping malformed event")
		return
	}
	if ok {
		emit(out)
	}
}
