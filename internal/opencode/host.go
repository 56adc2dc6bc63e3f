// Package opencode adapts an OpenCode server to the hostloop.Host capability
// interface: events arrive over its SSE stream, prompts are posted to its
// session API, and operations are exposed on a local control endpoint.
package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/schmitthub/ralph/internal/hostloop"
	"github.com/schmitthub/ralph/internal/logger"
)

// DefaultURL is the address `opencode serve` listens on by default.
const DefaultURL = "http://127.0.0.1:4096"

// Config configures a Host.
type Config struct {
	// BaseURL is the OpenCode server address.
	BaseURL string

	// HTTPClient is used for API requests. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client

	// StreamClient is used for the event stream. Defaults to a client with
	// no timeout.
	StreamClient *http.Client

	// Logger defaults to the global logger.
	Logger hostloop.Logger

	Watcher WatcherConfig
}

// Operation is a registered invokable operation.
type Operation struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	handler hostloop.OperationHandler
}

// Host implements hostloop.Host over an OpenCode server.
type Host struct {
	baseURL    string
	api        *http.Client
	stream     *http.Client
	log        hostloop.Logger
	watcher    WatcherConfig
	translator *translator

	mu         sync.RWMutex
	handlers   map[hostloop.EventKind][]hostloop.EventHandler
	ops        map[string]Operation
	transforms []hostloop.MessageTransform

	wg sync.WaitGroup
}

var _ hostloop.Host = (*Host)(nil)

// New creates a Host for the server at cfg.BaseURL.
func New(cfg Config) (*Host, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid opencode url %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid opencode url %q: scheme must be http or https", cfg.BaseURL)
	}

	api := cfg.HTTPClient
	if api == nil {
		api = &http.Client{Timeout: 30 * time.Second}
	}
	stream := cfg.StreamClient
	if stream == nil {
		stream = &http.Client{Timeout: 0}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Global{}
	}
	cfg.Watcher.applyDefaults()

	return &Host{
		baseURL:    base,
		api:        api,
		stream:     stream,
		log:        log,
		watcher:    cfg.Watcher,
		translator: newTranslator(),
		handlers:   make(map[hostloop.EventKind][]hostloop.EventHandler),
		ops:        make(map[string]Operation),
	}, nil
}

// BaseURL returns the server address.
func (h *Host) BaseURL() string { return h.baseURL }

// Subscribe implements hostloop.Host.
func (h *Host) Subscribe(kind hostloop.EventKind, handler hostloop.EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[kind] = append(h.handlers[kind], handler)
}

// RegisterOperation implements hostloop.Host.
func (h *Host) RegisterOperation(name, description string, handler hostloop.OperationHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ops[name] = Operation{Name: name, Description: description, handler: handler}
}

// TransformOutgoingMessage implements hostloop.Host.
func (h *Host) TransformOutgoingMessage(hook hostloop.MessageTransform) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transforms = append(h.transforms, hook)
}

// Logger implements hostloop.Host.
func (h *Host) Logger() hostloop.Logger { return h.log }

// Operations lists registered operations sorted by name.
func (h *Host) Operations() []Operation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Operation, 0, len(h.ops))
	for _, op := range h.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ErrUnknownOperation is returned by Invoke for unregistered names.
var ErrUnknownOperation = errors.New("unknown operation")

// Invoke runs the named operation.
func (h *Host) Invoke(ctx context.Context, name string, call hostloop.OperationCall) (string, error) {
	h.mu.RLock()
	op, ok := h.ops[name]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	return op.handler(ctx, call)
}

// Run streams events from the server and dispatches them until ctx ends.
// Idle handlers run on their own goroutine so a slow continuation never
// stalls the stream; message handlers run inline to keep their order.
func (h *Host) Run(ctx context.Context) error {
	h.log.Info().Str("url", h.baseURL).Msg("watching opencode events")
	h.watch(ctx, func(ev hostloop.Event) { h.dispatch(ctx, ev) })
	h.wg.Wait()
	return ctx.Err()
}

func (h *Host) dispatch(ctx context.Context, ev hostloop.Event) {
	h.mu.RLock()
	handlers := append([]hostloop.EventHandler(nil), h.handlers[ev.Kind]...)
	h.mu.RUnlock()

	h.log.Debug().Str("kind", string(ev.Kind)).Str("session", ev.SessionID).Msg("host event")
	for _, fn := range handlers {
		if ev.Kind == hostloop.EventIdle {
			h.wg.Add(1)
			go func(fn hostloop.EventHandler) {
				defer h.wg.Done()
				fn(ctx, ev)
			}(fn)
			continue
		}
		fn(ctx, ev)
	}
}

// Transform runs the outgoing-message transforms over msg.
func (h *Host) Transform(ctx context.Context, msg *hostloop.Message) error {
	h.mu.RLock()
	transforms := append([]hostloop.MessageTransform(nil), h.transforms...)
	h.mu.RUnlock()
	for _, fn := range transforms {
		if err := fn(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

type modelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

type promptRequest struct {
	Model *modelRef       `json:"model,omitempty"`
	Parts []hostloop.Part `json:"parts"`
}

// SplitModel splits a "provider/model" reference. A bare model has no
// provider.
func SplitModel(model string) (provider, id string) {
	model = strings.TrimSpace(model)
	if i := strings.IndexByte(model, '/'); i > 0 {
		return model[:i], model[i+1:]
	}
	return "", model
}

// Prompt implements hostloop.Host. The message passes through the registered
// transforms and is submitted without waiting for the assistant's reply.
func (h *Host) Prompt(ctx context.Context, sessionID, text, model string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	msg := &hostloop.Message{
		SessionID: sessionID,
		Role:      hostloop.RoleUser,
		Parts:     []hostloop.Part{{Type: hostloop.PartText, Text: text}},
	}
	if err := h.Transform(ctx, msg); err != nil {
		return fmt.Errorf("transform message: %w", err)
	}
	return h.send(ctx, msg, model)
}

func (h *Host) send(ctx context.Context, msg *hostloop.Message, model string) error {
	body := promptRequest{Parts: msg.Parts}
	if model != "" {
		provider, id := SplitModel(model)
		if provider != "" {
			body.Model = &modelRef{ProviderID: provider, ModelID: id}
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode prompt: %w", err)
	}

	endpoint := fmt.Sprintf("%s/session/%s/prompt_async", h.baseURL, url.PathEscape(msg.SessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.api.Do(req)
	if err != nil {
		return fmt.Errorf("submit prompt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("submit prompt: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
