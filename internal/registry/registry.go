// Package registry supervises MCP tool providers and gives the
// orchestrator one uniform, non-fatal view of their tools.
//
// Each provider runs over its own transport (a supervised subprocess
// via stdio, or an in-process channel for the built-in provider) and
// moves through UNINITIALIZED, CONNECTING, READY, DISABLED. Handshake
// failure is fatal to that provider for the process lifetime; a listing
// timeout is transient. Tool failures are returned as data, never as
// errors crossing the registry boundary.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quillcms/aichat/internal/log"
)

// State is the lifecycle state of one provider connection.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateDisabled
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Default operation timeouts.
const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultListTimeout      = 3 * time.Second
	DefaultCallTimeout      = 10 * time.Second
)

// Descriptor describes one callable tool. Qualified names are globally
// unique because they carry the provider prefix.
type Descriptor struct {
	QualifiedName string         `json:"qualifiedName"`
	Provider      string         `json:"provider"`
	OriginalName  string         `json:"originalName"`
	Description   string         `json:"description"`
	Schema        map[string]any `json:"schema"`
}

// Result is the uniform outcome of a tool invocation. A failed call is
// still a Result, never an error: one broken tool must not abort the
// conversation.
type Result struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// provider is one supervised connection.
type provider struct {
	name             string
	transport        mcp.Transport
	handshakeTimeout time.Duration

	mu      sync.Mutex
	state   State
	session *mcp.ClientSession
}

func (p *provider) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *provider) getState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Registry supervises providers and owns the tool map. Construct with
// New, add providers, then Initialize once at startup; the process entry
// point owns the init/shutdown lifecycle and passes the registry by
// reference into the orchestrator.
type Registry struct {
	logger      log.Logger
	clientInfo  *mcp.Implementation
	listTimeout time.Duration
	callTimeout time.Duration

	providers []*provider

	mu       sync.RWMutex
	tools    map[string]Descriptor
	degraded bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeouts overrides the list and call timeouts.
func WithTimeouts(list, call time.Duration) Option {
	return func(r *Registry) {
		r.listTimeout = list
		r.callTimeout = call
	}
}

// New creates an empty Registry.
func New(logger log.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger: logger.With("component", "registry"),
		clientInfo: &mcp.Implementation{
			Name:    "aichat",
			Version: "1.0.0",
		},
		listTimeout: DefaultListTimeout,
		callTimeout: DefaultCallTimeout,
		tools:       make(map[string]Descriptor),
		degraded:    true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddProvider registers a provider to be connected by Initialize.
// handshakeTimeout <= 0 uses the default.
func (r *Registry) AddProvider(name string, transport mcp.Transport, handshakeTimeout time.Duration) {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	r.providers = append(r.providers, &provider{
		name:             name,
		transport:        transport,
		handshakeTimeout: handshakeTimeout,
		state:            StateUninitialized,
	})
}

// Initialize connects every registered provider concurrently, each
// bounded by its handshake timeout. A failed handshake disables that
// provider for the process lifetime. If no provider reaches READY the
// registry enters degraded mode: Tools returns an empty catalog and the
// conversation proceeds without tools.
func (r *Registry) Initialize(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range r.providers {
		wg.Add(1)
		go func(p *provider) {
			defer wg.Done()
			r.connect(ctx, p)
		}(p)
	}
	wg.Wait()

	ready := 0
	for _, p := range r.providers {
		if p.getState() == StateReady {
			ready++
		}
	}

	r.mu.Lock()
	r.degraded = ready == 0
	r.mu.Unlock()

	if ready == 0 {
		r.logger.Warn("no tool providers available, running degraded",
			"configured", len(r.providers))
	} else {
		r.logger.Info("tool providers connected",
			"ready", ready, "configured", len(r.providers))
	}

	r.Refresh(ctx)
}

// connect performs the handshake for one provider.
func (r *Registry) connect(ctx context.Context, p *provider) {
	p.setState(StateConnecting)

	hctx, cancel := context.WithTimeout(ctx, p.handshakeTimeout)
	defer cancel()

	client := mcp.NewClient(r.clientInfo, nil)
	session, err := client.Connect(hctx, p.transport, nil)
	if err != nil {
		// Fatal for this provider: no reconnection storm.
		p.setState(StateDisabled)
		r.logger.Error("provider handshake failed, disabling",
			"provider", p.name, "err", err)
		return
	}

	p.mu.Lock()
	p.session = session
	p.state = StateReady
	p.mu.Unlock()

	r.logger.Info("provider ready", "provider", p.name)
}

// Refresh rebuilds the tool map from every READY provider. A provider
// that times out contributes zero tools for this refresh but stays
// READY; listing failures are transient, unlike handshake failures.
// The rebuild is non-atomic by design: concurrent readers may observe a
// transiently stale map, which degrades to "no tools" rather than an
// error.
func (r *Registry) Refresh(ctx context.Context) {
	fresh := make(map[string]Descriptor)

	for _, p := range r.providers {
		p.mu.Lock()
		session := p.session
		state := p.state
		p.mu.Unlock()
		if state != StateReady || session == nil {
			continue
		}

		lctx, cancel := context.WithTimeout(ctx, r.listTimeout)
		result, err := session.ListTools(lctx, nil)
		cancel()
		if err != nil {
			r.logger.Warn("listing tools failed, provider contributes none this refresh",
				"provider", p.name, "err", err)
			continue
		}

		for _, tool := range result.Tools {
			qualified := p.name + "_" + tool.Name
			fresh[qualified] = Descriptor{
				QualifiedName: qualified,
				Provider:      p.name,
				OriginalName:  tool.Name,
				Description:   tool.Description,
				Schema:        schemaToMap(tool.InputSchema),
			}
		}
	}

	r.mu.Lock()
	r.tools = fresh
	r.mu.Unlock()

	r.logger.Debug("tool map rebuilt", "tools", len(fresh))
}

// Tools returns the current catalog sorted by qualified name. Empty in
// degraded mode.
func (r *Registry) Tools() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.degraded {
		return nil
	}

	out := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QualifiedName < out[j].QualifiedName
	})
	return out
}

// Degraded reports whether no provider reached READY.
func (r *Registry) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded
}

// Call invokes a tool by qualified name with a bounded timeout. Unknown
// names, timeouts, and transport errors all come back as a failed
// Result.
func (r *Registry) Call(ctx context.Context, qualifiedName string, arguments map[string]any) Result {
	r.mu.RLock()
	desc, ok := r.tools[qualifiedName]
	r.mu.RUnlock()
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("unknown tool %q", qualifiedName)}
	}

	var target *provider
	for _, p := range r.providers {
		if p.name == desc.Provider {
			target = p
			break
		}
	}
	if target == nil || target.getState() != StateReady {
		return Result{Success: false, Error: fmt.Sprintf("provider %q unavailable", desc.Provider)}
	}

	target.mu.Lock()
	session := target.session
	target.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	start := time.Now()
	result, err := session.CallTool(cctx, &mcp.CallToolParams{
		Name:      desc.OriginalName,
		Arguments: arguments,
	})
	if err != nil {
		r.logger.Warn("tool call failed",
			"tool", qualifiedName, "elapsed", time.Since(start), "err", err)
		return Result{Success: false, Error: err.Error()}
	}

	content := flattenContent(result.Content)
	if result.IsError {
		return Result{Success: false, Error: content}
	}

	r.logger.Debug("tool call completed",
		"tool", qualifiedName, "elapsed", time.Since(start), "bytes", len(content))
	return Result{Success: true, Content: content}
}

// Shutdown closes every open session, best effort. Partial failures are
// logged, not escalated.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, p := range r.providers {
		p.mu.Lock()
		session := p.session
		p.session = nil
		p.state = StateDisabled
		p.mu.Unlock()

		if session == nil {
			continue
		}
		if err := session.Close(); err != nil {
			r.logger.Warn("closing provider session", "provider", p.name, "err", err)
		}
	}
	r.logger.Info("registry shut down")
}

// flattenContent joins the text parts of a tool result.
func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// schemaToMap converts the SDK's typed schema into the plain map the
// backend adapters expect.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	return m
}
