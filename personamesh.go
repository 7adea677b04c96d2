// Package personamesh provides a high-level façade over the persona graph,
// its delegation engine and snapshot persistence. Most applications
// interact with this package by:
//  1. Loading a config.Config and creating a Mesh via New()
//  2. Running turns (RunTurn) or stepping through them (Send, Step)
//  3. Saving and resuming snapshots of the conversation (Save, Resume)
//
// All defaults are safe for local development and testing: snapshots are
// kept in memory unless the config selects a durable store.
package personamesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/personamesh/agent"
	"github.com/hupe1980/personamesh/codec"
	"github.com/hupe1980/personamesh/config"
	"github.com/hupe1980/personamesh/core"
	"github.com/hupe1980/personamesh/delegation"
	"github.com/hupe1980/personamesh/history"
	"github.com/hupe1980/personamesh/logging"
	"github.com/hupe1980/personamesh/metrics"
)

// openStore opens the configured store in New; tests substitute it.
var openStore = NewStore

// ErrNothingToContinue is returned by Continue when the resumed snapshot
// holds neither an open turn nor a message to resend.
var ErrNothingToContinue = errors.New("nothing to continue")

// Options configures the Mesh instance.
type Options struct {
	// SessionStore keeps snapshots; defaults to the store selected in config.
	SessionStore core.SessionStore

	// Logger defaults to a PersonaLogger built from the log section.
	Logger logging.Logger

	// Metrics defaults to Prometheus collectors when metrics are enabled,
	// otherwise to NoOp.
	Metrics metrics.Recorder

	// Clock stamps messages; nil uses the system clock.
	Clock core.Clock

	// ModelFactory builds each persona's completion service; defaults to NewModel.
	ModelFactory ModelFactory

	// MessageBuilder transforms stage outputs in linear mode.
	MessageBuilder delegation.MessageBuilder

	// OnChunk receives streamed completion text per persona.
	OnChunk func(persona, chunk string)

	// SessionID names the conversation in the store; defaults to a new id.
	SessionID string
}

// Mesh is the high-level façade aggregating the root persona and the
// snapshot store.
type Mesh struct {
	root      *agent.DelegatingAgent
	store     core.SessionStore
	logger    logging.Logger
	metrics   metrics.Recorder
	sessionID string
	resumed   *delegation.Resumption
}

// New builds the persona graph described by cfg.
func New(cfg *config.Config, optFns ...func(o *Options)) (*Mesh, error) {
	if cfg == nil {
		return nil, errors.New("personamesh: config is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("personamesh: %w", err)
	}

	opts := Options{
		ModelFactory: NewModel,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.SessionID == "" {
		opts.SessionID = NewSessionID()
	}

	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(cfg.LoggerConfig()).WithSession(opts.SessionID)
	}

	if opts.Metrics == nil && cfg.Metrics.Enabled {
		opts.Metrics = metrics.NewPrometheus()
	}

	if opts.ModelFactory == nil {
		opts.ModelFactory = NewModel
	}

	var opened core.SessionStore

	if opts.SessionStore == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		store, err := openStore(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("personamesh: open %s store: %w", cfg.Store.Driver, err)
		}
		opts.SessionStore = store
		opened = store
	}

	b := &builder{cfg: cfg, opts: &opts}

	root, err := b.build()
	if err != nil {
		// Only a store opened here is ours to release.
		if c, ok := opened.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, fmt.Errorf("personamesh: %w", err)
	}

	return NewFromAgent(root, func(o *Options) { *o = opts }), nil
}

// NewFromAgent wraps an already assembled root persona.
func NewFromAgent(root *agent.DelegatingAgent, optFns ...func(o *Options)) *Mesh {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.SessionStore == nil {
		opts.SessionStore = sessionStoreDefault()
	}

	if opts.SessionID == "" {
		opts.SessionID = NewSessionID()
	}

	return &Mesh{
		root:      root,
		store:     opts.SessionStore,
		logger:    logging.OrNoOp(opts.Logger),
		metrics:   metrics.OrNoOp(opts.Metrics),
		sessionID: opts.SessionID,
	}
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string { return uuid.NewString() }

// Root returns the root persona.
func (m *Mesh) Root() *agent.DelegatingAgent { return m.root }

// SessionID returns the id snapshots are saved under.
func (m *Mesh) SessionID() string { return m.sessionID }

// Store returns the snapshot store.
func (m *Mesh) Store() core.SessionStore { return m.store }

// MetricsHandler serves the Prometheus collectors, or returns nil when
// metrics are not backed by Prometheus.
func (m *Mesh) MetricsHandler() http.Handler {
	if p, ok := m.metrics.(*metrics.Prometheus); ok {
		return p.Handler()
	}
	return nil
}

// InTurn reports whether a turn is open.
func (m *Mesh) InTurn() bool { return m.root.InProcessingLoop() }

// Send delivers one message to the root persona and returns its proposal.
func (m *Mesh) Send(ctx context.Context, text string) (core.ProposedResponse, error) {
	m.resumed = nil
	return m.root.Send(ctx, text)
}

// Step advances the open turn by one step.
func (m *Mesh) Step(ctx context.Context, pr core.ProposedResponse) (core.ProposedResponse, error) {
	return m.root.Process(ctx, pr)
}

// RunTurn sends text and drives the turn to its finalized result.
func (m *Mesh) RunTurn(ctx context.Context, text string) (any, error) {
	m.resumed = nil

	if pl, ok := m.logger.(*logging.PersonaLogger); ok {
		defer pl.StartTimer("turn")()
	}

	out, err := m.root.Run(ctx, text)
	if err != nil {
		m.logger.Error("Turn failed", "agent", m.root.Name(), "error", err)
		return nil, err
	}

	return out, nil
}

// Continue finishes whatever the last Resume recovered: an open turn is
// driven on from the last assistant response; a discarded inbound message
// is sent again.
func (m *Mesh) Continue(ctx context.Context) (any, error) {
	if m.root.InProcessingLoop() {
		last, err := m.root.LastAssistantResponse()
		if err != nil {
			return nil, err
		}

		if last == nil {
			return nil, fmt.Errorf("%w: open turn without an assistant response", ErrNothingToContinue)
		}

		pr, err := m.root.Drive(ctx, *last)
		if err != nil {
			return nil, err
		}

		m.resumed = nil

		return m.root.Finalize(pr)
	}

	if r := m.resumed; r != nil && r.Discarded != nil && len(r.DiscardedStack) == 1 {
		m.logger.Info("Resending discarded message", "agent", m.root.Name())
		return m.RunTurn(ctx, r.Discarded.Content)
	}

	return nil, ErrNothingToContinue
}

// Save encodes the root history and stores it under the session id.
func (m *Mesh) Save(ctx context.Context) (err error) {
	defer func() { m.metrics.SnapshotOperation("save", err) }()

	data, err := codec.Encode(m.root.History())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := m.store.Save(ctx, m.sessionID, data); err != nil {
		return err
	}

	m.logger.Debug("Snapshot saved", "session", m.sessionID, "bytes", len(data))

	return nil
}

// Resume loads the snapshot of sessionID and restores the persona graph
// from it. A snapshot that cannot be loaded, decoded or installed leaves
// the live state untouched.
func (m *Mesh) Resume(ctx context.Context, sessionID string) (res delegation.Resumption, err error) {
	defer func() { m.metrics.SnapshotOperation("resume", err) }()

	data, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return delegation.Resumption{}, err
	}

	h, err := codec.Decode(data)
	if err != nil {
		return delegation.Resumption{}, err
	}

	res, err = m.root.Resume(h)
	if err != nil {
		return delegation.Resumption{}, err
	}

	m.sessionID = sessionID
	m.resumed = &res

	m.logger.Info("Session resumed", "session", sessionID, "in_turn", res.InTurn(), "delegate", res.Delegate)

	return res, nil
}

// Transcript renders the conversation in chronological order.
func (m *Mesh) Transcript() string {
	return RenderTranscript(m.root.History(), m.root.Name())
}

// RenderTranscript flattens h and renders each entry headed by its role,
// owner stack and timestamp.
func RenderTranscript(h *core.History, rootName string) string {
	entries := history.Flatten(h, rootName)

	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[%s] %s @ %s\n", e.Message.Role, e.Path(), codec.FormatTimestamp(e.Message.Timestamp))
		sb.WriteString(e.Message.Content)
		sb.WriteString("\n")
	}

	return sb.String()
}

// Close releases the snapshot store when it holds resources.
func (m *Mesh) Close() error {
	if c, ok := m.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
