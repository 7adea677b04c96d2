package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hupe1980/personamesh"
	"github.com/hupe1980/personamesh/codec"
	"github.com/hupe1980/personamesh/config"
	"github.com/hupe1980/personamesh/core"
	"github.com/hupe1980/personamesh/model"
	"github.com/hupe1980/personamesh/protocol"
	"github.com/hupe1980/personamesh/session"
)

// loadConfig finds and loads the configuration.
func loadConfig(g *Globals) (*config.Config, error) {
	path, err := config.FindConfig(g.Config)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// openMesh loads the config and builds the persona graph.
func openMesh(g *Globals, sessionID string, metricsListen string, optFns ...func(o *personamesh.Options)) (*personamesh.Mesh, *config.Config, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, nil, err
	}

	if metricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = metricsListen
	}

	fns := append([]func(o *personamesh.Options){func(o *personamesh.Options) {
		o.SessionID = sessionID
	}}, optFns...)

	m, err := personamesh.New(cfg, fns...)
	if err != nil {
		return nil, nil, err
	}

	return m, cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// serveMetrics serves the mesh collectors until ctx ends.
func serveMetrics(ctx context.Context, m *personamesh.Mesh, cfg *config.Config) error {
	addr := cfg.Metrics.Listen
	h := m.MetricsHandler()
	if addr == "" || h == nil {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", h)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	return nil
}

// openStore opens the configured snapshot store without building personas.
func openStore(ctx context.Context, g *Globals) (*config.Config, core.SessionStore, func(), error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := personamesh.NewStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, nil, err
	}

	closeFn := func() {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
	}

	return cfg, store, closeFn, nil
}

// conversation drives turns and prints results.
type conversation struct {
	g       *Globals
	mesh    *personamesh.Mesh
	save    bool
	verbose bool
}

func (s *conversation) turn(ctx context.Context, text string) error {
	var (
		out any
		err error
	)

	if s.verbose {
		out, err = s.stepped(ctx, text)
	} else {
		out, err = s.mesh.RunTurn(ctx, text)
	}

	if err != nil {
		return err
	}

	fmt.Fprintf(s.g.Out, "%s: %v\n", s.mesh.Root().Name(), out)

	return s.persist(ctx)
}

func (s *conversation) stepped(ctx context.Context, text string) (any, error) {
	pr, err := s.mesh.Send(ctx, text)
	if err != nil {
		return nil, err
	}

	for s.mesh.InTurn() {
		s.printProposal(pr)

		if pr, err = s.mesh.Step(ctx, pr); err != nil {
			return nil, err
		}
	}

	return s.mesh.Root().Finalize(pr)
}

func (s *conversation) printProposal(pr core.ProposedResponse) {
	who := s.mesh.Root().Name()
	if d := s.mesh.Root().Delegator().CurrentDelegate(); d != nil {
		who = d.Name()
	}
	fmt.Fprintf(s.g.Out, "--- %s\n%s\n", who, protocol.Format(pr))
}

func (s *conversation) persist(ctx context.Context) error {
	if !s.save {
		return nil
	}
	return s.mesh.Save(ctx)
}

func (s *conversation) sendAll(ctx context.Context, messages []string) error {
	if len(messages) > 0 {
		for _, msg := range messages {
			if err := s.turn(ctx, msg); err != nil {
				return err
			}
		}
		return nil
	}

	scanner := bufio.NewScanner(s.g.In)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := s.turn(ctx, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Run executes the run command.
func (c *RunCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	m, cfg, err := openMesh(g, c.Session, c.MetricsListen)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := serveMetrics(ctx, m, cfg); err != nil {
		return err
	}

	fmt.Fprintf(g.Out, "session: %s\n", m.SessionID())

	s := &conversation{g: g, mesh: m, save: !c.NoSave, verbose: c.Verbose}

	return s.sendAll(ctx, c.Messages)
}

// Run executes the resume command.
func (c *ResumeCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	m, cfg, err := openMesh(g, c.Session, c.MetricsListen)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := serveMetrics(ctx, m, cfg); err != nil {
		return err
	}

	res, err := m.Resume(ctx, c.Session)
	if err != nil {
		return err
	}

	if res.Discarded != nil {
		fmt.Fprintf(g.Out, "discarded unanswered message from %s: %q\n", strings.Join(res.DiscardedStack, " > "), res.Discarded.Content)
	}

	s := &conversation{g: g, mesh: m, save: !c.NoSave, verbose: c.Verbose}

	out, err := m.Continue(ctx)
	switch {
	case errors.Is(err, personamesh.ErrNothingToContinue):
	case err != nil:
		return err
	default:
		fmt.Fprintf(g.Out, "%s: %v\n", m.Root().Name(), out)
		if err := s.persist(ctx); err != nil {
			return err
		}
	}

	if len(c.Messages) == 0 {
		return nil
	}

	return s.sendAll(ctx, c.Messages)
}

// Run executes the transcript command. The snapshot is rendered as stored;
// nothing is resumed.
func (c *TranscriptCmd) Run(g *Globals) error {
	ctx := context.Background()

	cfg, store, closeStore, err := openStore(ctx, g)
	if err != nil {
		return err
	}
	defer closeStore()

	data, err := store.Load(ctx, c.Session)
	if err != nil {
		return err
	}

	h, err := codec.Decode(data)
	if err != nil {
		return err
	}

	if c.Final {
		for _, msg := range h.FinalMessages {
			fmt.Fprintf(g.Out, "[%s] %s\n%s\n\n", msg.Role, codec.FormatTimestamp(msg.Timestamp), msg.Content)
		}
		return nil
	}

	fmt.Fprint(g.Out, personamesh.RenderTranscript(h, cfg.Persona.Name))

	return nil
}

// Run executes the sessions command.
func (c *SessionsCmd) Run(g *Globals) error {
	ctx := context.Background()

	_, store, closeStore, err := openStore(ctx, g)
	if err != nil {
		return err
	}
	defer closeStore()

	ids, err := store.List(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		fmt.Fprintln(g.Out, id)
	}

	return nil
}

// Run executes the validate command. The persona graph is built against
// scripted models so prompts are rendered without calling any provider.
func (c *ValidateCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}

	m, err := personamesh.New(cfg, func(o *personamesh.Options) {
		o.SessionStore = session.NewInMemoryStore()
		o.ModelFactory = func(string, config.ModelConfig) (model.Model, error) {
			return model.NewScriptedModel(), nil
		}
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(g.Out, "ok: %s (%s, %d sub-personas)\n", m.Root().Name(), cfg.Persona.Mode, len(cfg.Persona.Subagents))

	return nil
}

// Run executes the version command.
func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintf(g.Out, "personas %s (%s)\n", version, commit)
	return nil
}
