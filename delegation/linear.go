package delegation

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/personamesh/core"
	"github.com/hupe1980/personamesh/history"
	"github.com/hupe1980/personamesh/logging"
	"github.com/hupe1980/personamesh/metrics"
)

// MessageBuilder turns a stage's output into the next stage's input. It also
// receives the inbound message that opened the turn. The result of the last
// stage's call is the final answer.
type MessageBuilder func(stage core.Agent, output, inbound string) (string, error)

// LinearDelegatorOptions configures a LinearDelegator.
type LinearDelegatorOptions struct {
	Logger  logging.Logger
	Metrics metrics.Recorder
	Clock   core.Clock
	// Builder transforms stage output; nil passes output through unchanged.
	Builder MessageBuilder
}

// LinearDelegator sends every inbound message through a fixed pipeline of
// stages, in order.
type LinearDelegator struct {
	name     string
	stages   []core.Agent
	registry *Registry

	next    int
	current core.Agent
	inbound *string
	history []core.Message
	engaged map[string]bool

	builder MessageBuilder
	logger  logging.Logger
	metrics metrics.Recorder
	clock   core.Clock
}

var _ Delegator = (*LinearDelegator)(nil)

// NewLinearDelegator creates an idle pipeline for the root agent name.
func NewLinearDelegator(name string, stages []core.Agent, optFns ...func(o *LinearDelegatorOptions)) (*LinearDelegator, error) {
	if len(stages) == 0 {
		return nil, errors.New("linear delegator: at least one stage is required")
	}

	registry, err := NewRegistry(stages...)
	if err != nil {
		return nil, fmt.Errorf("linear delegator: %w", err)
	}

	opts := LinearDelegatorOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &LinearDelegator{
		name:     name,
		stages:   registry.Agents(),
		registry: registry,
		history:  []core.Message{},
		engaged:  map[string]bool{},
		builder:  opts.Builder,
		logger:   logging.OrNoOp(opts.Logger),
		metrics:  metrics.OrNoOp(opts.Metrics),
		clock:    opts.Clock,
	}, nil
}

// Name implements Delegator.
func (l *LinearDelegator) Name() string { return l.name }

// NextIndex returns the index of the stage that receives the next step.
func (l *LinearDelegator) NextIndex() int { return l.next }

// SendMessage implements Delegator. With no active stage the message opens
// a turn and goes to the next stage in order; otherwise it is forwarded to
// the active stage.
func (l *LinearDelegator) SendMessage(ctx context.Context, text string) (core.ProposedResponse, error) {
	if l.current != nil {
		return l.current.Send(ctx, text)
	}

	saved := l.save()

	l.history = append(l.history, core.NewUserMessage(text, l.clock.Now()))
	l.inbound = strPtr(text)

	out, err := l.advance(ctx, text)
	if err != nil {
		l.restore(saved)
		return core.ProposedResponse{}, err
	}

	return out, nil
}

// ProcessProposedResponse implements Delegator. The active stage's output is
// passed through the builder; after the last stage the turn finalizes and
// the built text is returned as a proposal without recipient.
func (l *LinearDelegator) ProcessProposedResponse(ctx context.Context, pr core.ProposedResponse) (core.ProposedResponse, error) {
	if l.current == nil {
		return core.ProposedResponse{}, fmt.Errorf("%w: %s has no active stage", core.ErrNotInTurn, l.name)
	}

	next := pr.Message
	if l.builder != nil {
		inbound := ""
		if l.inbound != nil {
			inbound = *l.inbound
		}

		var err error
		if next, err = l.builder(l.current, pr.Message, inbound); err != nil {
			return core.ProposedResponse{}, fmt.Errorf("build message after %q: %w", l.current.Name(), err)
		}
	}

	if l.next == len(l.stages) {
		l.next = 0
		l.current = nil
		l.inbound = nil
		l.history = append(l.history, core.NewAssistantMessage(next, l.clock.Now()))
		l.logger.Debug("Turn finalized", "agent", l.name)

		return core.NewProposedResponse(next), nil
	}

	saved := l.save()

	out, err := l.advance(ctx, next)
	if err != nil {
		l.restore(saved)
		return core.ProposedResponse{}, err
	}

	return out, nil
}

func (l *LinearDelegator) advance(ctx context.Context, text string) (core.ProposedResponse, error) {
	from := l.name
	if l.current != nil {
		from = l.current.Name()
	}

	stage := l.stages[l.next]
	l.next++
	l.current = stage
	l.engaged[stage.Name()] = true

	l.logger.Debug("Pipeline step", "agent", l.name, "stage", stage.Name(), "index", l.next-1)

	out, err := stage.Send(ctx, text)
	if err != nil {
		return core.ProposedResponse{}, err
	}

	l.metrics.DelegationStep(from, stage.Name())

	return out, nil
}

// InProcessingLoop implements Delegator.
func (l *LinearDelegator) InProcessingLoop() bool { return l.inbound != nil }

// CurrentDelegate implements Delegator.
func (l *LinearDelegator) CurrentDelegate() core.Agent { return l.current }

// PendingMessage implements Delegator.
func (l *LinearDelegator) PendingMessage() (string, bool) {
	if l.inbound == nil {
		return "", false
	}
	return *l.inbound, true
}

// Subagent implements Delegator.
func (l *LinearDelegator) Subagent(name string) (core.Agent, error) { return l.registry.Get(name) }

// Subagents implements Delegator.
func (l *LinearDelegator) Subagents() []core.Agent { return l.registry.Agents() }

// History implements Delegator. A pipeline has no coordinator exchange, so
// messages and final messages are the same list.
func (l *LinearDelegator) History() *core.History {
	h := &core.History{
		Messages:      cloneMessages(l.history),
		FinalMessages: cloneMessages(l.history),
		Subhistories:  map[string]*core.History{},
	}

	for _, stage := range l.stages {
		if l.engaged[stage.Name()] {
			h.Subhistories[stage.Name()] = stage.History()
		}
	}

	return h
}

// SetHistory implements Delegator.
func (l *LinearDelegator) SetHistory(h *core.History) error {
	_, err := l.Resume(h)
	return err
}

// Resume implements Delegator.
//
// The trailing unanswered user message is removed from its owner. If the
// root history then ends with an inbound user message, the turn is open: the
// active stage is the one that produced the latest output after that
// inbound message and processing continues from its last response. When no
// stage has answered yet the inbound message itself is discarded and the
// pipeline is idle, so the caller resends it.
//
// The builder cannot be restored; builders that keep state across calls
// see a fresh turn.
func (l *LinearDelegator) Resume(h *core.History) (Resumption, error) {
	if h == nil {
		return Resumption{}, errors.New("linear delegator: nil history")
	}

	if err := validateSubhistories(l.registry, h); err != nil {
		return Resumption{}, fmt.Errorf("resume %s: %w", l.name, err)
	}

	saved := l.save()
	saved.subs = saveSubs(l.registry)

	tree := h.Clone()
	popped, entries := popUnanswered(tree, l.name)

	var res Resumption
	if popped != nil {
		msg := popped.Message
		res.Discarded = &msg
		res.DiscardedStack = popped.Stack
	}

	if err := l.install(tree); err != nil {
		l.restore(saved)
		return Resumption{}, fmt.Errorf("resume %s: %w", l.name, err)
	}

	if last, ok := lastOf(l.history); ok && last.IsUser() {
		stage, idx := l.lastStageAfter(entries, last)
		if stage == nil {
			// Nothing answered this turn: drop the inbound message as well.
			l.history = l.history[:len(l.history)-1]
			res.Discarded = &last
			res.DiscardedStack = []string{l.name}
		} else {
			l.inbound = strPtr(last.Content)
			l.current = stage
			l.next = idx + 1
			res.Pending = strPtr(last.Content)
			res.Delegate = stage.Name()
		}
	}

	if res.Discarded != nil {
		l.logger.Warn("Discarding unanswered message from snapshot",
			"agent", l.name, "stack", res.DiscardedStack, "timestamp", res.Discarded.Timestamp, "content", res.Discarded.Content)
	}

	return res, nil
}

// lastStageAfter finds the stage owning the latest assistant entry that is
// not older than the inbound message.
func (l *LinearDelegator) lastStageAfter(entries []history.FlatEntry, inbound core.Message) (core.Agent, int) {
	e, ok := history.LastOfRole(entries, core.RoleAssistant)
	if !ok || e.Message.Timestamp.Before(inbound.Timestamp) {
		return nil, -1
	}

	name, ok := e.DelegateOf(l.name)
	if !ok {
		return nil, -1
	}

	idx := l.registry.Index(name)
	if idx < 0 {
		return nil, -1
	}

	return l.stages[idx], idx
}

func (l *LinearDelegator) install(tree *core.History) error {
	l.history = cloneMessages(tree.Messages)
	l.next = 0
	l.current = nil
	l.inbound = nil
	l.engaged = map[string]bool{}

	for _, name := range history.SubNames(tree) {
		stage, err := l.registry.Get(name)
		if err != nil {
			return err
		}

		if err := stage.SetHistory(tree.Subhistories[name]); err != nil {
			return fmt.Errorf("stage %q: %w", name, err)
		}

		l.engaged[name] = true
	}

	return nil
}

// LastAssistantResponse implements Delegator. A stage's message is answered
// by that stage; the pipeline's own final answer is returned verbatim.
func (l *LinearDelegator) LastAssistantResponse() (*core.ProposedResponse, error) {
	entries := history.Flatten(l.History(), l.name)

	e, ok := history.LastOfRole(entries, core.RoleAssistant)
	if !ok {
		return nil, nil
	}

	if len(e.Stack) > 1 {
		owner, err := resolve(l.registry, e.Stack)
		if err != nil {
			return nil, err
		}
		return owner.LastAssistantResponse()
	}

	pr := core.NewProposedResponse(e.Message.Content)

	return &pr, nil
}

type linearState struct {
	next    int
	current core.Agent
	inbound *string
	history []core.Message
	engaged map[string]bool
	subs    map[string]*core.History
}

func (l *LinearDelegator) save() linearState {
	s := linearState{
		next:    l.next,
		current: l.current,
		inbound: l.inbound,
		history: cloneMessages(l.history),
		engaged: make(map[string]bool, len(l.engaged)),
	}

	for name, on := range l.engaged {
		s.engaged[name] = on
	}

	return s
}

func (l *LinearDelegator) restore(s linearState) {
	restoreSubs(l.registry, s.subs, l.logger)

	l.next = s.next
	l.current = s.current
	l.inbound = s.inbound
	l.history = s.history
	l.engaged = s.engaged
}
