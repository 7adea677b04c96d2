package delegation

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/personamesh/core"
	"github.com/hupe1980/personamesh/history"
	"github.com/hupe1980/personamesh/logging"
	"github.com/hupe1980/personamesh/metrics"
	"github.com/hupe1980/personamesh/protocol"
)

// DefaultReportFormat renders a sub-agent's output for the coordinator.
// The verbs receive the sub-agent name and its output.
const DefaultReportFormat = "The response from %s was:\n\n%s"

// AgentDelegatorOptions configures an AgentDelegator.
type AgentDelegatorOptions struct {
	Logger       logging.Logger
	Metrics      metrics.Recorder
	Clock        core.Clock
	ReportFormat string
}

// AgentDelegator routes messages with a coordinator agent choosing the
// recipient of every step.
type AgentDelegator struct {
	name        string
	coordinator core.Agent
	registry    *Registry

	current core.Agent
	pending *string
	final   []core.Message
	engaged map[string]bool

	logger  logging.Logger
	metrics metrics.Recorder
	clock   core.Clock
	report  string
}

var _ Delegator = (*AgentDelegator)(nil)

// NewAgentDelegator creates an idle delegator for the root agent name.
func NewAgentDelegator(name string, coordinator core.Agent, registry *Registry, optFns ...func(o *AgentDelegatorOptions)) (*AgentDelegator, error) {
	if coordinator == nil {
		return nil, errors.New("agent delegator: coordinator is required")
	}

	if registry == nil || registry.Len() == 0 {
		return nil, errors.New("agent delegator: at least one sub-agent is required")
	}

	opts := AgentDelegatorOptions{
		ReportFormat: DefaultReportFormat,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.ReportFormat == "" {
		opts.ReportFormat = DefaultReportFormat
	}

	return &AgentDelegator{
		name:        name,
		coordinator: coordinator,
		registry:    registry,
		final:       []core.Message{},
		engaged:     map[string]bool{},
		logger:      logging.OrNoOp(opts.Logger),
		metrics:     metrics.OrNoOp(opts.Metrics),
		clock:       opts.Clock,
		report:      opts.ReportFormat,
	}, nil
}

// Name implements Delegator.
func (d *AgentDelegator) Name() string { return d.name }

// Coordinator returns the agent that chooses recipients.
func (d *AgentDelegator) Coordinator() core.Agent { return d.coordinator }

// SendMessage implements Delegator. While idle the message opens a turn: it
// is recorded as the pending inbound message and sent to the coordinator,
// whose output is parsed into a proposal. While delegated the message is
// forwarded to the active sub-agent unchanged.
func (d *AgentDelegator) SendMessage(ctx context.Context, text string) (core.ProposedResponse, error) {
	if d.current != nil {
		return d.current.Send(ctx, text)
	}

	saved := d.save()

	d.final = append(d.final, core.NewUserMessage(text, d.clock.Now()))
	d.pending = strPtr(text)

	pr, err := d.askCoordinator(ctx, text)
	if err != nil {
		d.restore(saved)
		return core.ProposedResponse{}, err
	}

	return pr, nil
}

// ProcessProposedResponse implements Delegator.
//
// Idle: pr must name a recipient; the sub-agent becomes the active delegate
// and receives pr.Message. Delegated: pr is the delegate's output; it is
// reported to the coordinator and the delegator returns to idle. A
// coordinator answer without a recipient finalizes the turn.
func (d *AgentDelegator) ProcessProposedResponse(ctx context.Context, pr core.ProposedResponse) (core.ProposedResponse, error) {
	if d.current == nil {
		return d.delegate(ctx, pr)
	}

	return d.reportBack(ctx, pr)
}

func (d *AgentDelegator) delegate(ctx context.Context, pr core.ProposedResponse) (core.ProposedResponse, error) {
	if !pr.HasRecipient() {
		return core.ProposedResponse{}, fmt.Errorf("%w: %s proposed %q without a recipient", core.ErrMissingRecipient, d.name, pr.Message)
	}

	sub, err := d.registry.Get(pr.RecipientName())
	if err != nil {
		return core.ProposedResponse{}, err
	}

	saved := d.save()

	d.current = sub
	d.engaged[sub.Name()] = true

	d.logger.Info("Delegating", "from", d.name, "to", sub.Name(), "reasoning", pr.ReasoningText())

	out, err := sub.Send(ctx, pr.Message)
	if err != nil {
		d.restore(saved)
		return core.ProposedResponse{}, err
	}

	d.metrics.DelegationStep(d.name, sub.Name())

	return out, nil
}

func (d *AgentDelegator) reportBack(ctx context.Context, pr core.ProposedResponse) (core.ProposedResponse, error) {
	saved := d.save()
	last := d.current

	d.current = nil

	msg := fmt.Sprintf(d.report, last.Name(), pr.Message)
	d.logger.Debug("Reporting to coordinator", "from", last.Name(), "to", d.coordinator.Name())

	next, err := d.askCoordinator(ctx, msg)
	if err != nil {
		d.restore(saved)
		return core.ProposedResponse{}, err
	}

	if !next.HasRecipient() {
		d.final = append(d.final, core.NewAssistantMessage(next.Message, d.clock.Now()))
		d.pending = nil
		d.logger.Debug("Turn finalized", "agent", d.name)
	}

	return next, nil
}

// askCoordinator sends text to the coordinator and parses its output. A
// protocol violation rolls the coordinator back to its previous history.
func (d *AgentDelegator) askCoordinator(ctx context.Context, text string) (core.ProposedResponse, error) {
	before := d.coordinator.History()

	out, err := d.coordinator.Send(ctx, text)
	if err != nil {
		return core.ProposedResponse{}, err
	}

	pr, err := protocol.Parse(out.Message)
	if err != nil {
		d.metrics.ProtocolViolation(d.coordinator.Name())
		d.logger.Warn("Coordinator output violates protocol", "agent", d.coordinator.Name(), "error", err)

		if restoreErr := d.coordinator.SetHistory(before); restoreErr != nil {
			return core.ProposedResponse{}, errors.Join(err, restoreErr)
		}

		return core.ProposedResponse{}, err
	}

	return pr, nil
}

// InProcessingLoop implements Delegator.
func (d *AgentDelegator) InProcessingLoop() bool { return d.pending != nil }

// CurrentDelegate implements Delegator.
func (d *AgentDelegator) CurrentDelegate() core.Agent { return d.current }

// PendingMessage implements Delegator.
func (d *AgentDelegator) PendingMessage() (string, bool) {
	if d.pending == nil {
		return "", false
	}
	return *d.pending, true
}

// Subagent implements Delegator.
func (d *AgentDelegator) Subagent(name string) (core.Agent, error) { return d.registry.Get(name) }

// Subagents implements Delegator.
func (d *AgentDelegator) Subagents() []core.Agent { return d.registry.Agents() }

// History implements Delegator. Messages are the coordinator's exchange;
// subhistories exist for every sub-agent engaged so far.
func (d *AgentDelegator) History() *core.History {
	coord := d.coordinator.History()

	h := &core.History{
		Messages:      coord.Messages,
		FinalMessages: cloneMessages(d.final),
		Subhistories:  map[string]*core.History{},
	}

	for _, sub := range d.registry.Agents() {
		if d.engaged[sub.Name()] {
			h.Subhistories[sub.Name()] = sub.History()
		}
	}

	return h
}

// SetHistory implements Delegator.
func (d *AgentDelegator) SetHistory(h *core.History) error {
	_, err := d.Resume(h)
	return err
}

// Resume implements Delegator.
//
// The trailing unanswered user message, if any, is removed from its owner.
// When the coordinator owned it and it opened the turn, it is dropped from
// the final messages as well so the turn can be resent from scratch. The
// pending inbound message is the last final message if that is a user
// message; the active delegate is the root's direct delegate on the stack of
// the most recent assistant message.
func (d *AgentDelegator) Resume(h *core.History) (Resumption, error) {
	if h == nil {
		return Resumption{}, errors.New("agent delegator: nil history")
	}

	if err := validateSubhistories(d.registry, h); err != nil {
		return Resumption{}, fmt.Errorf("resume %s: %w", d.name, err)
	}

	saved := d.save()
	saved.subs = saveSubs(d.registry)

	tree := h.Clone()
	popped, entries := popUnanswered(tree, d.name)

	var res Resumption

	final := tree.FinalMessages
	if popped != nil {
		msg := popped.Message
		res.Discarded = &msg
		res.DiscardedStack = popped.Stack

		if popped.Owner() == d.name && len(popped.Stack) == 1 {
			if n := len(final); n > 0 && final[n-1].IsUser() && final[n-1].Content == msg.Content {
				final = final[:n-1]
			}
		}

		d.logger.Warn("Discarding unanswered message from snapshot",
			"agent", d.name, "stack", popped.Path(), "timestamp", msg.Timestamp, "content", msg.Content)
	}

	if err := d.install(tree, final); err != nil {
		d.restore(saved)
		return Resumption{}, fmt.Errorf("resume %s: %w", d.name, err)
	}

	if last, ok := lastOf(final); ok && last.IsUser() {
		d.pending = strPtr(last.Content)
		res.Pending = strPtr(last.Content)
	}

	if e, ok := history.LastOfRole(entries, core.RoleAssistant); ok {
		if name, ok := e.DelegateOf(d.name); ok {
			sub, err := d.registry.Get(name)
			if err != nil {
				d.restore(saved)
				return Resumption{}, fmt.Errorf("resume %s: %w", d.name, err)
			}
			d.current = sub
			res.Delegate = name
		}
	}

	return res, nil
}

func (d *AgentDelegator) install(tree *core.History, final []core.Message) error {
	bare := &core.History{
		Messages:      tree.Messages,
		FinalMessages: tree.Messages,
		Subhistories:  map[string]*core.History{},
	}

	if err := d.coordinator.SetHistory(bare); err != nil {
		return err
	}

	d.final = cloneMessages(final)
	d.pending = nil
	d.current = nil
	d.engaged = map[string]bool{}

	for _, name := range history.SubNames(tree) {
		sub, err := d.registry.Get(name)
		if err != nil {
			return err
		}

		if err := sub.SetHistory(tree.Subhistories[name]); err != nil {
			return fmt.Errorf("sub-agent %q: %w", name, err)
		}

		d.engaged[name] = true
	}

	return nil
}

// LastAssistantResponse implements Delegator. A sub-agent's message is
// answered by that sub-agent; the coordinator's own message is parsed.
func (d *AgentDelegator) LastAssistantResponse() (*core.ProposedResponse, error) {
	entries := history.Flatten(d.History(), d.name)

	e, ok := history.LastOfRole(entries, core.RoleAssistant)
	if !ok {
		return nil, nil
	}

	if len(e.Stack) > 1 {
		owner, err := resolve(d.registry, e.Stack)
		if err != nil {
			return nil, err
		}
		return owner.LastAssistantResponse()
	}

	pr, err := protocol.Parse(e.Message.Content)
	if err != nil {
		return nil, err
	}

	return &pr, nil
}

type agentState struct {
	coordinator *core.History
	subs        map[string]*core.History
	current     core.Agent
	pending     *string
	final       []core.Message
	engaged     map[string]bool
}

func (d *AgentDelegator) save() agentState {
	s := agentState{
		coordinator: d.coordinator.History(),
		current:     d.current,
		pending:     d.pending,
		final:       cloneMessages(d.final),
		engaged:     make(map[string]bool, len(d.engaged)),
	}

	for name, on := range d.engaged {
		s.engaged[name] = on
	}

	return s
}

// restore returns to a saved state. Sub-agent histories are only captured
// (and reset) around Resume; a failed step never leaves them changed.
func (d *AgentDelegator) restore(s agentState) {
	if err := d.coordinator.SetHistory(s.coordinator); err != nil {
		d.logger.Error("Failed to restore coordinator history", "agent", d.name, "error", err)
	}

	restoreSubs(d.registry, s.subs, d.logger)

	d.current = s.current
	d.pending = s.pending
	d.final = s.final
	d.engaged = s.engaged
}

func lastOf(msgs []core.Message) (core.Message, bool) {
	if len(msgs) == 0 {
		return core.Message{}, false
	}
	return msgs[len(msgs)-1], true
}
