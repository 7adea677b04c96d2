package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/personamesh/core"
	"github.com/hupe1980/personamesh/logging"
	"github.com/hupe1980/personamesh/metrics"
)

// PostProcessor converts a basic agent's terminal proposal into its result.
type PostProcessor func(pr core.ProposedResponse) (any, error)

// BasicAgentOptions configures a BasicAgent.
type BasicAgentOptions struct {
	Info        *core.AgentInfo
	PostProcess PostProcessor
	Logger      logging.Logger
	Metrics     metrics.Recorder
}

// BasicAgent is a single completion wrapper. Every reply is a proposal
// without recipient; its messages and final messages are the same list.
type BasicAgent struct {
	name        string
	messenger   *Messenger
	info        *core.AgentInfo
	postProcess PostProcessor
	logger      logging.Logger
	metrics     metrics.Recorder
}

var (
	_ core.Agent     = (*BasicAgent)(nil)
	_ core.Describer = (*BasicAgent)(nil)
)

// NewBasicAgent creates a basic persona talking through messenger.
func NewBasicAgent(name string, messenger *Messenger, optFns ...func(o *BasicAgentOptions)) (*BasicAgent, error) {
	if name == "" {
		return nil, errors.New("basic agent: name is required")
	}

	if messenger == nil {
		return nil, fmt.Errorf("basic agent %q: messenger is required", name)
	}

	opts := BasicAgentOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &BasicAgent{
		name:        name,
		messenger:   messenger,
		info:        opts.Info,
		postProcess: opts.PostProcess,
		logger:      logging.OrNoOp(opts.Logger),
		metrics:     metrics.OrNoOp(opts.Metrics),
	}, nil
}

// Name implements core.Agent.
func (a *BasicAgent) Name() string { return a.name }

// Kind implements core.Agent.
func (a *BasicAgent) Kind() core.Kind { return core.KindBasic }

// Info implements core.Describer.
func (a *BasicAgent) Info() (core.AgentInfo, bool) {
	if a.info == nil {
		return core.AgentInfo{}, false
	}
	return *a.info, true
}

// Messenger returns the agent's completion client.
func (a *BasicAgent) Messenger() *Messenger { return a.messenger }

// Send implements core.Agent.
func (a *BasicAgent) Send(ctx context.Context, message string) (core.ProposedResponse, error) {
	a.logger.Debug("Sending message", "agent", a.name, "length", len(message))

	text, err := a.messenger.Send(ctx, message)
	if err != nil {
		return core.ProposedResponse{}, fmt.Errorf("%s: %w", a.name, err)
	}

	return core.NewProposedResponse(text), nil
}

// History implements core.Agent.
func (a *BasicAgent) History() *core.History {
	msgs := a.messenger.History()

	return &core.History{
		Messages:      msgs,
		FinalMessages: append([]core.Message{}, msgs...),
		Subhistories:  map[string]*core.History{},
	}
}

// SetHistory implements core.Agent. A basic agent has no sub-agents, so a
// tree with subhistories is rejected.
func (a *BasicAgent) SetHistory(h *core.History) error {
	if h == nil {
		return &core.RecordError{Record: a.name, Reason: "nil history"}
	}

	if len(h.Subhistories) > 0 {
		return &core.RecordError{Record: a.name, Reason: "basic agent history carries subhistories"}
	}

	a.messenger.SetHistory(h.Messages)

	return nil
}

// LastAssistantResponse implements core.Agent.
func (a *BasicAgent) LastAssistantResponse() (*core.ProposedResponse, error) {
	msgs := a.messenger.History()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsAssistant() {
			pr := core.NewProposedResponse(msgs[i].Content)
			return &pr, nil
		}
	}
	return nil, nil
}

// Finalize implements core.Agent. Without a post-processor the message text
// is the result.
func (a *BasicAgent) Finalize(pr core.ProposedResponse) (any, error) {
	if a.postProcess == nil {
		return pr.Message, nil
	}
	return a.postProcess(pr)
}

// Run implements core.Agent.
func (a *BasicAgent) Run(ctx context.Context, message string) (result any, err error) {
	start := time.Now()
	defer func() { a.metrics.TurnFinished(a.name, time.Since(start), err) }()

	pr, err := a.Send(ctx, message)
	if err != nil {
		return nil, err
	}

	return a.Finalize(pr)
}
