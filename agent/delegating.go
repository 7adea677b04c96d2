package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/personamesh/core"
	"github.com/hupe1980/personamesh/delegation"
	"github.com/hupe1980/personamesh/logging"
	"github.com/hupe1980/personamesh/metrics"
)

// ErrMaxSteps is returned when a turn does not finalize within the step limit.
var ErrMaxSteps = errors.New("turn exceeded step limit")

// Finalizer converts a delegating agent's final proposal into its result.
type Finalizer func(pr core.ProposedResponse) (any, error)

// DelegatingAgentOptions configures a DelegatingAgent.
type DelegatingAgentOptions struct {
	Info      *core.AgentInfo
	Finalizer Finalizer
	// MaxSteps bounds the process calls Run makes for one turn.
	MaxSteps int
	Logger   logging.Logger
	Metrics  metrics.Recorder
}

// DelegatingAgent routes every message through a Delegator and the
// sub-agents it holds. Its name is the delegator's root name.
type DelegatingAgent struct {
	delegator delegation.Delegator
	info      *core.AgentInfo
	finalizer Finalizer
	maxSteps  int
	logger    logging.Logger
	metrics   metrics.Recorder
}

var (
	_ core.Agent     = (*DelegatingAgent)(nil)
	_ core.Parent    = (*DelegatingAgent)(nil)
	_ core.Describer = (*DelegatingAgent)(nil)
)

// NewDelegatingAgent wraps d. Defaults: 50 steps per turn, message text as
// the final result.
func NewDelegatingAgent(d delegation.Delegator, optFns ...func(o *DelegatingAgentOptions)) (*DelegatingAgent, error) {
	if d == nil {
		return nil, errors.New("delegating agent: delegator is required")
	}

	opts := DelegatingAgentOptions{
		MaxSteps: 50,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxSteps < 1 {
		return nil, fmt.Errorf("delegating agent %q: max steps must be positive", d.Name())
	}

	return &DelegatingAgent{
		delegator: d,
		info:      opts.Info,
		finalizer: opts.Finalizer,
		maxSteps:  opts.MaxSteps,
		logger:    logging.OrNoOp(opts.Logger),
		metrics:   metrics.OrNoOp(opts.Metrics),
	}, nil
}

// Name implements core.Agent.
func (a *DelegatingAgent) Name() string { return a.delegator.Name() }

// Kind implements core.Agent.
func (a *DelegatingAgent) Kind() core.Kind { return core.KindDelegating }

// Info implements core.Describer.
func (a *DelegatingAgent) Info() (core.AgentInfo, bool) {
	if a.info == nil {
		return core.AgentInfo{}, false
	}
	return *a.info, true
}

// Delegator returns the underlying state machine.
func (a *DelegatingAgent) Delegator() delegation.Delegator { return a.delegator }

// Send implements core.Agent.
func (a *DelegatingAgent) Send(ctx context.Context, message string) (core.ProposedResponse, error) {
	return a.delegator.SendMessage(ctx, message)
}

// Process advances the open turn by one step.
func (a *DelegatingAgent) Process(ctx context.Context, pr core.ProposedResponse) (core.ProposedResponse, error) {
	return a.delegator.ProcessProposedResponse(ctx, pr)
}

// InProcessingLoop reports whether a turn is open.
func (a *DelegatingAgent) InProcessingLoop() bool { return a.delegator.InProcessingLoop() }

// Subagent implements core.Parent.
func (a *DelegatingAgent) Subagent(name string) (core.Agent, error) {
	return a.delegator.Subagent(name)
}

// History implements core.Agent.
func (a *DelegatingAgent) History() *core.History { return a.delegator.History() }

// SetHistory implements core.Agent.
func (a *DelegatingAgent) SetHistory(h *core.History) error { return a.delegator.SetHistory(h) }

// Resume restores the agent from a snapshot and reports what was recovered.
func (a *DelegatingAgent) Resume(h *core.History) (delegation.Resumption, error) {
	return a.delegator.Resume(h)
}

// LastAssistantResponse implements core.Agent.
func (a *DelegatingAgent) LastAssistantResponse() (*core.ProposedResponse, error) {
	return a.delegator.LastAssistantResponse()
}

// Finalize implements core.Agent.
func (a *DelegatingAgent) Finalize(pr core.ProposedResponse) (any, error) {
	if a.finalizer == nil {
		return pr.Message, nil
	}
	return a.finalizer(pr)
}

// Run implements core.Agent. It sends message and processes proposals until
// the turn finalizes.
func (a *DelegatingAgent) Run(ctx context.Context, message string) (result any, err error) {
	start := time.Now()
	defer func() { a.metrics.TurnFinished(a.Name(), time.Since(start), err) }()

	pr, err := a.Send(ctx, message)
	if err != nil {
		return nil, err
	}

	pr, err = a.Drive(ctx, pr)
	if err != nil {
		return nil, err
	}

	return a.Finalize(pr)
}

// Drive processes pr and its successors until the open turn finalizes,
// returning the final proposal.
func (a *DelegatingAgent) Drive(ctx context.Context, pr core.ProposedResponse) (core.ProposedResponse, error) {
	limiter := core.NewStepLimiter(a.maxSteps)

	for a.delegator.InProcessingLoop() {
		if err := limiter.Increment(); err != nil {
			return core.ProposedResponse{}, fmt.Errorf("%w: %s: %v", ErrMaxSteps, a.Name(), err)
		}

		if err := ctx.Err(); err != nil {
			return core.ProposedResponse{}, err
		}

		next, err := a.delegator.ProcessProposedResponse(ctx, pr)
		if err != nil {
			return core.ProposedResponse{}, err
		}

		if d := a.delegator.CurrentDelegate(); d != nil {
			if pl, ok := a.logger.(*logging.PersonaLogger); ok {
				pl.LogDelegation(a.Name(), d.Name(), limiter.Count())
			} else {
				a.logger.Debug("Step", "agent", a.Name(), "step", limiter.Count(), "delegate", d.Name())
			}
		}

		pr = next
	}

	return pr, nil
}
