package personamesh

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/personamesh/agent"
	"github.com/hupe1980/personamesh/config"
	"github.com/hupe1980/personamesh/core"
	"github.com/hupe1980/personamesh/delegation"
	"github.com/hupe1980/personamesh/model"
	anthropicmodel "github.com/hupe1980/personamesh/model/anthropic"
	openaimodel "github.com/hupe1980/personamesh/model/openai"
	"github.com/hupe1980/personamesh/session"
	"github.com/hupe1980/personamesh/session/redis"
	"github.com/hupe1980/personamesh/session/sqlite"
)

// CoordinatorName is the name of the coordinator persona built for the
// agent delegation mode.
const CoordinatorName = "coordinator"

// ModelFactory builds the completion service of one persona.
type ModelFactory func(persona string, cfg config.ModelConfig) (model.Model, error)

// NewModel builds a completion service from a model config section.
func NewModel(_ string, cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			o.Model = cfg.Name
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			if cfg.Temperature != nil {
				o.Temperature = *cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(cfg.MaxTokens)
			}
		}), nil
	case config.ProviderAnthropic:
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			o.Model = anthropic.Model(cfg.Name)
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			if cfg.Temperature != nil {
				o.Temperature = *cfg.Temperature
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = int64(cfg.MaxTokens)
			}
		}), nil
	case config.ProviderScripted:
		return model.NewScriptedModel(cfg.Replies...), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// NewStore opens the snapshot store selected by cfg.
func NewStore(ctx context.Context, cfg config.StoreConfig) (core.SessionStore, error) {
	switch cfg.Driver {
	case "", config.StoreMemory:
		return session.NewInMemoryStore(), nil
	case config.StoreSQLite:
		return sqlite.Open(cfg.DSN)
	case config.StoreRedis:
		return redis.NewStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// builder assembles the persona graph described by a config.
type builder struct {
	cfg  *config.Config
	opts *Options
}

func (b *builder) build() (*agent.DelegatingAgent, error) {
	p := b.cfg.Persona

	subs := make([]core.Agent, 0, len(p.Subagents))
	for _, sc := range p.Subagents {
		info := &core.AgentInfo{Description: sc.Description, ExampleMessages: sc.ExampleMessages}

		a, err := b.basic(sc.Name, sc.Model, promptOf(sc.Prompt, sc.Vars), info)
		if err != nil {
			return nil, err
		}
		subs = append(subs, a)
	}

	var (
		d   delegation.Delegator
		err error
	)

	switch p.Mode {
	case config.ModeLinear:
		d, err = delegation.NewLinearDelegator(p.Name, subs, func(o *delegation.LinearDelegatorOptions) {
			o.Logger = b.opts.Logger
			o.Metrics = b.opts.Metrics
			o.Clock = b.opts.Clock
			o.Builder = b.opts.MessageBuilder
		})
	default:
		d, err = b.agentDelegator(subs)
	}

	if err != nil {
		return nil, err
	}

	return agent.NewDelegatingAgent(d, func(o *agent.DelegatingAgentOptions) {
		o.MaxSteps = p.MaxSteps
		o.Logger = b.opts.Logger
		o.Metrics = b.opts.Metrics
	})
}

func (b *builder) agentDelegator(subs []core.Agent) (delegation.Delegator, error) {
	p := b.cfg.Persona

	registry, err := delegation.NewRegistry(subs...)
	if err != nil {
		return nil, err
	}

	described, err := registry.Describe()
	if err != nil {
		return nil, err
	}

	prompt := promptOf(p.Coordinator.Prompt, p.Coordinator.Vars)
	for k, v := range agent.CoordinatorVars(described) {
		if _, ok := prompt.Vars[k]; !ok {
			prompt = prompt.With(k, v)
		}
	}

	coordinator, err := b.basic(CoordinatorName, p.Coordinator.Model, prompt, nil)
	if err != nil {
		return nil, err
	}

	return delegation.NewAgentDelegator(p.Name, coordinator, registry, func(o *delegation.AgentDelegatorOptions) {
		o.Logger = b.opts.Logger
		o.Metrics = b.opts.Metrics
		o.Clock = b.opts.Clock
		o.ReportFormat = p.ReportFormat
	})
}

func (b *builder) basic(name string, override *config.ModelConfig, prompt agent.PromptTemplate, info *core.AgentInfo) (*agent.BasicAgent, error) {
	llm, err := b.opts.ModelFactory(name, b.cfg.ModelFor(override))
	if err != nil {
		return nil, fmt.Errorf("persona %q: %w", name, err)
	}

	mc := b.cfg.Messenger

	messenger, err := agent.NewMessenger(llm, prompt, func(o *agent.MessengerOptions) {
		o.RetryCount = mc.RetryCount
		o.InitialDelay = mc.InitialDelay
		o.ResendHistory = mc.ResendHistory == nil || *mc.ResendHistory
		o.Stream = mc.Stream
		o.Clock = b.opts.Clock
		o.Logger = b.opts.Logger
		o.Metrics = b.opts.Metrics
		if b.opts.OnChunk != nil {
			o.OnChunk = func(chunk string) { b.opts.OnChunk(name, chunk) }
		}
	})
	if err != nil {
		return nil, fmt.Errorf("persona %q: %w", name, err)
	}

	return agent.NewBasicAgent(name, messenger, func(o *agent.BasicAgentOptions) {
		o.Info = info
		o.Logger = b.opts.Logger
		o.Metrics = b.opts.Metrics
	})
}

func promptOf(msgs []config.PromptMessage, vars map[string]any) agent.PromptTemplate {
	t := agent.PromptTemplate{Vars: map[string]any{}}
	for k, v := range vars {
		t.Vars[k] = v
	}
	for _, m := range msgs {
		t.Messages = append(t.Messages, agent.PromptMessage{Role: core.Role(m.Role), Content: m.Content})
	}
	return t
}

func sessionStoreDefault() core.SessionStore { return session.NewInMemoryStore() }
