package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/personamesh/core"
	"github.com/hupe1980/personamesh/logging"
	"github.com/hupe1980/personamesh/metrics"
	"github.com/hupe1980/personamesh/model"
)

// MessengerOptions configures a Messenger.
//
// Use functional options with NewMessenger to override defaults.
type MessengerOptions struct {
	// RetryCount is the total number of completion attempts per message.
	RetryCount int
	// InitialDelay is the backoff unit; attempt n waits n × InitialDelay.
	InitialDelay time.Duration
	// ResendHistory sends the whole exchange with every request. When false
	// only the prompt and the new message are sent.
	ResendHistory bool
	Stream        bool
	// OnChunk receives streamed text as it arrives.
	OnChunk func(chunk string)
	Clock   core.Clock
	Logger  logging.Logger
	Metrics metrics.Recorder
}

// Messenger owns one persona's exchange with the completion service: the
// rendered prompt plus the user/assistant history it appends to.
// All exported methods are goroutine-safe.
type Messenger struct {
	mu      sync.Mutex
	llm     model.Model
	prompt  []core.Message
	history []core.Message

	retryCount    int
	initialDelay  time.Duration
	resendHistory bool
	stream        bool
	onChunk       func(chunk string)
	clock         core.Clock
	logger        logging.Logger
	metrics       metrics.Recorder
}

// NewMessenger renders the prompt once and returns a messenger with an
// empty history.
//
// Defaults: 5 attempts, 750ms backoff unit, history resent, no streaming.
func NewMessenger(llm model.Model, prompt PromptTemplate, optFns ...func(o *MessengerOptions)) (*Messenger, error) {
	if llm == nil {
		return nil, errors.New("messenger: model is required")
	}

	opts := MessengerOptions{
		RetryCount:    5,
		InitialDelay:  750 * time.Millisecond,
		ResendHistory: true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.RetryCount < 1 {
		opts.RetryCount = 1
	}

	rendered, err := prompt.Render(opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("messenger: %w", err)
	}

	return &Messenger{
		llm:           llm,
		prompt:        rendered,
		history:       []core.Message{},
		retryCount:    opts.RetryCount,
		initialDelay:  opts.InitialDelay,
		resendHistory: opts.ResendHistory,
		stream:        opts.Stream,
		onChunk:       opts.OnChunk,
		clock:         opts.Clock,
		logger:        logging.OrNoOp(opts.Logger),
		metrics:       metrics.OrNoOp(opts.Metrics),
	}, nil
}

// Send appends text as a user message, asks the model for a reply and
// appends it. On failure the history is left as it was.
func (m *Messenger) Send(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user := core.NewUserMessage(text, m.clock.Now())
	m.history = append(m.history, user)

	req := model.Request{Stream: m.stream}
	req.Messages = append(req.Messages, m.prompt...)
	if m.resendHistory {
		req.Messages = append(req.Messages, m.history...)
	} else {
		req.Messages = append(req.Messages, user)
	}

	reply, err := m.completeWithRetry(ctx, req)
	if err != nil {
		m.history = m.history[:len(m.history)-1]
		return "", err
	}

	m.history = append(m.history, core.NewAssistantMessage(reply, m.clock.Now()))

	return reply, nil
}

func (m *Messenger) completeWithRetry(ctx context.Context, req model.Request) (string, error) {
	info := m.llm.Info()
	requestID := uuid.NewString()

	var lastErr error

	for attempt := 1; attempt <= m.retryCount; attempt++ {
		start := time.Now()
		text, err := m.complete(ctx, req)
		dur := time.Since(start)

		if err == nil {
			m.metrics.CompletionAttempt(info.Name, metrics.OutcomeOK, dur)
			m.logAttempt(info.Name, requestID, attempt, dur, nil)

			return text, nil
		}

		lastErr = err

		if !model.IsTransient(err) {
			m.metrics.CompletionAttempt(info.Name, metrics.OutcomeError, dur)
			m.logAttempt(info.Name, requestID, attempt, dur, err)

			return "", err
		}

		m.metrics.CompletionAttempt(info.Name, metrics.OutcomeTransient, dur)

		if attempt == m.retryCount {
			break
		}

		delay := time.Duration(attempt) * m.initialDelay
		m.logger.Warn("Completion failed, retrying", "model", info.Name, "request", requestID, "attempt", attempt, "delay", delay, "error", err)

		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("completion failed after %d attempts: %w", m.retryCount, lastErr)
}

func (m *Messenger) logAttempt(modelName, requestID string, attempt int, dur time.Duration, err error) {
	if pl, ok := m.logger.(*logging.PersonaLogger); ok {
		pl.WithContext("request", requestID).LogCompletion(modelName, attempt, dur, err)
		return
	}

	if err != nil {
		m.logger.Error("Completion failed", "model", modelName, "request", requestID, "attempt", attempt, "error", err)
		return
	}

	m.logger.Debug("Completion finished", "model", modelName, "request", requestID, "attempt", attempt, "duration", dur)
}

// complete runs one Generate call. The final response text wins; a stream
// that ends without one yields the concatenated partial chunks.
func (m *Messenger) complete(ctx context.Context, req model.Request) (string, error) {
	respCh, errCh := m.llm.Generate(ctx, req)

	var (
		sb    strings.Builder
		final *string
	)

	for resp := range respCh {
		if resp.Partial {
			sb.WriteString(resp.Text)
			if m.onChunk != nil {
				m.onChunk(resp.Text)
			}
			continue
		}

		text := resp.Text
		final = &text
	}

	if err := <-errCh; err != nil {
		return "", err
	}

	if final != nil && *final != "" {
		return *final, nil
	}

	return sb.String(), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Prompt returns a copy of the rendered prompt messages.
func (m *Messenger) Prompt() []core.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Message(nil), m.prompt...)
}

// History returns a copy of the exchanged messages, prompt excluded.
func (m *Messenger) History() []core.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Message{}, m.history...)
}

// SetHistory replaces the exchanged messages.
func (m *Messenger) SetHistory(msgs []core.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]core.Message{}, msgs...)
}

// ModelInfo describes the underlying model.
func (m *Messenger) ModelInfo() model.Info { return m.llm.Info() }
