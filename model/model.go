package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/personamesh/core"
)

// ErrTransient marks a completion failure worth retrying (rate limiting,
// server errors, dropped connections). Adapters wrap provider errors with it.
var ErrTransient = errors.New("transient completion failure")

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err is retryable. Context cancellation never is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

// Request captures the ordered prompt sent to the completion service.
type Request struct {
	Messages []core.Message `json:"messages"`
	Stream   bool           `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. Partial chunks
// carry incremental text; the final response carries the full text.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Model is the completion service consumed by messengers.
//
// Generate returns a response channel and an error channel; both are closed
// when generation ends. Streaming implementations emit partial chunks
// followed by one final response.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Reply is one scripted outcome: either a completion text or an error.
type Reply struct {
	Text string
	Err  error
}

// ScriptedModel is an in-memory Model returning canned replies in order.
// It records every request it receives. Useful for tests and examples.
type ScriptedModel struct {
	mu       sync.Mutex
	info     Info
	replies  []Reply
	requests []Request
	fallback func(req Request) string
}

// NewScriptedModel constructs a ScriptedModel answering with texts in order.
func NewScriptedModel(texts ...string) *ScriptedModel {
	m := &ScriptedModel{info: Info{Name: "scripted", Provider: "scripted"}}
	m.Add(texts...)
	return m
}

// Add appends successful replies.
func (m *ScriptedModel) Add(texts ...string) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range texts {
		m.replies = append(m.replies, Reply{Text: t})
	}

	return m
}

// Fail appends a failing reply.
func (m *ScriptedModel) Fail(err error) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replies = append(m.replies, Reply{Err: err})

	return m
}

// Fallback sets a function producing replies once the script is exhausted.
// Without a fallback an exhausted script fails.
func (m *ScriptedModel) Fallback(fn func(req Request) string) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fallback = fn

	return m
}

// Requests returns a copy of the received requests.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, len(m.requests))
	copy(out, m.requests)

	return out
}

// Remaining returns the number of unconsumed scripted replies.
func (m *ScriptedModel) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.replies)
}

func (m *ScriptedModel) next(req Request) Reply {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]core.Message, len(req.Messages))
	copy(msgs, req.Messages)
	m.requests = append(m.requests, Request{Messages: msgs, Stream: req.Stream})

	if len(m.replies) == 0 {
		if m.fallback != nil {
			return Reply{Text: m.fallback(req)}
		}
		return Reply{Err: errors.New("scripted model: no replies left")}
	}

	r := m.replies[0]
	m.replies = m.replies[1:]

	return r
}

// Generate implements Model; streams word chunks when requested, then the full reply.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		reply := m.next(req)
		if reply.Err != nil {
			errCh <- reply.Err
			return
		}

		if req.Stream {
			for _, chunk := range strings.SplitAfter(reply.Text, " ") {
				if chunk == "" {
					continue
				}
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: chunk}:
				}
			}
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Text: reply.Text, FinishReason: "stop"}:
		}
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }
