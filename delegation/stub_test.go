package delegation

import (
	"context"
	"errors"

	"github.com/hupe1980/personamesh/core"
	"github.com/hupe1980/personamesh/internal/testutil"
)

// stubAgent is a basic agent answering from a script.
type stubAgent struct {
	name     string
	clock    *testutil.TickingClock
	replies  []string
	failNext error
	messages []core.Message
	received []string
}

func newStub(name string, clock *testutil.TickingClock, replies ...string) *stubAgent {
	return &stubAgent{name: name, clock: clock, replies: replies}
}

func (s *stubAgent) Name() string    { return s.name }
func (s *stubAgent) Kind() core.Kind { return core.KindBasic }

func (s *stubAgent) Send(_ context.Context, message string) (core.ProposedResponse, error) {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return core.ProposedResponse{}, err
	}

	if len(s.replies) == 0 {
		return core.ProposedResponse{}, errors.New(s.name + ": script exhausted")
	}

	s.received = append(s.received, message)
	s.messages = append(s.messages, core.NewUserMessage(message, s.clock.Now()))

	reply := s.replies[0]
	s.replies = s.replies[1:]
	s.messages = append(s.messages, core.NewAssistantMessage(reply, s.clock.Now()))

	return core.NewProposedResponse(reply), nil
}

func (s *stubAgent) History() *core.History {
	h := core.NewHistory()
	h.Messages = append(h.Messages, s.messages...)
	h.FinalMessages = append(h.FinalMessages, s.messages...)
	return h
}

func (s *stubAgent) SetHistory(h *core.History) error {
	if len(h.Subhistories) > 0 {
		return errors.New("stub has no sub-agents")
	}
	s.messages = append([]core.Message{}, h.Messages...)
	return nil
}

func (s *stubAgent) LastAssistantResponse() (*core.ProposedResponse, error) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].IsAssistant() {
			pr := core.NewProposedResponse(s.messages[i].Content)
			return &pr, nil
		}
	}
	return nil, nil
}

func (s *stubAgent) Finalize(pr core.ProposedResponse) (any, error) { return pr.Message, nil }

func (s *stubAgent) Run(ctx context.Context, message string) (any, error) {
	pr, err := s.Send(ctx, message)
	if err != nil {
		return nil, err
	}
	return s.Finalize(pr)
}

// describedStub adds LLM-facing info.
type describedStub struct {
	*stubAgent
	info core.AgentInfo
}

func (d describedStub) Info() (core.AgentInfo, bool) { return d.info, true }

// wire renders a coordinator completion in the three-block format.
func wire(reasoning, message, recipient string) string {
	block := func(header, value string) string {
		if value == "" {
			value = "null"
		}
		return "## " + header + "\n```\n" + value + "\n```\n"
	}
	return block("Reasoning", reasoning) + "\n" + block("Message", message) + "\n" + block("Recipient", recipient)
}
