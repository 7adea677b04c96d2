package delegation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/personamesh/core"
)

func runPoemTurn(t *testing.T, f *agentFixture) {
	t.Helper()

	ctx := context.Background()
	d := f.delegator

	pr, err := d.SendMessage(ctx, "hi")
	require.NoError(t, err)

	for d.InProcessingLoop() {
		pr, err = d.ProcessProposedResponse(ctx, pr)
		require.NoError(t, err)
	}
}

func poemScript() ([]string, []string) {
	return []string{
			wire("poems are the writer's job", "Write a poem.", "writer"),
			wire("", "A poem: gophers.", ""),
		},
		[]string{"gophers."}
}

func newPoemFixture(t *testing.T) *agentFixture {
	t.Helper()

	coordinatorReplies, writerReplies := poemScript()

	return newAgentFixture(t, coordinatorReplies, writerReplies)
}

func TestAgentResume_AfterFinalizedTurn(t *testing.T) {
	f := newPoemFixture(t)
	runPoemTurn(t, f)

	snap := f.delegator.History()

	restored := newAgentFixture(t, nil, nil)
	res, err := restored.delegator.Resume(snap)
	require.NoError(t, err)

	assert.Nil(t, res.Discarded)
	assert.Nil(t, res.Pending)
	assert.False(t, res.InTurn())
	assert.Empty(t, res.Delegate)

	d := restored.delegator
	assert.Nil(t, d.CurrentDelegate())
	assert.False(t, d.InProcessingLoop())
	assert.Equal(t, snap, d.History())

	pr, err := d.LastAssistantResponse()
	require.NoError(t, err)
	require.NotNil(t, pr)
	assert.Equal(t, "A poem: gophers.", pr.Message)
	assert.False(t, pr.HasRecipient())
}

func TestAgentResume_Idempotent(t *testing.T) {
	f := newPoemFixture(t)
	runPoemTurn(t, f)

	snap := f.delegator.History()

	restored := newAgentFixture(t, nil, nil)
	require.NoError(t, restored.delegator.SetHistory(snap))
	require.NoError(t, restored.delegator.SetHistory(restored.delegator.History()))

	assert.Equal(t, snap, restored.delegator.History())
}

func TestAgentResume_AfterProposal(t *testing.T) {
	ctx := context.Background()
	f := newPoemFixture(t)

	proposal, err := f.delegator.SendMessage(ctx, "hi")
	require.NoError(t, err)

	snap := f.delegator.History()

	coordinatorReplies, writerReplies := poemScript()
	restored := newAgentFixture(t, coordinatorReplies[1:], writerReplies)
	d := restored.delegator

	res, err := d.Resume(snap)
	require.NoError(t, err)
	assert.Nil(t, res.Discarded)
	require.NotNil(t, res.Pending)
	assert.Equal(t, "hi", *res.Pending)
	assert.Empty(t, res.Delegate)

	assert.True(t, d.InProcessingLoop())
	assert.Nil(t, d.CurrentDelegate())

	pr, err := d.LastAssistantResponse()
	require.NoError(t, err)
	require.NotNil(t, pr)
	assert.Equal(t, proposal, *pr)

	for d.InProcessingLoop() {
		next, err := d.ProcessProposedResponse(ctx, *pr)
		require.NoError(t, err)
		pr = &next
	}

	assert.Equal(t, "A poem: gophers.", pr.Message)
	assert.Len(t, d.History().FinalMessages, 2)
}

func TestAgentResume_AfterDelegateReplied(t *testing.T) {
	ctx := context.Background()
	f := newPoemFixture(t)

	pr, err := f.delegator.SendMessage(ctx, "hi")
	require.NoError(t, err)
	_, err = f.delegator.ProcessProposedResponse(ctx, pr)
	require.NoError(t, err)

	snap := f.delegator.History()

	restored := newAgentFixture(t, nil, nil)
	res, err := restored.delegator.Resume(snap)
	require.NoError(t, err)

	assert.Equal(t, "writer", res.Delegate)
	assert.Same(t, restored.writer, restored.delegator.CurrentDelegate())
	assert.True(t, restored.delegator.InProcessingLoop())

	last, err := restored.delegator.LastAssistantResponse()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "gophers.", last.Message)
}

func TestAgentResume_DiscardsUnansweredDelegatedMessage(t *testing.T) {
	ctx := context.Background()
	f := newPoemFixture(t)

	_, err := f.delegator.SendMessage(ctx, "hi")
	require.NoError(t, err)

	snap := f.delegator.History()
	unanswered := core.NewUserMessage("Write a poem.", f.clock.Now())
	snap.Subhistories["writer"] = &core.History{
		Messages:      []core.Message{unanswered},
		FinalMessages: []core.Message{unanswered},
		Subhistories:  map[string]*core.History{},
	}

	restored := newAgentFixture(t, nil, nil)
	d := restored.delegator

	res, err := d.Resume(snap)
	require.NoError(t, err)

	require.NotNil(t, res.Discarded)
	assert.Equal(t, unanswered, *res.Discarded)
	assert.Equal(t, []string{"root", "writer"}, res.DiscardedStack)

	// Same state as right after the inbound message was sent.
	assert.Nil(t, d.CurrentDelegate())
	pending, ok := d.PendingMessage()
	require.True(t, ok)
	assert.Equal(t, "hi", pending)
	assert.Empty(t, d.History().Subhistories["writer"].Messages)
}

func TestAgentResume_DiscardsUnansweredInboundMessage(t *testing.T) {
	f := newPoemFixture(t)
	runPoemTurn(t, f)

	snap := f.delegator.History()
	snap.FinalMessages = append(snap.FinalMessages, core.NewUserMessage("again", f.clock.Now()))
	snap.Messages = append(snap.Messages, core.NewUserMessage("again", f.clock.Now()))

	restored := newAgentFixture(t, nil, nil)
	d := restored.delegator

	res, err := d.Resume(snap)
	require.NoError(t, err)

	require.NotNil(t, res.Discarded)
	assert.Equal(t, "again", res.Discarded.Content)
	assert.Nil(t, res.Pending)
	assert.False(t, d.InProcessingLoop())
	assert.Nil(t, d.CurrentDelegate())

	h := d.History()
	assert.Len(t, h.FinalMessages, 2)
	assert.Equal(t, wire("", "A poem: gophers.", ""), h.Messages[len(h.Messages)-1].Content)
}

func TestAgentResume_RejectsUnknownSubhistory(t *testing.T) {
	f := newPoemFixture(t)
	runPoemTurn(t, f)
	before := f.delegator.History()

	snap := f.delegator.History()
	snap.Subhistories["ghost"] = core.NewHistory()

	_, err := f.delegator.Resume(snap)
	require.ErrorIs(t, err, core.ErrUnknownDelegate)
	assert.Equal(t, before, f.delegator.History())
}

func TestAgentResume_FailedInstallRestoresState(t *testing.T) {
	ctx := context.Background()
	f := newPoemFixture(t)

	pr, err := f.delegator.SendMessage(ctx, "hi")
	require.NoError(t, err)
	_, err = f.delegator.ProcessProposedResponse(ctx, pr)
	require.NoError(t, err)

	before := f.delegator.History()

	snap := core.NewHistory()
	snap.Subhistories["writer"] = &core.History{Subhistories: map[string]*core.History{"nested": core.NewHistory()}}

	_, err = f.delegator.Resume(snap)
	require.Error(t, err)

	assert.Equal(t, before, f.delegator.History())
	assert.Same(t, f.writer, f.delegator.CurrentDelegate())
	assert.True(t, f.delegator.InProcessingLoop())
}
