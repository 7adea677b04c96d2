package personamesh

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/personamesh/codec"
	"github.com/hupe1980/personamesh/config"
	"github.com/hupe1980/personamesh/core"
	"github.com/hupe1980/personamesh/internal/testutil"
	"github.com/hupe1980/personamesh/logging"
	"github.com/hupe1980/personamesh/model"
	openaimodel "github.com/hupe1980/personamesh/model/openai"
	"github.com/hupe1980/personamesh/protocol"
	"github.com/hupe1980/personamesh/session"
)

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
model: {provider: scripted}
messenger: {initial_delay: 0s}
persona:
  name: poet
  mode: %s
  coordinator:
    prompt:
      - role: system
        content: "Choose a persona.\n{{.agents}}\n{{.response_format}}"
  subagents:
    - name: writer
      description: Writes poems.
      prompt: [{role: system, content: "You write poems."}]
    - name: critic
      description: Reviews poems.
      prompt: [{role: system, content: "You review poems."}]
`, mode)))
	require.NoError(t, err)

	return cfg
}

func scripted(models map[string]*model.ScriptedModel) ModelFactory {
	return func(persona string, _ config.ModelConfig) (model.Model, error) {
		if m, ok := models[persona]; ok {
			return m, nil
		}
		return model.NewScriptedModel(), nil
	}
}

func reply(message, recipient string) string {
	pr := core.NewProposedResponse(message)
	if recipient != "" {
		pr.Recipient = &recipient
	}
	return protocol.Format(pr)
}

func newTestMesh(t *testing.T, cfg *config.Config, clk *testutil.TickingClock, store core.SessionStore, models map[string]*model.ScriptedModel) *Mesh {
	t.Helper()

	m, err := New(cfg, func(o *Options) {
		o.Logger = logging.NoOpLogger{}
		o.Clock = clk.Now
		o.SessionStore = store
		o.ModelFactory = scripted(models)
	})
	require.NoError(t, err)

	return m
}

func TestMesh_RunTurn(t *testing.T) {
	clk := testutil.NewTickingClock()
	coordinator := model.NewScriptedModel(
		reply("Write a poem about the sea.", "writer"),
		reply("Here it is: Waves.", ""),
	)

	m := newTestMesh(t, testConfig(t, config.ModeAgent), clk, session.NewInMemoryStore(), map[string]*model.ScriptedModel{
		CoordinatorName: coordinator,
		"writer":        model.NewScriptedModel("Waves."),
	})

	out, err := m.RunTurn(context.Background(), "A sea poem, please.")
	require.NoError(t, err)
	assert.Equal(t, "Here it is: Waves.", out)
	assert.False(t, m.InTurn())

	// The coordinator prompt lists the sub-personas and the response format.
	system := coordinator.Requests()[0].Messages[0]
	assert.Equal(t, core.RoleSystem, system.Role)
	assert.Contains(t, system.Content, `"name": "writer"`)
	assert.Contains(t, system.Content, `"description": "Reviews poems."`)
	assert.Contains(t, system.Content, "Recipient")

	transcript := m.Transcript()
	assert.Contains(t, transcript, "[user] poet @ ")
	assert.Contains(t, transcript, "[assistant] poet > writer @ ")
	assert.Contains(t, transcript, "Waves.\n")
}

func TestMesh_StepByStep(t *testing.T) {
	clk := testutil.NewTickingClock()
	m := newTestMesh(t, testConfig(t, config.ModeAgent), clk, session.NewInMemoryStore(), map[string]*model.ScriptedModel{
		CoordinatorName: model.NewScriptedModel(reply("Review this.", "critic"), reply("Looks good.", "")),
		"critic":        model.NewScriptedModel("Fine."),
	})

	ctx := context.Background()

	pr, err := m.Send(ctx, "Check my poem.")
	require.NoError(t, err)
	assert.Equal(t, "critic", pr.RecipientName())
	assert.True(t, m.InTurn())

	pr, err = m.Step(ctx, pr)
	require.NoError(t, err)
	assert.Equal(t, "Fine.", pr.Message)
	assert.Equal(t, "critic", m.Root().Delegator().CurrentDelegate().Name())

	pr, err = m.Step(ctx, pr)
	require.NoError(t, err)
	assert.Equal(t, "Looks good.", pr.Message)
	assert.False(t, m.InTurn())
}

func TestMesh_SaveResumeContinue(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewTickingClock()
	store := session.NewInMemoryStore()
	cfg := testConfig(t, config.ModeAgent)

	first := newTestMesh(t, cfg, clk, store, map[string]*model.ScriptedModel{
		CoordinatorName: model.NewScriptedModel(reply("Write a poem.", "writer")),
		"writer":        model.NewScriptedModel("Roses are red."),
	})

	pr, err := first.Send(ctx, "poem")
	require.NoError(t, err)
	_, err = first.Step(ctx, pr)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx))

	coordinator := model.NewScriptedModel(reply("Roses are red.", ""))
	second := newTestMesh(t, cfg, clk, store, map[string]*model.ScriptedModel{
		CoordinatorName: coordinator,
	})

	res, err := second.Resume(ctx, first.SessionID())
	require.NoError(t, err)
	assert.True(t, res.InTurn())
	assert.Equal(t, "writer", res.Delegate)
	assert.Nil(t, res.Discarded)
	assert.Equal(t, first.SessionID(), second.SessionID())

	out, err := second.Continue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Roses are red.", out)
	assert.False(t, second.InTurn())

	reqs := coordinator.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 4)
	assert.Equal(t, "The response from writer was:\n\nRoses are red.", reqs[0].Messages[3].Content)

	final := second.Root().History().FinalMessages
	require.Len(t, final, 2)
	assert.Equal(t, "poem", final[0].Content)
}

func TestMesh_ResumeResendsDiscardedInbound(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewTickingClock()
	store := session.NewInMemoryStore()

	snapshot := testutil.NewHistoryBuilder(clk).User("q").Final().
		Sub("writer", testutil.NewHistoryBuilder(clk).User("q").Build()).
		Build()

	data, err := codec.Encode(snapshot)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "s1", data))

	m := newTestMesh(t, testConfig(t, config.ModeLinear), clk, store, map[string]*model.ScriptedModel{
		"writer": model.NewScriptedModel("draft"),
		"critic": model.NewScriptedModel("review"),
	})

	res, err := m.Resume(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, res.InTurn())
	require.NotNil(t, res.Discarded)
	assert.Equal(t, "q", res.Discarded.Content)
	assert.Equal(t, []string{"poet"}, res.DiscardedStack)

	out, err := m.Continue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "review", out)

	final := m.Root().History().FinalMessages
	require.Len(t, final, 2)
	assert.Equal(t, "q", final[0].Content)
	assert.Equal(t, "review", final[1].Content)

	_, err = m.Continue(ctx)
	assert.ErrorIs(t, err, ErrNothingToContinue)
}

func TestMesh_ResumeFailuresLeaveStateUntouched(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewTickingClock()
	store := session.NewInMemoryStore()

	m := newTestMesh(t, testConfig(t, config.ModeLinear), clk, store, map[string]*model.ScriptedModel{
		"writer": model.NewScriptedModel("draft"),
		"critic": model.NewScriptedModel("review"),
	})

	_, err := m.RunTurn(ctx, "q")
	require.NoError(t, err)
	before := m.Root().History()
	sid := m.SessionID()

	_, err = m.Resume(ctx, "missing")
	require.ErrorIs(t, err, core.ErrSessionNotFound)

	require.NoError(t, store.Save(ctx, "corrupt", []byte(`{"messages":[{"role":"robot","content":"x","timestamp":"2024-01-01 00:00:00.000000+00:00"}]}`)))
	_, err = m.Resume(ctx, "corrupt")
	require.ErrorIs(t, err, core.ErrCorruptRecord)

	unknown, err := codec.Encode(testutil.NewHistoryBuilder(clk).User("q").Sub("painter", core.NewHistory()).Build())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "unknown", unknown))
	_, err = m.Resume(ctx, "unknown")
	require.ErrorIs(t, err, core.ErrUnknownDelegate)

	assert.Equal(t, before, m.Root().History())
	assert.Equal(t, sid, m.SessionID())
}

func TestMesh_SaveUsesCodec(t *testing.T) {
	ctx := context.Background()
	clk := testutil.NewTickingClock()
	store := session.NewInMemoryStore()

	m := newTestMesh(t, testConfig(t, config.ModeLinear), clk, store, map[string]*model.ScriptedModel{
		"writer": model.NewScriptedModel("draft"),
		"critic": model.NewScriptedModel("review"),
	})

	_, err := m.RunTurn(ctx, "q")
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx))

	data, err := store.Load(ctx, m.SessionID())
	require.NoError(t, err)

	h, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m.Root().History(), h)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	cfg := testConfig(t, config.ModeAgent)
	cfg.Persona.Mode = "tree"

	_, err = New(cfg, func(o *Options) { o.Logger = logging.NoOpLogger{} })
	require.ErrorContains(t, err, "persona.mode")
}

func TestNew_MetricsHandler(t *testing.T) {
	cfg := testConfig(t, config.ModeLinear)
	cfg.Metrics.Enabled = true

	m, err := New(cfg, func(o *Options) {
		o.Logger = logging.NoOpLogger{}
		o.ModelFactory = scripted(map[string]*model.ScriptedModel{
			"writer": model.NewScriptedModel("a"),
			"critic": model.NewScriptedModel("b"),
		})
	})
	require.NoError(t, err)

	_, err = m.RunTurn(context.Background(), "go")
	require.NoError(t, err)

	h := m.MetricsHandler()
	require.NotNil(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "personas_turns_total")

	plain := NewFromAgent(m.Root())
	assert.Nil(t, plain.MetricsHandler())
}

func TestNewModel(t *testing.T) {
	m, err := NewModel("x", config.ModelConfig{Provider: config.ProviderOpenAI, Name: "gpt-4o", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &openaimodel.Model{}, m)

	m, err = NewModel("x", config.ModelConfig{Provider: config.ProviderScripted, Replies: []string{"hi"}})
	require.NoError(t, err)
	assert.Equal(t, 1, m.(*model.ScriptedModel).Remaining())

	_, err = NewModel("x", config.ModelConfig{Provider: "llamafile"})
	assert.Error(t, err)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(context.Background(), config.StoreConfig{Driver: config.StoreMemory})
	require.NoError(t, err)
	assert.IsType(t, &session.InMemoryStore{}, s)

	_, err = NewStore(context.Background(), config.StoreConfig{Driver: "etcd"})
	assert.Error(t, err)
}

type closingStore struct {
	*session.InMemoryStore
	closed bool
}

func (s *closingStore) Close() error {
	s.closed = true
	return nil
}

func TestNew_BuildFailureClosesOpenedStore(t *testing.T) {
	store := &closingStore{InMemoryStore: session.NewInMemoryStore()}

	orig := openStore
	openStore = func(context.Context, config.StoreConfig) (core.SessionStore, error) { return store, nil }
	t.Cleanup(func() { openStore = orig })

	failing := func(string, config.ModelConfig) (model.Model, error) {
		return nil, fmt.Errorf("no credentials")
	}

	_, err := New(testConfig(t, config.ModeAgent), func(o *Options) { o.ModelFactory = failing })
	require.ErrorContains(t, err, "no credentials")
	assert.True(t, store.closed)
}

func TestNew_BuildFailureKeepsCallerStore(t *testing.T) {
	store := &closingStore{InMemoryStore: session.NewInMemoryStore()}

	failing := func(string, config.ModelConfig) (model.Model, error) {
		return nil, fmt.Errorf("no credentials")
	}

	_, err := New(testConfig(t, config.ModeAgent), func(o *Options) {
		o.SessionStore = store
		o.ModelFactory = failing
	})
	require.Error(t, err)
	assert.False(t, store.closed)
}
