package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/personamesh/logging"
)

const sample = `
model:
  provider: anthropic
  name: claude-3-5-haiku-latest
  api_key: ${PERSONAS_TEST_KEY}
messenger:
  retry_count: 3
  initial_delay: 2s
log:
  level: debug
  format: json
store:
  driver: sqlite
  dsn: /tmp/personas.db
persona:
  name: poet
  mode: agent
  coordinator:
    prompt:
      - role: system
        content: "You coordinate.\n{{.agents}}"
  subagents:
    - name: writer
      description: Writes poems.
      example_messages: ["A haiku about rain."]
      prompt:
        - role: system
          content: "You write poems in a {{.style}} style."
      vars:
        style: playful
      model:
        provider: openai
        name: gpt-4o
`

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	got, err := FindConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/personas.yaml")
	assert.Error(t, err)
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "personas.yaml"), []byte(sample), 0o600))

	t.Chdir(dir)

	got, err := FindConfig("")
	require.NoError(t, err)
	assert.Equal(t, "personas.yaml", got)
}

func TestLoad(t *testing.T) {
	t.Setenv("PERSONAS_TEST_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.Model.Provider)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, 3, cfg.Messenger.RetryCount)
	assert.Equal(t, 2*time.Second, cfg.Messenger.InitialDelay)
	require.NotNil(t, cfg.Messenger.ResendHistory)
	assert.True(t, *cfg.Messenger.ResendHistory)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, 50, cfg.Persona.MaxSteps)

	require.Len(t, cfg.Persona.Subagents, 1)
	writer := cfg.Persona.Subagents[0]
	assert.Equal(t, "playful", writer.Vars["style"])
	assert.Equal(t, []string{"A haiku about rain."}, writer.ExampleMessages)

	m := cfg.ModelFor(writer.Model)
	assert.Equal(t, ProviderOpenAI, m.Provider)
	assert.Equal(t, "gpt-4o", m.Name)
	assert.Equal(t, "sk-test", m.APIKey)

	assert.Equal(t, cfg.Model, cfg.ModelFor(nil))
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
model:
  provider: scripted
persona:
  name: pipeline
  mode: linear
  subagents:
    - name: a
      prompt: [{role: system, content: "A"}]
`))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Messenger.RetryCount)
	assert.Equal(t, 750*time.Millisecond, cfg.Messenger.InitialDelay)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParse_ResendHistoryFalse(t *testing.T) {
	cfg, err := Parse([]byte(`
model: {provider: scripted}
messenger: {resend_history: false}
persona:
  name: p
  mode: linear
  subagents: [{name: a, prompt: [{role: system, content: A}]}]
`))
	require.NoError(t, err)
	assert.False(t, *cfg.Messenger.ResendHistory)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "unknown provider and mode",
			yaml: `
model: {provider: llamafile}
persona: {name: p, mode: tree, subagents: [{name: a, prompt: [{role: system, content: A}]}]}
`,
			want: []string{"model.provider", "persona.mode"},
		},
		{
			name: "missing personas",
			yaml: `
model: {provider: scripted}
persona: {mode: agent}
`,
			want: []string{"persona.name", "persona.coordinator.prompt", "persona.subagents"},
		},
		{
			name: "duplicate and bad role",
			yaml: `
model: {provider: scripted}
persona:
  name: p
  mode: linear
  subagents:
    - {name: a, prompt: [{role: narrator, content: A}]}
    - {name: a, prompt: [{role: system, content: A}]}
`,
			want: []string{`"a" is used twice`, "role must be"},
		},
		{
			name: "store without dsn",
			yaml: `
model: {provider: scripted}
store: {driver: redis}
persona: {name: p, mode: linear, subagents: [{name: a, prompt: [{role: system, content: A}]}]}
`,
			want: []string{"store.dsn"},
		},
		{
			name: "bad log level",
			yaml: `
model: {provider: scripted}
log: {level: loud}
persona: {name: p, mode: linear, subagents: [{name: a, prompt: [{role: system, content: A}]}]}
`,
			want: []string{"log.level"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("model: [unterminated"))
	require.ErrorContains(t, err, "parse config")
}

func TestLoggerConfig(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"

	lc := cfg.LoggerConfig()
	assert.Equal(t, logging.LogLevelWarn, lc.Level)
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, "personas", lc.Component)
}
