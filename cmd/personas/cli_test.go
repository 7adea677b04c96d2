package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipelineConfig = `
model: {provider: scripted}
messenger: {initial_delay: 0s}
log: {level: error}
store:
  driver: sqlite
  dsn: %s
persona:
  name: poet
  mode: linear
  subagents:
    - name: writer
      description: Writes poems.
      prompt: [{role: system, content: "You write poems."}]
      model: {provider: scripted, replies: ["roses are red", "violets are blue"]}
    - name: critic
      description: Reviews poems.
      prompt: [{role: system, content: "You review poems."}]
      model: {provider: scripted, replies: ["fine", "better"]}
`

func writeConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "personas.yaml")
	dsn := filepath.Join(dir, "sessions.db")

	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(pipelineConfig, dsn)), 0o600))

	return path
}

// execute parses args and runs the selected command.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	require.NoError(t, err)

	kctx, err := parser.Parse(args)
	require.NoError(t, err)

	var out bytes.Buffer
	err = kctx.Run(&Globals{Config: cli.Config, In: strings.NewReader(stdin), Out: &out})

	return out.String(), err
}

func TestRunCmd_Parse(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	require.NoError(t, err)

	_, err = parser.Parse([]string{"run", "hello", "again", "--session", "s1", "-v"})
	require.NoError(t, err)

	assert.Equal(t, []string{"hello", "again"}, cli.Run.Messages)
	assert.Equal(t, "s1", cli.Run.Session)
	assert.True(t, cli.Run.Verbose)
	assert.False(t, cli.Run.NoSave)
}

func TestResumeCmd_Parse(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	require.NoError(t, err)

	_, err = parser.Parse([]string{"resume", "s1", "more", "--metrics-listen", ":9100"})
	require.NoError(t, err)

	assert.Equal(t, "s1", cli.Resume.Session)
	assert.Equal(t, []string{"more"}, cli.Resume.Messages)
	assert.Equal(t, ":9100", cli.Resume.MetricsListen)
}

func TestResumeCmd_RequiresSession(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	require.NoError(t, err)

	_, err = parser.Parse([]string{"resume"})
	require.Error(t, err)
}

func TestRunTranscriptSessions(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "", "--config", cfgPath, "run", "--session", "s1", "write", "rewrite")
	require.NoError(t, err)
	assert.Contains(t, out, "session: s1")
	assert.Contains(t, out, "poet: fine")
	assert.Contains(t, out, "poet: better")

	out, err = execute(t, "", "--config", cfgPath, "sessions")
	require.NoError(t, err)
	assert.Equal(t, "s1\n", out)

	out, err = execute(t, "", "--config", cfgPath, "transcript", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "roses are red")
	assert.Contains(t, out, "violets are blue")
	assert.Contains(t, out, "poet > writer")

	out, err = execute(t, "", "--config", cfgPath, "transcript", "s1", "--final")
	require.NoError(t, err)
	assert.Contains(t, out, "better")
	assert.NotContains(t, out, "roses are red")
}

func TestRunCmd_ReadsStdin(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "write\n\n", "--config", cfgPath, "run", "--no-save")
	require.NoError(t, err)
	assert.Contains(t, out, "poet: fine")
	assert.NotContains(t, out, "poet: better")

	out, err = execute(t, "", "--config", cfgPath, "sessions")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunCmd_Verbose(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "", "--config", cfgPath, "run", "-v", "write")
	require.NoError(t, err)
	assert.Contains(t, out, "--- writer")
	assert.Contains(t, out, "poet: fine")
}

func TestResumeCmd_ContinuesWithNewMessages(t *testing.T) {
	cfgPath := writeConfig(t)

	_, err := execute(t, "", "--config", cfgPath, "run", "--session", "s1", "write")
	require.NoError(t, err)

	out, err := execute(t, "", "--config", cfgPath, "resume", "s1", "again")
	require.NoError(t, err)
	assert.NotContains(t, out, "discarded")
	assert.Contains(t, out, "poet: fine")

	out, err = execute(t, "", "--config", cfgPath, "transcript", "s1", "--final")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "[assistant]"))
}

func TestResumeCmd_UnknownSession(t *testing.T) {
	cfgPath := writeConfig(t)

	_, err := execute(t, "", "--config", cfgPath, "resume", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestValidateCmd(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "", "--config", cfgPath, "validate")
	require.NoError(t, err)
	assert.Equal(t, "ok: poet (linear, 2 sub-personas)\n", out)
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "personas dev (unknown)\n", out)
}
