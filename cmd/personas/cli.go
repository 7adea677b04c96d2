// Package main defines the CLI structure using kong.
package main

import (
	"io"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Config string `short:"c" help:"Config file path (default: search personas.yaml)" type:"path"`

	Run        RunCmd        `cmd:"" help:"Send messages to the root persona and save the session"`
	Resume     ResumeCmd     `cmd:"" help:"Resume a saved session, finish its open turn and send more messages"`
	Transcript TranscriptCmd `cmd:"" help:"Print the transcript of a saved session"`
	Sessions   SessionsCmd   `cmd:"" help:"List saved sessions"`
	Validate   ValidateCmd   `cmd:"" help:"Validate the configuration and persona prompts"`
	Version    VersionCmd    `cmd:"" help:"Show version information"`
}

// RunCmd starts a new session.
type RunCmd struct {
	Messages      []string `arg:"" optional:"" help:"Messages to send, one turn each (default: read lines from stdin)"`
	Session       string   `help:"Session id (default: random)"`
	NoSave        bool     `help:"Do not save the session after each turn"`
	Verbose       bool     `short:"v" help:"Print every intermediate proposal"`
	MetricsListen string   `help:"Serve Prometheus metrics on this address (e.g. :9090)"`
}

// ResumeCmd continues a saved session.
type ResumeCmd struct {
	Session       string   `arg:"" help:"Session id to resume"`
	Messages      []string `arg:"" optional:"" help:"Further messages to send after the open turn finished"`
	NoSave        bool     `help:"Do not save the session after each turn"`
	Verbose       bool     `short:"v" help:"Print every intermediate proposal"`
	MetricsListen string   `help:"Serve Prometheus metrics on this address (e.g. :9090)"`
}

// TranscriptCmd prints a saved session.
type TranscriptCmd struct {
	Session string `arg:"" help:"Session id"`
	Final   bool   `help:"Only print the root persona's final messages"`
}

// SessionsCmd lists saved sessions.
type SessionsCmd struct{}

// ValidateCmd checks the configuration.
type ValidateCmd struct{}

// VersionCmd shows version information.
type VersionCmd struct{}

// Globals are bound into every command's Run method.
type Globals struct {
	Config string
	In     io.Reader
	Out    io.Writer
}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
