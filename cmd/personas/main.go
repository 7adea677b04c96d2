// Package main is the entry point for the personas CLI.
package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Build-time variables (set via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// API keys may live in .env
	_ = godotenv.Load()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("personas"),
		kong.Description("Multi-persona conversations with save and resume."),
		kong.UsageOnError(),
		kongVars(),
	)

	err := kctx.Run(&Globals{Config: cli.Config, In: os.Stdin, Out: os.Stdout})
	kctx.FatalIfErrorf(err)
}
