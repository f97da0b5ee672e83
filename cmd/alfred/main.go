// Package main provides the alfred CLI: a terminal front-end over the
// conversation engine. It wires the store, provider adapter, auth
// resolver, turn supervisor, and compressor together and runs a plain
// stdin chat loop.
//
// # Basic Usage
//
// Start a chat:
//
//	alfred chat --config alfred.yaml
//
// # Environment Variables
//
//   - ALFRED_CONFIG: path to the configuration file
//   - ALFRED_PROVIDER / ALFRED_MODEL: backend selection overrides
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY / GEMINI_API_KEY: credentials,
//     resolved through the auth precedence chain
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "alfred",
		Short: "Terminal AI conversation engine",
		Long: `alfred drives streaming conversations against Anthropic, OpenAI, or
Gemini backends with automatic history compression and credential
resolution.`,
		SilenceUsage: true,
	}

	root.AddCommand(newChatCommand())
	root.AddCommand(newAuthCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("alfred %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
