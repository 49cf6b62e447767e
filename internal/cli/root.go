package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8000"

// options are the flags shared by every subcommand.
type options struct {
	server string
	token  string
	in     io.Reader
}

// NewRootCommand builds the lofi command tree reading answers from in.
func NewRootCommand(in io.Reader) *cobra.Command {
	opts := &options{in: in}

	root := &cobra.Command{
		Use:   "lofi",
		Short: "Create lo-fi study sessions from the terminal",
		Long: `Create lo-fi study sessions against a Lo-Fi Vibes gateway.

A session generates a study scene from your prompt, animates it, and adds
a matching music track. Frames, audio and a manifest are written to disk.

Quick Start:
  lofi instruments                                   # List instruments
  lofi session -p "Rainy night studying" -i piano    # Run a session
  lofi token --user me                               # Issue a dev token`,
		SilenceUsage: true,
	}

	server := os.Getenv("LOFI_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "Gateway base URL (env LOFI_SERVER)")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("LOFI_TOKEN"), "Bearer token for the gateway (env LOFI_TOKEN)")

	root.AddCommand(
		newSessionCommand(opts),
		newInstrumentsCommand(),
		newTokenCommand(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand(os.Stdin).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}
