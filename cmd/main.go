package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	cmd := &cobra.Command{
		Use:           "whatsapp-ai-bridge",
		Short:         "Relay WhatsApp messages to an OpenAI assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		// serve is the default when no subcommand is given.
		RunE: serve.RunE,
	}
	cmd.PersistentFlags().String("config", os.Getenv("RELAY_CONFIG"), "YAML config file (optional)")

	cmd.AddCommand(serve)
	cmd.AddCommand(newCheckConfigCmd())
	cmd.AddCommand(newSendTestCmd())
	return cmd
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
