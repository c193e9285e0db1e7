// Package brunomemcmder
package brunomemcmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/meggy-ai/bruno-core-sub000/cmd/brunomem/chat"
	statscmder "github.com/meggy-ai/bruno-core-sub000/cmd/brunomem/stats"
	versioncmder "github.com/meggy-ai/bruno-core-sub000/cmd/brunomem/version"
)

const brunomemLongDesc string = `Brunomem is a tiered conversational memory subsystem.

Conversations flow through a rolling buffer, get compressed into short-term
memories by a local LLM, and the most-used memories are promoted into
long-term storage.

Common commands:
  brunomem chat     Start an interactive chat session with memory
  brunomem stats    Show memory store statistics`

const brunomemShortDesc string = "Brunomem - Tiered Conversational Memory"

func NewBrunomemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "brunomem",
		Short: brunomemShortDesc,
		Long:  brunomemLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Directory containing config.toml (defaults to the working directory)")

	// Add subcommands
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(statscmder.NewStatsCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
