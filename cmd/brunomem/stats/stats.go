// Package statscmder provides the stats command for displaying memory
// store statistics.
package statscmder

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/meggy-ai/bruno-core-sub000/pkg/cliui"
	"github.com/meggy-ai/bruno-core-sub000/pkg/config"
	"github.com/meggy-ai/bruno-core-sub000/pkg/storage"
	"github.com/meggy-ai/bruno-core-sub000/pkg/utils"
)

const statsLongDesc string = `Show statistics for the memory store.

Reads the configured SQLite database and reports conversation, message and
memory tier counts, plus what is known about the user.

Examples:
  brunomem stats`

const statsShortDesc string = "Show memory store statistics"

func NewStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: statsShortDesc,
		Long:  statsLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runStats(configDir)
		},
	}

	return cmd
}

func runStats(configDir string) error {
	v, err := config.InitViper(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.New(cfg.Storage.SQLitePath, nil)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	stats, err := store.Statistics(ctx)
	if err != nil {
		return fmt.Errorf("reading statistics: %w", err)
	}

	fmt.Println()
	printCount("Conversations:  ", stats.TotalConversations)
	printCount("  active:       ", stats.ActiveConversations)
	printCount("Messages:       ", stats.TotalMessages)
	printCount("Short-term:     ", stats.ShortTermMemories)
	printCount("Long-term:      ", stats.LongTermMemories)

	profile, err := store.UserProfile(ctx)
	if err != nil {
		return fmt.Errorf("reading profile: %w", err)
	}

	fmt.Println()
	name := profile.Name
	if name == "" {
		name = "(unknown)"
	}
	fmt.Printf("  %s  %s %s\n",
		cliui.KeyStyle.Render("User:         "),
		cliui.NameStyle.Render(name),
		cliui.DimStyle.Render(fmt.Sprintf("(%d conversations)", profile.ConversationCount)),
	)

	recent, err := store.ShortTermMemories(ctx, "", 0, 5)
	if err != nil {
		return fmt.Errorf("reading memories: %w", err)
	}

	if len(recent) > 0 {
		fmt.Println()
		fmt.Printf("  %s\n", cliui.KeyStyle.Render("Recent memories:"))
		for _, mem := range recent {
			preview := utils.Truncate(mem.Fact, 72)
			fmt.Printf("  %s %s %s\n",
				cliui.DimStyle.Render(fmt.Sprintf("%.2f", mem.RelevanceScore)),
				cliui.RoleStyle.Render("["+mem.Category+"]"),
				cliui.PreviewStyle.Render(preview),
			)
		}
	}

	fmt.Println()
	return nil
}

func printCount(label string, n int) {
	fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render(label), cliui.NameStyle.Render(strconv.Itoa(n)))
}
