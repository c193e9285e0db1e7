// Package chatcmder provides the chat command for an interactive session
// backed by the tiered memory subsystem.
package chatcmder

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/meggy-ai/bruno-core-sub000/pkg/cliui"
	"github.com/meggy-ai/bruno-core-sub000/pkg/config"
	"github.com/meggy-ai/bruno-core-sub000/pkg/conversation"
	"github.com/meggy-ai/bruno-core-sub000/pkg/logger"
	"github.com/meggy-ai/bruno-core-sub000/pkg/memory"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("bruno> ")
)

const (
	// How long before asking again for the user's name.
	namePromptCooldown = 30 * 24 * time.Hour

	// Exchanges required before the name question feels natural.
	namePromptMinExchanges = 3

	shutdownTimeout = 10 * time.Second
)

type chatCommander struct {
	target  string
	model   string
	title   string
	logFile string
	debug   bool

	cfg    *config.Config
	logger *slog.Logger
}

const chatLongDesc string = `Start an interactive chat session with memory.

Messages are stored in the conversation buffer, facts are extracted into
short-term memory in the background, and long conversations are compressed
into summaries. Frequently recalled memories get promoted to long-term
storage between sessions.

Replies are generated through the configured OpenAI-compatible endpoint
(e.g. a local Ollama server).

Examples:
  brunomem chat
  brunomem chat --model llama3.2 --target http://localhost:11434/v1`

const chatShortDesc string = "Interactive chat session with memory"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if cmd.Flags().Changed("target") {
				cfg.LLM.Target = cmder.target
			}
			if cmd.Flags().Changed("model") {
				cfg.LLM.Model = cmder.model
			}

			cmder.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVarP(&cmder.target, "target", "t", defaults.LLM.Target, "OpenAI-compatible endpoint URL")
	cmd.Flags().StringVarP(&cmder.model, "model", "m", defaults.LLM.Model, "Model name (e.g. llama3.2, qwen3:4b)")
	cmd.Flags().StringVar(&cmder.title, "title", "", "Title for the new conversation")
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also write JSON logs to this file")

	return cmd
}

func (c *chatCommander) run() error {
	c.logger = logger.New(
		logger.WithDebug(c.debug),
		logger.WithPretty(true),
		logger.WithWriter(os.Stderr),
	)

	if c.logFile != "" {
		f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()

		c.logger = logger.Multi(
			c.logger,
			logger.New(
				logger.WithDebug(c.debug),
				logger.WithJSON(true),
				logger.WithWriter(f),
			),
		)
	}

	ctx := context.Background()

	var system *memory.System
	err := cliui.Step(os.Stdout, "Starting memory subsystem", func() error {
		var err error
		system, err = memory.NewSystem(c.cfg, c.logger)
		if err != nil {
			return err
		}
		return system.Start()
	})
	if err != nil {
		return fmt.Errorf("starting memory subsystem: %w", err)
	}
	defer func() {
		if err := system.Close(shutdownTimeout); err != nil {
			c.logger.Error("shutdown", "error", err)
		}
	}()

	conv, err := system.Manager.StartConversation(ctx, c.title)
	if err != nil {
		return fmt.Errorf("starting conversation: %w", err)
	}

	fmt.Println()
	fmt.Printf("  %s %s %s\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render("Conversation started"),
		cliui.DimStyle.Render(fmt.Sprintf("(id %d, model %s)", conv.ID, c.cfg.LLM.Model)),
	)
	fmt.Printf("  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(userPrompt)
		if !scanner.Scan() {
			// EOF or error
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			break
		}

		if _, err := system.Manager.AddMessage(ctx, "user", input, "", nil); err != nil {
			return fmt.Errorf("storing message: %w", err)
		}

		memCtx, err := system.Manager.ConversationContext(ctx)
		if err != nil {
			return fmt.Errorf("assembling context: %w", err)
		}

		reply, err := system.Generator.Generate(ctx, buildPrompt(memCtx, input), false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %s %v\n", cliui.FailMark, err)
			continue
		}

		rendered, rerr := cliui.RenderMarkdown(reply)
		if rerr != nil {
			rendered = reply + "\n"
		}
		fmt.Printf("%s\n%s\n", assistantPrompt, rendered)

		if _, err := system.Manager.AddMessage(ctx, "assistant", reply, "", nil); err != nil {
			return fmt.Errorf("storing reply: %w", err)
		}

		c.maybeAskForName(ctx, system.Manager)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Println()
	return c.finish(ctx, system.Manager)
}

// maybeAskForName surfaces an onboarding question once the session has had
// enough exchanges and the profile has no name yet.
func (c *chatCommander) maybeAskForName(ctx context.Context, m *conversation.Manager) {
	ask, err := m.ShouldAskForName(ctx, namePromptCooldown, namePromptMinExchanges)
	if err != nil || !ask {
		return
	}

	prompt, err := m.NamePrompt(ctx)
	if err != nil {
		c.logger.Debug("name prompt", "error", err)
		return
	}
	fmt.Printf("%s%s\n\n", assistantPrompt, prompt)
}

// finish updates the user profile from the session and ends the conversation.
func (c *chatCommander) finish(ctx context.Context, m *conversation.Manager) error {
	return cliui.Step(os.Stdout, "Saving conversation", func() error {
		if updated, err := m.UpdateProfileFromConversation(ctx); err != nil {
			c.logger.Debug("profile update", "error", err)
		} else if len(updated) > 0 {
			c.logger.Debug("profile updated", "fields", strings.Join(updated, ","))
		}
		return m.EndConversation(ctx, "")
	})
}

// buildPrompt folds the memory context around the user's message. The
// conversation buffer, relevant memories and profile all ride along so a
// stateless completions endpoint can answer in context.
func buildPrompt(memCtx *conversation.ConversationContext, input string) string {
	var b strings.Builder

	b.WriteString("You are Bruno, a helpful assistant with persistent memory of the user.\n")

	if memCtx.Profile != nil && memCtx.Profile.Name != "" {
		fmt.Fprintf(&b, "The user's name is %s.\n", memCtx.Profile.Name)
	}

	if len(memCtx.LongTerm) > 0 {
		b.WriteString("\nThings you know about the user:\n")
		for _, mem := range memCtx.LongTerm {
			fmt.Fprintf(&b, "- %s\n", mem.Fact)
		}
	}

	if len(memCtx.ShortTerm) > 0 {
		b.WriteString("\nFrom recent conversations:\n")
		for _, mem := range memCtx.ShortTerm {
			fmt.Fprintf(&b, "- %s\n", mem.Fact)
		}
	}

	if len(memCtx.Messages) > 1 {
		b.WriteString("\nConversation so far:\n")
		for _, msg := range memCtx.Messages[:len(memCtx.Messages)-1] {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
	}

	fmt.Fprintf(&b, "\nUser: %s\nRespond naturally and concisely.", input)
	return b.String()
}
