package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/markai/markai/internal/config"
	"github.com/markai/markai/internal/data"
	"github.com/markai/markai/internal/engine"
	"github.com/markai/markai/internal/llm"
	"github.com/markai/markai/internal/logging"
	"github.com/markai/markai/internal/plugins"
)

var (
	version = "0.1.0"
	cfgPath string
	userID  string
	cfg     *config.Config
	logFile io.Closer
)

// ═══════════════════════════════════════════════════════════════════════════════
// STYLES
// ═══════════════════════════════════════════════════════════════════════════════

var (
	userLabelStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle            = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	titleStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "markai",
		Short: "MarkAI - Adaptive AI assistant with persistent conversation memory",
		Long: `MarkAI is an AI assistant that remembers:
  • Persistent conversation history in SQLite
  • Bounded context assembly for every prompt
  • Working memory with importance-weighted consolidation
  • Gemini and Ollama LLM backends
  • Built-in plugins (time, calculator, help)

Start a chat:            markai chat
List conversations:      markai conversations list
Show history:            markai history <conversation-id>`,
		PersistentPreRunE: initApp,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logFile != nil {
				logFile.Close()
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.markai/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "default", "user identifier")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("MarkAI v%s\n", version)
		},
	})

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(conversationsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

func initApp(cmd *cobra.Command, args []string) error {
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	// Log to file so structured output never interleaves with chat output.
	logFile, err = logging.Setup(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	return nil
}

func openStore() (*data.Store, error) {
	// NewDB migrates the schema as part of opening.
	store, err := data.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func buildEngine(store *data.Store) (*engine.Engine, error) {
	providerName := cfg.LLM.DefaultProvider
	pc := cfg.LLM.Providers[providerName]

	provider, err := llm.NewProvider(providerName, &llm.ProviderConfig{
		Endpoint:    pc.Endpoint,
		APIKey:      pc.APIKey,
		Model:       pc.Model,
		MaxTokens:   pc.MaxTokens,
		Temperature: pc.Temperature,
		Timeout:     time.Duration(pc.TimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	return engine.New(store, plugins.DefaultRegistry(), provider, engine.Options{
		SystemPrompt:           cfg.Persona.SystemPrompt,
		MaxContextChars:        cfg.Memory.MaxContextLength,
		ConsolidationThreshold: cfg.Memory.ConsolidationThreshold,
	}), nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// CHAT COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func chatCmd() *cobra.Command {
	var convID string
	var oneShot string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with MarkAI (interactive, or one-shot with -m)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			eng, err := buildEngine(store)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if oneShot != "" {
				return runTurn(ctx, eng, &convID, oneShot)
			}
			return runInteractive(ctx, eng, convID)
		},
	}

	cmd.Flags().StringVarP(&convID, "conversation", "c", "", "continue an existing conversation")
	cmd.Flags().StringVarP(&oneShot, "message", "m", "", "send a single message and exit")
	return cmd
}

func runTurn(ctx context.Context, eng *engine.Engine, convID *string, text string) error {
	reply, err := eng.ProcessMessage(ctx, userID, *convID, text)
	if err != nil {
		return err
	}
	*convID = reply.ConversationID

	fmt.Println(assistantLabelStyle.Render("MarkAI:") + " " + reply.Content)
	if reply.Plugin != "" {
		fmt.Println(dimStyle.Render(fmt.Sprintf("  (via %s plugin)", reply.Plugin)))
	} else {
		fmt.Println(dimStyle.Render(fmt.Sprintf("  (%d tokens, %.2fs)",
			reply.TokensUsed, reply.ProcessingTime.Seconds())))
	}
	return nil
}

func runInteractive(ctx context.Context, eng *engine.Engine, convID string) error {
	fmt.Println(titleStyle.Render("MarkAI") + dimStyle.Render(" v"+version+" - type 'exit' to quit"))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(userLabelStyle.Render("You: "))
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			break
		}

		if err := runTurn(ctx, eng, &convID, text); err != nil {
			fmt.Println(errorStyle.Render("Error: " + err.Error()))
			continue
		}
	}

	if convID != "" {
		if err := eng.Consolidate(ctx, convID); err != nil {
			fmt.Fprintln(os.Stderr, dimStyle.Render("memory consolidation failed: "+err.Error()))
		}
		fmt.Println(dimStyle.Render("Conversation saved: " + convID))
	}
	return scanner.Err()
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONVERSATION COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage stored conversations",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			convs, err := store.ListConversations(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			if len(convs) == 0 {
				fmt.Println("No conversations yet.")
				return nil
			}

			for _, c := range convs {
				fmt.Printf("%s  %s  %s\n",
					dimStyle.Render(c.ID),
					titleStyle.Render(c.Title),
					dimStyle.Render(c.UpdatedAt.Local().Format("2006-01-02 15:04")))
			}
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum conversations to show (0 = all)")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation and all its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.DeleteConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				fmt.Println("No such conversation.")
				return nil
			}
			fmt.Println("Deleted.")
			return nil
		},
	})

	return cmd
}

func historyCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Show a conversation's messages in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			messages, err := store.History(cmd.Context(), args[0], limit, offset)
			if err != nil {
				return err
			}

			for _, m := range messages {
				label := userLabelStyle.Render("You:")
				if m.Role == "assistant" {
					label = assistantLabelStyle.Render("MarkAI:")
				}
				fmt.Printf("%s %s\n%s\n\n", label,
					dimStyle.Render(m.Timestamp.Local().Format("2006-01-02 15:04:05")),
					m.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum messages to show (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many messages from the start")
	return cmd
}

func searchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search your messages across all conversations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			matches, err := store.SearchMessages(cmd.Context(), userID, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Println("No matches.")
				return nil
			}

			for _, m := range matches {
				fmt.Printf("%s %s [%s]\n  %s\n",
					dimStyle.Render(m.Timestamp.Local().Format("2006-01-02 15:04")),
					dimStyle.Render(m.ConversationID),
					m.Role, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum matches to show")
	return cmd
}

func exportCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <conversation-id>",
		Short: "Export a conversation as JSON or Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			out, err := store.ExportConversation(cmd.Context(), args[0], format)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "export format: json or markdown")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <conversation-id>",
		Short: "Show aggregate statistics for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.ConversationStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Println(titleStyle.Render("Conversation " + args[0]))
			fmt.Printf("  Messages:        %d\n", stats.MessageCount)
			fmt.Printf("  Total tokens:    %d\n", stats.TotalTokens)
			fmt.Printf("  Avg tokens/msg:  %.1f\n", stats.AvgTokens)
			fmt.Printf("  Avg confidence:  %.2f\n", stats.AvgConfidence)
			fmt.Printf("  Processing time: %.2fs\n", stats.TotalProcessingTime)
			return nil
		},
	}
}

func cleanupCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete conversations inactive longer than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if days == 0 {
				days = cfg.Memory.RetentionDays
			}
			removed, err := store.CleanupConversations(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d conversations older than %d days.\n", removed, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (default from config)")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(titleStyle.Render("MarkAI configuration"))
			fmt.Printf("  Database path:     %s\n", cfg.Database.Path)
			fmt.Printf("  Context budget:    %d chars\n", cfg.Memory.MaxContextLength)
			fmt.Printf("  Consolidation:     %.1f\n", cfg.Memory.ConsolidationThreshold)
			fmt.Printf("  Retention:         %d days\n", cfg.Memory.RetentionDays)
			fmt.Printf("  Default provider:  %s\n", cfg.LLM.DefaultProvider)
			for name, p := range cfg.LLM.Providers {
				masked := "not set"
				if p.APIKey != "" {
					masked = "****"
				}
				fmt.Printf("    %-8s model=%s endpoint=%s api_key=%s\n", name, p.Model, p.Endpoint, masked)
			}
			fmt.Printf("  Log level:         %s\n", cfg.Logging.Level)
			fmt.Printf("  Log file:          %s\n", cfg.Logging.File)
			return nil
		},
	})

	return cmd
}
