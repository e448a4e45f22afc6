// Package main provides the replay command line tool: list, search and
// prune coding agent sessions stored on the local machine.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/replayhq/replay/internal/config"
	"github.com/replayhq/replay/internal/storage"
	"github.com/replayhq/replay/internal/storage/codex"
	"github.com/replayhq/replay/internal/storage/opencode"
)

// Version is set at build time via ldflags.
var Version = "dev"

type cliOptions struct {
	project  string
	agent    string
	cfgPath  string
	debug    bool
	asJSON   bool
	limit    int
	cursor   string
	offset   int
	mode     string
}

func main() {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "replay",
		Short:         "Browse and manage coding agent session logs",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
			if opts.debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})
		},
	}

	root.PersistentFlags().StringVarP(&opts.project, "project", "p", "", "Project path to scope to (default: all projects)")
	root.PersistentFlags().StringVarP(&opts.agent, "agent", "a", "", "Agent to query: codex or opencode (default: all)")
	root.PersistentFlags().StringVar(&opts.cfgPath, "config", "", "Config file path")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Emit JSON instead of text")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), opts)
		},
	}
	listCmd.Flags().IntVarP(&opts.limit, "limit", "n", storage.DefaultPageLimit, "Page size")
	listCmd.Flags().StringVar(&opts.cursor, "cursor", "", "Resume from a previous page's cursor")

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search session titles and messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), opts, args[0])
		},
	}
	searchCmd.Flags().StringVarP(&opts.mode, "in", "i", "all", "Where to match: all, title, user, assistant")

	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), opts, args[0])
		},
	}
	showCmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Show only the last N messages")
	showCmd.Flags().IntVar(&opts.offset, "offset", 0, "Skip the last N messages before the window")

	var deleteContent string
	deleteCmd := &cobra.Command{
		Use:   "delete <session-id> <message-id>",
		Short: "Delete a user message and its responses",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), opts, args[0], args[1], deleteContent)
		},
	}
	deleteCmd.Flags().StringVar(&deleteContent, "content", "", "Fallback message content to match when the id is unknown")

	pathCmd := &cobra.Command{
		Use:   "path <session-id>",
		Short: "Print the session's file path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPath(opts, args[0])
		},
	}

	root.AddCommand(listCmd, searchCmd, showCmd, deleteCmd, pathCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildRegistry loads config and registers one adapter per agent whose
// storage root exists on this machine.
func buildRegistry(opts *cliOptions) (*storage.Registry, error) {
	cfgPath := opts.cfgPath
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load config, using defaults")
		cfg = &config.Config{}
	}
	cacheDir := cfg.ResolveCacheDir()

	reg := storage.NewRegistry()
	reg.Register(storage.AgentCodex, codex.New(cfg.ResolveCodexRoot(), cacheDir))
	reg.Register(storage.AgentOpenCode, opencode.New(cfg.ResolveOpenCodeRoot(), cacheDir))
	return reg, nil
}

// selectAgents narrows the registry to the --agent flag, or all agents.
func selectAgents(reg *storage.Registry, opts *cliOptions) ([]storage.AgentType, error) {
	if opts.agent == "" {
		return reg.Agents(), nil
	}
	agent := storage.AgentType(strings.ToLower(opts.agent))
	if _, ok := reg.Get(agent); !ok {
		return nil, fmt.Errorf("unknown agent %q", opts.agent)
	}
	return []storage.AgentType{agent}, nil
}

func runList(ctx context.Context, opts *cliOptions) error {
	reg, err := buildRegistry(opts)
	if err != nil {
		return err
	}
	agents, err := selectAgents(reg, opts)
	if err != nil {
		return err
	}

	for _, agent := range agents {
		store, _ := reg.Get(agent)
		page, err := store.ListSessionsPage(ctx, opts.project, storage.PageRequest{
			Cursor: opts.cursor,
			Limit:  opts.limit,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", agent, err)
		}

		if opts.asJSON {
			if err := printJSON(page); err != nil {
				return err
			}
			continue
		}

		fmt.Printf("%s (%d sessions)\n", agent, page.TotalCount)
		for _, s := range page.Sessions {
			fmt.Printf("  %s  %s  %3d msgs  $%.4f  %s\n",
				s.SessionID,
				s.ModifiedAt.Format("2006-01-02 15:04"),
				s.MessageCount,
				s.CostUSD,
				s.Preview)
		}
		if page.HasMore {
			fmt.Printf("  more: --cursor %s\n", page.NextCursor)
		}
	}
	return nil
}

func runSearch(ctx context.Context, opts *cliOptions, query string) error {
	mode, err := parseMode(opts.mode)
	if err != nil {
		return err
	}

	reg, err := buildRegistry(opts)
	if err != nil {
		return err
	}
	agents, err := selectAgents(reg, opts)
	if err != nil {
		return err
	}

	for _, agent := range agents {
		store, _ := reg.Get(agent)
		results, err := store.SearchSessions(ctx, opts.project, query, mode)
		if err != nil {
			return fmt.Errorf("%s: %w", agent, err)
		}
		if len(results) == 0 {
			continue
		}

		if opts.asJSON {
			if err := printJSON(results); err != nil {
				return err
			}
			continue
		}

		fmt.Printf("%s:\n", agent)
		for _, r := range results {
			fmt.Printf("  %s  [%s x%d]  %s\n", r.SessionID, r.MatchType, r.MatchCount, r.Preview)
		}
	}
	return nil
}

func runShow(ctx context.Context, opts *cliOptions, sessionID string) error {
	reg, err := buildRegistry(opts)
	if err != nil {
		return err
	}
	agents, err := selectAgents(reg, opts)
	if err != nil {
		return err
	}

	win := storage.MessageWindow{Offset: opts.offset, Limit: opts.limit}
	for _, agent := range agents {
		store, _ := reg.Get(agent)
		page, err := store.ReadMessages(ctx, opts.project, sessionID, win)
		if err != nil {
			return fmt.Errorf("%s: %w", agent, err)
		}
		if page.Total == 0 {
			continue
		}

		if opts.asJSON {
			return printJSON(page)
		}

		for _, m := range page.Messages {
			fmt.Printf("[%s] %s\n%s\n", m.Timestamp.Format(time.RFC3339), m.Role, m.Content)
			for _, tu := range m.ToolUses {
				fmt.Printf("  tool %s(%s)\n", tu.Name, tu.ID)
			}
			fmt.Println()
		}
		if page.HasMore {
			fmt.Printf("(%d earlier messages not shown)\n", page.Total-len(page.Messages))
		}
		return nil
	}
	return storage.ErrSessionNotFound
}

func runDelete(ctx context.Context, opts *cliOptions, sessionID, messageID, fallbackContent string) error {
	reg, err := buildRegistry(opts)
	if err != nil {
		return err
	}
	agents, err := selectAgents(reg, opts)
	if err != nil {
		return err
	}

	for _, agent := range agents {
		store, _ := reg.Get(agent)
		result, err := store.DeleteExchange(ctx, opts.project, sessionID, messageID, fallbackContent)
		if errors.Is(err, storage.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", agent, err)
		}
		fmt.Printf("removed %d records from %s\n", result.RecordsRemoved, sessionID)
		return nil
	}
	return storage.ErrSessionNotFound
}

func runPath(opts *cliOptions, sessionID string) error {
	reg, err := buildRegistry(opts)
	if err != nil {
		return err
	}
	agents, err := selectAgents(reg, opts)
	if err != nil {
		return err
	}

	for _, agent := range agents {
		resolver, ok := reg.PathResolver(agent)
		if !ok {
			continue
		}
		if path, ok := resolver.SessionPath(opts.project, sessionID); ok {
			fmt.Println(path)
			return nil
		}
	}
	return storage.ErrSessionNotFound
}

func parseMode(s string) (storage.SearchMode, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return storage.SearchAll, nil
	case "title":
		return storage.SearchTitle, nil
	case "user":
		return storage.SearchUser, nil
	case "assistant":
		return storage.SearchAssistant, nil
	default:
		return storage.SearchAll, fmt.Errorf("unknown search mode %q", s)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
