package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/armatrix/toolhost"
	"github.com/armatrix/toolhost/audit"
	"github.com/armatrix/toolhost/config"
	"github.com/armatrix/toolhost/llm"
	"github.com/armatrix/toolhost/session"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "toolhost",
		Short:   "toolhost: an LLM tool host with human confirmation gating",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: toolhost.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(callCmd())
	root.AddCommand(chatCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path, err := config.FindConfig(configPath)
	if err != nil {
		if configPath == "" {
			logger.Warn("no config file found, using defaults")
			return config.Default(), nil
		}
		return nil, err
	}
	return config.Load(path)
}

// buildHost assembles a host from the config: logger, completion client,
// audit sink, policy, and limits.
func buildHost(cfg *config.Config) (*toolhost.Host, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := completionClient(cfg.LLM)
	if err != nil {
		return nil, err
	}

	opts := []toolhost.Option{
		toolhost.WithLogger(logger),
		toolhost.WithCompletionClient(client),
		toolhost.WithLLMConfig(cfg.LLM.Model),
		toolhost.WithPolicy(cfg.Risk.Policy()),
	}
	if cfg.MaxIterations > 0 {
		opts = append(opts, toolhost.WithMaxIterations(cfg.MaxIterations))
	}
	if cfg.MaxBudgetUSD > 0 {
		opts = append(opts, toolhost.WithMaxBudgetUSD(decimal.NewFromFloat(cfg.MaxBudgetUSD)))
	}
	if cfg.SessionsDir != "" {
		store, err := session.NewFileStore(cfg.SessionsDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, toolhost.WithSessionStore(store))
	}
	if cfg.Audit.Path != "" {
		db, err := sql.Open("sqlite", cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit db: %w", err)
		}
		sink, err := audit.NewSQLiteSink(db, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, toolhost.WithAuditSink(sink))
	}
	return toolhost.New(opts...), nil
}

func completionClient(cfg config.LLMConfig) (llm.CompletionClient, error) {
	switch cfg.Provider {
	case "", "anthropic":
		var opts []option.RequestOption
		if cfg.APIKey != "" {
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		return llm.NewAnthropicClient(opts...), nil
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.APIKey,
			APIBase: cfg.BaseURL,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// startServers connects every configured tool server. A server that
// fails to start is logged and skipped; the rest of the catalog stays
// usable.
func startServers(ctx context.Context, host *toolhost.Host, cfg *config.Config) {
	for key, sc := range cfg.Servers {
		if err := host.StartServer(ctx, key, sc); err != nil {
			logger.Error("server failed to start", "server", key, "err", err)
		}
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-tools",
		Short: "List the aggregated tool catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			host, err := buildHost(cfg)
			if err != nil {
				return err
			}
			defer host.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			startServers(ctx, host, cfg)

			for _, tool := range host.ListTools() {
				fmt.Printf("%-40s %s\n", tool.Name, tool.Description)
			}
			return nil
		},
	}
}

func callCmd() *cobra.Command {
	var argsJSON string
	cmd := &cobra.Command{
		Use:   "invoke <tool>",
		Short: "Invoke one namespaced tool directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			host, err := buildHost(cfg)
			if err != nil {
				return err
			}
			defer host.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			startServers(ctx, host, cfg)

			var toolArgs map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}

			res, err := host.Invoke(ctx, cmdArgs[0], toolArgs)
			if err != nil {
				return err
			}
			if res.IsError {
				return fmt.Errorf("tool error: %s", res.Content)
			}
			fmt.Println(res.Content)
			return nil
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "tool arguments as JSON")
	return cmd
}
