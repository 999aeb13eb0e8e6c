package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/armatrix/toolhost"
	"github.com/armatrix/toolhost/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
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

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			startServers(ctx, host, cfg)

			srv := server.New(host, logger)
			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", cfg.Listen.Addr())
				errCh <- srv.ListenAndServe(cfg.Listen.Addr())
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
}

func chatCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Run one reasoning loop, confirming risky calls on the terminal",
		Args:  cobra.MinimumNArgs(1),
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

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			startServers(ctx, host, cfg)

			stream, err := host.Chat(ctx, sessionID, strings.Join(cmdArgs, " "))
			if err != nil {
				return err
			}
			return runInteractive(ctx, host, stream)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session")
	return cmd
}

// runInteractive prints run events and prompts on stdin whenever a
// call needs approval, following resumed streams until the run ends.
func runInteractive(ctx context.Context, host *toolhost.Host, stream *toolhost.EventStream) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		var pending *toolhost.ConfirmationRequiredEvent
		for stream.Next() {
			switch ev := stream.Current().(type) {
			case *toolhost.ToolCallEvent:
				fmt.Printf("-> %s(%s) [%s]\n", ev.Call.Name, compactArgs(ev.Call.Arguments), ev.Risk)
			case *toolhost.ToolResultEvent:
				if ev.IsError {
					fmt.Printf("<- error: %s\n", ev.Content)
				} else {
					fmt.Printf("<- %s\n", truncate(ev.Content, 200))
				}
			case *toolhost.ConfirmationRequiredEvent:
				pending = ev
			case *toolhost.FinalEvent:
				fmt.Println(ev.Text)
				fmt.Printf("(tokens: %d in / %d out, cost: $%s)\n",
					ev.Usage.InputTokens, ev.Usage.OutputTokens, ev.Cost.StringFixed(4))
			}
		}
		if err := stream.Err(); err != nil {
			return err
		}
		if pending == nil {
			return nil
		}

		req := pending.Request
		fmt.Printf("confirm %s call %s(%s)? [y/N] ",
			req.Risk, req.Call.Name, compactArgs(req.Call.Arguments))
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		approved := strings.EqualFold(strings.TrimSpace(line), "y")

		stream, err = host.ResolveConfirmation(ctx, req.ID, approved, nil)
		if err != nil {
			return err
		}
	}
}

func compactArgs(args map[string]any) string {
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return truncate(strings.Join(parts, ", "), 120)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
