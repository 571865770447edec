// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/murmur/internal/logging"
	"github.com/jeranaias/murmur/internal/ui/chat"
)

func newChatCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start the full-screen conversation (default)",
		Long: `Start the full-screen conversation.

Keys:
  Enter    send
  Esc      stop the reply and speech
  Ctrl+L   clear the conversation
  Ctrl+T   toggle speech
  Ctrl+U   unload every resident model
  Ctrl+C   quit

Logs are written to <data_dir>/murmur.log while the screen is in use.
When stdin or stdout is not a terminal, this falls back to repl.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}
}

// runChat starts the Bubble Tea front-end, which is the single consumer of
// the app's event bus.
func runChat(cmd *cobra.Command, opts *globalOptions) error {
	if !Interactive() {
		return runRepl(cmd, opts)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	logs, err := logging.InitFile(cfg.DataDir, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logs.Close()

	app, err := NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go app.Start(ctx)
	if path, err := opts.resolveConfigPath(); err == nil {
		app.Watch(ctx, path)
	}

	model := chat.New(app.Dialogue, app.Bus, chat.Config{
		Model:   cfg.Model,
		Session: app.Session,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run chat: %w", err)
	}
	return nil
}
