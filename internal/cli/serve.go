// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/murmur/internal/logging"
	"github.com/jeranaias/murmur/internal/server"
)

// serveOptions are the serve command flags.
type serveOptions struct {
	addr      string
	token     string
	rateLimit int
	origins   []string
	jsonLogs  bool
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	so := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the conversation over HTTP and WebSocket",
		Long: `Serve the conversation to remote front-ends.

Endpoints:
  GET  /ws          event stream and utterance intake
  POST /utterance   {"text": "..."}
  POST /stop, /clear, /tts, /unload
  GET  /models, /health, /stats

The token may also be supplied through MURMUR_SERVE_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, so)
		},
	}

	cmd.Flags().StringVar(&so.addr, "addr", server.DefaultAddr, "listen address")
	cmd.Flags().StringVar(&so.token, "token", "", "require this bearer token")
	cmd.Flags().IntVar(&so.rateLimit, "rate-limit", 120, "requests per minute per client")
	cmd.Flags().StringSliceVar(&so.origins, "origin", nil, "allowed WebSocket origins (\"*\" for any)")
	cmd.Flags().BoolVar(&so.jsonLogs, "json-logs", false, "write JSON logs instead of console output")
	return cmd
}

// serverConfig maps flags to the server configuration.
func (so *serveOptions) serverConfig() server.Config {
	token := so.token
	if token == "" {
		token = os.Getenv("MURMUR_SERVE_TOKEN")
	}
	cfg := server.Config{
		Addr:           so.addr,
		RateLimit:      so.rateLimit,
		AllowedOrigins: so.origins,
	}
	if token != "" {
		cfg.Auth = &server.AuthConfig{Enabled: true, BearerToken: token}
	}
	return cfg
}

func runServe(cmd *cobra.Command, opts *globalOptions, so *serveOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logging.Init(logging.Options{Level: cfg.LogLevel, Pretty: !so.jsonLogs})

	app, err := NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go app.Start(ctx)
	go app.Session.Run(ctx, idleCheckInterval)
	if path, err := opts.resolveConfigPath(); err == nil {
		app.Watch(ctx, path)
	}

	srv := server.New(app.Dialogue, app.Client, app.Bus, so.serverConfig())
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
