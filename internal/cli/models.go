// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/murmur/internal/lifecycle"
	"github.com/jeranaias/murmur/internal/logging"
	"github.com/jeranaias/murmur/internal/ollama"
)

func newModelsCmd(opts *globalOptions) *cobra.Command {
	var (
		unload bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "models [--unload [NAME...]]",
		Short: "List resident models, or unload them",
		Long: `List the models currently loaded in the Ollama server.

With --unload, every resident model is unloaded with an independent
request; one failure does not stop the others. Naming models unloads
only those.`,
		Example: `  murmur models
  murmur models --unload
  murmur models --unload functiongemma:270m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && !unload {
				return fmt.Errorf("model names require --unload")
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logging.Init(logging.Options{Level: cfg.LogLevel, Pretty: true, Output: cmd.ErrOrStderr()})

			client := newClient(cfg)
			running, err := client.ListRunning(cmd.Context())
			if err != nil {
				return fmt.Errorf("list running models: %w", err)
			}

			if unload {
				return unloadModels(cmd.OutOrStdout(), client, running, args)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(running)
			}
			return printModels(cmd.OutOrStdout(), running, time.Now())
		},
	}

	cmd.Flags().BoolVar(&unload, "unload", false, "unload every resident model")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// printModels writes a table of resident models.
func printModels(w io.Writer, running []ollama.RunningModel, now time.Time) error {
	if len(running) == 0 {
		_, err := fmt.Fprintln(w, "No models loaded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tEXPIRES")
	for _, m := range running {
		expires := "-"
		if !m.ExpiresAt.IsZero() {
			if left := m.ExpiresAt.Sub(now); left > 0 {
				expires = "in " + left.Round(time.Second).String()
			} else {
				expires = "now"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, m.FormatSize(), expires)
	}
	return tw.Flush()
}

// unloadModels unloads the named models, or every resident model when
// names is empty, and waits for every request.
func unloadModels(w io.Writer, backend lifecycle.Backend, running []ollama.RunningModel, names []string) error {
	count := len(names)
	if count == 0 {
		count = len(running)
	}
	if count == 0 {
		_, err := fmt.Fprintln(w, "No models loaded.")
		return err
	}

	var (
		mu     sync.Mutex
		failed []error
	)
	models := lifecycle.New(backend, lifecycle.DefaultConfig())
	models.OnError = func(err *lifecycle.LifecycleError) {
		mu.Lock()
		failed = append(failed, err)
		mu.Unlock()
	}
	if len(names) == 0 {
		models.UnloadAll()
	}
	for _, name := range names {
		models.MarkIdle(name)
	}
	models.Wait()

	for _, err := range failed {
		fmt.Fprintf(w, "failed: %v\n", err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d unloads failed", len(failed), count)
	}
	_, err := fmt.Fprintf(w, "Unloaded %d model(s).\n", count)
	return err
}
