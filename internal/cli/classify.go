// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/murmur/internal/logging"
	"github.com/jeranaias/murmur/internal/router"
)

// classifyResult is the JSON form of a routing decision.
type classifyResult struct {
	Utterance string         `json:"utterance"`
	Kind      string         `json:"kind"`
	Thinking  bool           `json:"thinking,omitempty"`
	Function  string         `json:"function,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

func newClassifyCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "classify <utterance...>",
		Short: "Print the routing decision for an utterance",
		Long: `Route one utterance without executing it.

Prints whether the utterance would be answered as chat or as a function
call, with the parsed arguments. Classification failures fall back to chat.`,
		Example: `  murmur classify "lock the front door"
  murmur classify --json "remind me to call mom tomorrow at 6pm"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logging.Init(logging.Options{Level: cfg.LogLevel, Pretty: true, Output: cmd.ErrOrStderr()})

			rt := newRouter(newClient(cfg), cfg)
			utterance := strings.Join(args, " ")
			d := rt.Classify(cmd.Context(), utterance)
			return printDecision(cmd.OutOrStdout(), utterance, d, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// printDecision writes a decision as text or JSON.
func printDecision(w io.Writer, utterance string, d router.Decision, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(classifyResult{
			Utterance: utterance,
			Kind:      d.Kind.String(),
			Thinking:  d.Thinking,
			Function:  d.Name,
			Arguments: d.Arguments,
			Reason:    d.Reason,
		})
	}

	if !d.IsCall() {
		mode := "chat"
		if d.Thinking {
			mode = "chat (thinking)"
		}
		_, err := fmt.Fprintf(w, "%s  %s\n", mode, d.Reason)
		return err
	}

	fmt.Fprintf(w, "call  %s\n", d.Name)
	keys := make([]string, 0, len(d.Arguments))
	for k := range d.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %v\n", k, d.Arguments[k])
	}
	return nil
}
