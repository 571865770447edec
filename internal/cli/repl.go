// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/murmur/internal/config"
	"github.com/jeranaias/murmur/internal/dialogue"
	"github.com/jeranaias/murmur/internal/events"
	"github.com/jeranaias/murmur/internal/logging"
	"github.com/jeranaias/murmur/internal/ui/styles"
	"github.com/jeranaias/murmur/internal/util"
)

func newReplCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start a line-mode conversation",
		Long: `Start a line-mode conversation with input history.

Replies stream as they arrive. Ctrl+C while a reply is streaming stops it;
Ctrl+C or Ctrl+D at the prompt exits.

Commands: /stop /clear /tts /unload /help /quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(cmd, opts)
		},
	}
}

func runRepl(cmd *cobra.Command, opts *globalOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logging.Init(logging.Options{Level: cfg.LogLevel, Pretty: true})

	app, err := NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go app.Start(ctx)
	go app.Session.Run(ctx, idleCheckInterval)
	if path, err := opts.resolveConfigPath(); err == nil {
		app.Watch(ctx, path)
	}

	input := newLineInput()
	defer input.Close()

	r := newRepl(app.Dialogue, input, cmd.OutOrStdout(), lineTheme())
	go app.Bus.Run(ctx, r.printer.handle)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	r.interrupts = interrupts

	fmt.Fprintf(cmd.OutOrStdout(), "murmur %s with %s. /help for commands.\n", Version, cfg.Model)
	return r.run(ctx)
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader is the prompt surface the loop needs.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// lineInput wraps liner with a persistent history file.
type lineInput struct {
	*liner.State
	historyFile string
}

func newLineInput() *lineInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &lineInput{State: line, historyFile: filepath.Join(dir, "repl_history")}
	if f, err := os.Open(in.historyFile); err == nil {
		in.ReadHistory(f)
		f.Close()
	}
	return in
}

// Close saves history with owner-only permissions and restores the terminal.
// A failed save is logged and does not fail the session.
func (in *lineInput) Close() error {
	if err := saveLineHistory(in.historyFile, in.WriteHistory); err != nil {
		logger := logging.For("repl")
		logger.Debug().Err(err).Str("path", in.historyFile).Msg("input history not saved")
	}
	return in.State.Close()
}

// saveLineHistory renders history with write and stores it atomically.
func saveLineHistory(path string, write func(io.Writer) (int, error)) error {
	var buf bytes.Buffer
	if _, err := write(&buf); err != nil {
		return fmt.Errorf("render input history: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("save input history: %w", err)
	}
	return nil
}

// =============================================================================
// LOOP
// =============================================================================

// replController is the dialogue surface used by the loop.
type replController interface {
	Handle(ctx context.Context, utterance string) (dialogue.Outcome, error)
	Stop()
	Clear()
	ToggleTTS() bool
	SwitchContext()
}

type repl struct {
	ctl        replController
	in         lineReader
	out        io.Writer
	theme      *styles.Theme
	printer    *printer
	interrupts <-chan os.Signal
}

func newRepl(ctl replController, in lineReader, out io.Writer, theme *styles.Theme) *repl {
	return &repl{
		ctl:     ctl,
		in:      in,
		out:     out,
		theme:   theme,
		printer: newPrinter(out, theme),
	}
}

const replHelp = `/stop    stop the reply and speech
/clear   start a new conversation
/tts     toggle speech
/unload  unload every resident model
/quit    exit
Add /think to an utterance to enable reasoning.`

// run reads utterances until EOF, Ctrl+C at the prompt or /quit.
func (r *repl) run(ctx context.Context) error {
	for {
		line, err := r.in.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.in.AppendHistory(line)

		if quit := r.command(line); quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// command runs a slash command or dispatches the utterance. It reports
// whether the loop should end.
func (r *repl) command(line string) bool {
	switch strings.ToLower(line) {
	case "/quit", "/exit":
		return true
	case "/stop":
		r.ctl.Stop()
	case "/clear":
		r.ctl.Clear()
	case "/tts":
		r.ctl.ToggleTTS()
	case "/unload":
		r.ctl.SwitchContext()
		fmt.Fprintln(r.out, r.theme.Hint.Render("Unloading models."))
	case "/help":
		fmt.Fprintln(r.out, r.theme.Hint.Render(replHelp))
	default:
		r.utterance(line)
	}
	return false
}

// utterance dispatches one line and waits for its reply to settle.
func (r *repl) utterance(text string) {
	r.printer.reset()

	out, err := r.ctl.Handle(context.Background(), text)
	if err != nil {
		fmt.Fprintln(r.out, r.theme.Error.Render("Error: "+err.Error()))
		return
	}
	if out.Session == nil && !out.Decision.IsCall() {
		return
	}

	for {
		select {
		case <-r.printer.settled:
			return
		case <-r.interrupts:
			r.ctl.Stop()
		}
	}
}

// =============================================================================
// EVENT PRINTER
// =============================================================================

// printer writes bus events as streamed text. It is the bus consumer in
// line mode.
type printer struct {
	out   io.Writer
	theme *styles.Theme

	mu       sync.Mutex
	seq      uint64
	thought  string
	response string

	// settled receives a value when a reply ends.
	settled chan struct{}
}

func newPrinter(out io.Writer, theme *styles.Theme) *printer {
	return &printer{out: out, theme: theme, settled: make(chan struct{}, 1)}
}

// reset discards a stale settle signal before a new utterance.
func (p *printer) reset() {
	select {
	case <-p.settled:
	default:
	}
}

func (p *printer) settle() {
	select {
	case p.settled <- struct{}{}:
	default:
	}
}

func (p *printer) handle(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case events.KindStart:
		p.seq = e.Seq
		p.thought, p.response = "", ""
		fmt.Fprint(p.out, p.theme.AssistantLabel.Render("murmur")+" ")

	case events.KindThought:
		if e.Seq != p.seq {
			return
		}
		fmt.Fprint(p.out, p.theme.Thought.Render(strings.TrimPrefix(e.Text, p.thought)))
		p.thought = e.Text

	case events.KindResponse:
		if e.Seq != p.seq {
			return
		}
		p.writeResponse(e.Text)

	case events.KindDone:
		if e.Seq != p.seq {
			return
		}
		p.writeResponse(e.Text)
		fmt.Fprintln(p.out)
		p.settle()

	case events.KindCancelled:
		if e.Seq != p.seq {
			return
		}
		p.writeResponse(e.Text)
		fmt.Fprintln(p.out, " "+p.theme.Cancelled.Render("[stopped]"))
		p.settle()

	case events.KindError:
		if e.Seq == 0 {
			fmt.Fprintln(p.out, p.theme.FunctionLabel.Render("murmur")+" "+p.theme.Error.Render(e.Text))
			p.settle()
			return
		}
		if e.Seq != p.seq {
			return
		}
		p.writeResponse(e.Text)
		msg := "request failed"
		if e.Err != nil {
			msg = e.Err.Error()
		}
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, p.theme.Error.Render("Error: "+msg))
		p.settle()

	case events.KindMessage:
		fmt.Fprintln(p.out, p.theme.FunctionLabel.Render("murmur")+" "+p.theme.Body.Render(e.Text))
		p.settle()

	case events.KindStatus:
		fmt.Fprintln(p.out, p.theme.Hint.Render(e.Text))
	}
}

// writeResponse prints the part of the cumulative response not yet shown,
// breaking the line once after any thought text.
func (p *printer) writeResponse(text string) {
	if text == p.response {
		return
	}
	if p.response == "" && p.thought != "" {
		fmt.Fprintln(p.out)
	}
	fmt.Fprint(p.out, p.theme.Body.Render(strings.TrimPrefix(text, p.response)))
	p.response = text
}
