// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Speaker speaks one sentence. Speak blocks until playback ends and must
// return promptly when ctx is cancelled.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// SpeakerFunc adapts a function to Speaker.
type SpeakerFunc func(ctx context.Context, text string) error

// Speak calls f(ctx, text).
func (f SpeakerFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }

// ErrNoSpeechCommand is returned when no speech command is available.
var ErrNoSpeechCommand = errors.New("no speech command available")

// textPlaceholder in Args is replaced by the sentence. Without it the
// sentence is appended as the last argument.
const textPlaceholder = "{text}"

// CommandSpeaker speaks by running an external command per sentence.
type CommandSpeaker struct {
	Command string
	Args    []string
}

// DefaultCommand returns the platform speech command and arguments.
func DefaultCommand() (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		return "say", nil
	case "windows":
		return "powershell", []string{
			"-NoProfile", "-Command",
			"Add-Type -AssemblyName System.Speech; (New-Object System.Speech.Synthesis.SpeechSynthesizer).Speak($args[0])",
			textPlaceholder,
		}
	default:
		return "espeak-ng", nil
	}
}

// NewCommandSpeaker creates a speaker. An empty command uses DefaultCommand.
func NewCommandSpeaker(command string, args []string) *CommandSpeaker {
	if command == "" {
		command, args = DefaultCommand()
	}
	return &CommandSpeaker{Command: command, Args: args}
}

// Available reports whether the command can be found.
func (s *CommandSpeaker) Available() bool {
	_, err := exec.LookPath(s.Command)
	return err == nil
}

// Speak implements Speaker. Cancelling ctx kills the command and any
// children it started.
func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	if !s.Available() {
		return fmt.Errorf("%w: %s", ErrNoSpeechCommand, s.Command)
	}

	cmd := exec.CommandContext(ctx, s.Command, s.args(text)...)
	configureProcess(cmd)

	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %s", s.Command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *CommandSpeaker) args(text string) []string {
	args := make([]string, 0, len(s.Args)+1)
	replaced := false
	for _, a := range s.Args {
		if strings.Contains(a, textPlaceholder) {
			a = strings.ReplaceAll(a, textPlaceholder, text)
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, text)
	}
	return args
}
