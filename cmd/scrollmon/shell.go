package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/infra"
)

func newShellCmd(opts *rootOptions) *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell for running scrollmon commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractiveShell(cmd.OutOrStdout(), *opts, prompt)
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", infra.AppName+"> ", "Prompt string")
	return cmd
}

func runInteractiveShell(out io.Writer, session rootOptions, prompt string) error {
	historyFile := filepath.Join(os.TempDir(), infra.AppName+"-shell.history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          out,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintln(out, "Interactive shell. Type 'help' for examples, 'exit' to quit.")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			fmt.Fprintln(out)
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		if done := runShellLine(out, &session, line); done {
			return nil
		}
	}
}

// runShellLine handles one input line. It reports true when the shell should exit.
func runShellLine(out io.Writer, session *rootOptions, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	switch line {
	case "exit", "quit":
		fmt.Fprintln(out, "Bye!")
		return true
	case "help":
		printShellHelp(out)
		return false
	}

	tokens, err := shlex.Split(line)
	if err != nil {
		fmt.Fprintf(out, "Parse error: %v\n", err)
		return false
	}
	if len(tokens) == 0 {
		return false
	}
	switch tokens[0] {
	case "loglevel":
		if err := handleShellLogLevel(out, tokens[1:], session); err != nil {
			fmt.Fprintf(out, "loglevel: %v\n", err)
		}
		return false
	case "shell":
		fmt.Fprintln(out, "Already in the shell. Enter another command or 'exit'.")
		return false
	}

	if err := executeArgs(out, *session, tokens); err != nil {
		fmt.Fprintf(out, "command error: %v\n", err)
	}
	return false
}

// executeArgs runs one command line on a fresh root command with the session's flags.
func executeArgs(out io.Writer, session rootOptions, args []string) error {
	root := newRootCmd(&session)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.Execute()
}

// handleShellLogLevel shows or changes the log level used by later commands.
func handleShellLogLevel(out io.Writer, args []string, session *rootOptions) error {
	fs := pflag.NewFlagSet("loglevel", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var level string
	var verbose bool
	fs.StringVar(&level, "level", "", "Level (debug|info|warn|error)")
	fs.BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --level debug")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case verbose:
		level = "debug"
	case level == "" && fs.NArg() > 0:
		level = fs.Arg(0)
	}
	if level == "" {
		current := session.logLevel
		if current == "" {
			current = "default"
		}
		fmt.Fprintf(out, "log level: %s\n", current)
		return nil
	}
	if _, err := zapcore.ParseLevel(level); err != nil {
		return err
	}
	session.logLevel = level
	fmt.Fprintf(out, "log level set to %s\n", level)
	return nil
}

func printShellHelp(out io.Writer) {
	fmt.Fprintln(out, `Examples:
  status                                  # state, timers, monitor liveness
  settings set --categories short-video   # choose what to monitor
  settings set --threshold 20 --cooldown 5
  start                                   # begin monitoring
  override                                # interrupt a cooldown (soft mode)
  log --today                             # today's events
  loglevel --level debug                  # more logging for later commands
  loglevel                                # show the current log level
  exit / quit                             # leave the shell`)
}
