package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

const prompt = "qb> "

// REPL reads commands with line editing and runs them against a Session.
type REPL struct {
	Session     *Session
	HistoryPath string
	Out         io.Writer
}

// DefaultHistoryPath returns ~/.qbconsole_history, or "" without a home dir.
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".qbconsole_history")
}

func (r *REPL) Run(ctx context.Context) error {
	if r.Out == nil {
		r.Out = os.Stdout
	}
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(completer)
	if r.HistoryPath != "" {
		if f, err := os.Open(r.HistoryPath); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}
	defer r.saveHistory(line)

	fmt.Fprintln(r.Out, "question bank console, type 'help' for commands")
	if err := r.Session.show(ctx); err != nil {
		fmt.Fprintf(r.Out, "error: %v\n", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.Out)
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		quit, err := r.Session.Execute(ctx, input)
		if err != nil {
			fmt.Fprintf(r.Out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (r *REPL) saveHistory(line *liner.State) {
	if r.HistoryPath == "" {
		return
	}
	if f, err := os.Create(r.HistoryPath); err == nil {
		_, _ = line.WriteHistory(f)
		f.Close()
	}
}

func completer(input string) []string {
	lower := strings.ToLower(input)
	var out []string
	for _, cmd := range Commands {
		if strings.HasPrefix(cmd, lower) {
			out = append(out, cmd)
		}
	}
	return out
}
