// Command qbconsole browses the question bank from a terminal.
//
// Usage:
//
//	qbconsole [--config path] [--server url] [--token t] [--state path]
//	          [--backend file|sqlite] [--page-size n] [--query "search=x&tags=a"]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"

	"cbtadmin/internal/console"
	"cbtadmin/internal/query"
	"cbtadmin/internal/question"
	"cbtadmin/internal/statestore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], environ(os.Environ()), os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	query      string
	overrides  console.Config
}

func parseFlags(args []string, errOut io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("qbconsole", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVarP(&opts.configPath, "config", "c", "", "config file (JSON with comments)")
	fs.StringVar(&opts.overrides.ServerURL, "server", "", "admin API base URL")
	fs.StringVar(&opts.overrides.Token, "token", "", "API bearer token (default $CBTADMIN_TOKEN)")
	fs.StringVar(&opts.overrides.StatePath, "state", "", "where filters and presets are kept")
	fs.StringVar(&opts.overrides.StateBackend, "backend", "", "state backend: file or sqlite")
	fs.IntVar(&opts.overrides.PageSize, "page-size", 0, "initial rows per page")
	fs.StringVarP(&opts.query, "query", "q", "", "start from this filter query string")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

func run(ctx context.Context, args []string, env map[string]string, out, errOut io.Writer) error {
	opts, err := parseFlags(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := console.LoadConfig(console.LoadConfigInput{
		ConfigPath: opts.configPath,
		Overrides:  opts.overrides,
		Env:        env,
	})
	if err != nil {
		return err
	}

	backend, err := statestore.Open(cfg.StateBackend, cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer backend.Close()

	logger := log.New(errOut, "qbconsole: ", 0)
	session := console.NewSession(console.SessionOptions{
		Searcher:     query.NewHTTPSearcher[question.Question](cfg.ServerURL, cfg.Token),
		Backend:      backend,
		InitialQuery: opts.query,
		PageSize:     cfg.PageSize,
		Executor:     query.Options{Logger: logger},
		Out:          out,
		Logger:       logger,
	})
	defer session.Close()

	repl := &console.REPL{Session: session, HistoryPath: console.DefaultHistoryPath(), Out: out}
	return repl.Run(ctx)
}

func environ(kv []string) map[string]string {
	env := make(map[string]string, len(kv))
	for _, e := range kv {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}
	return env
}
