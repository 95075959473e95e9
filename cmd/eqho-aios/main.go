package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/eqho10/eqho-aios/internal/config"
	"github.com/eqho10/eqho-aios/internal/console"
	"github.com/eqho10/eqho-aios/internal/provider"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errUsage marks bad invocations; the usage text has already been printed.
var errUsage = errors.New("usage")

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := newApp(os.Stdin, os.Stdout, os.Stderr).run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

type app struct {
	stdin  *os.File
	stdout io.Writer
	stderr io.Writer
	// root is the project directory; empty means the working directory.
	root string
	env  func(string) string

	newBackend func(cfg *config.Config, logger *zap.Logger) (provider.Backend, error)
}

func newApp(stdin *os.File, stdout, stderr io.Writer) *app {
	return &app{
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		env:        os.Getenv,
		newBackend: provider.New,
	}
}

func (a *app) run(ctx context.Context, args []string) int {
	if len(args) < 1 {
		a.usage()
		return 2
	}

	var err error
	switch args[0] {
	case "run":
		err = a.cmdRun(ctx, args[1:])
	case "status":
		err = a.cmdStatus(ctx, args[1:])
	case "story":
		err = a.cmdStory(ctx, args[1:])
	case "agent":
		err = a.cmdAgent(ctx, args[1:])
	case "notify":
		err = a.cmdNotify(ctx, args[1:])
	case "config":
		err = a.cmdConfig(ctx, args[1:])
	case "init":
		err = a.cmdInit(ctx, args[1:])
	case "history":
		err = a.cmdHistory(ctx, args[1:])
	case "serve":
		err = a.cmdServe(ctx, args[1:])
	case "version":
		fmt.Fprintf(a.stdout, "eqho-aios %s\n", version)
	case "help", "--help", "-h":
		a.usage()
	default:
		fmt.Fprintf(a.stderr, "unknown command: %s\n\n", args[0])
		a.usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	default:
		fmt.Fprintln(a.stderr, console.Fail(err.Error()))
		return 1
	}
}

func (a *app) usage() {
	fmt.Fprint(a.stderr, `usage: eqho-aios <command> [options]

Commands:
  init [name]                      set up .eqho-aios/ and docs/stories/ in this directory
  run <story-id>                   run the agent pipeline on a story
      --phase planning|development|full
      --auto                       skip approval questions
      --agent <name>               run a single agent
      --task <text>                extra instructions for every agent
  status                           story overview and token usage
  story list [--status <status>]   list stories
  story create <title>             create a draft story [--priority p] [--tags a,b]
  agent list                       list agents
  agent show <name>                show an agent definition
  notify <message> | --test        send a message through the enabled chat sinks
  config show [--key a.b]          print the effective configuration
  config validate                  check the configuration and credentials
  history [story-id] [--limit n]   list recorded runs
  serve [--addr :8787]             serve the read-only status API
  version                          print the version
`)
}

// usageError prints the command's usage line and returns errUsage.
func (a *app) usageError(line string) error {
	fmt.Fprintf(a.stderr, "usage: eqho-aios %s\n", line)
	return errUsage
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

// parseFlags parses flags that may appear before or after positional
// arguments and returns the positionals in order.
func parseFlags(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}
