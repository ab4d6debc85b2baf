// Gitbot answers Slack mentions with an OpenAI assistant that can work
// on GitHub pull requests.
//
// It receives app mentions over the Events API (or Socket Mode), keeps
// each Slack thread bound to an assistant thread, runs the assistant
// with a catalog of GitHub tools, and posts the reply back to Slack.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	gitbot init [dir]         Write an example config and data directory
//	gitbot serve              Start the events server
//	gitbot handle [event]     Run one turn for an event (JSON argument or stdin)
//	gitbot purge              Delete expired thread bindings
//	gitbot version            Print version and build information
//	gitbot -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/gitbot/internal/buildinfo"
	"github.com/nugget/gitbot/internal/config"
	"github.com/nugget/gitbot/internal/conversation"
)

// main is intentionally minimal. It constructs the OS-level environment
// and delegates immediately to [run], keeping os.Exit and os.Args out
// of the application logic so the lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; command
// results go to stdout as well. args is os.Args[1:], parsed by hand so
// run can be called concurrently from tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case command == "" && !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "handle":
		ev, err := readEvent(stdin, cmdArgs)
		if err != nil {
			return err
		}
		return runHandle(ctx, stdout, configPath, outputFmt, ev)
	case "purge":
		return runPurge(ctx, stdout, configPath, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "gitbot - Slack assistant for GitHub pull requests")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: gitbot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init [dir]      Write an example config.yaml and data directory")
	fmt.Fprintln(w, "  serve           Start the events server")
	fmt.Fprintln(w, "  handle [event]  Run one turn for an event (JSON argument, or stdin when absent or -)")
	fmt.Fprintln(w, "  purge           Delete expired thread bindings")
	fmt.Fprintln(w, "  version         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/gitbot/config.yaml, /etc/gitbot/config.yaml")
	return nil
}

// readEvent decodes the event for "gitbot handle" from the first
// argument, or from stdin when there is none or it is "-".
func readEvent(stdin io.Reader, args []string) (conversation.Event, error) {
	var data []byte
	if len(args) > 0 && args[0] != "-" {
		data = []byte(args[0])
	} else {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return conversation.Event{}, fmt.Errorf("read event: %w", err)
		}
		data = b
	}

	var ev conversation.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return conversation.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return conversation.Event{}, err
	}
	return ev, nil
}

// runHandle runs exactly one turn and reports its outcome.
func runHandle(ctx context.Context, stdout io.Writer, configPath, outputFmt string, ev conversation.Event) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)
	logger.Info("config loaded", "path", cfgPath)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		apologizeForSetup(ctx, cfg, ev, logger)
		return err
	}
	defer a.Close()

	turnCtx, cancel := context.WithTimeout(ctx, cfg.Conversation.HandleTimeout)
	defer cancel()
	outcome := a.orchestrator.Handle(turnCtx, ev)

	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(map[string]string{
			"conversation_key": ev.Key(),
			"outcome":          string(outcome),
		})
	}
	fmt.Fprintf(stdout, "%s: %s\n", ev.Key(), outcome)
	return nil
}

// runPurge deletes expired registry entries.
func runPurge(ctx context.Context, stdout io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)

	store, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Purge(ctx)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	logger.Debug("registry purged", "driver", cfg.Registry.Driver, "removed", n)

	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(map[string]int64{"removed": n})
	}
	fmt.Fprintf(stdout, "removed %d expired thread bindings\n", n)
	return nil
}

// runServe is the primary operating mode. It blocks until SIGINT or
// SIGTERM, then stops accepting events, lets running turns finish
// within the shutdown grace period, and closes stores.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)
	logger.Info("starting gitbot", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"registry", cfg.Registry.Driver,
		"github_auth", cfg.GitHub.Auth,
		"socket_mode", cfg.Slack.AppToken != "",
		"mqtt", cfg.MQTT.Configured(),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.serve(ctx)
}

// shutdownGrace bounds how long running turns may take after a
// shutdown signal.
const shutdownGrace = 30 * time.Second

func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// configuredLogger builds the logger for the configured level and
// format. Validate has already rejected unknown levels.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}

func isClosed(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
