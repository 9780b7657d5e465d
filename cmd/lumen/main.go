// Lumen is a voice-first home assistant orchestrator.
//
// It runs the shared turn pipeline behind a local HTTP API (text turns,
// SSE streaming, WebSocket chat) and an optional MQTT bridge for
// satellite devices. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	lumen serve              Start the assistant
//	lumen init [dir]         Initialize a working directory with defaults
//	lumen ask <question>     Ask a single question (for testing)
//	lumen version            Print version and build information
//	lumen -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lumen-home/lumen/internal/api"
	"github.com/lumen-home/lumen/internal/buildinfo"
	"github.com/lumen-home/lumen/internal/bus"
	"github.com/lumen-home/lumen/internal/calendar"
	"github.com/lumen-home/lumen/internal/chat"
	"github.com/lumen-home/lumen/internal/command"
	"github.com/lumen-home/lumen/internal/config"
	"github.com/lumen-home/lumen/internal/contextwin"
	"github.com/lumen-home/lumen/internal/homeassistant"
	"github.com/lumen-home/lumen/internal/llm"
	"github.com/lumen-home/lumen/internal/memory"
	"github.com/lumen-home/lumen/internal/orchestrate"
	"github.com/lumen-home/lumen/internal/webinfo"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the lumen command. All OS-level
// dependencies are injected as parameters: ctx controls the process
// lifetime, stdout and stderr receive all output, and args is
// os.Args[1:]. Arguments are parsed by hand; the flag package relies on
// package-level globals which makes run() impossible to call
// concurrently from tests, and the argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var cmd string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
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
		case !strings.HasPrefix(args[i], "-") && cmd == "":
			cmd = args[i]
		default:
			if cmd != "" {
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

	switch cmd {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: lumen ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
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
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// lumen is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Lumen - Voice-First Home Assistant Orchestrator")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: lumen [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the assistant")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/lumen/config.yaml, /etc/lumen/config.yaml")
	return nil
}

// runAsk handles the "lumen ask <question>" subcommand. It boots a
// minimal pipeline (no memory store, no chat controller, no MQTT) and
// processes a single turn, printing the reply to stdout. Useful for
// smoke tests and prompt debugging without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	model := llm.NewOllamaClient(cfg.Ollama.URL, cfg.Ollama.Model, logger)

	// Smart home control is optional for one-shots; web lookups always
	// work.
	registry := command.NewRegistry()
	var inventory *homeassistant.Inventory
	if cfg.HomeAssistant.URL != "" {
		ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		inventory = homeassistant.NewInventory(ha, 0, logger)
		resolver := &homeassistant.Resolver{MaxDistance: cfg.Match.MaxEditDistance}
		registry.Install(command.NewSmartHomeAdapter(ha, inventory, resolver))
	}
	registry.Install(command.NewWebAdapter(webinfo.NewService(logger)))

	engine := orchestrate.New(orchestrate.Options{
		Model:         model,
		Dispatcher:    command.NewDispatcher(registry, 0, logger),
		Budgets:       newBudgets(cfg, logger),
		System:        newSystemPrompt(inventory, registry),
		Logger:        logger,
		Timeout:       time.Duration(cfg.Ollama.TimeoutSec) * time.Second,
		Fast:          time.Duration(cfg.Ollama.FastSec) * time.Second,
		RetryAttempts: cfg.Ollama.RetryAttempts,
	})

	result, err := engine.Run(ctx, "cli", question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, result.Reply)
	return nil
}

// runServe handles the "lumen serve" subcommand. It is the primary
// operating mode: loads config, opens the memory and calendar
// databases, wires the command adapters and turn pipeline, starts the
// reminder scanner, the MQTT bridge, and the HTTP API, and blocks until
// a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Lumen", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("config %s: %w", cfgPath, err)
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Ollama.Model,
		"ollama_url", cfg.Ollama.URL,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// All persistent state (conversation memory, calendar events, the
	// MQTT instance ID) lives under the data directory.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	memPath := filepath.Join(cfg.DataDir, "lumen.db")
	mem, err := memory.Open(memPath)
	if err != nil {
		return fmt.Errorf("open memory database %s: %w", memPath, err)
	}
	defer mem.Close()
	logger.Info("memory database opened", "path", memPath)

	calPath := cfg.Calendar.DBPath
	if !filepath.IsAbs(calPath) {
		calPath = filepath.Join(cfg.DataDir, calPath)
	}
	calStore, err := calendar.Open(calPath)
	if err != nil {
		return fmt.Errorf("open calendar database %s: %w", calPath, err)
	}
	defer calStore.Close()

	// Home Assistant is optional but central. Without it, smart home
	// commands are unavailable and Lumen answers questions only.
	var ha *homeassistant.Client
	var inventory *homeassistant.Inventory
	if cfg.HomeAssistant.URL != "" {
		ha = homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		inventory = homeassistant.NewInventory(ha, 0, logger)
		logger.Debug("Home Assistant configured", "url", cfg.HomeAssistant.URL)
	} else {
		logger.Warn("Home Assistant not configured - smart home commands disabled")
	}

	model := llm.NewOllamaClient(cfg.Ollama.URL, cfg.Ollama.Model, logger)
	if err := model.Ping(ctx); err != nil {
		logger.Warn("ollama not reachable at startup", "url", cfg.Ollama.URL, "error", err)
	}

	registry := command.NewRegistry()
	if ha != nil {
		resolver := &homeassistant.Resolver{MaxDistance: cfg.Match.MaxEditDistance}
		registry.Install(command.NewSmartHomeAdapter(ha, inventory, resolver))
	}
	registry.Install(command.NewCalendarAdapter(calStore))
	registry.Install(command.NewWebAdapter(webinfo.NewService(logger)))
	logger.Info("command registry ready", "actions", len(registry.Actions()))

	engine := orchestrate.New(orchestrate.Options{
		Model:         model,
		Dispatcher:    command.NewDispatcher(registry, 0, logger),
		Store:         mem,
		Budgets:       newBudgets(cfg, logger),
		System:        newSystemPrompt(inventory, registry),
		Logger:        logger,
		Timeout:       time.Duration(cfg.Ollama.TimeoutSec) * time.Second,
		Fast:          time.Duration(cfg.Ollama.FastSec) * time.Second,
		RetryAttempts: cfg.Ollama.RetryAttempts,
	})

	controller := chat.NewController(engine, cfg.Chat.MaxSessions, logger)
	defer controller.Close()

	// The MQTT bridge is optional; satellite devices submit turns and
	// receive results, streams, reminders, and status over it.
	var bridge *bus.Bridge
	if cfg.MQTT.Enabled {
		instanceID, err := bus.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		bridge = bus.NewBridge(bus.Config{
			Broker:            cfg.MQTT.Broker,
			Username:          cfg.MQTT.Username,
			Password:          cfg.MQTT.Password,
			DeviceName:        cfg.MQTT.DeviceName,
			StatusIntervalSec: cfg.MQTT.StatusIntervalSec,
			InstanceID:        instanceID,
		}, controller, nil, versionFacts{}, logger)

		go func() {
			if err := bridge.Start(ctx); err != nil {
				logger.Error("mqtt bridge failed", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := bridge.Stop(stopCtx); err != nil {
				logger.Warn("mqtt disconnect", "error", err)
			}
		}()
	}

	// Due reminders are logged and, when the bridge is up, announced to
	// satellite devices.
	notify := func(e *calendar.Event) {
		logger.Info("reminder due", "type", e.Type, "title", e.Title, "due", e.Due)
		if bridge != nil {
			bridge.Announce(ctx, e.Type, e.Title, e.Due)
		}
	}
	interval := time.Duration(cfg.Calendar.CheckIntervalSec) * time.Second
	go calendar.NewNotifier(calStore, interval, notify, logger).Run(ctx)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, controller, nil, logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("api server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// versionFacts adapts buildinfo for status publishing.
type versionFacts struct{}

func (versionFacts) Version() string       { return buildinfo.Version }
func (versionFacts) Uptime() time.Duration { return buildinfo.Uptime() }

func newBudgets(cfg *config.Config, logger *slog.Logger) *contextwin.Manager {
	return contextwin.NewManager(
		cfg.Context.DefaultWords,
		cfg.Context.MinWords,
		cfg.Context.MaxWords,
		cfg.Context.ReductionFactor,
		cfg.Context.RecoveryStep,
		logger,
	)
}

// newLogger builds a text slog logger writing to w.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig finds and loads the config file, returning the config and
// the path it was loaded from.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}
