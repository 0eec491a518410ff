package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tapoctl/internal/api"
	"github.com/dokzlo13/tapoctl/internal/app"
	"github.com/dokzlo13/tapoctl/internal/config"
	"github.com/dokzlo13/tapoctl/internal/orchestrator"
	"github.com/dokzlo13/tapoctl/internal/tapo"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const defaultConfigPath = "config.yaml"

type options struct {
	configPath string
	envFile    string
	logLevel   string
	timeout    time.Duration
	sel        app.Selector
}

func newFlagSet(name string, opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	// Support both -c and --config for config path
	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to configuration file")
	fs.StringVar(&opts.configPath, "c", defaultConfigPath, "Path to configuration file (shorthand)")
	fs.StringVar(&opts.envFile, "env", ".env", "Path to .env file (ignored if missing)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Override log level (trace, debug, info, warn, error)")
	return fs
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "serve" {
		return serve(args[1:], stderr)
	}

	var opts options
	fs := newFlagSet("tapoctl", &opts)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.sel.Device, "device", "", "Configured device name")
	fs.StringVar(&opts.sel.Address, "addr", "", "Device address for an unconfigured device")
	fs.StringVar(&opts.sel.Kind, "kind", "", "Device kind with -addr: plug, strip or hub")
	fs.StringVar(&opts.sel.Child, "child", "", "Child nickname on a strip or hub")
	fs.StringVar(&opts.sel.ChildID, "child-id", "", "Child device id on a strip or hub")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall command timeout")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tapoctl [flags] <on|off|reboot|info>\n       tapoctl serve [flags]\n\nFlags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nCredentials for -addr come from %s and %s.\n", app.EnvUsername, app.EnvPassword)
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	intent, err := orchestrator.ParseIntent(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	cfg, err := setup(&opts, opts.sel.Address != "")
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create application")
		return exitError
	}
	defer application.Stop()

	ctx, cancel := context.WithTimeout(app.SignalContext(), opts.timeout)
	defer cancel()

	res, err := application.Run(ctx, intent, opts.sel)
	if err != nil {
		writeError(stdout, err)
		if tapo.IsConfiguration(err) {
			return exitUsage
		}
		return exitError
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Error().Err(err).Msg("Failed to encode result")
		return exitError
	}
	return exitOK
}

func serve(args []string, stderr io.Writer) int {
	var opts options
	fs := newFlagSet("serve", &opts)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tapoctl serve [flags]\n\nRun the control API for the configured devices.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := setup(&opts, false)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	log.Info().Str("config", opts.configPath).Msg("Starting tapoctl")

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create application")
		return exitError
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	// Start the application
	if err := application.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start application")
		return exitError
	}

	// Wait for shutdown
	application.Wait()

	// Graceful shutdown
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return exitError
	}
	return exitOK
}

// setup loads the environment and configuration and configures logging.
// A missing default config file is tolerated for ad-hoc targets.
func setup(opts *options, adHoc bool) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.configPath)
	if errors.Is(err, os.ErrNotExist) && adHoc && opts.configPath == defaultConfigPath {
		cfg, err = config.Parse([]byte("ledger:\n  enabled: false\n"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	setupLogging(level, cfg.Log.JSON, cfg.Log.Colors)
	return cfg, nil
}

func writeError(w io.Writer, err error) {
	class, _ := api.Classify(err)
	body := map[string]any{"class": class, "message": err.Error()}

	var rebootErr *tapo.RebootError
	if errors.As(err, &rebootErr) {
		body["left_off"] = rebootErr.LeftOff
		body["indeterminate"] = rebootErr.Indeterminate
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(map[string]any{"error": body})
}

// parseLevel accepts zerolog level names plus the "warning" alias.
// Unknown or empty names fall back to info.
func parseLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// setupLogging points the global logger at stderr, as JSON or console text.
func setupLogging(level string, useJSON bool, colors bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	out := io.Writer(os.Stderr)
	if !useJSON {
		out = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(parseLevel(level))
}
