// Command filter-contentstrings is an smtpd filter that rejects messages whose
// Subject matches a blacklisted literal or regular expression.
//
// Usage:
//
//	filter-contentstrings [-config file.toml] [literal|regex <file>]...
//
// Pattern files hold one pattern per line. The filter speaks the smtpd filter
// protocol on stdin/stdout and writes diagnostics to stderr, a file or syslog.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/migadu/filter-contentstrings/config"
	"github.com/migadu/filter-contentstrings/logger"
	"github.com/migadu/filter-contentstrings/pkg/blacklist"
	"github.com/migadu/filter-contentstrings/pkg/metrics"
	"github.com/migadu/filter-contentstrings/server/filter"
	"github.com/migadu/filter-contentstrings/server/metricsapi"
	"github.com/migadu/filter-contentstrings/server/scanner"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	exitOK      = 0
	exitFailure = 1
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the filter with the arguments following the program name and
// returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("filter-contentstrings", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := fs.Bool("version", false, "Show version information and exit")
	fs.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := fs.String("config", "", "Path to TOML configuration file")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [flags] [literal|regex <file>]...\n", fs.Name())
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitFailure
	}

	if *showVersion {
		fmt.Fprintf(stdout, "filter-contentstrings version %s (commit: %s, built at: %s)\n", version, commit, date)
		return exitOK
	}

	cfg, err := loadAndValidateConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "filter-contentstrings: %v\n", err)
		return exitFailure
	}

	logFile, err := logger.Initialize(cfg.Logging, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "filter-contentstrings: Warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	// Positions in load errors count from the program name, like os.Args.
	list, err := loadBlacklist(cfg.Blacklist, fs.Args(), len(args)-fs.NArg())
	if err != nil {
		logger.Error("Failed to load blacklist", "error", err)
		return exitFailure
	}
	for kind, n := range list.Counts() {
		metrics.BlacklistMatchers.WithLabelValues(string(kind)).Set(float64(n))
	}

	reject, err := cfg.Reject.SMTPError()
	if err != nil {
		logger.Error("Invalid reject reply", "error", err)
		return exitFailure
	}
	maxMessageSize, err := cfg.Limits.GetMaxMessageSize()
	if err != nil {
		logger.Error("Invalid message size limit", "error", err)
		return exitFailure
	}

	logger.Info("Filter starting",
		"version", version, "commit", commit,
		"matchers", list.Len(),
		"max_message_size", cfg.Limits.MaxMessageSize,
		"max_sessions", cfg.Limits.MaxSessions)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		startMetricsServer(ctx, cfg.Metrics, list.Len())
	}

	sessions := filter.NewSessionStore(filter.Limits{
		MaxMessageSize: maxMessageSize,
		MaxSessions:    cfg.Limits.MaxSessions,
	})
	dispatcher := filter.NewDispatcher(sessions, scanner.New(list), reject)

	if err := dispatcher.Serve(stdin, stdout); err != nil {
		logger.Error("Protocol I/O failed", "error", err)
		return exitFailure
	}

	logger.Info("Input closed, exiting")
	return exitOK
}

// loadAndValidateConfig returns the built-in defaults overlaid with the file at
// path, if one was given.
func loadAndValidateConfig(path string) (config.Config, error) {
	cfg := config.NewDefaultConfig()
	if path != "" {
		if err := config.LoadConfigFromFile(path, &cfg); err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to load configuration: file '%s' not found: %w", path, err)
			}
			return cfg, fmt.Errorf("failed to load configuration from '%s': %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadBlacklist loads the configured pattern files first, then the
// command-line pairs.
func loadBlacklist(entries []config.BlacklistEntry, args []string, offset int) (*blacklist.List, error) {
	loader := blacklist.NewLoader(nil)
	for i, entry := range entries {
		if err := loader.LoadFile(blacklist.SourceConfig, i+1, blacklist.Kind(entry.Kind), entry.File); err != nil {
			return nil, err
		}
	}
	if err := loader.LoadArgs(args, offset); err != nil {
		return nil, err
	}
	return loader.List(), nil
}

func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, matchers int) {
	errChan := make(chan error, 1)
	go metricsapi.Start(ctx, metricsapi.ServerOptions{
		Addr:     cfg.Addr,
		Path:     cfg.Path,
		Version:  version,
		Matchers: matchers,
	}, errChan)

	// The filter keeps serving smtpd when the listener fails.
	go func() {
		select {
		case err := <-errChan:
			logger.Error("Metrics server stopped", "error", err)
		case <-ctx.Done():
		}
	}()
}
