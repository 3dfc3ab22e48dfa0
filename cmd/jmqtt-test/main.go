// Command jmqtt-test runs jMQTT scenarios against a Jeedom host.
//
// Every scenario step acts on the plugin and on an in-memory reference,
// and assertion steps check that the plugin, read through its JSON-RPC
// API, its MQTT API and its page, matches the reference.
//
// Usage:
//
//	jmqtt-test [flags]
//
// Flags:
//
//	-env string            Environment file (Jeedom host, brokers, harness settings)
//	-tests string          Scenario directory, read recursively (default "./testdata/scenarios")
//	-id string             Comma separated scenario id patterns (e.g. "TC-EQPT-*")
//	-tags string           Only run scenarios carrying one of these tags
//	-exclude-tags string   Skip scenarios carrying one of these tags
//	-timeout duration      Scenario timeout (default 2m)
//	-step-timeout duration Step timeout (default 30s)
//	-stop                  Stop after the first failed scenario
//	-page-url string       URL of the rendered plugin page, enables DOM checks
//	-fake                  Run against an in-process fake plugin
//	-verbose               Show every step
//	-json, -junit          Output format (default text)
//	-protocol-log string   File path for protocol event logging (CBOR format)
//	-metrics-addr string   Serve Prometheus metrics on this address
//	-iface string          Network interface for broker discovery
//
// Examples:
//
//	# Run every scenario against the host of env.yaml
//	jmqtt-test -env env.yaml
//
//	# Run the equipment scenarios on the fake plugin
//	jmqtt-test -fake -id "TC-EQPT-*" -verbose
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/domotruc/jmqtt-test/internal/testharness/mock"
	"github.com/domotruc/jmqtt-test/internal/testharness/runner"
	"github.com/domotruc/jmqtt-test/pkg/config"
	"github.com/domotruc/jmqtt-test/pkg/discovery"
	"github.com/domotruc/jmqtt-test/pkg/dom"
	plog "github.com/domotruc/jmqtt-test/pkg/log"
	"github.com/domotruc/jmqtt-test/pkg/metrics"
)

var (
	envFile     = flag.String("env", "", "Environment file (Jeedom host, brokers, harness settings)")
	tests       = flag.String("tests", "./testdata/scenarios", "Scenario directory, read recursively")
	ids         = flag.String("id", "", "Comma separated scenario id patterns")
	tags        = flag.String("tags", "", "Only run scenarios carrying one of these tags")
	excludeTags = flag.String("exclude-tags", "", "Skip scenarios carrying one of these tags")
	timeout     = flag.Duration("timeout", 2*time.Minute, "Scenario timeout")
	stepTimeout = flag.Duration("step-timeout", 30*time.Second, "Step timeout")
	stop        = flag.Bool("stop", false, "Stop after the first failed scenario")
	pageURL     = flag.String("page-url", "", "URL of the rendered plugin page, enables DOM checks")
	fake        = flag.Bool("fake", false, "Run against an in-process fake plugin")
	verbose     = flag.Bool("verbose", false, "Show every step")
	jsonOut     = flag.Bool("json", false, "Output results as JSON")
	junitOut    = flag.Bool("junit", false, "Output results as JUnit XML")
	protocolLog = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9101)")
	iface       = flag.String("iface", "", "Network interface for broker discovery")
)

func main() {
	flag.Parse()

	outputFormat := "text"
	if *jsonOut {
		outputFormat = "json"
	} else if *junitOut {
		outputFormat = "junit"
	}

	logger := newLogger(*verbose)
	slog.SetDefault(logger)

	if *envFile == "" && !*fake {
		fmt.Fprintln(os.Stderr, "Error: an environment file is required (-env), or use -fake")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, outputFormat); err != nil {
		if errors.Is(err, errFailed) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var errFailed = errors.New("scenarios failed")

func run(ctx context.Context, logger *slog.Logger, outputFormat string) error {
	cfg := &runner.Config{
		TestDir:            *tests,
		IDs:                splitList(*ids),
		Tags:               splitList(*tags),
		ExcludeTags:        splitList(*excludeTags),
		Timeout:            *timeout,
		StepTimeout:        *stepTimeout,
		StopOnFirstFailure: *stop,
		Verbose:            *verbose,
		Output:             os.Stdout,
		OutputFormat:       outputFormat,
		Logger:             logger,
	}

	if *fake {
		stack, err := mock.StartStack(mock.JeedomConfig{Logger: logger})
		if err != nil {
			return err
		}
		defer stack.Close()
		cfg.Env = stack.Env()
		cfg.Driver = stack.Driver()
		cfg.Page = stack.Page(nil)
		cfg.Factory = stack.Factory()
		logger.Info("fake jeedom started", "url", stack.URL)
	} else {
		env, err := config.Load(*envFile)
		if err != nil {
			return err
		}
		if err := discover(ctx, env, logger); err != nil {
			return err
		}
		cfg.Env = env
		if *pageURL != "" {
			cfg.Page = dom.NewHTTPPage(nil, *pageURL)
		}
	}

	if *protocolLog != "" {
		fl, err := plog.NewFileLogger(*protocolLog)
		if err != nil {
			return fmt.Errorf("protocol log: %w", err)
		}
		defer fl.Close()
		// Only set the logger when non-nil to avoid a typed-nil interface.
		cfg.ProtocolLogger = fl
		logger.Info("protocol logging", "path", *protocolLog)
	}

	if *metricsAddr != "" {
		cfg.Metrics = metrics.New()
		srv := serveMetrics(*metricsAddr, cfg.Metrics, logger)
		defer srv.Close()
	}

	r, err := runner.New(cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	result, err := r.Run(ctx)
	if err != nil {
		return err
	}
	if result.FailCount > 0 {
		return errFailed
	}
	return nil
}

// discover resolves the brokers of the environment flagged with discover.
func discover(ctx context.Context, env *config.Config, logger *slog.Logger) error {
	needed := false
	for _, b := range env.Brokers {
		needed = needed || b.Discover
	}
	if !needed {
		return nil
	}
	browser := discovery.NewBrowser(discovery.BrowserConfig{Interface: *iface, Logger: logger})
	defer browser.Stop()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return env.Discover(ctx, browser)
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

// newLogger logs in color on a terminal and as plain key=value text
// otherwise.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly}))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
