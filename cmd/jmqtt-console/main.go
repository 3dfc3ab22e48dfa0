// Command jmqtt-console runs scenario actions by hand against a Jeedom
// host, or against the in-process fake plugin.
//
// Every line is an action and its parameters, as in a scenario file. The
// console keeps one reference for the whole session, so "assert" checks
// the plugin against everything done since the start. The brokers added
// during the session are deleted on exit.
//
// Usage:
//
//	jmqtt-console [flags]
//
// Flags:
//
//	-env string            Environment file
//	-broker string         Comma separated brokers of the session (default: every broker)
//	-page-url string       URL of the rendered plugin page, enables DOM checks
//	-fake                  Run against an in-process fake plugin
//	-protocol-log string   File path for protocol event logging (CBOR format)
//	-verbose               Debug logging
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/domotruc/jmqtt-test/internal/testharness/mock"
	"github.com/domotruc/jmqtt-test/internal/testharness/runner"
	"github.com/domotruc/jmqtt-test/pkg/config"
	"github.com/domotruc/jmqtt-test/pkg/dom"
	plog "github.com/domotruc/jmqtt-test/pkg/log"
)

var (
	envFile     = flag.String("env", "", "Environment file")
	brokers     = flag.String("broker", "", "Comma separated brokers of the session (default: every broker)")
	pageURL     = flag.String("page-url", "", "URL of the rendered plugin page, enables DOM checks")
	fake        = flag.Bool("fake", false, "Run against an in-process fake plugin")
	protocolLog = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
	verbose     = flag.Bool("verbose", false, "Debug logging")
)

func main() {
	flag.Parse()

	if *envFile == "" && !*fake {
		fmt.Fprintln(os.Stderr, "Error: an environment file is required (-env), or use -fake")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logOut := &switchWriter{w: os.Stderr}
	logger := slog.New(tint.NewHandler(logOut, &tint.Options{Level: level, TimeFormat: time.TimeOnly}))

	cfg := &runner.Config{Output: os.Stdout, Logger: logger}
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
	} else {
		env, err := config.Load(*envFile)
		if err != nil {
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
		cfg.ProtocolLogger = fl
	}

	r, err := runner.New(cfg)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Prepare(ctx); err != nil {
		return err
	}

	names := cfg.Env.BrokerNames()
	if *brokers != "" {
		names = nil
		for _, b := range strings.Split(*brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				names = append(names, b)
			}
		}
	}
	session, err := r.OpenSession(ctx, names)
	if err != nil {
		return err
	}
	// Teardown must still reach the plugin after an interrupt.
	defer session.Close(context.WithoutCancel(ctx))

	console, err := NewConsole(r, session)
	if err != nil {
		return err
	}
	logOut.Set(console.Stdout())

	fmt.Fprintf(console.Stdout(), "Jeedom %s at %s, brokers %s\n", r.Version(), cfg.Env.Jeedom.URL, strings.Join(names, ", "))
	console.Run(ctx)
	return nil
}

// switchWriter lets log lines go through readline once the prompt is up.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}
