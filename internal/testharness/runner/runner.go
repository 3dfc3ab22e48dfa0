// Package runner executes jMQTT scenarios against a live Jeedom.
//
// Every step mirrors its action in a reference store, performs it on the
// plugin through an action driver, the MQTT brokers or the APIs, and the
// assertion steps reconcile the store with what the plugin reports. A new
// store is created for each scenario.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/domotruc/jmqtt-test/internal/testharness/engine"
	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
	"github.com/domotruc/jmqtt-test/internal/testharness/reporter"
	"github.com/domotruc/jmqtt-test/pkg/channel"
	"github.com/domotruc/jmqtt-test/pkg/config"
	"github.com/domotruc/jmqtt-test/pkg/dom"
	"github.com/domotruc/jmqtt-test/pkg/jsonrpc"
	plog "github.com/domotruc/jmqtt-test/pkg/log"
	"github.com/domotruc/jmqtt-test/pkg/metrics"
	"github.com/domotruc/jmqtt-test/pkg/mqttapi"
	"github.com/domotruc/jmqtt-test/pkg/reconcile"
	"github.com/domotruc/jmqtt-test/pkg/refstore"
	"github.com/domotruc/jmqtt-test/pkg/transport"
	"github.com/domotruc/jmqtt-test/pkg/version"
)

// Runner executes scenarios against the plugin described by an
// environment.
type Runner struct {
	config   *Config
	engine   *engine.Engine
	reporter reporter.Reporter
	logger   *slog.Logger
	rec      *plog.Recorder

	rpc     *jsonrpc.Client
	api     *channel.API
	pool    *mqttapi.Pool
	driver  reconcile.ActionDriver
	version version.Jeedom

	// Per scenario state, reset by setupTest.
	store         *refstore.Store
	reconciler    *reconcile.Engine
	defaultBroker string
	added         []string
	addresses     map[string]transport.Broker
	include       map[string]bool

	publishers map[string]transport.Conn
}

// Config configures the runner.
type Config struct {
	// Env describes the Jeedom host and its brokers.
	Env *config.Config

	// TestDir is the scenario directory, read recursively.
	TestDir string

	// IDs keeps the scenarios matching one of these patterns.
	IDs []string

	// Tags keeps the scenarios carrying one of these tags, ExcludeTags
	// drops those carrying any of them.
	Tags        []string
	ExcludeTags []string

	// Timeout is the default scenario timeout, StepTimeout the default
	// step timeout.
	Timeout     time.Duration
	StepTimeout time.Duration

	// SuiteTimeout bounds the whole run (0 = auto-calculate).
	SuiteTimeout time.Duration

	StopOnFirstFailure bool

	// Poll bounds the retries of assertion steps. Defaults to DefaultPoll.
	Poll PollConfig

	Verbose bool

	// Output is where results are written, in OutputFormat ("text",
	// "json" or "junit").
	Output       io.Writer
	OutputFormat string

	// Driver performs the plugin page actions. Steps needing it fail with
	// ErrNoDriver when nil.
	Driver reconcile.ActionDriver

	// Page is the rendered plugin page. Visual checks are skipped without
	// it.
	Page dom.Page

	// Factory creates the MQTT clients. Defaults to paho.
	Factory transport.Factory

	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// ProtocolLogger receives structured protocol events for debugging.
	// Set to nil to disable protocol logging.
	ProtocolLogger plog.Logger
}

// New creates a runner. No connection is opened before the first step
// needing it.
func New(cfg *Config) (*Runner, error) {
	if cfg.Env == nil {
		return nil, fmt.Errorf("runner: no environment")
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Poll.Attempts <= 0 {
		cfg.Poll = DefaultPoll
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rpc, err := jsonrpc.New(jsonrpc.Config{
		URL:            cfg.Env.Jeedom.URL,
		APIKey:         cfg.Env.Jeedom.APIKey,
		Timeout:        cfg.Env.Harness.RequestTimeout,
		HTTPClient:     cfg.HTTPClient,
		Logger:         logger,
		ProtocolLogger: cfg.ProtocolLogger,
	})
	if err != nil {
		return nil, err
	}

	r := &Runner{
		config:     cfg,
		logger:     logger.With("component", "runner"),
		rec:        plog.NewRecorder(cfg.ProtocolLogger, plog.ChannelUI, "", cfg.Env.Jeedom.URL),
		rpc:        rpc,
		api:        rpc.Channel(),
		driver:     cfg.Driver,
		publishers: make(map[string]transport.Conn),
	}
	if cfg.Env.Jeedom.Version != "" {
		r.version = version.MustParse(cfg.Env.Jeedom.Version)
		r.api.SetVersion(r.version)
	}

	configs := make(map[string]mqttapi.Config, len(cfg.Env.Brokers))
	for _, name := range cfg.Env.BrokerNames() {
		b := cfg.Env.Brokers[name]
		configs[name] = r.apiConfig(name, b.Transport(), b.ClientID)
	}
	r.pool = mqttapi.NewPool(configs)

	engineCfg := engine.DefaultConfig()
	if cfg.Timeout > 0 {
		engineCfg.DefaultTimeout = cfg.Timeout
	}
	if cfg.StepTimeout > 0 {
		engineCfg.StepTimeout = cfg.StepTimeout
	}
	engineCfg.SuiteTimeout = cfg.SuiteTimeout
	engineCfg.StopOnFirstFailure = cfg.StopOnFirstFailure
	engineCfg.JeedomVersion = r.version
	engineCfg.Setup = r.setupTest
	engineCfg.Teardown = r.teardownTest
	engineCfg.OnStepComplete = r.stepComplete
	r.engine = engine.NewWithConfig(engineCfg)
	engine.RegisterCheckers(r.engine)

	switch cfg.OutputFormat {
	case "json":
		r.reporter = reporter.NewJSONReporter(cfg.Output, true)
	case "junit":
		r.reporter = reporter.NewJUnitReporter(cfg.Output)
	default:
		r.reporter = reporter.NewTextReporter(cfg.Output, cfg.Verbose)
	}

	r.registerHandlers()
	r.resetStore()
	return r, nil
}

func (r *Runner) apiConfig(broker string, addr transport.Broker, jeedomClientID string) mqttapi.Config {
	return mqttapi.Config{
		Broker:         broker,
		Address:        addr,
		JeedomClientID: jeedomClientID,
		ClientID:       r.config.Env.Harness.ClientID,
		Timeout:        r.config.Env.Harness.RequestTimeout,
		Mirror:         r,
		Factory:        r.config.Factory,
		Logger:         r.logger,
		ProtocolLogger: r.config.ProtocolLogger,
	}
}

// registerHandlers registers every step action.
func (r *Runner) registerHandlers() {
	r.registerBrokerHandlers()
	r.registerEquipmentHandlers()
	r.registerCommandHandlers()
	r.registerMQTTHandlers()
	r.registerAssertHandlers()
	r.registerUtilityHandlers()
}

// Engine returns the step engine, to run single scenarios or list actions.
func (r *Runner) Engine() *engine.Engine { return r.engine }

// Store returns the reference store of the running scenario.
func (r *Runner) Store() *refstore.Store { return r.store }

// Version returns the Jeedom version, zero before Prepare.
func (r *Runner) Version() version.Jeedom { return r.version }

// Prepare checks the JSON-RPC API answers and resolves the Jeedom
// version when the environment does not set it.
func (r *Runner) Prepare(ctx context.Context) error {
	err := retryWithBackoff(ctx, RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}, func() error {
		return r.api.Ping(ctx)
	})
	if err != nil {
		return fmt.Errorf("jeedom %s: %w", r.config.Env.Jeedom.URL, err)
	}
	if !r.version.IsZero() {
		return nil
	}
	v, err := r.api.Version(ctx)
	if err != nil {
		return fmt.Errorf("jeedom version: %w", err)
	}
	r.version = v
	r.api.SetVersion(v)
	r.engine.Config().JeedomVersion = v
	r.logger.Info("jeedom version", "version", v.String())
	return nil
}

// Run loads the scenarios, runs them and reports the results.
func (r *Runner) Run(ctx context.Context) (*engine.SuiteResult, error) {
	cases, err := loader.LoadDirectoryRecursive(r.config.TestDir)
	if err != nil {
		return nil, err
	}
	cases = loader.FilterByTags(cases, r.config.Tags, r.config.ExcludeTags)
	cases = loader.FilterByID(cases, r.config.IDs)
	if len(cases) == 0 {
		return nil, fmt.Errorf("no scenario selected in %s", r.config.TestDir)
	}

	if err := r.Prepare(ctx); err != nil {
		return nil, err
	}

	r.logger.Info("running scenarios", "count", len(cases), "dir", r.config.TestDir)
	result := r.engine.RunSuite(ctx, "jMQTT", cases)
	r.reporter.ReportSuite(result)
	return result, nil
}

// Close releases every connection.
func (r *Runner) Close() {
	r.closePublishers()
	r.pool.Close()
}

func (r *Runner) closePublishers() {
	for name, c := range r.publishers {
		c.Disconnect(250)
		delete(r.publishers, name)
	}
}

func (r *Runner) resetStore() {
	r.store = refstore.New(refstore.Config{
		Version:         r.version,
		HarnessClientID: r.config.Env.Harness.ClientID,
		Objects:         r.api,
		Logger:          r.logger,
	})
	var page *dom.Adapter
	if r.config.Page != nil {
		page = dom.NewAdapter(r.config.Page)
	}
	r.reconciler = reconcile.New(reconcile.Config{
		Store:    r.store,
		JSONRPC:  r.api,
		MQTT:     r.mqttChannel,
		DOM:      page,
		Location: r.config.Env.Location(),
		Metrics:  r.config.Metrics,
		Logger:   r.logger,
	})
}

func (r *Runner) mqttChannel(broker string) (channel.Channel, error) {
	c, err := r.pool.Get(broker)
	if err != nil {
		return nil, err
	}
	return c.Channel(), nil
}

func (r *Runner) setupTest(ctx context.Context, tc *loader.TestCase, state *engine.ExecutionState) error {
	// Default orders depend on the core version.
	if r.version.IsZero() {
		if err := r.Prepare(ctx); err != nil {
			return err
		}
	}
	r.resetStore()
	r.added = nil
	r.addresses = make(map[string]transport.Broker)
	r.include = make(map[string]bool)

	r.defaultBroker = ""
	switch {
	case len(tc.Brokers) > 0:
		r.defaultBroker = tc.Brokers[0]
	case len(r.config.Env.Brokers) > 0:
		r.defaultBroker = r.config.Env.BrokerNames()[0]
	}
	for _, name := range tc.Brokers {
		if _, ok := r.config.Env.Brokers[name]; !ok {
			return fmt.Errorf("broker %s is not in the environment", name)
		}
	}

	state.Custom[customCaptures] = make(map[string]*captureEntry)
	r.logger.Debug("scenario setup", "id", tc.ID, "broker", r.defaultBroker)
	return nil
}

// teardownTest closes the captures and deletes the brokers the scenario
// added, so the next scenario starts from an empty plugin.
func (r *Runner) teardownTest(ctx context.Context, tc *loader.TestCase, state *engine.ExecutionState) {
	closeCaptures(state)
	r.closePublishers()

	for _, name := range slices.Backward(r.added) {
		label := r.label(name)
		if r.driver != nil {
			if err := r.driver.DeleteBroker(ctx, label); err != nil {
				r.logger.Warn("teardown: delete broker", "broker", label, "error", err)
			}
		}
		r.restoreAPIConfig(name)
	}
	r.added = nil
	r.logger.Debug("scenario teardown", "id", tc.ID)
}

func (r *Runner) restoreAPIConfig(broker string) {
	if b, ok := r.config.Env.Brokers[broker]; ok {
		r.pool.Set(broker, r.apiConfig(broker, b.Transport(), b.ClientID))
	}
}

func (r *Runner) stepComplete(tc *loader.TestCase, sr *engine.StepResult) {
	result := metrics.ResultPass
	if !sr.Passed {
		result = metrics.ResultFail
	}
	r.config.Metrics.ObserveStep(sr.Step.Action, result)
	if !sr.Passed {
		r.logger.Debug("step failed", "id", tc.ID, "step", sr.StepIndex+1, "action", sr.Step.Action, "error", sr.Error)
	}
}

// requireDriver returns the action driver or ErrNoDriver.
func (r *Runner) requireDriver() (reconcile.ActionDriver, error) {
	if r.driver == nil {
		return nil, ErrNoDriver
	}
	return r.driver, nil
}

// label returns the name the plugin shows for a broker: the broker
// equipment may have been renamed.
func (r *Runner) label(broker string) string {
	if b, err := r.store.Broker(broker); err == nil {
		return b.EquipmentName()
	}
	return broker
}

// address returns how the harness reaches a broker.
func (r *Runner) address(broker string) (transport.Broker, error) {
	if b, ok := r.config.Env.Brokers[broker]; ok {
		return b.Transport(), nil
	}
	if a, ok := r.addresses[broker]; ok {
		return a, nil
	}
	return transport.Broker{}, fmt.Errorf("broker %s: %w", broker, refstore.ErrNotFound)
}

// brokerParam returns the broker a step addresses, the scenario default
// when the step names none.
func (r *Runner) brokerParam(params map[string]any) (string, error) {
	if b := paramString(params, ParamBroker, ""); b != "" {
		return b, nil
	}
	if r.defaultBroker == "" {
		return "", fmt.Errorf("no broker given and no default broker")
	}
	return r.defaultBroker, nil
}

// MirrorRequest records an API request in the store of the running
// scenario.
func (r *Runner) MirrorRequest(broker string, payload []byte) error {
	return r.store.MirrorRequest(broker, payload)
}

// MirrorResponse records an API response in the store of the running
// scenario.
func (r *Runner) MirrorResponse(broker, t string, payload []byte) error {
	return r.store.MirrorResponse(broker, t, payload)
}

var _ mqttapi.Mirror = (*Runner)(nil)
