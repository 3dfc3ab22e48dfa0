package runner

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/domotruc/jmqtt-test/internal/testharness/engine"
	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
	"github.com/domotruc/jmqtt-test/pkg/capture"
	plog "github.com/domotruc/jmqtt-test/pkg/log"
	"github.com/domotruc/jmqtt-test/pkg/refstore"
	"github.com/domotruc/jmqtt-test/pkg/transport"
)

const (
	defaultQuiet   = 300 * time.Millisecond
	defaultSettle  = 5 * time.Second
	retainedSettle = 100 * time.Millisecond
)

type captureEntry struct {
	broker string
	c      *capture.Capture
}

func (r *Runner) registerMQTTHandlers() {
	r.engine.RegisterHandler("publish", r.handlePublish)
	r.engine.RegisterHandler("expect_included", r.handleExpectIncluded)
	r.engine.RegisterHandler("capture_start", r.handleCaptureStart)
	r.engine.RegisterHandler("capture_wait", r.handleCaptureWait)
	r.engine.RegisterHandler("capture_expect", r.handleCaptureExpect)
	r.engine.RegisterHandler("capture_expect_status", r.handleCaptureExpectStatus)
	r.engine.RegisterHandler("capture_has_topic", r.handleCaptureHasTopic)
	r.engine.RegisterHandler("capture_not_has_topic", r.handleCaptureNotHasTopic)
	r.engine.RegisterHandler("capture_last", r.handleCaptureLast)
	r.engine.RegisterHandler("capture_reset", r.handleCaptureReset)
	r.engine.RegisterHandler("capture_stop", r.handleCaptureStop)
}

// publisher returns the connection the harness publishes with on a
// broker, connecting on first use.
func (r *Runner) publisher(ctx context.Context, broker string) (transport.Conn, error) {
	if c, ok := r.publishers[broker]; ok && c.IsConnected() {
		return c, nil
	}
	addr, err := r.address(broker)
	if err != nil {
		return nil, err
	}
	c, err := transport.Dial(ctx, addr, transport.Options{
		ClientID: r.config.Env.Harness.ClientID + "_pub",
		Timeout:  r.config.Env.Harness.RequestTimeout,
		Factory:  r.config.Factory,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, Infrastructure(err)
	}
	r.publishers[broker] = c
	return c, nil
}

// handlePublish publishes a message as an external device would and
// mirrors its reception by the plugin.
func (r *Runner) handlePublish(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	broker, err := r.brokerParam(step.Params)
	if err != nil {
		return nil, err
	}
	t, err := requireString(step.Params, ParamTopic)
	if err != nil {
		return nil, err
	}
	payload := paramPayload(step.Params, ParamPayload)
	retain := paramBool(step.Params, ParamRetain, false)

	var conn transport.Conn
	err = retryWithBackoff(ctx, RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}, func() error {
		var err error
		conn, err = r.publisher(ctx, broker)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := transport.Publish(ctx, conn, t, payload, retain, r.config.Env.Harness.RequestTimeout); err != nil {
		return nil, Infrastructure(err)
	}
	r.rec.Publication(plog.DirectionOut, t, payload, retain)

	if err := r.published(broker, refstore.Message{Topic: t, Payload: string(payload)}, state); err != nil {
		return nil, err
	}
	return map[string]any{
		KeyTopic:       t,
		KeyPayload:     string(payload),
		KeyPublishedAt: state.Custom[customLastPublish].(time.Time).Format(time.RFC3339Nano),
	}, nil
}

// handleExpectIncluded listens to a broker for a while and adds to the
// reference the equipment the plugin includes from that traffic.
func (r *Runner) handleExpectIncluded(ctx context.Context, step *loader.Step, _ *engine.ExecutionState) (map[string]any, error) {
	broker, err := r.brokerParam(step.Params)
	if err != nil {
		return nil, err
	}
	d, err := paramDuration(step.Params, ParamDuration, time.Second)
	if err != nil {
		return nil, err
	}
	b, err := r.store.Broker(broker)
	if err != nil {
		return nil, err
	}

	c, err := r.newCapture(ctx, broker, "#")
	if err != nil {
		return nil, err
	}
	defer c.Close()
	if err := c.Receive(ctx, d); err != nil {
		return nil, err
	}

	before := make(map[string]bool, len(b.Eqpts))
	for _, e := range b.Eqpts {
		before[e.Name] = true
	}
	was := r.include[broker]
	r.include[broker] = true
	defer func() { r.include[broker] = was }()

	for _, m := range c.Messages() {
		if err := r.mirrorMessage(broker, refstore.Message{Topic: m.Topic, Payload: string(m.Payload)}); err != nil {
			return nil, err
		}
	}

	added := []string{}
	for _, e := range b.Eqpts {
		if !before[e.Name] {
			added = append(added, e.Name)
		}
	}
	slices.Sort(added)
	return map[string]any{KeyAdded: added, KeyCount: len(added)}, nil
}

func (r *Runner) newCapture(ctx context.Context, broker, filter string) (*capture.Capture, error) {
	addr, err := r.address(broker)
	if err != nil {
		return nil, err
	}
	c, err := capture.New(ctx, capture.Config{
		Broker:         broker,
		Address:        addr,
		ClientID:       r.config.Env.Harness.ClientID + "_capture",
		Timeout:        r.config.Env.Harness.RequestTimeout,
		Factory:        r.config.Factory,
		Logger:         r.logger,
		ProtocolLogger: r.config.ProtocolLogger,
	}, filter)
	if err != nil {
		return nil, Infrastructure(err)
	}
	return c, nil
}

func captures(state *engine.ExecutionState) map[string]*captureEntry {
	m, _ := state.Custom[customCaptures].(map[string]*captureEntry)
	if m == nil {
		m = make(map[string]*captureEntry)
		state.Custom[customCaptures] = m
	}
	return m
}

func closeCaptures(state *engine.ExecutionState) {
	for name, e := range captures(state) {
		e.c.Close()
		delete(captures(state), name)
	}
}

func lookupCapture(params map[string]any, state *engine.ExecutionState) (*captureEntry, error) {
	name := paramString(params, ParamCapture, defaultCapture)
	e, ok := captures(state)[name]
	if !ok {
		return nil, fmt.Errorf("no capture named %q", name)
	}
	return e, nil
}

// handleCaptureStart subscribes a named capture. With retained: false the
// retained messages delivered on subscription are dropped, so only live
// traffic is kept.
func (r *Runner) handleCaptureStart(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	broker, err := r.brokerParam(step.Params)
	if err != nil {
		return nil, err
	}
	name := paramString(step.Params, ParamCapture, defaultCapture)
	filter := paramString(step.Params, ParamFilter, "#")
	if _, ok := captures(state)[name]; ok {
		return nil, fmt.Errorf("capture %q already started", name)
	}

	c, err := r.newCapture(ctx, broker, filter)
	if err != nil {
		return nil, err
	}
	if !paramBool(step.Params, ParamRetained, true) {
		if _, err := c.AwaitSettled(ctx, retainedSettle, time.Second); err != nil {
			c.Close()
			return nil, err
		}
		c.Reset()
	}
	captures(state)[name] = &captureEntry{broker: broker, c: c}
	return map[string]any{KeyCount: c.Len(), KeyTopic: filter}, nil
}

// handleCaptureWait keeps capturing for a duration, or until the traffic
// has been quiet for "quiet" (bounded by "limit").
func (r *Runner) handleCaptureWait(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	e, err := lookupCapture(step.Params, state)
	if err != nil {
		return nil, err
	}
	if _, ok := step.Params[ParamDuration]; ok {
		d, err := paramDuration(step.Params, ParamDuration, 0)
		if err != nil {
			return nil, err
		}
		if err := e.c.Receive(ctx, d); err != nil {
			return nil, err
		}
		return map[string]any{KeyCount: e.c.Len()}, nil
	}
	n, err := r.settle(ctx, e.c, step.Params)
	if err != nil {
		return nil, err
	}
	return map[string]any{KeyCount: n}, nil
}

func (r *Runner) settle(ctx context.Context, c *capture.Capture, params map[string]any) (int, error) {
	quiet, err := paramDuration(params, ParamQuiet, defaultQuiet)
	if err != nil {
		return 0, err
	}
	limit, err := paramDuration(params, ParamLimit, defaultSettle)
	if err != nil {
		return 0, err
	}
	return c.AwaitSettled(ctx, quiet, limit)
}

// handleCaptureExpect checks the captured traffic: the exact message list
// ("messages", a list of {topic, payload}), or the payloads seen on the
// topics matching "filter".
func (r *Runner) handleCaptureExpect(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	e, err := lookupCapture(step.Params, state)
	if err != nil {
		return nil, err
	}
	n, err := r.settle(ctx, e.c, step.Params)
	if err != nil {
		return nil, err
	}
	out := map[string]any{KeyCount: n}

	if raw, ok := step.Params[ParamMessages].([]any); ok {
		want := make([]capture.Expected, 0, len(raw))
		for i, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("messages[%d]: not a mapping", i)
			}
			want = append(want, capture.Expected{
				Topic:   paramString(m, ParamTopic, ""),
				Payload: paramString(m, ParamPayload, ""),
			})
		}
		return out, e.c.AssertMessages(want)
	}

	filter := paramString(step.Params, ParamFilter, e.c.Filter())
	return out, e.c.AssertPayloads(filter, paramStrings(step.Params, ParamPayloads))
}

// handleCaptureExpectStatus checks the status messages recorded by the
// last daemon change of the capture broker.
func (r *Runner) handleCaptureExpectStatus(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	e, err := lookupCapture(step.Params, state)
	if err != nil {
		return nil, err
	}
	broker := paramString(step.Params, ParamBroker, e.broker)
	payloads, err := expectedStatus(state, broker)
	if err != nil {
		return nil, err
	}
	b, err := r.store.Broker(broker)
	if err != nil {
		return nil, err
	}
	if _, err := r.settle(ctx, e.c, step.Params); err != nil {
		return nil, err
	}
	out := map[string]any{KeyStatus: payloads, KeyTopic: b.StatusTopic()}
	return out, e.c.AssertMessages(capture.StatusMessages(b.StatusTopic(), payloads))
}

func (r *Runner) handleCaptureHasTopic(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	e, err := lookupCapture(step.Params, state)
	if err != nil {
		return nil, err
	}
	filter, err := requireString(step.Params, ParamTopic)
	if err != nil {
		return nil, err
	}
	if _, err := r.settle(ctx, e.c, step.Params); err != nil {
		return nil, err
	}
	return map[string]any{KeyCount: len(e.c.OnTopic(filter))}, e.c.AssertHasTopic(filter)
}

func (r *Runner) handleCaptureNotHasTopic(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	e, err := lookupCapture(step.Params, state)
	if err != nil {
		return nil, err
	}
	filter, err := requireString(step.Params, ParamTopic)
	if err != nil {
		return nil, err
	}
	if _, err := r.settle(ctx, e.c, step.Params); err != nil {
		return nil, err
	}
	return map[string]any{KeyCount: len(e.c.OnTopic(filter))}, e.c.AssertNotHasTopic(filter)
}

// handleCaptureLast outputs the last captured message, for checks with
// payload_json or value_equals.
func (r *Runner) handleCaptureLast(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	e, err := lookupCapture(step.Params, state)
	if err != nil {
		return nil, err
	}
	if _, err := r.settle(ctx, e.c, step.Params); err != nil {
		return nil, err
	}
	msgs := e.c.Messages()
	if f := paramString(step.Params, ParamTopic, ""); f != "" {
		msgs = e.c.OnTopic(f)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("capture %s: no message", e.c.Filter())
	}
	m := msgs[len(msgs)-1]
	topics := make([]string, 0, len(msgs))
	for _, x := range msgs {
		topics = append(topics, x.Topic)
	}
	return map[string]any{
		KeyTopic:   m.Topic,
		KeyPayload: string(m.Payload),
		KeyTopics:  topics,
		KeyCount:   len(msgs),
	}, nil
}

func (r *Runner) handleCaptureReset(_ context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	e, err := lookupCapture(step.Params, state)
	if err != nil {
		return nil, err
	}
	e.c.Reset()
	return nil, nil
}

func (r *Runner) handleCaptureStop(_ context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]any, error) {
	e, err := lookupCapture(step.Params, state)
	if err != nil {
		return nil, err
	}
	n := e.c.Len()
	e.c.Close()
	delete(captures(state), paramString(step.Params, ParamCapture, defaultCapture))
	return map[string]any{KeyCount: n}, nil
}
