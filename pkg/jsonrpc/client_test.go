package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domotruc/jmqtt-test/pkg/channel"
	plog "github.com/domotruc/jmqtt-test/pkg/log"
)

type memLogger struct {
	mu     sync.Mutex
	events []plog.Event
}

func (m *memLogger) Log(e plog.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func newServer(t *testing.T, handle func(req Request) (any, *ErrorObject)) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/"+Endpoint, func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Params["apikey"] != "secret" {
			_ = json.NewEncoder(w).Encode(Response{JSONRPC: Version, Error: &ErrorObject{Code: -32001, Message: "Vous n'êtes pas autorisé à effectuer cette action"}})
			return
		}
		result, e := handle(req)
		resp := Response{JSONRPC: Version, ID: json.RawMessage(`"` + req.ID + `"`), Error: e}
		if e == nil {
			resp.Result, _ = json.Marshal(result)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestCallResult(t *testing.T) {
	var ids []string
	srv := newServer(t, func(req Request) (any, *ErrorObject) {
		ids = append(ids, req.ID)
		assert.Equal(t, Version, req.JSONRPC)
		switch req.Method {
		case "ping":
			return "pong", nil
		case "eqLogic::byId":
			return map[string]any{"id": req.Params["id"], "name": "e"}, nil
		}
		return nil, &ErrorObject{Code: -32601, Message: "Method not found"}
	})

	pl := &memLogger{}
	c, err := New(Config{URL: srv.URL + "/", APIKey: "secret", ProtocolLogger: pl})
	require.NoError(t, err)

	api := c.Channel()
	require.NoError(t, api.Ping(context.Background()))

	eq, err := api.FetchEquipment(context.Background(), "12")
	require.NoError(t, err)
	assert.Equal(t, "e", eq.Str("name"))
	assert.Equal(t, []string{"0", "1"}, ids)

	require.Len(t, pl.events, 4)
	assert.NotContains(t, string(pl.events[0].Message.Payload), "secret")
	assert.Equal(t, plog.MessageTypeResponse, pl.events[1].Message.Type)
}

func TestCallErrorEnvelope(t *testing.T) {
	srv := newServer(t, func(Request) (any, *ErrorObject) {
		return nil, &ErrorObject{Code: -32601, Message: "Method not found"}
	})
	c, err := New(Config{URL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "nope", nil)
	var env *channel.ErrorEnvelope
	require.True(t, errors.As(err, &env))
	assert.Equal(t, channel.JSONRPC, env.Channel)
	assert.Equal(t, "nope", env.Method)
	assert.Equal(t, -32601, env.Code)

	bad, err := New(Config{URL: srv.URL, APIKey: "wrong"})
	require.NoError(t, err)
	_, err = bad.Call(context.Background(), "ping", nil)
	require.True(t, errors.As(err, &env))
	assert.Equal(t, -32001, env.Code)
}

func TestCallEmptyBodyAndHTTPError(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/"+Endpoint, func(http.ResponseWriter, *http.Request) {})
	r.Post("/broken/"+Endpoint, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c, err := New(Config{URL: srv.URL})
	require.NoError(t, err)
	_, err = c.Call(context.Background(), "ping", nil)
	assert.ErrorIs(t, err, channel.ErrNoResponse)

	broken, err := New(Config{URL: srv.URL + "/broken"})
	require.NoError(t, err)
	_, err = broken.Call(context.Background(), "ping", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")

	_, err = New(Config{})
	assert.Error(t, err)
}

func TestDecodeResponse(t *testing.T) {
	resp, err := DecodeResponse(channel.MQTT, "version", []byte(`{"jsonrpc":"2.0","id":"3","result":"4.4.9"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `"4.4.9"`, string(resp.Result))

	_, err = DecodeResponse(channel.MQTT, "version", []byte(`{`))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, channel.ErrNoResponse))
}
