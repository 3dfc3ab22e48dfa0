// Package jsonrpc implements the Jeedom JSON-RPC API client.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/domotruc/jmqtt-test/pkg/channel"
	plog "github.com/domotruc/jmqtt-test/pkg/log"
)

// Endpoint is the path of the JSON-RPC API below the Jeedom base URL.
const Endpoint = "core/api/jeeApi.php"

// DefaultTimeout bounds one HTTP exchange.
const DefaultTimeout = 10 * time.Second

// Config configures a Client.
type Config struct {
	// URL is the Jeedom base URL, e.g. http://jeedom.local/.
	URL string

	// APIKey is sent as the apikey parameter of every request.
	APIKey string

	// Timeout bounds one request. Zero means DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the HTTP client.
	HTTPClient *http.Client

	Logger         *slog.Logger
	ProtocolLogger plog.Logger
}

// Client calls the JSON-RPC API. It is safe for concurrent use.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
	rec      *plog.Recorder

	mu     sync.Mutex
	nextID int
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("jsonrpc: empty Jeedom URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := strings.TrimSuffix(cfg.URL, "/") + "/" + Endpoint
	return &Client{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		http:     hc,
		logger:   logger.With("channel", channel.JSONRPC),
		rec:      plog.NewRecorder(cfg.ProtocolLogger, plog.ChannelJSONRPC, "", endpoint),
	}, nil
}

// Channel returns the channel adapter over this client.
func (c *Client) Channel() *channel.API {
	return channel.NewAPI(channel.JSONRPC, c)
}

func (c *Client) id() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := strconv.Itoa(c.nextID)
	c.nextID++
	return id
}

// Call performs one request and returns its result member.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	p := make(map[string]any, len(params)+1)
	for k, v := range params {
		p[k] = v
	}
	p["apikey"] = c.apiKey
	req := Request{JSONRPC: Version, ID: c.id(), Method: method, Params: p}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: encode request: %w", channel.JSONRPC, method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.rec.Request(req.ID, method, "", redact(body, c.apiKey))
	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.rec.Error(method, err, nil)
		return nil, fmt.Errorf("%s %s: %w", channel.JSONRPC, method, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", channel.JSONRPC, method, err)
	}
	took := time.Since(start)
	c.rec.Response(req.ID, method, "", data, took)
	c.logger.Debug("call", "method", method, "id", req.ID, "status", httpResp.StatusCode, "took", took)

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: HTTP %s", channel.JSONRPC, method, httpResp.Status)
	}

	resp, err := DecodeResponse(channel.JSONRPC, method, data)
	if err != nil {
		if resp != nil && resp.Error != nil {
			code := resp.Error.Code
			c.rec.Error(method, err, &code)
		}
		return nil, err
	}
	return resp.Result, nil
}

// redact hides the API key in logged request bodies.
func redact(body []byte, key string) []byte {
	if key == "" {
		return body
	}
	return bytes.ReplaceAll(body, []byte(strconv.Quote(key)), []byte(`"***"`))
}

var _ channel.Caller = (*Client)(nil)
