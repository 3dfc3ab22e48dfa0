package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/domotruc/jmqtt-test/pkg/channel"
)

// Version is the JSON-RPC protocol version sent in every request.
const Version = "2.0"

// Request is a JSON-RPC request. Topic is only set on the MQTT transport,
// where it names the topic the answer must be published to.
type Request struct {
	JSONRPC string         `json:"jsonrpc,omitempty"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Topic   string         `json:"topic,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

// ErrorObject is the error member of a response.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// DecodeResponse parses a response body and turns an error member into an
// *channel.ErrorEnvelope. An empty body wraps channel.ErrNoResponse.
func DecodeResponse(ch channel.ID, method string, body []byte) (*Response, error) {
	if len(body) == 0 {
		return nil, channel.NoResponse(ch, method)
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%s %s: invalid response: %w", ch, method, err)
	}
	if resp.Error != nil {
		return &resp, &channel.ErrorEnvelope{
			Channel: ch,
			Method:  method,
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
		}
	}
	return &resp, nil
}
