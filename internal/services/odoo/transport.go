package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/kolo/xmlrpc"
)

// Transport sends one service call to Odoo and decodes the result into reply
type Transport interface {
	Call(ctx context.Context, service, method string, args []interface{}, reply interface{}) error
}

// JSONRPCTransport speaks JSON-RPC 2.0 to {url}/jsonrpc
type JSONRPCTransport struct {
	url    string
	client *http.Client
	seq    atomic.Int64
}

// NewJSONRPCTransport creates a JSON-RPC transport
func NewJSONRPCTransport(baseURL string, client *http.Client) *JSONRPCTransport {
	return &JSONRPCTransport{
		url:    strings.TrimRight(baseURL, "/") + "/jsonrpc",
		client: client,
	}
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  jsonRPCParams `json:"params"`
	ID      int64         `json:"id"`
}

type jsonRPCParams struct {
	Service string        `json:"service"`
	Method  string        `json:"method"`
	Args    []interface{} `json:"args"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Name    string `json:"name"`
			Message string `json:"message"`
			Debug   string `json:"debug"`
		} `json:"data"`
	} `json:"error"`
}

// Call implements Transport
func (t *JSONRPCTransport) Call(ctx context.Context, service, method string, args []interface{}, reply interface{}) error {
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  jsonRPCParams{Service: service, Method: method, Args: args},
		ID:      t.seq.Add(1),
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TransportError{StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(snippet)))}
	}

	var decoded jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return &TransportError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if decoded.Error != nil {
		msg := decoded.Error.Data.Message
		if msg == "" {
			msg = decoded.Error.Message
		}
		return &RPCError{
			Code:    decoded.Error.Code,
			Message: msg,
			Name:    decoded.Error.Data.Name,
			Debug:   decoded.Error.Data.Debug,
		}
	}

	if reply == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, reply); err != nil {
		return fmt.Errorf("failed to decode %s.%s result: %w", service, method, err)
	}
	return nil
}

// XMLRPCTransport speaks XML-RPC to {url}/xmlrpc/2/{service}
type XMLRPCTransport struct {
	baseURL   string
	transport http.RoundTripper
}

// NewXMLRPCTransport creates an XML-RPC transport
func NewXMLRPCTransport(baseURL string, client *http.Client) *XMLRPCTransport {
	rt := client.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &XMLRPCTransport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: rt,
	}
}

// Call implements Transport. Results are decoded generically and then
// converted through JSON so both transports fill the same reply types.
func (t *XMLRPCTransport) Call(ctx context.Context, service, method string, args []interface{}, reply interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := xmlrpc.NewClient(fmt.Sprintf("%s/xmlrpc/2/%s", t.baseURL, service), t.transport)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("failed to create XML-RPC client: %w", err)}
	}
	defer client.Close()

	var raw interface{}
	if err := client.Call(method, args, &raw); err != nil {
		var fault xmlrpc.FaultError
		if errors.As(err, &fault) {
			return faultToRPCError(fault)
		}
		return &TransportError{Err: err}
	}

	if reply == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal raw result: %w", err)
	}
	if err := json.Unmarshal(data, reply); err != nil {
		return fmt.Errorf("failed to decode %s.%s result: %w", service, method, err)
	}
	return nil
}

// faultToRPCError maps an XML-RPC fault; Odoo puts the traceback in the fault string
func faultToRPCError(fault xmlrpc.FaultError) *RPCError {
	msg := strings.TrimSpace(fault.String)
	name := ""
	lines := strings.Split(msg, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if idx := strings.Index(last, ": "); idx > 0 && strings.Contains(last[:idx], ".") {
		name = last[:idx]
		msg = last[idx+2:]
	}
	return &RPCError{Code: fault.Code, Message: msg, Name: name, Debug: fault.String}
}
