// Package jsonrpc provides minimal JSON-RPC 2.0 client over HTTP.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/nspcc-dev/neo-go/pkg/neorpc"
)

// maxResponseSize limits response bodies read by the Client.
const maxResponseSize = 16 << 20

// ErrUnexpectedStatus is returned on HTTP responses with non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// Prm groups parameters of the Client.
type Prm struct {
	// Endpoint URL, e.g. http://localhost:1443.
	Endpoint string

	// HTTP client to send requests with. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Optional basic authentication credentials.
	User     string
	Password string
}

// Client sends JSON-RPC requests to the single endpoint. Client is safe for
// concurrent use.
type Client struct {
	prm    Prm
	nextID atomic.Uint64
}

// New constructs Client from the given parameters.
func New(prm Prm) *Client {
	if prm.HTTPClient == nil {
		prm.HTTPClient = http.DefaultClient
	}

	return &Client{prm: prm}
}

// Call invokes method with the given parameters and decodes its result into
// res if it is not nil. Errors returned by the server are *neorpc.Error, any
// other error is a transport failure.
func (x *Client) Call(ctx context.Context, method string, params []any, res any) error {
	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(neorpc.Request{
		JSONRPC: neorpc.JSONRPCVersion,
		Method:  method,
		Params:  params,
		ID:      x.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.prm.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("make HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if x.prm.User != "" || x.prm.Password != "" {
		req.SetBasicAuth(x.prm.User, x.prm.Password)
	}

	resp, err := x.prm.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("send HTTP request: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read HTTP response: %w", err)
	}

	var r neorpc.Response

	err = json.Unmarshal(raw, &r)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if r.Error != nil {
		return r.Error
	}

	if res == nil {
		return nil
	}

	err = json.Unmarshal(r.Result, res)
	if err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}

	return nil
}

// ServerError extracts error returned by the server. The second value is
// false if err is not an RPC-level error.
func ServerError(err error) (*neorpc.Error, bool) {
	var e *neorpc.Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
