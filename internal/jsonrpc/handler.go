package jsonrpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nspcc-dev/neo-go/pkg/neorpc"
)

// Method serves single JSON-RPC method. Returned *neorpc.Error is sent to the
// client as is, any other error is reported as internal one.
type Method func(r *http.Request, params []json.RawMessage) (any, error)

// Handler is an http.Handler dispatching JSON-RPC requests by method names.
type Handler map[string]Method

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *neorpc.Error   `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler.
func (x Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxResponseSize)).Decode(&req)
	if err != nil {
		writeResponse(w, response{Error: neorpc.NewError(neorpc.BadRequestCode, "Parse error", err.Error())})
		return
	}

	resp := response{ID: req.ID}

	m, ok := x[req.Method]
	if !ok {
		resp.Error = neorpc.NewError(neorpc.MethodNotFoundCode, "Method not found", req.Method)
		writeResponse(w, resp)
		return
	}

	res, err := m(r, req.Params)
	if err != nil {
		var rpcErr *neorpc.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = neorpc.NewError(neorpc.InternalServerErrorCode, "Internal error", err.Error())
		}
		resp.Error = rpcErr
	} else {
		resp.Result = res
	}

	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp response) {
	resp.JSONRPC = neorpc.JSONRPCVersion
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
