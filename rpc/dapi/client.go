/*
Package dapi provides JSON-RPC client of the document platform.

Client implements [platform.Platform]. Identifiers are passed in base58,
binary values in base64, hashes in hex. Server reports missing entities with
[CodeNotFound] code and rejected state transitions with [CodeRejected] code
carrying rejection reason in the error data.
*/
package dapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/identity"
	"github.com/nspcc-dev/docstate/internal/jsonrpc"
	"github.com/nspcc-dev/docstate/platform"
	"github.com/nspcc-dev/docstate/schema"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"go.uber.org/zap"
)

// Error codes specific to the platform.
const (
	CodeNotFound int64 = -404
	CodeRejected int64 = -409
)

// DefaultContractCacheSize is a default number of cached data contracts.
const DefaultContractCacheSize = 100

// Method names.
const (
	methodGetIdentity     = "getIdentity"
	methodGetDataContract = "getDataContract"
	methodGetDocument     = "getDocument"
	methodBroadcast       = "broadcastStateTransition"
	methodWaitForResult   = "waitForStateTransitionResult"
)

// Prm groups parameters of the Client.
type Prm struct {
	Logger *zap.Logger

	// Platform JSON-RPC endpoint URL.
	Endpoint string

	// Optional HTTP client.
	HTTPClient *http.Client

	// Capacity of the data contract cache. Defaults to
	// DefaultContractCacheSize.
	ContractCacheSize int
}

// Client is a JSON-RPC [platform.Platform]. Data contracts are immutable, so
// they are cached. Client is safe for concurrent use.
type Client struct {
	log       *zap.Logger
	rpc       *jsonrpc.Client
	contracts *lru.Cache[identifier.ID, *schema.DataContract]
}

// New constructs Client from the given parameters.
func New(prm Prm) (*Client, error) {
	if prm.Endpoint == "" {
		return nil, fmt.Errorf("missing platform endpoint")
	}

	size := prm.ContractCacheSize
	if size <= 0 {
		size = DefaultContractCacheSize
	}

	cache, err := lru.New[identifier.ID, *schema.DataContract](size)
	if err != nil {
		return nil, fmt.Errorf("init data contract cache: %w", err)
	}

	log := prm.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		log:       log,
		rpc:       jsonrpc.New(jsonrpc.Prm{Endpoint: prm.Endpoint, HTTPClient: prm.HTTPClient}),
		contracts: cache,
	}, nil
}

// FetchIdentity implements [platform.Platform].
func (x *Client) FetchIdentity(ctx context.Context, id identifier.ID) (*identity.Identity, error) {
	var res identity.Identity

	err := x.rpc.Call(ctx, methodGetIdentity, []any{id}, &res)
	if err != nil {
		return nil, convertError("get identity", err, false)
	}

	if res.ID != id {
		return nil, fmt.Errorf("get identity: response for %s instead of %s", res.ID, id)
	}

	return &res, nil
}

// FetchDataContract implements [platform.Platform].
func (x *Client) FetchDataContract(ctx context.Context, id identifier.ID) (*schema.DataContract, error) {
	if c, ok := x.contracts.Get(id); ok {
		return c, nil
	}

	var raw json.RawMessage

	err := x.rpc.Call(ctx, methodGetDataContract, []any{id}, &raw)
	if err != nil {
		return nil, convertError("get data contract", err, false)
	}

	c, err := schema.ParseDataContract(raw)
	if err != nil {
		return nil, fmt.Errorf("get data contract: %w", err)
	}

	if c.ID != id {
		return nil, fmt.Errorf("get data contract: response for %s instead of %s", c.ID, id)
	}

	x.contracts.Add(id, c)
	x.log.Debug("data contract cached", zap.Stringer("contract", id))

	return c, nil
}

// FetchDocument implements [platform.Platform].
func (x *Client) FetchDocument(ctx context.Context, contract identifier.ID, typeName string, id identifier.ID) (*document.Document, error) {
	typ, err := x.documentType(ctx, contract, typeName)
	if err != nil {
		return nil, err
	}

	var rec DocumentRecord

	err = x.rpc.Call(ctx, methodGetDocument, []any{contract, typeName, id}, &rec)
	if err != nil {
		return nil, convertError("get document", err, false)
	}

	if rec.ID != id {
		return nil, fmt.Errorf("get document: response for %s instead of %s", rec.ID, id)
	}

	doc, err := rec.Document(typ)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	return doc, nil
}

// BroadcastStateTransition implements [platform.Platform].
func (x *Client) BroadcastStateTransition(ctx context.Context, st []byte) error {
	err := x.rpc.Call(ctx, methodBroadcast, []any{st}, nil)
	if err != nil {
		return convertError("broadcast", err, true)
	}

	return nil
}

// WaitForStateTransitionResult implements [platform.Platform].
func (x *Client) WaitForStateTransitionResult(ctx context.Context, stHash util.Uint256) (*platform.Result, error) {
	var rec ResultRecord

	err := x.rpc.Call(ctx, methodWaitForResult, []any{stHash}, &rec)
	if err != nil {
		return nil, convertError("wait for result", err, true)
	}

	typ, err := x.documentType(ctx, rec.Document.ContractID, rec.Document.DocumentType)
	if err != nil {
		return nil, err
	}

	doc, err := rec.Document.Document(typ)
	if err != nil {
		return nil, fmt.Errorf("wait for result: %w", err)
	}

	return &platform.Result{
		Document:        doc,
		BlockHeight:     rec.BlockHeight,
		CoreBlockHeight: rec.CoreBlockHeight,
		QuorumHash:      rec.QuorumHash,
		QuorumSignature: rec.QuorumSignature,
	}, nil
}

func (x *Client) documentType(ctx context.Context, contract identifier.ID, name string) (*schema.DocumentType, error) {
	c, err := x.FetchDataContract(ctx, contract)
	if err != nil {
		return nil, err
	}

	return c.DocumentType(name)
}

// convertError maps server errors to the platform ones. Any other failure
// is a transport one.
func convertError(op string, err error, delivered bool) error {
	e, ok := jsonrpc.ServerError(err)
	if !ok {
		return &platform.NetworkError{Op: op, Err: err, Delivered: delivered}
	}

	switch e.Code {
	case CodeNotFound:
		return fmt.Errorf("%s: %w: %s", op, platform.ErrNotFound, e.Message)
	case CodeRejected:
		return &platform.RejectedError{Reason: platform.ParseRejectReason(e.Data), Message: e.Message}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
