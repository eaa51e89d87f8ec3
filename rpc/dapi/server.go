package dapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/internal/jsonrpc"
	"github.com/nspcc-dev/docstate/platform"
	"github.com/nspcc-dev/docstate/transition"
	"github.com/nspcc-dev/neo-go/pkg/neorpc"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"go.uber.org/zap"
)

type documentTypeRef struct {
	contract identifier.ID
	name     string
}

// Server exposes [platform.Platform] over JSON-RPC understood by the Client.
type Server struct {
	log      *zap.Logger
	platform platform.Platform

	mtx         sync.Mutex
	transitions map[util.Uint256]documentTypeRef
}

// NewServer constructs Server serving the given platform.
func NewServer(log *zap.Logger, p platform.Platform) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		log:         log,
		platform:    p,
		transitions: make(map[util.Uint256]documentTypeRef),
	}
}

// Handler returns HTTP handler of the Server.
func (x *Server) Handler() http.Handler {
	return jsonrpc.Handler{
		methodGetIdentity:     x.getIdentity,
		methodGetDataContract: x.getDataContract,
		methodGetDocument:     x.getDocument,
		methodBroadcast:       x.broadcast,
		methodWaitForResult:   x.waitForResult,
	}
}

func (x *Server) getIdentity(r *http.Request, params []json.RawMessage) (any, error) {
	var id identifier.ID

	err := parseParams(params, &id)
	if err != nil {
		return nil, err
	}

	res, err := x.platform.FetchIdentity(r.Context(), id)
	if err != nil {
		return nil, serverError(err)
	}

	return res, nil
}

func (x *Server) getDataContract(r *http.Request, params []json.RawMessage) (any, error) {
	var id identifier.ID

	err := parseParams(params, &id)
	if err != nil {
		return nil, err
	}

	res, err := x.platform.FetchDataContract(r.Context(), id)
	if err != nil {
		return nil, serverError(err)
	}

	return res, nil
}

func (x *Server) getDocument(r *http.Request, params []json.RawMessage) (any, error) {
	var (
		contract, id identifier.ID
		typeName     string
	)

	err := parseParams(params, &contract, &typeName, &id)
	if err != nil {
		return nil, err
	}

	c, err := x.platform.FetchDataContract(r.Context(), contract)
	if err != nil {
		return nil, serverError(err)
	}

	typ, err := c.DocumentType(typeName)
	if err != nil {
		return nil, neorpc.NewError(CodeNotFound, "Unknown document type", err.Error())
	}

	doc, err := x.platform.FetchDocument(r.Context(), contract, typeName, id)
	if err != nil {
		return nil, serverError(err)
	}

	return NewDocumentRecord(typ, doc)
}

func (x *Server) broadcast(r *http.Request, params []json.RawMessage) (any, error) {
	var b []byte

	err := parseParams(params, &b)
	if err != nil {
		return nil, err
	}

	st, err := transition.FromBytes(b)
	if err != nil {
		return nil, serverError(&platform.RejectedError{Reason: platform.RejectValidation, Message: err.Error()})
	}

	h, err := st.Hash()
	if err != nil {
		return nil, serverError(&platform.RejectedError{Reason: platform.RejectValidation, Message: err.Error()})
	}

	x.mtx.Lock()
	x.transitions[h] = documentTypeRef{contract: st.ContractID, name: st.DocumentType}
	x.mtx.Unlock()

	err = x.platform.BroadcastStateTransition(r.Context(), b)
	if err != nil {
		return nil, serverError(err)
	}

	x.log.Debug("state transition accepted", zap.String("hash", h.StringLE()), zap.Stringer("kind", st.Kind))

	return true, nil
}

func (x *Server) waitForResult(r *http.Request, params []json.RawMessage) (any, error) {
	var h util.Uint256

	err := parseParams(params, &h)
	if err != nil {
		return nil, err
	}

	x.mtx.Lock()
	ref, ok := x.transitions[h]
	x.mtx.Unlock()

	if !ok {
		return nil, neorpc.NewError(CodeNotFound, "Unknown state transition", h.StringLE())
	}

	res, err := x.platform.WaitForStateTransitionResult(r.Context(), h)
	if err != nil {
		return nil, serverError(err)
	}

	c, err := x.platform.FetchDataContract(r.Context(), ref.contract)
	if err != nil {
		return nil, serverError(err)
	}

	typ, err := c.DocumentType(ref.name)
	if err != nil {
		return nil, err
	}

	doc, err := NewDocumentRecord(typ, res.Document)
	if err != nil {
		return nil, err
	}

	return ResultRecord{
		Document:        doc,
		BlockHeight:     res.BlockHeight,
		CoreBlockHeight: res.CoreBlockHeight,
		QuorumHash:      res.QuorumHash,
		QuorumSignature: res.QuorumSignature,
	}, nil
}

func parseParams(params []json.RawMessage, dst ...any) error {
	if len(params) != len(dst) {
		return neorpc.NewError(neorpc.InvalidParamsCode, "Invalid params",
			fmt.Sprintf("expected %d parameters, got %d", len(dst), len(params)))
	}

	for i := range dst {
		err := json.Unmarshal(params[i], dst[i])
		if err != nil {
			return neorpc.NewError(neorpc.InvalidParamsCode, "Invalid params", fmt.Sprintf("param #%d: %v", i, err))
		}
	}

	return nil
}

func serverError(err error) error {
	if reason, ok := platform.RejectionReason(err); ok {
		var re *platform.RejectedError
		errors.As(err, &re)
		return neorpc.NewError(CodeRejected, re.Message, string(reason))
	}

	if errors.Is(err, platform.ErrNotFound) {
		return neorpc.NewError(CodeNotFound, "Not found", err.Error())
	}

	return err
}
