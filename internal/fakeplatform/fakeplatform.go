// Package fakeplatform provides in-memory document platform executing state
// transitions by the same rules as the network does.
package fakeplatform

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/dump"
	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/identity"
	"github.com/nspcc-dev/docstate/platform"
	"github.com/nspcc-dev/docstate/schema"
	"github.com/nspcc-dev/docstate/transition"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

type documentKey struct {
	contract identifier.ID
	typ      string
	id       identifier.ID
}

type outcome struct {
	res *platform.Result
	err error
}

// Platform is an in-memory [platform.Platform]. Transitions are executed on
// broadcast, their outcomes are returned by WaitForStateTransitionResult.
// Platform is safe for concurrent use.
type Platform struct {
	mtx sync.Mutex

	height          uint64
	coreHeight      uint32
	initialRevision uint64

	identities map[identifier.ID]*identity.Identity
	contracts  map[identifier.ID]*schema.DataContract
	documents  map[documentKey]*document.Document
	outcomes   map[util.Uint256]outcome

	quorumHash util.Uint256
	quorumKey  []byte

	broadcastFailures []broadcastFailure
	waitFailures      int

	broadcasts int
	fetches    int
}

type broadcastFailure struct {
	execute bool
}

// New returns empty Platform at the given block heights.
func New(height uint64, coreHeight uint32) *Platform {
	return &Platform{
		height:          height,
		coreHeight:      coreHeight,
		initialRevision: document.InitialRevision,
		identities:      make(map[identifier.ID]*identity.Identity),
		contracts:       make(map[identifier.ID]*schema.DataContract),
		documents:       make(map[documentKey]*document.Document),
		outcomes:        make(map[util.Uint256]outcome),
	}
}

// SetInitialRevision sets revision required from the created documents.
// Defaults to [document.InitialRevision].
func (x *Platform) SetInitialRevision(rev uint64) {
	x.mtx.Lock()
	x.initialRevision = rev
	x.mtx.Unlock()
}

// SetQuorumKey makes Platform sign results by the BLS12-381 quorum key.
func (x *Platform) SetQuorumKey(quorumHash util.Uint256, priv []byte) {
	x.mtx.Lock()
	x.quorumHash, x.quorumKey = quorumHash, priv
	x.mtx.Unlock()
}

// AddIdentity registers the identity.
func (x *Platform) AddIdentity(id *identity.Identity) {
	v := *id
	x.mtx.Lock()
	x.identities[id.ID] = &v
	x.mtx.Unlock()
}

// AddDataContract registers the data contract.
func (x *Platform) AddDataContract(c *schema.DataContract) {
	x.mtx.Lock()
	x.contracts[c.ID] = c
	x.mtx.Unlock()
}

// AddDocument stores the document of the given contract type as is.
func (x *Platform) AddDocument(contract identifier.ID, typeName string, doc *document.Document) {
	x.mtx.Lock()
	x.documents[documentKey{contract, typeName, doc.ID}] = doc.Clone()
	x.mtx.Unlock()
}

// Balance returns credit balance of the identity.
func (x *Platform) Balance(id identifier.ID) uint64 {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	if v, ok := x.identities[id]; ok {
		return v.Balance
	}

	return 0
}

// FailNextBroadcast makes the next broadcast fail with transport error. If
// execute is set, the transition is executed anyway as if the response was
// lost.
func (x *Platform) FailNextBroadcast(execute bool) {
	x.mtx.Lock()
	x.broadcastFailures = append(x.broadcastFailures, broadcastFailure{execute: execute})
	x.mtx.Unlock()
}

// FailNextWaits makes n next result waits fail with transport error.
func (x *Platform) FailNextWaits(n int) {
	x.mtx.Lock()
	x.waitFailures += n
	x.mtx.Unlock()
}

// Broadcasts returns number of broadcast calls.
func (x *Platform) Broadcasts() int {
	x.mtx.Lock()
	defer x.mtx.Unlock()
	return x.broadcasts
}

// Fetches returns number of document fetch calls.
func (x *Platform) Fetches() int {
	x.mtx.Lock()
	defer x.mtx.Unlock()
	return x.fetches
}

// FetchIdentity implements [platform.Platform].
func (x *Platform) FetchIdentity(_ context.Context, id identifier.ID) (*identity.Identity, error) {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	v, ok := x.identities[id]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", id, platform.ErrNotFound)
	}

	res := *v

	return &res, nil
}

// FetchDataContract implements [platform.Platform].
func (x *Platform) FetchDataContract(_ context.Context, id identifier.ID) (*schema.DataContract, error) {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	c, ok := x.contracts[id]
	if !ok {
		return nil, fmt.Errorf("data contract %s: %w", id, platform.ErrNotFound)
	}

	return c, nil
}

// FetchDocument implements [platform.Platform].
func (x *Platform) FetchDocument(_ context.Context, contract identifier.ID, typeName string, id identifier.ID) (*document.Document, error) {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	x.fetches++

	doc, ok := x.documents[documentKey{contract, typeName, id}]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, platform.ErrNotFound)
	}

	return doc.Clone(), nil
}

// BroadcastStateTransition implements [platform.Platform].
func (x *Platform) BroadcastStateTransition(_ context.Context, b []byte) error {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	x.broadcasts++

	st, err := transition.FromBytes(b)
	if err != nil {
		return &platform.RejectedError{Reason: platform.RejectValidation, Message: err.Error()}
	}

	stHash, err := st.Hash()
	if err != nil {
		return &platform.RejectedError{Reason: platform.RejectValidation, Message: err.Error()}
	}

	var failure *broadcastFailure
	if len(x.broadcastFailures) > 0 {
		failure = &x.broadcastFailures[0]
		x.broadcastFailures = x.broadcastFailures[1:]

		if !failure.execute {
			return &platform.NetworkError{Op: "broadcast", Err: errors.New("connection reset")}
		}
	}

	if _, ok := x.outcomes[stHash]; !ok {
		res, err := x.execute(st)
		if err == nil {
			err = x.signResult(stHash, res)
		}
		x.outcomes[stHash] = outcome{res: res, err: err}
	}

	if failure != nil {
		return &platform.NetworkError{Op: "broadcast", Err: errors.New("connection reset"), Delivered: true}
	}

	return nil
}

// WaitForStateTransitionResult implements [platform.Platform]. Unknown
// transitions block until ctx is done.
func (x *Platform) WaitForStateTransitionResult(ctx context.Context, stHash util.Uint256) (*platform.Result, error) {
	x.mtx.Lock()

	if x.waitFailures > 0 {
		x.waitFailures--
		x.mtx.Unlock()
		return nil, &platform.NetworkError{Op: "wait for result", Err: errors.New("connection reset"), Delivered: true}
	}

	o, ok := x.outcomes[stHash]
	x.mtx.Unlock()

	if !ok {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if o.err != nil {
		return nil, o.err
	}

	res := *o.res
	res.Document = o.res.Document.Clone()

	return &res, nil
}

func (x *Platform) signResult(stHash util.Uint256, res *platform.Result) error {
	if x.quorumKey == nil {
		return nil
	}

	sig, err := identity.SignBLS(x.quorumKey, platform.QuorumSignedData(stHash, res.BlockHeight, res.CoreBlockHeight))
	if err != nil {
		return fmt.Errorf("sign result: %w", err)
	}

	res.QuorumHash = x.quorumHash
	res.QuorumSignature = sig

	return nil
}

// Restore stores data contracts and documents from the dump.
func (x *Platform) Restore(r *dump.Reader) {
	r.IterateDataContracts(x.AddDataContract)
	r.IterateDocuments(func(d dump.Document) {
		x.AddDocument(d.Contract.ID, d.Type.Name, d.Document.Document)
	})
}
