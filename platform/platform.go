/*
Package platform provides access to the document platform and submission of
the state transitions.

[Platform] abstracts the network: RPC clients and in-memory fakes implement
it. [Submitter] signs a transition, broadcasts it and waits for the terminal
outcome, classifying failures into rejections ([RejectedError]), transport
failures ([NetworkError]) and interruptions ([ErrOutcomeUnknown]).
*/
package platform

import (
	"context"
	"encoding/binary"

	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/identity"
	"github.com/nspcc-dev/docstate/schema"
	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Platform is a document platform node.
type Platform interface {
	// FetchIdentity returns identity by its identifier. Returns [ErrNotFound]
	// if there is no such identity.
	FetchIdentity(ctx context.Context, id identifier.ID) (*identity.Identity, error)

	// FetchDataContract returns data contract by its identifier. Returns
	// [ErrNotFound] if there is no such contract.
	FetchDataContract(ctx context.Context, id identifier.ID) (*schema.DataContract, error)

	// FetchDocument returns the latest confirmed state of the document.
	// Returns [ErrNotFound] if there is no such document.
	FetchDocument(ctx context.Context, contract identifier.ID, typeName string, id identifier.ID) (*document.Document, error)

	// BroadcastStateTransition sends encoded signed transition to the
	// platform. Transitions failing basic checks are rejected immediately
	// with [RejectedError].
	BroadcastStateTransition(ctx context.Context, st []byte) error

	// WaitForStateTransitionResult blocks until the transition with the
	// given hash is executed or rejected, or the context is done.
	WaitForStateTransitionResult(ctx context.Context, stHash util.Uint256) (*Result, error)
}

// Result is an execution result of the accepted state transition.
type Result struct {
	// Resulting state of the document.
	Document *document.Document

	BlockHeight     uint64
	CoreBlockHeight uint32

	// Quorum signature of the execution. Optional.
	QuorumHash      util.Uint256
	QuorumSignature []byte
}

// QuorumSignedData returns data signed by the quorum confirming execution of
// the transition: SHA-256 of the transition hash followed by both block
// heights in little-endian.
func QuorumSignedData(stHash util.Uint256, height uint64, coreHeight uint32) []byte {
	b := make([]byte, 0, util.Uint256Size+8+4)
	b = append(b, stHash[:]...)
	b = binary.LittleEndian.AppendUint64(b, height)
	b = binary.LittleEndian.AppendUint32(b, coreHeight)

	h := hash.Sha256(b)

	return h[:]
}
