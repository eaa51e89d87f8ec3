/*
Package document provides documents of the data contracts and their
construction.

Document is created locally: its identifier is derived from the contract,
owner, type name and fresh entropy before any network round trip (see
[GenerateID]). Every accepted mutation of the document increments its revision
by exactly one starting from [InitialRevision]. The [Builder] produces both
new documents and mutated copies for price updates and purchases.
*/
package document

import (
	"maps"
	"math"
	"time"

	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/schema"
)

// InitialRevision is a revision of newly created documents.
const InitialRevision = 1

// Document is a schema-conforming record owned by an identity.
type Document struct {
	ID      identifier.ID
	OwnerID identifier.ID

	// Property values normalized by the document type schema. The price of
	// the document is kept under [schema.FieldPrice].
	Properties map[string]any

	Revision uint64

	// Timestamps in milliseconds since Unix epoch.
	CreatedAt     *uint64
	UpdatedAt     *uint64
	TransferredAt *uint64

	// Assigned by the platform when the transition is executed.
	CreatedAtBlockHeight     *uint64
	UpdatedAtBlockHeight     *uint64
	TransferredAtBlockHeight *uint64

	CreatedAtCoreBlockHeight     *uint32
	UpdatedAtCoreBlockHeight     *uint32
	TransferredAtCoreBlockHeight *uint32
}

// Clone returns a deep copy of the document. Property values are treated as
// immutable and are not copied.
func (x *Document) Clone() *Document {
	res := *x
	res.Properties = maps.Clone(x.Properties)
	res.CreatedAt = clonePtr(x.CreatedAt)
	res.UpdatedAt = clonePtr(x.UpdatedAt)
	res.TransferredAt = clonePtr(x.TransferredAt)
	res.CreatedAtBlockHeight = clonePtr(x.CreatedAtBlockHeight)
	res.UpdatedAtBlockHeight = clonePtr(x.UpdatedAtBlockHeight)
	res.TransferredAtBlockHeight = clonePtr(x.TransferredAtBlockHeight)
	res.CreatedAtCoreBlockHeight = clonePtr(x.CreatedAtCoreBlockHeight)
	res.UpdatedAtCoreBlockHeight = clonePtr(x.UpdatedAtCoreBlockHeight)
	res.TransferredAtCoreBlockHeight = clonePtr(x.TransferredAtCoreBlockHeight)
	return &res
}

// Price returns price of the document in credits. The second value is false
// if the document is not on sale.
func (x *Document) Price() (uint64, bool) {
	v, ok := x.Properties[schema.FieldPrice]
	if !ok {
		return 0, false
	}

	switch p := v.(type) {
	case uint64:
		return p, true
	case int64:
		if p >= 0 {
			return uint64(p), true
		}
	case float64:
		if p >= 0 && p == math.Trunc(p) && p < math.MaxUint64 {
			return uint64(p), true
		}
	}

	return 0, false
}

// HasSystemField checks whether system field with the given name is set.
// It is compatible with [schema.DocumentType.ValidateSystemFields].
func (x *Document) HasSystemField(name string) bool {
	switch name {
	case schema.FieldCreatedAt:
		return x.CreatedAt != nil
	case schema.FieldUpdatedAt:
		return x.UpdatedAt != nil
	case schema.FieldTransferredAt:
		return x.TransferredAt != nil
	case schema.FieldPrice:
		_, ok := x.Price()
		return ok
	default:
		return false
	}
}

// Timestamp converts time to document timestamp format.
func Timestamp(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}

// TimeOf converts document timestamp to time.
func TimeOf(ts uint64) time.Time {
	return time.UnixMilli(int64(ts))
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
