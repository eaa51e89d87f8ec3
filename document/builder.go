package document

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/schema"
)

// Client-side preconditions of the document transfer. All of them match
// [schema.ErrValidation] as they are detected before any network call.
var (
	ErrNotTransferable = fmt.Errorf("%w: document type is not transferable", schema.ErrValidation)
	ErrNotForSale      = fmt.Errorf("%w: document type does not allow direct purchase", schema.ErrValidation)
	ErrNotPriced       = fmt.Errorf("%w: document has no price", schema.ErrValidation)
	ErrInvalidPrice    = fmt.Errorf("%w: price must be positive", schema.ErrValidation)
	ErrPurchaserOwns   = fmt.Errorf("%w: purchaser already owns the document", schema.ErrValidation)
	ErrPriceMismatch   = fmt.Errorf("%w: offered price differs from the document price", schema.ErrValidation)
)

var errRevisionOverflow = errors.New("document revision overflow")

// Builder constructs documents conforming to their types. Builder is
// stateless apart from its settings and is safe for concurrent use if the
// entropy source is.
type Builder struct {
	// Revision of new documents. Zero means [InitialRevision].
	InitialRevision uint64

	// Source of document identifier uniqueness. Nil means [CryptoEntropy].
	Entropy EntropySource
}

func (b Builder) initialRevision() uint64 {
	if b.InitialRevision == 0 {
		return InitialRevision
	}
	return b.InitialRevision
}

func (b Builder) entropySource() EntropySource {
	if b.Entropy == nil {
		return CryptoEntropy{}
	}
	return b.Entropy
}

// Build constructs new document of the given type owned by the specified
// identity. Properties are normalized and validated against the type schema,
// [schema.ValidationError] is returned on violation. System properties given
// by the caller are dropped, unknown ones are rejected. Creation and update
// timestamps are set to now, revision is set to the initial one, block
// heights and transfer timestamp are left unset. Build consumes fresh entropy
// to derive document identifier and returns it along with the document since
// the platform requires it to verify the identifier.
func (b Builder) Build(typ *schema.DocumentType, owner identifier.ID, props map[string]any, now time.Time) (*Document, Entropy, error) {
	normalized, err := typ.NormalizeProperties(props)
	if err != nil {
		return nil, Entropy{}, err
	}

	err = typ.ValidateProperties(normalized)
	if err != nil {
		return nil, Entropy{}, err
	}

	// system fields are maintained by the builder and the platform, price can
	// be set by the dedicated transition only
	maps.DeleteFunc(normalized, func(name string, _ any) bool { return schema.IsSystemField(name) })

	entropy, err := b.entropySource().NewEntropy()
	if err != nil {
		return nil, Entropy{}, fmt.Errorf("generate entropy: %w", err)
	}

	ts := Timestamp(now)
	createdAt, updatedAt := ts, ts

	doc := &Document{
		ID:         GenerateID(typ.ContractID, owner, typ.Name, entropy),
		OwnerID:    owner,
		Properties: normalized,
		Revision:   b.initialRevision(),
		CreatedAt:  &createdAt,
		UpdatedAt:  &updatedAt,
	}

	err = typ.ValidateSystemFields(doc.HasSystemField)
	if err != nil {
		return nil, Entropy{}, err
	}

	return doc, entropy, nil
}

// WithPrice returns copy of the confirmed document put on sale for the given
// price in credits. The document type must allow direct purchase. Revision
// is incremented and update timestamp is set to now.
func (b Builder) WithPrice(typ *schema.DocumentType, doc *Document, price uint64, now time.Time) (*Document, error) {
	switch {
	case !typ.IsTransferable():
		return nil, ErrNotTransferable
	case !typ.AllowsDirectPurchase():
		return nil, ErrNotForSale
	case price == 0:
		return nil, ErrInvalidPrice
	}

	res, err := mutate(doc, now)
	if err != nil {
		return nil, err
	}

	res.Properties[schema.FieldPrice] = price

	return res, nil
}

// Purchased returns copy of the priced document owned by the purchaser. The
// offered price must match the current document price. Revision is
// incremented, update and transfer timestamps are set to now and the price is
// removed.
func (b Builder) Purchased(typ *schema.DocumentType, doc *Document, purchaser identifier.ID, offer uint64, now time.Time) (*Document, error) {
	if !typ.IsTransferable() {
		return nil, ErrNotTransferable
	}

	if !typ.AllowsDirectPurchase() {
		return nil, ErrNotForSale
	}

	price, ok := doc.Price()
	if !ok || price == 0 {
		return nil, ErrNotPriced
	}

	if offer != price {
		return nil, fmt.Errorf("%w: offered %d, price %d", ErrPriceMismatch, offer, price)
	}

	if purchaser == doc.OwnerID {
		return nil, ErrPurchaserOwns
	}

	res, err := mutate(doc, now)
	if err != nil {
		return nil, err
	}

	res.OwnerID = purchaser
	res.TransferredAt = clonePtr(res.UpdatedAt)
	res.TransferredAtBlockHeight = nil
	res.TransferredAtCoreBlockHeight = nil
	delete(res.Properties, schema.FieldPrice)

	return res, nil
}

func mutate(doc *Document, now time.Time) (*Document, error) {
	if doc.Revision == math.MaxUint64 {
		return nil, errRevisionOverflow
	}

	res := doc.Clone()
	if res.Properties == nil {
		res.Properties = make(map[string]any)
	}

	updatedAt := Timestamp(now)

	res.Revision++
	res.UpdatedAt = &updatedAt
	res.UpdatedAtBlockHeight = nil
	res.UpdatedAtCoreBlockHeight = nil

	return res, nil
}
