/*
Package transition provides signed state transitions of documents and their
binary encoding.

Transition is encoded with neo-go binary serialization in the following order:

	version      uint8
	kind         uint8
	contract     32 bytes
	type         var string
	document     32 bytes
	owner        32 bytes
	revision     uint64 LE
	[payload]    depends on kind
	signer key   uint32 LE
	signature    var bytes

Create payload is entropy (32 bytes), creation and update timestamps (uint64
LE) and encoded properties (var bytes). Price update and purchase payload is
the price and update timestamp (both uint64 LE). Signature covers everything
before the signer key identifier.
*/
package transition

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/identity"
	"github.com/nspcc-dev/docstate/schema"
	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-go/pkg/io"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Version is a current version of the transition encoding.
const Version = 1

// Limits of the variable-length transition fields.
const (
	MaxTypeNameLength  = 64
	MaxPropertiesSize  = 16 << 10
	MaxSignatureLength = 96
)

// ErrUnsigned is returned on attempt to encode transition without signature.
var ErrUnsigned = errors.New("transition is not signed")

// Kind enumerates document state transitions.
type Kind uint8

// All supported transition kinds.
const (
	KindCreate Kind = iota
	KindUpdatePrice
	KindPurchase
)

func (x Kind) String() string {
	switch x {
	case KindCreate:
		return "create"
	case KindUpdatePrice:
		return "update_price"
	case KindPurchase:
		return "purchase"
	default:
		return "unknown#" + strconv.Itoa(int(x))
	}
}

// StateTransition is an intent to create, modify or transfer a document.
type StateTransition struct {
	Kind Kind

	ContractID   identifier.ID
	DocumentType string
	DocumentID   identifier.ID

	// Identity submitting the transition: document owner for creation and
	// price updates, purchaser for purchases.
	OwnerID identifier.ID

	// Document revision after the transition.
	Revision uint64

	// Create only.
	Entropy    document.Entropy
	CreatedAt  uint64
	Properties []byte

	// Price in credits. Zero for creation.
	Price uint64

	UpdatedAt uint64

	SignerKeyID identity.KeyID
	Signature   []byte
}

// NewCreate returns unsigned transition publishing new document built from
// the given entropy.
func NewCreate(typ *schema.DocumentType, doc *document.Document, entropy document.Entropy) (*StateTransition, error) {
	if doc.CreatedAt == nil || doc.UpdatedAt == nil {
		return nil, errors.New("document timestamps are not set")
	}

	props, err := document.EncodeProperties(typ, doc.Properties)
	if err != nil {
		return nil, fmt.Errorf("encode document properties: %w", err)
	}

	return &StateTransition{
		Kind:         KindCreate,
		ContractID:   typ.ContractID,
		DocumentType: typ.Name,
		DocumentID:   doc.ID,
		OwnerID:      doc.OwnerID,
		Revision:     doc.Revision,
		Entropy:      entropy,
		CreatedAt:    *doc.CreatedAt,
		UpdatedAt:    *doc.UpdatedAt,
		Properties:   props,
	}, nil
}

// NewUpdatePrice returns unsigned transition setting price of the document.
// The document must be already mutated by [document.Builder.WithPrice].
func NewUpdatePrice(typ *schema.DocumentType, doc *document.Document) (*StateTransition, error) {
	price, ok := doc.Price()
	if !ok {
		return nil, document.ErrNotPriced
	}

	if doc.UpdatedAt == nil {
		return nil, errors.New("document update timestamp is not set")
	}

	return &StateTransition{
		Kind:         KindUpdatePrice,
		ContractID:   typ.ContractID,
		DocumentType: typ.Name,
		DocumentID:   doc.ID,
		OwnerID:      doc.OwnerID,
		Revision:     doc.Revision,
		Price:        price,
		UpdatedAt:    *doc.UpdatedAt,
	}, nil
}

// NewPurchase returns unsigned transition buying the document for the given
// price. The document must be already mutated by [document.Builder.Purchased]
// so its owner is the purchaser.
func NewPurchase(typ *schema.DocumentType, doc *document.Document, price uint64) (*StateTransition, error) {
	if doc.UpdatedAt == nil {
		return nil, errors.New("document update timestamp is not set")
	}

	return &StateTransition{
		Kind:         KindPurchase,
		ContractID:   typ.ContractID,
		DocumentType: typ.Name,
		DocumentID:   doc.ID,
		OwnerID:      doc.OwnerID,
		Revision:     doc.Revision,
		Price:        price,
		UpdatedAt:    *doc.UpdatedAt,
	}, nil
}

// Sign signs the transition by the given key.
func (x *StateTransition) Sign(key *identity.PublicKey, signer identity.Signer) error {
	sig, err := signer.Sign(key, x.SignableBytes())
	if err != nil {
		return fmt.Errorf("sign %s transition: %w", x.Kind, err)
	}

	x.SignerKeyID = key.ID
	x.Signature = sig

	return nil
}

// VerifySignature checks transition signature against the given key.
func (x *StateTransition) VerifySignature(key *identity.PublicKey) error {
	if key.ID != x.SignerKeyID {
		return fmt.Errorf("transition is signed by key #%d, not #%d", x.SignerKeyID, key.ID)
	}

	return identity.Verify(key, x.SignableBytes(), x.Signature)
}

// SignableBytes returns signed part of the transition encoding.
func (x *StateTransition) SignableBytes() []byte {
	w := io.NewBufBinWriter()
	x.encodeSignable(w.BinWriter)
	return w.Bytes()
}

// Bytes returns full binary encoding of the signed transition.
func (x *StateTransition) Bytes() ([]byte, error) {
	if len(x.Signature) == 0 {
		return nil, ErrUnsigned
	}

	w := io.NewBufBinWriter()
	x.EncodeBinary(w.BinWriter)

	if w.Err != nil {
		return nil, w.Err
	}

	return w.Bytes(), nil
}

// Hash returns SHA-256 of the full transition encoding. The hash identifies
// transition on the platform.
func (x *StateTransition) Hash() (util.Uint256, error) {
	b, err := x.Bytes()
	if err != nil {
		return util.Uint256{}, err
	}

	return hash.Sha256(b), nil
}

// EncodeBinary implements [io.Serializable].
func (x *StateTransition) EncodeBinary(w *io.BinWriter) {
	x.encodeSignable(w)
	w.WriteU32LE(uint32(x.SignerKeyID))
	w.WriteVarBytes(x.Signature)
}

func (x *StateTransition) encodeSignable(w *io.BinWriter) {
	w.WriteB(Version)
	w.WriteB(byte(x.Kind))
	w.WriteBytes(x.ContractID[:])
	w.WriteString(x.DocumentType)
	w.WriteBytes(x.DocumentID[:])
	w.WriteBytes(x.OwnerID[:])
	w.WriteU64LE(x.Revision)

	switch x.Kind {
	case KindCreate:
		w.WriteBytes(x.Entropy[:])
		w.WriteU64LE(x.CreatedAt)
		w.WriteU64LE(x.UpdatedAt)
		w.WriteVarBytes(x.Properties)
	case KindUpdatePrice, KindPurchase:
		w.WriteU64LE(x.Price)
		w.WriteU64LE(x.UpdatedAt)
	default:
		w.Err = fmt.Errorf("unsupported transition kind %s", x.Kind)
	}
}

// DecodeBinary implements [io.Serializable].
func (x *StateTransition) DecodeBinary(r *io.BinReader) {
	if v := r.ReadB(); r.Err == nil && v != Version {
		r.Err = fmt.Errorf("unsupported transition version %d", v)
		return
	}

	x.Kind = Kind(r.ReadB())
	r.ReadBytes(x.ContractID[:])
	x.DocumentType = r.ReadString(MaxTypeNameLength)
	r.ReadBytes(x.DocumentID[:])
	r.ReadBytes(x.OwnerID[:])
	x.Revision = r.ReadU64LE()

	if r.Err != nil {
		return
	}

	switch x.Kind {
	case KindCreate:
		r.ReadBytes(x.Entropy[:])
		x.CreatedAt = r.ReadU64LE()
		x.UpdatedAt = r.ReadU64LE()
		x.Properties = r.ReadVarBytes(MaxPropertiesSize)
	case KindUpdatePrice, KindPurchase:
		x.Price = r.ReadU64LE()
		x.UpdatedAt = r.ReadU64LE()
	default:
		r.Err = fmt.Errorf("unsupported transition kind %s", x.Kind)
		return
	}

	x.SignerKeyID = identity.KeyID(r.ReadU32LE())
	x.Signature = r.ReadVarBytes(MaxSignatureLength)
}

// FromBytes decodes signed transition from its binary encoding.
func FromBytes(b []byte) (*StateTransition, error) {
	var res StateTransition

	r := io.NewBinReaderFromBuf(b)
	res.DecodeBinary(r)

	if r.Err != nil {
		return nil, fmt.Errorf("decode transition: %w", r.Err)
	}

	enc, err := res.Bytes()
	if err != nil {
		return nil, fmt.Errorf("decode transition: %w", err)
	}

	if len(enc) != len(b) {
		return nil, fmt.Errorf("decode transition: %d trailing bytes", len(b)-len(enc))
	}

	return &res, nil
}
