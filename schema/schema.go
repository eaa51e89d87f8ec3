package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/nspcc-dev/docstate/identifier"
)

// ErrMalformedSchema is returned when declarative schema can not be turned
// into document types. It is a configuration error and is not expected to be
// handled other than by fixing the schema.
var ErrMalformedSchema = errors.New("malformed schema")

// Kind is a kind of document field value.
type Kind uint8

// Supported field kinds.
const (
	KindString Kind = iota
	KindInteger
	KindNumber
	KindByteArray
	KindEnum
	KindBoolean
)

// String implements [fmt.Stringer].
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindNumber:
		return "number"
	case KindByteArray:
		return "byte array"
	case KindEnum:
		return "enum"
	case KindBoolean:
		return "boolean"
	default:
		return fmt.Sprintf("Kind#%d", k)
	}
}

// Transferable defines whether documents can change their owner.
type Transferable uint8

const (
	// TransferableNever forbids ownership changes.
	TransferableNever Transferable = iota
	// TransferableAlways allows ownership changes.
	TransferableAlways
)

// TradeMode defines how documents are traded between identities.
type TradeMode uint8

const (
	// TradeModeNone means documents can not be sold.
	TradeModeNone TradeMode = iota
	// TradeModeDirectPurchase means documents are sold for a price set by the
	// owner.
	TradeModeDirectPurchase
)

// System fields maintained by the platform. They are never declared in
// document type properties, but may be listed in required ones.
const (
	FieldCreatedAt     = "$createdAt"
	FieldUpdatedAt     = "$updatedAt"
	FieldTransferredAt = "$transferredAt"
	FieldPrice         = "$price"
)

var knownSystemFields = []string{
	FieldCreatedAt,
	FieldUpdatedAt,
	FieldTransferredAt,
	"$createdAtBlockHeight",
	"$updatedAtBlockHeight",
	"$transferredAtBlockHeight",
	"$createdAtCoreBlockHeight",
	"$updatedAtCoreBlockHeight",
	"$transferredAtCoreBlockHeight",
}

// IsSystemField checks whether name refers to a platform-maintained field.
func IsSystemField(name string) bool {
	return strings.HasPrefix(name, "$")
}

// Field describes single property of the document type.
type Field struct {
	Name        string
	Position    int
	Kind        Kind
	Description string

	// String length limits in characters, zero means unlimited.
	MinLength int
	MaxLength int

	// Byte array length limits, zero MaxItems means unlimited.
	MinItems int
	MaxItems int

	// Allowed values of KindEnum fields.
	Enum []string
}

// DocumentType is a named schema of documents within a data contract.
type DocumentType struct {
	Name       string
	ContractID identifier.ID

	// Unknown properties are rejected unless set.
	AdditionalProperties bool
	// Whether documents can be edited after creation.
	DocumentsMutable bool

	Transferable Transferable
	TradeMode    TradeMode

	fields   []Field // sorted by position
	byName   map[string]int
	required []string
}

// Fields returns document type fields ordered by their positions.
func (x *DocumentType) Fields() []Field {
	return slices.Clone(x.fields)
}

// Field returns field by name.
func (x *DocumentType) Field(name string) (Field, bool) {
	i, ok := x.byName[name]
	if !ok {
		return Field{}, false
	}
	return x.fields[i], true
}

// FieldByPosition returns field with the given position.
func (x *DocumentType) FieldByPosition(pos int) (Field, bool) {
	i, ok := slices.BinarySearchFunc(x.fields, pos, func(f Field, p int) int { return f.Position - p })
	if !ok {
		return Field{}, false
	}
	return x.fields[i], true
}

// Required returns names of required fields incl. system ones.
func (x *DocumentType) Required() []string {
	return slices.Clone(x.required)
}

// IsTransferable checks whether documents of this type can change owner.
func (x *DocumentType) IsTransferable() bool {
	return x.Transferable == TransferableAlways
}

// AllowsDirectPurchase checks whether documents of this type can be priced
// and purchased.
func (x *DocumentType) AllowsDirectPurchase() bool {
	return x.IsTransferable() && x.TradeMode == TradeModeDirectPurchase
}

// ParseDocumentTypes parses declarative schema tree keyed by document type
// name. See [ParseDocumentType] for per-type rules.
func ParseDocumentTypes(contractID identifier.ID, raw []byte) (map[string]*DocumentType, error) {
	var tree map[string]json.RawMessage

	err := decodeJSON(raw, &tree)
	if err != nil {
		return nil, fmt.Errorf("%w: decode schema tree: %v", ErrMalformedSchema, err)
	}

	if len(tree) == 0 {
		return nil, fmt.Errorf("%w: no document types", ErrMalformedSchema)
	}

	res := make(map[string]*DocumentType, len(tree))

	for name, typRaw := range tree {
		typ, err := ParseDocumentType(contractID, name, typRaw)
		if err != nil {
			return nil, err
		}

		res[name] = typ
	}

	return res, nil
}

type rawField struct {
	Position    *json.Number `json:"position"`
	Type        string       `json:"type"`
	Description string       `json:"description"`
	MinLength   *json.Number `json:"minLength"`
	MaxLength   *json.Number `json:"maxLength"`
	ByteArray   bool         `json:"byteArray"`
	MinItems    *json.Number `json:"minItems"`
	MaxItems    *json.Number `json:"maxItems"`
	Enum        []string     `json:"enum"`
}

type rawDocumentType struct {
	Type                 string              `json:"type"`
	Properties           map[string]rawField `json:"properties"`
	Required             []string            `json:"required"`
	AdditionalProperties *bool               `json:"additionalProperties"`
	DocumentsMutable     *bool               `json:"documentsMutable"`
	Transferable         *json.Number        `json:"transferable"`
	TradeMode            *json.Number        `json:"tradeMode"`
}

// ParseDocumentType parses schema of the single named document type.
//
// Field positions must be unique within the type and determine canonical
// serialization order, contiguity is not required. Every required field must
// be either declared or a known system field.
func ParseDocumentType(contractID identifier.ID, name string, raw []byte) (*DocumentType, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty document type name", ErrMalformedSchema)
	}

	var src rawDocumentType

	err := decodeJSON(raw, &src)
	if err != nil {
		return nil, fmt.Errorf("%w: document type %q: %v", ErrMalformedSchema, name, err)
	}

	if src.Type != "object" {
		return nil, fmt.Errorf("%w: document type %q: type must be \"object\", got %q", ErrMalformedSchema, name, src.Type)
	}

	res := &DocumentType{
		Name:             name,
		ContractID:       contractID,
		DocumentsMutable: true,
		fields:           make([]Field, 0, len(src.Properties)),
		byName:           make(map[string]int, len(src.Properties)),
	}

	if src.AdditionalProperties != nil {
		res.AdditionalProperties = *src.AdditionalProperties
	}

	if src.DocumentsMutable != nil {
		res.DocumentsMutable = *src.DocumentsMutable
	}

	if src.Transferable != nil {
		v, err := parseSmallUint(*src.Transferable)
		if err != nil || v > uint64(TransferableAlways) {
			return nil, fmt.Errorf("%w: document type %q: unsupported transferable value %s", ErrMalformedSchema, name, *src.Transferable)
		}
		res.Transferable = Transferable(v)
	}

	if src.TradeMode != nil {
		v, err := parseSmallUint(*src.TradeMode)
		if err != nil || v > uint64(TradeModeDirectPurchase) {
			return nil, fmt.Errorf("%w: document type %q: unsupported trade mode %s", ErrMalformedSchema, name, *src.TradeMode)
		}
		res.TradeMode = TradeMode(v)
	}

	positions := make(map[int]string, len(src.Properties))

	for fieldName, rf := range src.Properties {
		f, err := parseField(fieldName, rf)
		if err != nil {
			return nil, fmt.Errorf("%w: document type %q: field %q: %v", ErrMalformedSchema, name, fieldName, err)
		}

		if prev, ok := positions[f.Position]; ok {
			return nil, fmt.Errorf("%w: document type %q: fields %q and %q share position %d",
				ErrMalformedSchema, name, prev, fieldName, f.Position)
		}

		positions[f.Position] = fieldName
		res.fields = append(res.fields, f)
	}

	slices.SortFunc(res.fields, func(a, b Field) int { return a.Position - b.Position })

	for i := range res.fields {
		res.byName[res.fields[i].Name] = i
	}

	for _, req := range src.Required {
		if IsSystemField(req) {
			if !slices.Contains(knownSystemFields, req) {
				return nil, fmt.Errorf("%w: document type %q: unknown system field %q is required", ErrMalformedSchema, name, req)
			}
		} else if _, ok := res.byName[req]; !ok {
			return nil, fmt.Errorf("%w: document type %q: required field %q is not declared", ErrMalformedSchema, name, req)
		}

		if !slices.Contains(res.required, req) {
			res.required = append(res.required, req)
		}
	}

	return res, nil
}

func parseField(name string, rf rawField) (Field, error) {
	if name == "" || IsSystemField(name) {
		return Field{}, errors.New("invalid field name")
	}

	if rf.Position == nil {
		return Field{}, errors.New("missing position")
	}

	pos, err := parseSmallUint(*rf.Position)
	if err != nil {
		return Field{}, fmt.Errorf("invalid position: %w", err)
	}

	f := Field{
		Name:        name,
		Position:    int(pos),
		Description: rf.Description,
	}

	switch rf.Type {
	case "string":
		f.Kind = KindString
		if len(rf.Enum) > 0 {
			f.Kind = KindEnum
			f.Enum = slices.Clone(rf.Enum)
		}

		if f.MinLength, err = parseOptionalLimit(rf.MinLength); err != nil {
			return Field{}, fmt.Errorf("invalid minLength: %w", err)
		}

		if f.MaxLength, err = parseOptionalLimit(rf.MaxLength); err != nil {
			return Field{}, fmt.Errorf("invalid maxLength: %w", err)
		}

		if f.MaxLength > 0 && f.MinLength > f.MaxLength {
			return Field{}, fmt.Errorf("minLength %d exceeds maxLength %d", f.MinLength, f.MaxLength)
		}
	case "integer":
		f.Kind = KindInteger
	case "number":
		f.Kind = KindNumber
	case "boolean":
		f.Kind = KindBoolean
	case "array":
		if !rf.ByteArray {
			return Field{}, errors.New("only byte arrays are supported")
		}

		f.Kind = KindByteArray

		if f.MinItems, err = parseOptionalLimit(rf.MinItems); err != nil {
			return Field{}, fmt.Errorf("invalid minItems: %w", err)
		}

		if f.MaxItems, err = parseOptionalLimit(rf.MaxItems); err != nil {
			return Field{}, fmt.Errorf("invalid maxItems: %w", err)
		}

		if f.MaxItems > 0 && f.MinItems > f.MaxItems {
			return Field{}, fmt.Errorf("minItems %d exceeds maxItems %d", f.MinItems, f.MaxItems)
		}
	default:
		return Field{}, fmt.Errorf("unsupported type %q", rf.Type)
	}

	if len(rf.Enum) > 0 && f.Kind != KindEnum {
		return Field{}, fmt.Errorf("enum is not supported for %s fields", f.Kind)
	}

	return f, nil
}

// field numbers of the canonical encoding are positions shifted by one.
const maxPosition = math.MaxInt32 >> 3

func parseSmallUint(n json.Number) (uint64, error) {
	v, err := n.Int64()
	if err != nil {
		return 0, err
	}

	if v < 0 || v > maxPosition {
		return 0, fmt.Errorf("value %d is out of range [0, %d]", v, maxPosition)
	}

	return uint64(v), nil
}

func parseOptionalLimit(n *json.Number) (int, error) {
	if n == nil {
		return 0, nil
	}

	v, err := parseSmallUint(*n)
	return int(v), err
}

func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	return dec.Decode(v)
}
