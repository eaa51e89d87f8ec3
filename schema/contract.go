/*
Package schema provides document types declared by data contracts.

Data contract declares one or more document types in a JSON schema tree
keyed by document type name:

	{
	  "Claim": {
	    "type": "object",
	    "properties": {
	      "taskId": {"position": 0, "type": "array", "byteArray": true, "minItems": 32, "maxItems": 32},
	      "amountCredits": {"position": 1, "type": "number"}
	    },
	    "required": ["$createdAt", "$updatedAt", "taskId", "amountCredits"],
	    "additionalProperties": false,
	    "transferable": 1,
	    "tradeMode": 1
	  }
	}

Parsing errors are reported as [ErrMalformedSchema], property violations
found during document construction as [ValidationError].
*/
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/nspcc-dev/docstate/identifier"
)

// ErrUnknownDocumentType is returned when requested document type is not
// declared in the contract.
var ErrUnknownDocumentType = errors.New("unknown document type")

// DataContract is an immutable collection of document types. Contracts are
// fetched once per identifier and shared between all documents of the
// contract, so they must not be modified after construction.
type DataContract struct {
	ID      identifier.ID
	OwnerID identifier.ID
	Version uint32

	documentTypes map[string]*DocumentType
	schema        json.RawMessage
}

// NewDataContract constructs DataContract from the schema tree of its
// document types.
func NewDataContract(id, owner identifier.ID, version uint32, documentSchemas []byte) (*DataContract, error) {
	types, err := ParseDocumentTypes(id, documentSchemas)
	if err != nil {
		return nil, err
	}

	return &DataContract{
		ID:            id,
		OwnerID:       owner,
		Version:       version,
		documentTypes: types,
		schema:        slices.Clone(documentSchemas),
	}, nil
}

type rawDataContract struct {
	ID              identifier.ID   `json:"id"`
	OwnerID         identifier.ID   `json:"ownerId"`
	Version         uint32          `json:"version"`
	DocumentSchemas json.RawMessage `json:"documentSchemas"`
}

// ParseDataContract decodes JSON data contract in platform format, i.e. with
// 'id', 'ownerId', 'version' and 'documentSchemas' fields.
func ParseDataContract(raw []byte) (*DataContract, error) {
	var src rawDataContract

	err := json.Unmarshal(raw, &src)
	if err != nil {
		return nil, fmt.Errorf("%w: decode data contract: %v", ErrMalformedSchema, err)
	}

	if src.ID.IsZero() {
		return nil, fmt.Errorf("%w: missing data contract id", ErrMalformedSchema)
	}

	return NewDataContract(src.ID, src.OwnerID, src.Version, src.DocumentSchemas)
}

// MarshalJSON encodes data contract in the format accepted by
// [ParseDataContract].
func (x *DataContract) MarshalJSON() ([]byte, error) {
	return json.Marshal(rawDataContract{
		ID:              x.ID,
		OwnerID:         x.OwnerID,
		Version:         x.Version,
		DocumentSchemas: x.schema,
	})
}

// DocumentType returns document type by name.
func (x *DataContract) DocumentType(name string) (*DocumentType, error) {
	typ, ok := x.documentTypes[name]
	if !ok {
		return nil, fmt.Errorf("%w %q in contract %s", ErrUnknownDocumentType, name, x.ID)
	}
	return typ, nil
}

// DocumentTypeNames returns sorted names of all document types.
func (x *DataContract) DocumentTypeNames() []string {
	return slices.Sorted(maps.Keys(x.documentTypes))
}
