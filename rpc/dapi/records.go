package dapi

import (
	"fmt"

	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/schema"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// DocumentRecord is a JSON form of the document. Properties are carried in
// the canonical binary encoding, system fields are separate.
type DocumentRecord struct {
	ID           identifier.ID `json:"id"`
	ContractID   identifier.ID `json:"contractId"`
	DocumentType string        `json:"type"`
	OwnerID      identifier.ID `json:"ownerId"`
	Revision     uint64        `json:"revision"`
	Data         []byte        `json:"data"`
	Price        *uint64       `json:"price,omitempty"`

	CreatedAt     *uint64 `json:"createdAt,omitempty"`
	UpdatedAt     *uint64 `json:"updatedAt,omitempty"`
	TransferredAt *uint64 `json:"transferredAt,omitempty"`

	CreatedAtBlockHeight     *uint64 `json:"createdAtBlockHeight,omitempty"`
	UpdatedAtBlockHeight     *uint64 `json:"updatedAtBlockHeight,omitempty"`
	TransferredAtBlockHeight *uint64 `json:"transferredAtBlockHeight,omitempty"`

	CreatedAtCoreBlockHeight     *uint32 `json:"createdAtCoreBlockHeight,omitempty"`
	UpdatedAtCoreBlockHeight     *uint32 `json:"updatedAtCoreBlockHeight,omitempty"`
	TransferredAtCoreBlockHeight *uint32 `json:"transferredAtCoreBlockHeight,omitempty"`
}

// ResultRecord is a JSON form of the state transition execution result.
type ResultRecord struct {
	Document        DocumentRecord `json:"document"`
	BlockHeight     uint64         `json:"blockHeight"`
	CoreBlockHeight uint32         `json:"coreBlockHeight"`
	QuorumHash      util.Uint256   `json:"quorumHash"`
	QuorumSignature []byte         `json:"quorumSignature,omitempty"`
}

// NewDocumentRecord encodes document of the given type.
func NewDocumentRecord(typ *schema.DocumentType, doc *document.Document) (DocumentRecord, error) {
	props := doc.Properties
	if _, ok := props[schema.FieldPrice]; ok {
		props = make(map[string]any, len(doc.Properties))
		for k, v := range doc.Properties {
			if k != schema.FieldPrice {
				props[k] = v
			}
		}
	}

	data, err := document.EncodeProperties(typ, props)
	if err != nil {
		return DocumentRecord{}, fmt.Errorf("encode document properties: %w", err)
	}

	res := DocumentRecord{
		ID:                           doc.ID,
		ContractID:                   typ.ContractID,
		DocumentType:                 typ.Name,
		OwnerID:                      doc.OwnerID,
		Revision:                     doc.Revision,
		Data:                         data,
		CreatedAt:                    doc.CreatedAt,
		UpdatedAt:                    doc.UpdatedAt,
		TransferredAt:                doc.TransferredAt,
		CreatedAtBlockHeight:         doc.CreatedAtBlockHeight,
		UpdatedAtBlockHeight:         doc.UpdatedAtBlockHeight,
		TransferredAtBlockHeight:     doc.TransferredAtBlockHeight,
		CreatedAtCoreBlockHeight:     doc.CreatedAtCoreBlockHeight,
		UpdatedAtCoreBlockHeight:     doc.UpdatedAtCoreBlockHeight,
		TransferredAtCoreBlockHeight: doc.TransferredAtCoreBlockHeight,
	}

	if p, ok := doc.Price(); ok {
		res.Price = &p
	}

	return res, nil
}

// Document decodes the document of the given type.
func (x DocumentRecord) Document(typ *schema.DocumentType) (*document.Document, error) {
	props, err := document.DecodeProperties(typ, x.Data)
	if err != nil {
		return nil, fmt.Errorf("decode document properties: %w", err)
	}

	if x.Price != nil {
		props[schema.FieldPrice] = *x.Price
	}

	return &document.Document{
		ID:                           x.ID,
		OwnerID:                      x.OwnerID,
		Properties:                   props,
		Revision:                     x.Revision,
		CreatedAt:                    x.CreatedAt,
		UpdatedAt:                    x.UpdatedAt,
		TransferredAt:                x.TransferredAt,
		CreatedAtBlockHeight:         x.CreatedAtBlockHeight,
		UpdatedAtBlockHeight:         x.UpdatedAtBlockHeight,
		TransferredAtBlockHeight:     x.TransferredAtBlockHeight,
		CreatedAtCoreBlockHeight:     x.CreatedAtCoreBlockHeight,
		UpdatedAtCoreBlockHeight:     x.UpdatedAtCoreBlockHeight,
		TransferredAtCoreBlockHeight: x.TransferredAtCoreBlockHeight,
	}, nil
}
