package dump

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/schema"
)

// documentColumns is a number of fields in the document CSV record.
const documentColumns = 16

// Creator dumps data contracts and their documents. Output file format:
//
//	'<label>-<block>-contracts.json': JSON array of data contracts
//	'<label>-<block>-documents.csv': CSV of documents
//
// Document CSV records are
//
//	contract,type,id,owner,revision,data,price,createdAt,updatedAt,transferredAt,
//	createdAtBlockHeight,updatedAtBlockHeight,transferredAtBlockHeight,
//	createdAtCoreBlockHeight,updatedAtCoreBlockHeight,transferredAtCoreBlockHeight
//
// where identifiers are base58-encoded, data is base64-encoded canonical
// encoding of the document properties and unset optional values are empty.
//
// Use IterateDumps to access existing dumps.
type Creator struct {
	dumpStreams

	contracts []*schema.DataContract

	documentsCSV *csv.Writer
}

// NewCreator returns Creator which dumps data contracts into given directory.
// The dump is identified by specified ID. Resulting Creator should be closed
// when finished working with it.
//
// NewCreator fails if dump with provided ID already exists.
func NewCreator(dir string, id ID) (*Creator, error) {
	var res Creator

	err := initDumpStreams(&res.dumpStreams, dir, id, false)
	if err != nil {
		return nil, err
	}

	res.documentsCSV = csv.NewWriter(res.dumpStreams.documents)

	return &res, nil
}

// AddDataContract adds given data contract to the resulting dump and returns
// DocumentWriter for its documents. After all needed contracts are added,
// they should be flushed via Flush method.
func (x *Creator) AddDataContract(c *schema.DataContract) *DocumentWriter {
	x.contracts = append(x.contracts, c)

	return &DocumentWriter{
		contract: c,
		csv:      x.documentsCSV,
	}
}

// Flush flushes accumulated dump to the file system.
func (x *Creator) Flush() error {
	jEnc := json.NewEncoder(x.dumpStreams.contracts)
	jEnc.SetIndent("", " ")

	err := jEnc.Encode(x.contracts)
	if err != nil {
		return fmt.Errorf("encode data contracts to JSON: %w", err)
	}

	x.documentsCSV.Flush()

	err = x.documentsCSV.Error()
	if err != nil {
		return fmt.Errorf("flush CSV data: %w", err)
	}

	return nil
}

// Close releases underlying resources of the Creator and makes it unusable.
func (x *Creator) Close() {
	x.close()
}

// DocumentWriter writes documents of the superior data contract.
type DocumentWriter struct {
	contract *schema.DataContract
	csv      *csv.Writer
}

// Write saves document of the named type into the dump.
func (x *DocumentWriter) Write(typeName string, doc *document.Document) error {
	typ, err := x.contract.DocumentType(typeName)
	if err != nil {
		return err
	}

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
		return fmt.Errorf("encode properties of document %s: %w", doc.ID, err)
	}

	var price string
	if p, ok := doc.Price(); ok {
		price = strconv.FormatUint(p, 10)
	}

	err = x.csv.Write([]string{
		x.contract.ID.String(),
		typeName,
		doc.ID.String(),
		doc.OwnerID.String(),
		strconv.FormatUint(doc.Revision, 10),
		_encoding.EncodeToString(data),
		price,
		formatOptional(doc.CreatedAt),
		formatOptional(doc.UpdatedAt),
		formatOptional(doc.TransferredAt),
		formatOptional(doc.CreatedAtBlockHeight),
		formatOptional(doc.UpdatedAtBlockHeight),
		formatOptional(doc.TransferredAtBlockHeight),
		formatOptional(doc.CreatedAtCoreBlockHeight),
		formatOptional(doc.UpdatedAtCoreBlockHeight),
		formatOptional(doc.TransferredAtCoreBlockHeight),
	})
	if err != nil {
		return fmt.Errorf("write document as CSV data: %w", err)
	}

	return nil
}
