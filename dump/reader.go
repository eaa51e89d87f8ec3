package dump

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/schema"
)

// IterateDumps iterates over all dumps collected by the Creator model in the
// specified directory, and passes ID and Reader of each dump into f.
func IterateDumps(dir string, f func(ID, *Reader)) error {
	var id ID
	var streams dumpStreams

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, e error) error {
		if errors.Is(e, fs.ErrNotExist) {
			return nil
		}

		if e != nil {
			return e
		}

		if d.IsDir() {
			return nil
		}

		name := d.Name()

		if !strings.HasSuffix(name, contractsFileSuffix) {
			return nil
		}

		err := id.decodeString(name)
		if err != nil {
			return fmt.Errorf("decode dump ID from file name '%s': %w", name, err)
		}

		err = initDumpStreams(&streams, filepath.Dir(path), id, true)
		if err != nil {
			return fmt.Errorf("init dump streams ('%s'): %w", name, err)
		}

		var r Reader

		err = r.fromDumpStreams(streams.contracts, streams.documents)
		streams.close()
		if err != nil {
			return fmt.Errorf("init dump reader ('%s'): %w", name, err)
		}

		f(id, &r)

		return nil
	})
}

// Document is a document from the dump.
type Document struct {
	Contract *schema.DataContract
	Type     *schema.DocumentType
	*document.Document
}

// Reader reads data contracts and documents collected in the superior dump.
type Reader struct {
	contracts []*schema.DataContract
	documents []Document
}

func (x *Reader) fromDumpStreams(rContracts, rDocuments io.Reader) error {
	var raw []json.RawMessage

	err := json.NewDecoder(rContracts).Decode(&raw)
	if err != nil {
		return fmt.Errorf("decode data contracts from JSON: %w", err)
	}

	m := make(map[identifier.ID]*schema.DataContract, len(raw))
	x.contracts = make([]*schema.DataContract, len(raw))

	for i := range raw {
		x.contracts[i], err = schema.ParseDataContract(raw[i])
		if err != nil {
			return fmt.Errorf("decode data contract #%d: %w", i, err)
		}

		m[x.contracts[i].ID] = x.contracts[i]
	}

	_csv := csv.NewReader(rDocuments)
	_csv.FieldsPerRecord = documentColumns

	for {
		rec, err := _csv.Read()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read next CSV record: %w", err)
		}

		doc, err := decodeDocument(m, rec)
		if err != nil {
			return fmt.Errorf("decode document record: %w", err)
		}

		x.documents = append(x.documents, doc)
	}
}

// out-of-range safety guaranteed by csv settings.
func decodeDocument(contracts map[identifier.ID]*schema.DataContract, rec []string) (Document, error) {
	var res Document

	contractID, err := identifier.Decode(rec[0])
	if err != nil {
		return res, fmt.Errorf("decode data contract ID: %w", err)
	}

	var ok bool

	res.Contract, ok = contracts[contractID]
	if !ok {
		return res, fmt.Errorf("data contract %s is missing in the dump", contractID)
	}

	res.Type, err = res.Contract.DocumentType(rec[1])
	if err != nil {
		return res, err
	}

	res.Document = new(document.Document)

	res.ID, err = identifier.Decode(rec[2])
	if err != nil {
		return res, fmt.Errorf("decode document ID: %w", err)
	}

	res.OwnerID, err = identifier.Decode(rec[3])
	if err != nil {
		return res, fmt.Errorf("decode owner ID: %w", err)
	}

	res.Revision, err = strconv.ParseUint(rec[4], 10, 64)
	if err != nil {
		return res, fmt.Errorf("decode revision: %w", err)
	}

	data, err := _encoding.DecodeString(rec[5])
	if err != nil {
		return res, fmt.Errorf("decode properties: %w", err)
	}

	res.Properties, err = document.DecodeProperties(res.Type, data)
	if err != nil {
		return res, err
	}

	price, err := parseOptional[uint64](rec[6], 64)
	if err != nil {
		return res, fmt.Errorf("decode price: %w", err)
	}

	if price != nil {
		res.Properties[schema.FieldPrice] = *price
	}

	for i, dst := range []**uint64{
		&res.CreatedAt, &res.UpdatedAt, &res.TransferredAt,
		&res.CreatedAtBlockHeight, &res.UpdatedAtBlockHeight, &res.TransferredAtBlockHeight,
	} {
		*dst, err = parseOptional[uint64](rec[7+i], 64)
		if err != nil {
			return res, fmt.Errorf("decode column #%d: %w", 7+i, err)
		}
	}

	for i, dst := range []**uint32{
		&res.CreatedAtCoreBlockHeight, &res.UpdatedAtCoreBlockHeight, &res.TransferredAtCoreBlockHeight,
	} {
		*dst, err = parseOptional[uint32](rec[13+i], 32)
		if err != nil {
			return res, fmt.Errorf("decode column #%d: %w", 13+i, err)
		}
	}

	return res, nil
}

// IterateDataContracts iterates over all data contracts from the superior
// dump and passes them into f.
func (x *Reader) IterateDataContracts(f func(*schema.DataContract)) {
	for i := range x.contracts {
		f(x.contracts[i])
	}
}

// IterateDocuments iterates over all documents from the superior dump in the
// order they were written and passes them into f.
func (x *Reader) IterateDocuments(f func(Document)) {
	for i := range x.documents {
		f(x.documents[i])
	}
}
