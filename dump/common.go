package dump

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ID is a unique identifier of the dump prepared according to the model
// described in the current package.
type ID struct {
	// Label of the dump source (e.g. testnet, mainnet).
	Label string
	// Core chain height at which the state was pulled.
	Block uint32
}

// String returns hyphen-separated ID fields.
func (x ID) String() string {
	return x.Label + sep + strconv.FormatUint(uint64(x.Block), 10)
}

// decodes ID fields from the hyphen-separated string.
func (x *ID) decodeString(s string) error {
	ss := strings.Split(s, sep)
	if len(ss) < 2 {
		return fmt.Errorf("expected '%s'-separated string with at least 2 items", sep)
	}

	n, err := strconv.ParseUint(ss[1], 10, 32)
	if err != nil {
		return fmt.Errorf("decode block number from '%s': %w", ss[1], err)
	}

	x.Label = ss[0]
	x.Block = uint32(n)

	return nil
}

// global encoding of binary values.
var _encoding = base64.StdEncoding

// dumpStreams groups data streams for data contracts and documents.
type dumpStreams struct {
	contracts, documents io.ReadWriteCloser
}

// close closes all streams.
func (x *dumpStreams) close() {
	_ = x.documents.Close()
	_ = x.contracts.Close()
}

const (
	// word separator used in dump file naming
	sep = "-"
	// suffix of file with data contracts
	contractsFileSuffix = "contracts.json"
	// suffix of file with documents
	documentsFileSuffix = "documents.csv"
)

// initDumpStreams opens data streams for the dump files located in the
// specified directory. If read flag is set, streams are read-only. Otherwise,
// files must not exist, and streams are write only.
func initDumpStreams(d *dumpStreams, dir string, id ID, read bool) error {
	pathDocuments := filepath.Join(dir, strings.Join([]string{id.String(), documentsFileSuffix}, sep))
	pathContracts := filepath.Join(dir, strings.Join([]string{id.String(), contractsFileSuffix}, sep))

	flag := os.O_RDONLY
	var perm os.FileMode

	if !read {
		for _, p := range []string{pathDocuments, pathContracts} {
			if err := checkFileNotExists(p); err != nil {
				return err
			}
		}

		flag = os.O_CREATE | os.O_WRONLY
		perm = 0600
	}

	var err error

	d.documents, err = os.OpenFile(pathDocuments, flag, perm)
	if err != nil {
		return fmt.Errorf("open file with documents: %w", err)
	}

	d.contracts, err = os.OpenFile(pathContracts, flag, perm)
	if err != nil {
		_ = d.documents.Close()
		return fmt.Errorf("open file with data contracts: %w", err)
	}

	return nil
}

// checkFileNotExists checks that there is no file at the specified path.
func checkFileNotExists(p string) error {
	_, err := os.Stat(p)
	if !os.IsNotExist(err) {
		if err == nil {
			err = os.ErrExist
		}
		return fmt.Errorf("file '%s' absence check failed: %w", p, err)
	}
	return nil
}

func formatOptional[T uint64 | uint32](v *T) string {
	if v == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*v), 10)
}

func parseOptional[T uint64 | uint32](s string, bitSize int) (*T, error) {
	if s == "" {
		return nil, nil
	}

	n, err := strconv.ParseUint(s, 10, bitSize)
	if err != nil {
		return nil, err
	}

	v := T(n)

	return &v, nil
}
