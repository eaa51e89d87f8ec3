// Package identifier provides 32-byte identifiers of platform entities
// (data contracts, documents and identities) and their base58 text form.
package identifier

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Size is the length of the binary identifier.
const Size = 32

// ErrInvalidIdentifier is returned when text or binary data can not be
// interpreted as an identifier.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ID is a 32-byte identifier of a contract, document or identity.
type ID [Size]byte

// Decode parses base58 text representation of the identifier. The text must
// decode into exactly [Size] bytes.
func Decode(s string) (ID, error) {
	var id ID

	if s == "" {
		return id, fmt.Errorf("%w: empty string", ErrInvalidIdentifier)
	}

	b, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("%w: decode base58 %q: %v", ErrInvalidIdentifier, s, err)
	}

	if len(b) != Size {
		return id, fmt.Errorf("%w: %q decodes into %d bytes, expected %d", ErrInvalidIdentifier, s, len(b), Size)
	}

	copy(id[:], b)

	return id, nil
}

// MustDecode is like Decode but panics on error. It is intended for
// hardcoded constants only.
func MustDecode(s string) ID {
	id, err := Decode(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromBytes copies b into ID. The slice must be exactly [Size] bytes long.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, fmt.Errorf("%w: length %d, expected %d", ErrInvalidIdentifier, len(b), Size)
	}
	copy(id[:], b)
	return id, nil
}

// String returns base58 text representation of the identifier.
func (x ID) String() string {
	return base58.Encode(x[:])
}

// Bytes returns a copy of the identifier bytes.
func (x ID) Bytes() []byte {
	return bytes.Clone(x[:])
}

// IsZero checks whether the identifier is unset.
func (x ID) IsZero() bool {
	return x == ID{}
}

// Compare compares identifiers byte-wise.
func (x ID) Compare(y ID) int {
	return bytes.Compare(x[:], y[:])
}

// MarshalText implements [encoding.TextMarshaler].
func (x ID) MarshalText() ([]byte, error) {
	return []byte(x.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (x *ID) UnmarshalText(text []byte) error {
	id, err := Decode(string(text))
	if err != nil {
		return err
	}
	*x = id
	return nil
}
