package document

import (
	"crypto/rand"
	"fmt"

	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
)

// EntropySize is a length of entropy consumed by document identifier
// derivation.
const EntropySize = 32

// Entropy is a one-time random value making document identifier unique
// among documents of the same owner, contract and type.
type Entropy [EntropySize]byte

// EntropySource produces fresh entropy for every new document.
type EntropySource interface {
	// NewEntropy returns never before returned random value. Entropy must not
	// be logged or reused.
	NewEntropy() (Entropy, error)
}

// CryptoEntropy is an EntropySource reading from the OS cryptographically
// secure random generator.
type CryptoEntropy struct{}

// NewEntropy implements [EntropySource].
func (CryptoEntropy) NewEntropy() (Entropy, error) {
	var e Entropy

	_, err := rand.Read(e[:])
	if err != nil {
		return e, fmt.Errorf("read random bytes: %w", err)
	}

	return e, nil
}

// GenerateID derives identifier of the new document. The result is double
// SHA-256 of the concatenated contract identifier, owner identifier, document
// type name and entropy. Only the type name has variable length, so the
// concatenation is unambiguous. Any party knowing all four inputs can verify
// the identifier.
func GenerateID(contract, owner identifier.ID, typeName string, entropy Entropy) identifier.ID {
	buf := make([]byte, 0, 2*identifier.Size+len(typeName)+EntropySize)
	buf = append(buf, contract[:]...)
	buf = append(buf, owner[:]...)
	buf = append(buf, typeName...)
	buf = append(buf, entropy[:]...)

	return identifier.ID(hash.DoubleSha256(buf))
}
