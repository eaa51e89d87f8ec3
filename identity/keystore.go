package identity

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
)

// PrivateKeySize is a length of private keys of all supported types.
const PrivateKeySize = 32

// WIF versions of the private keys for different networks.
const (
	WIFVersionMainnet = 0xCC
	WIFVersionTestnet = 0xEF
)

var (
	// ErrMissingPrivateKey is returned when private key of the selected public
	// key has not been supplied.
	ErrMissingPrivateKey = errors.New("missing private key")

	// ErrUnsupportedKeyType is returned for key types the signer can not
	// handle.
	ErrUnsupportedKeyType = errors.New("unsupported key type")

	// ErrKeyMismatch is returned when private key does not correspond to the
	// public key it is registered for.
	ErrKeyMismatch = errors.New("private key does not match public key")
)

// KeyStore holds private keys of the identity by their public key
// identifiers. KeyStore is meant to be filled once before use: only keys the
// caller intends to sign with should be added. KeyStore is safe for
// concurrent use.
type KeyStore struct {
	mtx  sync.RWMutex
	keys map[KeyID][]byte
}

// NewKeyStore returns empty KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[KeyID][]byte)}
}

// Add registers private key of the given public key. Private key must
// correspond to the public key data, otherwise [ErrKeyMismatch] is returned.
func (x *KeyStore) Add(pub *PublicKey, priv []byte) error {
	if len(priv) == 0 {
		return fmt.Errorf("%w: key #%d: empty key", ErrMissingPrivateKey, pub.ID)
	}

	data, err := DerivePublicKeyData(pub.Type, priv)
	if err != nil {
		return fmt.Errorf("derive public key #%d: %w", pub.ID, err)
	}

	if !bytes.Equal(data, pub.Data) {
		return fmt.Errorf("%w: key #%d", ErrKeyMismatch, pub.ID)
	}

	x.mtx.Lock()
	x.keys[pub.ID] = slices.Clone(priv)
	x.mtx.Unlock()

	return nil
}

// AddWIF is [KeyStore.Add] for private keys in Wallet Import Format with the
// given version byte (see [WIFVersionTestnet], [WIFVersionMainnet]).
func (x *KeyStore) AddWIF(pub *PublicKey, wif string, version byte) error {
	priv, err := DecodeWIF(wif, version)
	if err != nil {
		return fmt.Errorf("key #%d: %w", pub.ID, err)
	}

	return x.Add(pub, priv)
}

// PrivateKey returns private key registered for the given public key.
// Returns [ErrMissingPrivateKey] if the key is not registered.
func (x *KeyStore) PrivateKey(id KeyID) ([]byte, error) {
	x.mtx.RLock()
	priv, ok := x.keys[id]
	x.mtx.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: key #%d", ErrMissingPrivateKey, id)
	}

	return priv, nil
}

// Len returns number of registered keys.
func (x *KeyStore) Len() int {
	x.mtx.RLock()
	defer x.mtx.RUnlock()
	return len(x.keys)
}

// DecodeWIF decodes private key from Wallet Import Format.
func DecodeWIF(wif string, version byte) ([]byte, error) {
	w, err := keys.WIFDecode(wif, version)
	if err != nil {
		return nil, fmt.Errorf("decode WIF: %w", err)
	}

	return w.PrivateKey.Bytes(), nil
}

// DerivePublicKeyData returns public key data of the given type corresponding
// to the private key: compressed secp256k1 point for ECDSA_SECP256K1, its
// HASH160 for ECDSA_HASH160 and compressed G1 point for BLS12_381.
func DerivePublicKeyData(typ KeyType, priv []byte) ([]byte, error) {
	switch typ {
	case KeyTypeECDSASecp256k1, KeyTypeECDSAHash160:
		k, err := secp256k1PrivateKey(priv)
		if err != nil {
			return nil, err
		}

		pub := k.PubKey().SerializeCompressed()
		if typ == KeyTypeECDSAHash160 {
			return hash.Hash160(pub).BytesBE(), nil
		}

		return pub, nil
	case KeyTypeBLS12381:
		sk, err := blsSecretKey(priv)
		if err != nil {
			return nil, err
		}

		_, _, g1, _ := bls12381.Generators()

		var pub bls12381.G1Affine
		pub.ScalarMultiplication(&g1, sk)
		b := pub.Bytes()

		return b[:], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, typ)
	}
}

func secp256k1PrivateKey(priv []byte) (*secp256k1.PrivateKey, error) {
	if len(priv) != PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length %d, expected %d", len(priv), PrivateKeySize)
	}

	k := secp256k1.PrivKeyFromBytes(priv)
	if k.Key.IsZero() {
		return nil, errors.New("zero private key")
	}

	return k, nil
}

func blsSecretKey(priv []byte) (*big.Int, error) {
	if len(priv) != PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length %d, expected %d", len(priv), PrivateKeySize)
	}

	sk := new(big.Int).SetBytes(priv)
	if sk.Cmp(fr.Modulus()) >= 0 || sk.Sign() == 0 {
		return nil, errors.New("private key is out of BLS12-381 scalar field")
	}

	return sk, nil
}
