package identity

import (
	"bytes"
	"errors"
	"fmt"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
)

// Signature sizes of the supported key types.
const (
	ECDSASignatureSize = 65
	BLSSignatureSize   = bls12381.SizeOfG2AffineCompressed
)

// blsDST is a domain separation tag of the BLS signature scheme.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// ErrInvalidSignature is returned by [Verify] for signatures not matching
// the key and payload.
var ErrInvalidSignature = errors.New("invalid signature")

// Signer signs state transition payloads by identity keys.
type Signer interface {
	// Sign signs payload by the private key corresponding to the given public
	// key. Returns [ErrMissingPrivateKey] if the private key is unavailable
	// and [ErrUnsupportedKeyType] if the key type can not be used for signing.
	Sign(key *PublicKey, payload []byte) ([]byte, error)
}

// KeyStoreSigner is a Signer using keys from the KeyStore.
type KeyStoreSigner struct {
	Keys *KeyStore
}

// Sign implements [Signer].
func (x KeyStoreSigner) Sign(key *PublicKey, payload []byte) ([]byte, error) {
	priv, err := x.Keys.PrivateKey(key.ID)
	if err != nil {
		return nil, err
	}

	return sign(key.Type, priv, payload)
}

func sign(typ KeyType, priv, payload []byte) ([]byte, error) {
	digest := hash.DoubleSha256(payload)

	switch typ {
	case KeyTypeECDSASecp256k1, KeyTypeECDSAHash160:
		k, err := secp256k1PrivateKey(priv)
		if err != nil {
			return nil, err
		}

		return ecdsa.SignCompact(k, digest[:], true), nil
	case KeyTypeBLS12381:
		return SignBLS(priv, digest[:])
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, typ)
	}
}

// SignBLS signs the message by BLS12-381 private key. The result is
// compressed G2 point.
func SignBLS(priv, msg []byte) ([]byte, error) {
	sk, err := blsSecretKey(priv)
	if err != nil {
		return nil, err
	}

	h, err := bls12381.HashToG2(msg, blsDST)
	if err != nil {
		return nil, fmt.Errorf("hash to G2: %w", err)
	}

	var sig bls12381.G2Affine
	sig.ScalarMultiplication(&h, sk)
	b := sig.Bytes()

	return b[:], nil
}

// Verify checks that signature of the payload is made by the given key.
func Verify(key *PublicKey, payload, sig []byte) error {
	digest := hash.DoubleSha256(payload)

	switch key.Type {
	case KeyTypeECDSASecp256k1, KeyTypeECDSAHash160:
		if len(sig) != ECDSASignatureSize {
			return fmt.Errorf("%w: length %d, expected %d", ErrInvalidSignature, len(sig), ECDSASignatureSize)
		}

		pub, _, err := ecdsa.RecoverCompact(sig, digest[:])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}

		data := pub.SerializeCompressed()
		if key.Type == KeyTypeECDSAHash160 {
			data = hash.Hash160(data).BytesBE()
		}

		if !bytes.Equal(data, key.Data) {
			return fmt.Errorf("%w: signed by another key", ErrInvalidSignature)
		}

		return nil
	case KeyTypeBLS12381:
		return VerifyBLS(key.Data, digest[:], sig)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedKeyType, key.Type)
	}
}

// VerifyBLS checks BLS12-381 signature of the message by the compressed G1
// public key.
func VerifyBLS(pubKey, msg, sig []byte) error {
	var pub bls12381.G1Affine

	_, err := pub.SetBytes(pubKey)
	if err != nil {
		return fmt.Errorf("decode BLS public key: %w", err)
	}

	var s bls12381.G2Affine

	_, err = s.SetBytes(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if pub.IsInfinity() || s.IsInfinity() {
		return fmt.Errorf("%w: point at infinity", ErrInvalidSignature)
	}

	h, err := bls12381.HashToG2(msg, blsDST)
	if err != nil {
		return fmt.Errorf("hash to G2: %w", err)
	}

	_, _, g1, _ := bls12381.Generators()

	var negG1 bls12381.G1Affine
	negG1.Neg(&g1)

	ok, err := bls12381.PairingCheck([]bls12381.G1Affine{pub, negG1}, []bls12381.G2Affine{h, s})
	if err != nil {
		return fmt.Errorf("pairing check: %w", err)
	}

	if !ok {
		return ErrInvalidSignature
	}

	return nil
}
