package identity

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/nspcc-dev/docstate/identifier"
)

// ErrKeyNotFound is returned when identity has no key satisfying operation
// requirements.
var ErrKeyNotFound = errors.New("identity key not found")

// KeyID identifies public key within its identity.
type KeyID uint32

// Purpose is a usage domain of the identity key.
type Purpose uint8

// All supported key purposes.
const (
	PurposeAuthentication Purpose = iota
	PurposeEncryption
	PurposeDecryption
	PurposeTransfer
	PurposeSystem
	PurposeVoting
	PurposeOwner
)

var purposeNames = []string{"AUTHENTICATION", "ENCRYPTION", "DECRYPTION", "TRANSFER", "SYSTEM", "VOTING", "OWNER"}

func (x Purpose) String() string {
	if int(x) < len(purposeNames) {
		return purposeNames[x]
	}
	return "UNKNOWN#" + strconv.Itoa(int(x))
}

// SecurityLevel is a protection level of the identity key. Lower value means
// higher level.
type SecurityLevel uint8

// All supported security levels.
const (
	SecurityLevelMaster SecurityLevel = iota
	SecurityLevelCritical
	SecurityLevelHigh
	SecurityLevelMedium
)

var securityLevelNames = []string{"MASTER", "CRITICAL", "HIGH", "MEDIUM"}

func (x SecurityLevel) String() string {
	if int(x) < len(securityLevelNames) {
		return securityLevelNames[x]
	}
	return "UNKNOWN#" + strconv.Itoa(int(x))
}

// KeyType is a signature algorithm of the identity key.
type KeyType uint8

// All known key types.
const (
	KeyTypeECDSASecp256k1 KeyType = iota
	KeyTypeBLS12381
	KeyTypeECDSAHash160
	KeyTypeBIP13ScriptHash
	KeyTypeEdDSA25519Hash160
)

var keyTypeNames = []string{"ECDSA_SECP256K1", "BLS12_381", "ECDSA_HASH160", "BIP13_SCRIPT_HASH", "EDDSA_25519_HASH160"}

func (x KeyType) String() string {
	if int(x) < len(keyTypeNames) {
		return keyTypeNames[x]
	}
	return "UNKNOWN#" + strconv.Itoa(int(x))
}

// PublicKey is a public key of the identity.
type PublicKey struct {
	ID            KeyID         `json:"id"`
	Purpose       Purpose       `json:"purpose"`
	SecurityLevel SecurityLevel `json:"securityLevel"`
	Type          KeyType       `json:"type"`
	ReadOnly      bool          `json:"readOnly,omitempty"`

	// Encoded public key or its hash depending on the type.
	Data []byte `json:"data"`

	// Timestamp in milliseconds the key was disabled at, nil for enabled keys.
	DisabledAt *uint64 `json:"disabledAt,omitempty"`
}

// Disabled checks whether key can no longer be used.
func (x PublicKey) Disabled() bool {
	return x.DisabledAt != nil
}

// Identity is a platform identity: the owner of documents and contracts.
type Identity struct {
	ID       identifier.ID `json:"id"`
	Balance  uint64        `json:"balance"`
	Revision uint64        `json:"revision"`

	PublicKeys []PublicKey `json:"publicKeys"`
}

// PublicKey returns key with the given identifier.
func (x *Identity) PublicKey(id KeyID) (*PublicKey, bool) {
	for i := range x.PublicKeys {
		if x.PublicKeys[i].ID == id {
			k := x.PublicKeys[i]
			return &k, true
		}
	}
	return nil, false
}

// FirstPublicKeyMatching returns enabled key with the lowest identifier
// having the given purpose, one of the security levels and one of the
// types. Returns [ErrKeyNotFound] if there is no such key.
func (x *Identity) FirstPublicKeyMatching(purpose Purpose, levels []SecurityLevel, types []KeyType) (*PublicKey, error) {
	keys := slices.Clone(x.PublicKeys)
	slices.SortFunc(keys, func(a, b PublicKey) int { return cmp.Compare(a.ID, b.ID) })

	for i := range keys {
		if keys[i].Disabled() || keys[i].Purpose != purpose {
			continue
		}

		if slices.Contains(levels, keys[i].SecurityLevel) && slices.Contains(types, keys[i].Type) {
			return &keys[i], nil
		}
	}

	return nil, fmt.Errorf("%w: identity %s, purpose %s, levels %v, types %v",
		ErrKeyNotFound, x.ID, purpose, levels, types)
}
