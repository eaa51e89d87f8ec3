package fakeplatform

import (
	"crypto/rand"
	_ "embed"
	"testing"

	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/identity"
	"github.com/nspcc-dev/docstate/schema"
	"github.com/stretchr/testify/require"
)

// ClaimsSchema is a document schema of the project management contract:
// Project, Tasks and transferable Claim document types.
//
//go:embed testdata/claims.json
var ClaimsSchema []byte

// Account is an identity with an authentication key able to sign
// transitions.
type Account struct {
	Identity *identity.Identity
	Key      *identity.PublicKey
	Keys     *identity.KeyStore
	Signer   identity.Signer
}

// RandomID returns random identifier.
func RandomID(t testing.TB) identifier.ID {
	var id identifier.ID
	_, err := rand.Read(id[:])
	require.NoError(t, err)
	return id
}

// NewAccount registers new identity with the given balance and single high
// level ECDSA_SECP256K1 authentication key.
func NewAccount(t testing.TB, p *Platform, balance uint64) *Account {
	priv := make([]byte, identity.PrivateKeySize)
	_, err := rand.Read(priv)
	require.NoError(t, err)

	data, err := identity.DerivePublicKeyData(identity.KeyTypeECDSASecp256k1, priv)
	require.NoError(t, err)

	id := &identity.Identity{
		ID:      RandomID(t),
		Balance: balance,
		PublicKeys: []identity.PublicKey{{
			ID:            0,
			Purpose:       identity.PurposeAuthentication,
			SecurityLevel: identity.SecurityLevelHigh,
			Type:          identity.KeyTypeECDSASecp256k1,
			Data:          data,
		}},
	}

	ks := identity.NewKeyStore()
	require.NoError(t, ks.Add(&id.PublicKeys[0], priv))

	if p != nil {
		p.AddIdentity(id)
	}

	return &Account{
		Identity: id,
		Key:      &id.PublicKeys[0],
		Keys:     ks,
		Signer:   identity.KeyStoreSigner{Keys: ks},
	}
}

// DeployClaims registers data contract with [ClaimsSchema] owned by the
// account.
func DeployClaims(t testing.TB, p *Platform, owner *Account) *schema.DataContract {
	c, err := schema.NewDataContract(RandomID(t), owner.Identity.ID, 1, ClaimsSchema)
	require.NoError(t, err)

	p.AddDataContract(c)

	return c
}
