package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentity_FirstPublicKeyMatching(t *testing.T) {
	disabledAt := uint64(1)
	id := Identity{
		PublicKeys: []PublicKey{
			{ID: 4, Purpose: PurposeAuthentication, SecurityLevel: SecurityLevelHigh, Type: KeyTypeBLS12381},
			{ID: 2, Purpose: PurposeAuthentication, SecurityLevel: SecurityLevelMedium, Type: KeyTypeECDSASecp256k1},
			{ID: 1, Purpose: PurposeAuthentication, SecurityLevel: SecurityLevelHigh, Type: KeyTypeECDSASecp256k1},
			{ID: 0, Purpose: PurposeAuthentication, SecurityLevel: SecurityLevelHigh, Type: KeyTypeECDSASecp256k1, DisabledAt: &disabledAt},
			{ID: 3, Purpose: PurposeTransfer, SecurityLevel: SecurityLevelCritical, Type: KeyTypeECDSASecp256k1},
		},
	}

	for _, tc := range []struct {
		name    string
		purpose Purpose
		levels  []SecurityLevel
		types   []KeyType
		exp     KeyID
		missing bool
	}{
		{
			name:    "lowest matching id",
			purpose: PurposeAuthentication,
			levels:  []SecurityLevel{SecurityLevelHigh},
			types:   []KeyType{KeyTypeECDSASecp256k1},
			exp:     1,
		},
		{
			name:    "any of levels",
			purpose: PurposeAuthentication,
			levels:  []SecurityLevel{SecurityLevelMedium, SecurityLevelCritical},
			types:   []KeyType{KeyTypeECDSASecp256k1},
			exp:     2,
		},
		{
			name:    "any of types",
			purpose: PurposeAuthentication,
			levels:  []SecurityLevel{SecurityLevelHigh},
			types:   []KeyType{KeyTypeBLS12381, KeyTypeECDSAHash160},
			exp:     4,
		},
		{
			name:    "purpose",
			purpose: PurposeTransfer,
			levels:  []SecurityLevel{SecurityLevelCritical},
			types:   []KeyType{KeyTypeECDSASecp256k1},
			exp:     3,
		},
		{
			name:    "no algorithm",
			purpose: PurposeAuthentication,
			levels:  []SecurityLevel{SecurityLevelHigh},
			types:   []KeyType{KeyTypeECDSAHash160},
			missing: true,
		},
		{
			name:    "no level",
			purpose: PurposeAuthentication,
			levels:  []SecurityLevel{SecurityLevelMaster},
			types:   []KeyType{KeyTypeECDSASecp256k1},
			missing: true,
		},
		{
			name:    "no purpose",
			purpose: PurposeVoting,
			levels:  []SecurityLevel{SecurityLevelHigh},
			types:   []KeyType{KeyTypeECDSASecp256k1},
			missing: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k, err := id.FirstPublicKeyMatching(tc.purpose, tc.levels, tc.types)
			if tc.missing {
				require.ErrorIs(t, err, ErrKeyNotFound)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.exp, k.ID)
		})
	}
}

func TestIdentity_KeySelectionExample(t *testing.T) {
	id := Identity{
		PublicKeys: []PublicKey{
			{ID: 1, Purpose: PurposeAuthentication, SecurityLevel: SecurityLevelHigh, Type: KeyTypeECDSASecp256k1},
			{ID: 2, Purpose: PurposeAuthentication, SecurityLevel: SecurityLevelMedium, Type: KeyTypeECDSASecp256k1},
		},
	}

	k, err := id.FirstPublicKeyMatching(PurposeAuthentication, []SecurityLevel{SecurityLevelHigh}, []KeyType{KeyTypeECDSASecp256k1})
	require.NoError(t, err)
	require.EqualValues(t, 1, k.ID)

	_, err = id.FirstPublicKeyMatching(PurposeAuthentication, []SecurityLevel{SecurityLevelHigh}, []KeyType{KeyTypeBLS12381})
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestIdentity_PublicKey(t *testing.T) {
	id := Identity{PublicKeys: []PublicKey{{ID: 7, Data: []byte{1}}}}

	k, ok := id.PublicKey(7)
	require.True(t, ok)
	k.Data[0] = 2
	require.EqualValues(t, 2, id.PublicKeys[0].Data[0])

	_, ok = id.PublicKey(8)
	require.False(t, ok)
}

func TestEnumStrings(t *testing.T) {
	require.Equal(t, "AUTHENTICATION", PurposeAuthentication.String())
	require.Equal(t, "OWNER", PurposeOwner.String())
	require.Equal(t, "HIGH", SecurityLevelHigh.String())
	require.Equal(t, "BLS12_381", KeyTypeBLS12381.String())
	require.Equal(t, "UNKNOWN#42", KeyType(42).String())
}
