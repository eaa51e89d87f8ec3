package document

import (
	"crypto/rand"
	"testing"

	"github.com/nspcc-dev/docstate/identifier"
	"github.com/stretchr/testify/require"
)

func randID(t testing.TB) identifier.ID {
	var id identifier.ID
	_, err := rand.Read(id[:])
	require.NoError(t, err)
	return id
}

func TestGenerateID(t *testing.T) {
	contract := randID(t)
	owner := randID(t)
	entropy, err := CryptoEntropy{}.NewEntropy()
	require.NoError(t, err)

	id := GenerateID(contract, owner, "Claim", entropy)
	require.Equal(t, id, GenerateID(contract, owner, "Claim", entropy))
	require.False(t, id.IsZero())

	otherEntropy := entropy
	otherEntropy[0] ^= 1

	for name, other := range map[string]identifier.ID{
		"contract": GenerateID(randID(t), owner, "Claim", entropy),
		"owner":    GenerateID(contract, randID(t), "Claim", entropy),
		"type":     GenerateID(contract, owner, "Claims", entropy),
		"entropy":  GenerateID(contract, owner, "Claim", otherEntropy),
	} {
		t.Run(name, func(t *testing.T) {
			require.NotEqual(t, id, other)
		})
	}
}

func TestCryptoEntropy(t *testing.T) {
	seen := make(map[Entropy]struct{})
	for range 100 {
		e, err := CryptoEntropy{}.NewEntropy()
		require.NoError(t, err)
		require.NotContains(t, seen, e)
		seen[e] = struct{}{}
	}
}
