/*
Package identity provides platform identities, their public keys and the
means to sign state transitions on their behalf.

# Key selection

Every operation requires a key of particular purpose, security level and
algorithm. [Identity.FirstPublicKeyMatching] picks the enabled key with the
lowest identifier satisfying all three, absence of such key is an error.

# Signing

Private keys are held by [KeyStore] filled once by the caller with the keys it
intends to sign with. [KeyStoreSigner] signs double SHA-256 of the payload:

  - ECDSA_SECP256K1 and ECDSA_HASH160 keys produce 65-byte compact
    recoverable secp256k1 signatures;
  - BLS12_381 keys produce 96-byte compressed G2 signatures.

[Verify] checks signatures made this way.
*/
package identity
