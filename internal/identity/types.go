// Package identity manages ed25519 account keys for notary callers. An
// Identity signs ledger transactions and endorsement messages, and exposes
// the canonical hex identity recorded as committer or signer.
package identity

import (
	"crypto/ed25519"

	"notary.mini/notary/internal/types"
)

// SchemeName is the signature scheme an Identity signs with.
const SchemeName = "ed25519"

// Identity is an account keypair.
type Identity struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	address    types.Identity
}

// NewIdentity creates a new Identity from a private key
func NewIdentity(privKey ed25519.PrivateKey) *Identity {
	pubKey := privKey.Public().(ed25519.PublicKey)
	return &Identity{
		privateKey: privKey,
		publicKey:  pubKey,
		address:    types.IdentityFromPublicKey(pubKey),
	}
}

// Generate creates a fresh in-memory identity that is never written to disk.
func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return NewIdentity(priv), nil
}

// Scheme implements types.Signer.
func (i *Identity) Scheme() string { return SchemeName }

// Sign signs the provided message with the identity's private key
func (i *Identity) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(i.privateKey, message), nil
}

// Verify verifies a signature against a message using the identity's public key
func (i *Identity) Verify(message, signature []byte) bool {
	return ed25519.Verify(i.publicKey, message, signature)
}

// PublicKey returns the raw public key bytes
func (i *Identity) PublicKey() []byte {
	return i.publicKey
}

// PrivateKey returns the raw private key
func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.privateKey
}

// Address returns the canonical ledger identity (hex public key).
func (i *Identity) Address() types.Identity {
	return i.address
}
