// Package scheme holds the pluggable cryptography used by the notary: the
// signature schemes endorsements and transactions are checked with, and the
// hash algorithms document fingerprints are computed with.
package scheme

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"notary.mini/notary/internal/types"
)

const (
	Ed25519   = "ed25519"
	ECDSAP256 = "ecdsa-p256"

	SHA256    = "sha256"
	SHA512256 = "sha512-256"
)

var (
	ErrUnsupportedScheme    = errors.New("unsupported signature scheme")
	ErrUnsupportedAlgorithm = errors.New("unsupported fingerprint algorithm")
)

// Scheme verifies signatures for one algorithm.
type Scheme interface {
	Name() string
	Verify(publicKey, message, signature []byte) bool
}

// Lookup returns the scheme registered under name. An empty name selects
// ed25519.
func Lookup(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Ed25519:
		return ed25519Scheme{}, nil
	case ECDSAP256:
		return p256Scheme{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, name)
	}
}

type ed25519Scheme struct{}

func (ed25519Scheme) Name() string { return Ed25519 }

func (ed25519Scheme) Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// p256Scheme is ECDSA over P-256 with SHA-256 (ES256). Public keys are the
// 65-byte uncompressed point; signatures may be ASN.1 DER or raw r||s.
type p256Scheme struct{}

func (p256Scheme) Name() string { return ECDSAP256 }

func (p256Scheme) Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != 65 || publicKey[0] != 0x04 {
		return false
	}
	curve := elliptic.P256()
	x := new(big.Int).SetBytes(publicKey[1:33])
	y := new(big.Int).SetBytes(publicKey[33:65])
	if !curve.IsOnCurve(x, y) {
		return false
	}
	r, s, ok := parseP256Signature(signature)
	if !ok {
		return false
	}
	digest := sha256.Sum256(message)
	return ecdsa.Verify(&ecdsa.PublicKey{Curve: curve, X: x, Y: y}, digest[:], r, s)
}

func parseP256Signature(sig []byte) (*big.Int, *big.Int, bool) {
	if len(sig) == 64 {
		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		return r, s, r.Sign() > 0 && s.Sign() > 0
	}
	var der struct {
		R *big.Int
		S *big.Int
	}
	rest, err := asn1.Unmarshal(sig, &der)
	if err != nil || len(rest) != 0 || der.R == nil || der.S == nil {
		return nil, nil, false
	}
	return der.R, der.S, der.R.Sign() > 0 && der.S.Sign() > 0
}

// IdentityVerifier checks signatures made by ledger identities. The public
// key of an identity is its hex decoding, so no key directory is needed.
type IdentityVerifier struct {
	Scheme Scheme
}

// NewIdentityVerifier returns a verifier for the named scheme.
func NewIdentityVerifier(name string) (*IdentityVerifier, error) {
	s, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return &IdentityVerifier{Scheme: s}, nil
}

// VerifySignature reports whether signature is valid for message under the
// public key of signer.
func (v *IdentityVerifier) VerifySignature(signer types.Identity, message, signature []byte) bool {
	pub, err := signer.PublicKey()
	if err != nil {
		return false
	}
	return v.Scheme.Verify(pub, message, signature)
}

// Hasher computes document fingerprints.
type Hasher func(data []byte) []byte

// LookupHasher returns the fingerprint algorithm registered under name. An
// empty name selects SHA-256. Both algorithms produce 32-byte digests.
func LookupHasher(name string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SHA256:
		return func(data []byte) []byte {
			sum := sha256.Sum256(data)
			return sum[:]
		}, nil
	case SHA512256:
		return func(data []byte) []byte {
			sum := sha512.Sum512_256(data)
			return sum[:]
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
}

// P256Signer signs with an ECDSA P-256 key. It implements types.Signer.
type P256Signer struct {
	key *ecdsa.PrivateKey
}

// GenerateP256 creates a signer with a fresh P-256 key.
func GenerateP256() (*P256Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &P256Signer{key: key}, nil
}

func (s *P256Signer) Scheme() string { return ECDSAP256 }

// PublicKey returns the uncompressed point encoding.
func (s *P256Signer) PublicKey() []byte {
	pub, err := s.key.PublicKey.ECDH()
	if err != nil {
		return nil
	}
	return pub.Bytes()
}

func (s *P256Signer) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return ecdsa.SignASN1(rand.Reader, s.key, digest[:])
}

// Address returns the ledger identity for the key.
func (s *P256Signer) Address() types.Identity {
	return types.IdentityFromPublicKey(s.PublicKey())
}
