// Package types defines the core domain models for the notary ledger. It
// contains the document fingerprint, the notarization record, endorsements,
// verification results and the events emitted when records or endorsements
// are created.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Version is the current version of the notary application
const Version = "0.1.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

// DefaultFingerprintSize is the byte length of a SHA-256 class digest.
const DefaultFingerprintSize = 32

// Fingerprint is the content hash identifying a document. It serializes as
// lowercase hex.
type Fingerprint []byte

// ParseFingerprint decodes a hex-encoded fingerprint. Length is not checked
// here; the registry enforces the configured size.
func ParseFingerprint(s string) (Fingerprint, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode fingerprint: %w", err)
	}
	return Fingerprint(b), nil
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f)
}

func (f Fingerprint) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Fingerprint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFingerprint(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Identity is the canonical account identifier: the lowercase hex encoding
// of the account's public key.
type Identity string

// IdentityFromPublicKey builds the canonical identity for a raw public key.
func IdentityFromPublicKey(pub []byte) Identity {
	return Identity(hex.EncodeToString(pub))
}

// PublicKey decodes the identity back into raw public key bytes.
func (id Identity) PublicKey() ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("empty identity")
	}
	b, err := hex.DecodeString(string(id))
	if err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return b, nil
}

// DocumentRecord is the write-once notarization of a fingerprint.
type DocumentRecord struct {
	Fingerprint Fingerprint `json:"fingerprint"`        // Primary key
	Committer   Identity    `json:"committer"`          // Account that committed the fingerprint
	CommittedAt uint64      `json:"committed_at"`       // Logical timestamp supplied by the host
	Metadata    []byte      `json:"metadata,omitempty"` // Optional bounded label, immutable
}

// Endorsement is one signer's attestation over a notarized fingerprint.
type Endorsement struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Signer      Identity    `json:"signer"`
	Signature   []byte      `json:"signature"`
	SignedAt    uint64      `json:"signed_at"`
}

// VerificationResult answers whether a fingerprint is notarized, by whom,
// and which endorsements it carries. Exists=false is a normal outcome.
type VerificationResult struct {
	Exists     bool            `json:"exists"`
	Record     *DocumentRecord `json:"record,omitempty"`
	Signatures []Endorsement   `json:"signatures"`
}

// EventKind names the ledger transition an event reports.
type EventKind string

const (
	EventCommitted EventKind = "committed"
	EventSigned    EventKind = "signed"
)

// Event is emitted for external observers after a commit or sign has been
// durably applied.
type Event struct {
	ID          string      `json:"id"` // UUID, lets indexers drop duplicates
	Kind        EventKind   `json:"kind"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Actor       Identity    `json:"actor"`
	Timestamp   uint64      `json:"timestamp"`
}
