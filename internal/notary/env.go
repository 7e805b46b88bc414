package notary

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"notary.mini/notary/internal/scheme"
	"notary.mini/notary/internal/types"
)

// Env is the execution host as seen by a single invocation: who is calling
// and at which logical time.
type Env interface {
	// Caller returns the authenticated caller, or false when the
	// invocation carries no proof of identity.
	Caller() (types.Identity, bool)
	// Sequence is the host's monotonically increasing logical clock.
	Sequence() uint64
}

// Receipter is implemented by environments that record a receipt of each
// successful mutation. The receipt is written in the same storage
// transaction as the mutation; a nil key writes nothing.
type Receipter interface {
	Receipt(events []types.Event) (key, value []byte)
}

// Verifier checks a signature against the public key the host associates
// with an identity.
type Verifier interface {
	VerifySignature(signer types.Identity, message, signature []byte) bool
}

// EventSink receives events of successfully applied operations.
type EventSink interface {
	Publish(ev types.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev types.Event)

func (f EventSinkFunc) Publish(ev types.Event) { f(ev) }

// StaticEnv is an Env with a fixed caller and sequence.
type StaticEnv struct {
	Identity types.Identity
	Height   uint64
}

func (e StaticEnv) Caller() (types.Identity, bool) { return e.Identity, e.Identity != "" }
func (e StaticEnv) Sequence() uint64              { return e.Height }

// Params are the fixed configuration constants of a ledger. They are set
// when the contract is built and never change afterwards.
type Params struct {
	FingerprintSize      int    `json:"fingerprint_size"`
	MaxMetadataSize      int    `json:"max_metadata_size"`
	SignatureScheme      string `json:"signature_scheme"`
	FingerprintAlgorithm string `json:"fingerprint_algorithm"`
	// SignMetadata makes the metadata digest part of the endorsed message.
	SignMetadata bool `json:"sign_metadata"`
}

// DefaultParams returns the standard ledger configuration.
func DefaultParams() Params {
	return Params{
		FingerprintSize:      types.DefaultFingerprintSize,
		MaxMetadataSize:      256,
		SignatureScheme:      scheme.Ed25519,
		FingerprintAlgorithm: scheme.SHA256,
		SignMetadata:         true,
	}
}

// Validate rejects parameters the ledger cannot run with.
func (p Params) Validate() error {
	if p.FingerprintSize <= 0 || p.FingerprintSize > 64 {
		return fmt.Errorf("fingerprint size %d out of range (1-64)", p.FingerprintSize)
	}
	if p.MaxMetadataSize < 0 {
		return fmt.Errorf("max metadata size %d is negative", p.MaxMetadataSize)
	}
	if _, err := scheme.Lookup(p.SignatureScheme); err != nil {
		return err
	}
	hasher, err := scheme.LookupHasher(p.FingerprintAlgorithm)
	if err != nil {
		return err
	}
	if n := len(hasher(nil)); n != p.FingerprintSize {
		return fmt.Errorf("fingerprint size %d does not match %s digest size %d", p.FingerprintSize, p.FingerprintAlgorithm, n)
	}
	return nil
}

var eventNamespace = uuid.MustParse("6f1c9a52-3d0e-5b8a-9c47-2e8f10d4b6a3")

// eventID derives the event ID from the event's content, so every node
// executing the same block assigns the same IDs.
func eventID(kind types.EventKind, fp types.Fingerprint, actor types.Identity, at uint64) string {
	data := make([]byte, 0, len(kind)+len(fp)+len(actor)+11)
	data = append(data, string(kind)...)
	data = append(data, 0)
	data = append(data, fp...)
	data = append(data, 0)
	data = append(data, string(actor)...)
	data = binary.BigEndian.AppendUint64(data, at)
	return uuid.NewSHA1(eventNamespace, data).String()
}

// journal collects the events of one operation until its storage
// transaction has committed.
type journal struct {
	events []types.Event
}

func (j *journal) emit(kind types.EventKind, fp types.Fingerprint, actor types.Identity, at uint64) {
	if j == nil {
		return
	}
	j.events = append(j.events, types.Event{
		ID:          eventID(kind, fp, actor, at),
		Kind:        kind,
		Fingerprint: fp,
		Actor:       actor,
		Timestamp:   at,
	})
}
