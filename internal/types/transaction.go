package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// TransactionType identifies the ledger operation carried by a transaction.
type TransactionType string

const (
	TxCommit TransactionType = "commit"
	TxSign   TransactionType = "sign"
)

// Transaction is the unsigned body submitted to the ledger host.
type Transaction struct {
	Type      TransactionType `json:"type"`
	Timestamp time.Time       `json:"timestamp"` // Client clock; keeps repeated submissions distinct, never used for ordering
	Payload   json.RawMessage `json:"payload"`
}

// CommitPayload is the payload of a TxCommit transaction.
type CommitPayload struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Metadata    []byte      `json:"metadata,omitempty"`
}

// SignPayload is the payload of a TxSign transaction.
type SignPayload struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Signature   []byte      `json:"signature"`
}

// SignedTransaction wraps an encoded Transaction with the submitter's public
// key and a signature over Tx. The host authenticates the caller from it.
type SignedTransaction struct {
	Scheme    string `json:"scheme,omitempty"` // Signature scheme name; empty means ed25519
	Tx        []byte `json:"tx"`
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

// Signer produces signatures for a single key.
type Signer interface {
	Scheme() string
	PublicKey() []byte
	Sign(message []byte) ([]byte, error)
}

// NewTransaction marshals payload into a transaction of the given type.
func NewTransaction(txType TransactionType, payload any) (*Transaction, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", txType, err)
	}
	return &Transaction{Type: txType, Timestamp: time.Now().UTC(), Payload: b}, nil
}

// Sign encodes the transaction and signs the encoded bytes.
func (tx *Transaction) Sign(signer Signer) (*SignedTransaction, error) {
	b, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}
	sig, err := signer.Sign(b)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return &SignedTransaction{
		Scheme:    signer.Scheme(),
		Tx:        b,
		PublicKey: signer.PublicKey(),
		Signature: sig,
	}, nil
}

// GetTransaction decodes the inner transaction.
func (stx *SignedTransaction) GetTransaction() (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(stx.Tx, &tx); err != nil {
		return nil, fmt.Errorf("decode inner tx: %w", err)
	}
	return &tx, nil
}

// Caller returns the identity of the submitter.
func (stx *SignedTransaction) Caller() Identity {
	return IdentityFromPublicKey(stx.PublicKey)
}
