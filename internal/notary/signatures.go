package notary

import (
	"crypto/sha256"
	"errors"

	"notary.mini/notary/internal/kvstore"
	"notary.mini/notary/internal/types"
)

// SignatureLedger appends endorsements to committed records.
type SignatureLedger struct {
	params   Params
	registry *HashRegistry
	verifier Verifier
}

func NewSignatureLedger(params Params, registry *HashRegistry, verifier Verifier) *SignatureLedger {
	return &SignatureLedger{params: params, registry: registry, verifier: verifier}
}

// CanonicalMessage is the byte string a signer endorses for rec:
// fingerprint || SHA-256(metadata), or the bare fingerprint when metadata
// does not participate.
func CanonicalMessage(params Params, rec types.DocumentRecord) []byte {
	msg := make([]byte, 0, len(rec.Fingerprint)+sha256.Size)
	msg = append(msg, rec.Fingerprint...)
	if params.SignMetadata {
		digest := sha256.Sum256(rec.Metadata)
		msg = append(msg, digest[:]...)
	}
	return msg
}

// Sign records signer's endorsement of fp. caller is the identity the host
// authenticated for this invocation.
func (l *SignatureLedger) Sign(tx kvstore.Txn, j *journal, caller types.Identity, fp types.Fingerprint, signer types.Identity, signature []byte, at uint64) (types.Endorsement, error) {
	if err := checkIdentity(fp, "signer", signer); err != nil {
		return types.Endorsement{}, err
	}
	rec, err := l.record(tx, fp)
	if err != nil {
		return types.Endorsement{}, err
	}
	if caller != signer {
		return types.Endorsement{}, newError(ErrUnauthorized, fp, "caller %s cannot sign as %s", caller, signer)
	}
	if !l.verifier.VerifySignature(signer, CanonicalMessage(l.params, rec), signature) {
		return types.Endorsement{}, newError(ErrInvalidSignature, fp, "signature by %s does not verify", signer)
	}

	if err := tx.InsertIfAbsent(guardKey(fp, signer), encodeSequence(at)); err != nil {
		if errors.Is(err, kvstore.ErrKeyExists) {
			return types.Endorsement{}, newError(ErrDuplicateEndorsement, fp, "%s already signed", signer)
		}
		return types.Endorsement{}, storageError(fp, err)
	}

	e := types.Endorsement{
		Fingerprint: rec.Fingerprint,
		Signer:      signer,
		Signature:   append([]byte(nil), signature...),
		SignedAt:    at,
	}
	if err := tx.InsertIfAbsent(signatureKey(fp, at, signer), encodeEndorsement(e)); err != nil {
		return types.Endorsement{}, storageError(fp, err)
	}

	j.emit(types.EventSigned, e.Fingerprint, signer, at)
	return e, nil
}

// ListSignatures returns the endorsements of fp ordered by SignedAt. A
// record without endorsements yields an empty slice.
func (l *SignatureLedger) ListSignatures(rd kvstore.Reader, fp types.Fingerprint) ([]types.Endorsement, error) {
	if _, err := l.record(rd, fp); err != nil {
		return nil, err
	}
	return l.scan(rd, fp)
}

func (l *SignatureLedger) scan(rd kvstore.Reader, fp types.Fingerprint) ([]types.Endorsement, error) {
	out := []types.Endorsement{}
	err := rd.Scan(signaturePrefix(fp), func(_, value []byte) error {
		e, err := decodeEndorsement(value)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, storageError(fp, err)
	}
	return out, nil
}

// record loads the record an endorsement refers to, mapping a missing
// record to ErrUnknownDocument.
func (l *SignatureLedger) record(rd kvstore.Reader, fp types.Fingerprint) (types.DocumentRecord, error) {
	rec, err := l.registry.Get(rd, fp)
	if errors.Is(err, ErrNotFound) {
		return types.DocumentRecord{}, newError(ErrUnknownDocument, fp, "fingerprint %s", fp)
	}
	return rec, err
}
