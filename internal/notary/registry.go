package notary

import (
	"encoding/hex"
	"errors"
	"fmt"

	"notary.mini/notary/internal/kvstore"
	"notary.mini/notary/internal/types"
)

const maxIdentitySize = 256

// HashRegistry maps fingerprints to their write-once DocumentRecord.
type HashRegistry struct {
	params Params
}

func NewHashRegistry(params Params) *HashRegistry {
	return &HashRegistry{params: params}
}

func (r *HashRegistry) checkFingerprint(fp types.Fingerprint) error {
	if len(fp) != r.params.FingerprintSize {
		return newError(ErrInvalidInput, fp, "fingerprint is %d bytes, want %d", len(fp), r.params.FingerprintSize)
	}
	return nil
}

// checkIdentity accepts only the canonical lowercase hex form, so one key
// maps to exactly one identity string.
func checkIdentity(fp types.Fingerprint, role string, id types.Identity) error {
	if id == "" || len(id) > maxIdentitySize {
		return newError(ErrInvalidInput, fp, "%s identity must be 1-%d bytes", role, maxIdentitySize)
	}
	pub, err := hex.DecodeString(string(id))
	if err != nil || hex.EncodeToString(pub) != string(id) {
		return newError(ErrInvalidInput, fp, "%s identity %q is not lowercase hex", role, id)
	}
	return nil
}

// Commit creates the record for fp. The existence check and the insert are
// one InsertIfAbsent, so two commits of the same fingerprint can never both
// succeed.
func (r *HashRegistry) Commit(tx kvstore.Txn, j *journal, fp types.Fingerprint, committer types.Identity, metadata []byte, at uint64) (types.DocumentRecord, error) {
	if err := r.checkFingerprint(fp); err != nil {
		return types.DocumentRecord{}, err
	}
	if err := checkIdentity(fp, "committer", committer); err != nil {
		return types.DocumentRecord{}, err
	}
	if len(metadata) > r.params.MaxMetadataSize {
		return types.DocumentRecord{}, newError(ErrInvalidInput, fp, "metadata is %d bytes, limit %d", len(metadata), r.params.MaxMetadataSize)
	}
	rec := types.DocumentRecord{
		Fingerprint: append(types.Fingerprint(nil), fp...),
		Committer:   committer,
		CommittedAt: at,
		Metadata:    append([]byte(nil), metadata...), // nil when empty, matching decodeRecord
	}

	if err := tx.InsertIfAbsent(recordKey(fp), encodeRecord(rec)); err != nil {
		if errors.Is(err, kvstore.ErrKeyExists) {
			return types.DocumentRecord{}, newError(ErrAlreadyCommitted, fp, "fingerprint %s", fp)
		}
		return types.DocumentRecord{}, storageError(fp, err)
	}
	if err := tx.InsertIfAbsent(committerKey(committer, at, fp), fp); err != nil {
		return types.DocumentRecord{}, storageError(fp, fmt.Errorf("index committer: %w", err))
	}

	j.emit(types.EventCommitted, rec.Fingerprint, committer, at)
	return rec, nil
}

// Get returns the record for fp, or an ErrNotFound error.
func (r *HashRegistry) Get(rd kvstore.Reader, fp types.Fingerprint) (types.DocumentRecord, error) {
	if err := r.checkFingerprint(fp); err != nil {
		return types.DocumentRecord{}, err
	}
	b, err := rd.Get(recordKey(fp))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return types.DocumentRecord{}, newError(ErrNotFound, fp, "fingerprint %s", fp)
		}
		return types.DocumentRecord{}, storageError(fp, err)
	}
	rec, err := decodeRecord(b)
	if err != nil {
		return types.DocumentRecord{}, storageError(fp, err)
	}
	return rec, nil
}

// DocumentsBy lists the fingerprints committed by id in commit order.
func (r *HashRegistry) DocumentsBy(rd kvstore.Reader, id types.Identity) ([]types.Fingerprint, error) {
	if err := checkIdentity(nil, "committer", id); err != nil {
		return nil, err
	}
	docs := []types.Fingerprint{}
	err := rd.Scan(committerPrefix(id), func(_, value []byte) error {
		docs = append(docs, types.Fingerprint(value))
		return nil
	})
	if err != nil {
		return nil, storageError(nil, err)
	}
	return docs, nil
}
