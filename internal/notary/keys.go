package notary

import (
	"encoding/binary"

	"notary.mini/notary/internal/types"
)

// Key layout. Fingerprints have a fixed configured length, so a
// fingerprint prefix never matches keys of another fingerprint.
//
//	r | fp                        -> record
//	e | fp | signer               -> signed_at (one endorsement per signer)
//	s | fp | signed_at | signer   -> endorsement, scan order = signing order
//	u | len(id) | id | at | fp    -> fingerprint, per-committer index
const (
	prefixRecord    byte = 'r'
	prefixGuard     byte = 'e'
	prefixSignature byte = 's'
	prefixCommitter byte = 'u'
)

func recordKey(fp types.Fingerprint) []byte {
	k := make([]byte, 0, 1+len(fp))
	k = append(k, prefixRecord)
	return append(k, fp...)
}

func guardKey(fp types.Fingerprint, signer types.Identity) []byte {
	k := make([]byte, 0, 1+len(fp)+len(signer))
	k = append(k, prefixGuard)
	k = append(k, fp...)
	return append(k, signer...)
}

func signaturePrefix(fp types.Fingerprint) []byte {
	k := make([]byte, 0, 1+len(fp))
	k = append(k, prefixSignature)
	return append(k, fp...)
}

func signatureKey(fp types.Fingerprint, at uint64, signer types.Identity) []byte {
	k := signaturePrefix(fp)
	k = binary.BigEndian.AppendUint64(k, at)
	return append(k, signer...)
}

func committerPrefix(id types.Identity) []byte {
	k := make([]byte, 0, 3+len(id))
	k = append(k, prefixCommitter)
	k = binary.BigEndian.AppendUint16(k, uint16(len(id)))
	return append(k, id...)
}

func committerKey(id types.Identity, at uint64, fp types.Fingerprint) []byte {
	k := committerPrefix(id)
	k = binary.BigEndian.AppendUint64(k, at)
	return append(k, fp...)
}

func encodeSequence(at uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, at)
}
