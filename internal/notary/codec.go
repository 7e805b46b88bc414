package notary

import (
	"encoding/binary"
	"errors"
	"fmt"

	"notary.mini/notary/internal/types"
)

// Stored values are a version byte followed by fields in declaration
// order. Byte fields are uvarint length-prefixed; integers are big-endian.
const codecVersion byte = 1

var errCorrupt = errors.New("corrupt encoding")

type encoder struct {
	buf []byte
}

func newEncoder() *encoder {
	return &encoder{buf: []byte{codecVersion}}
}

func (e *encoder) bytes(b []byte) {
	e.buf = binary.AppendUvarint(e.buf, uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) uint64(v uint64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
}

type decoder struct {
	buf []byte
	err error
}

func newDecoder(b []byte) *decoder {
	d := &decoder{}
	switch {
	case len(b) == 0:
		d.err = fmt.Errorf("%w: empty value", errCorrupt)
	case b[0] != codecVersion:
		d.err = fmt.Errorf("%w: unknown version %d", errCorrupt, b[0])
	default:
		d.buf = b[1:]
	}
	return d
}

func (d *decoder) bytes() []byte {
	if d.err != nil {
		return nil
	}
	n, k := binary.Uvarint(d.buf)
	if k <= 0 || n > uint64(len(d.buf)-k) {
		d.err = fmt.Errorf("%w: bad length prefix", errCorrupt)
		return nil
	}
	field := d.buf[k : k+int(n)]
	d.buf = d.buf[k+int(n):]
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, field)
	return out
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	if len(d.buf) < 8 {
		d.err = fmt.Errorf("%w: short integer", errCorrupt)
		return 0
	}
	v := binary.BigEndian.Uint64(d.buf)
	d.buf = d.buf[8:]
	return v
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", errCorrupt, len(d.buf))
	}
	return nil
}

func encodeRecord(rec types.DocumentRecord) []byte {
	e := newEncoder()
	e.bytes(rec.Fingerprint)
	e.bytes([]byte(rec.Committer))
	e.uint64(rec.CommittedAt)
	e.bytes(rec.Metadata)
	return e.buf
}

func decodeRecord(b []byte) (types.DocumentRecord, error) {
	d := newDecoder(b)
	rec := types.DocumentRecord{
		Fingerprint: d.bytes(),
		Committer:   types.Identity(d.bytes()),
		CommittedAt: d.uint64(),
		Metadata:    d.bytes(),
	}
	if err := d.finish(); err != nil {
		return types.DocumentRecord{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func encodeEndorsement(e types.Endorsement) []byte {
	enc := newEncoder()
	enc.bytes(e.Fingerprint)
	enc.bytes([]byte(e.Signer))
	enc.bytes(e.Signature)
	enc.uint64(e.SignedAt)
	return enc.buf
}

func decodeEndorsement(b []byte) (types.Endorsement, error) {
	d := newDecoder(b)
	e := types.Endorsement{
		Fingerprint: d.bytes(),
		Signer:      types.Identity(d.bytes()),
		Signature:   d.bytes(),
		SignedAt:    d.uint64(),
	}
	if err := d.finish(); err != nil {
		return types.Endorsement{}, fmt.Errorf("decode endorsement: %w", err)
	}
	return e, nil
}
