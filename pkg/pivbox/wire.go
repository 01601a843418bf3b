package pivbox

import (
	"encoding/binary"

	"golang.org/x/crypto/ssh"
)

// wireWriter builds the box's on-wire byte layout using SSH-style
// 32-bit-length-prefixed strings for every variable-length field, the same
// framing golang.org/x/crypto/ssh uses for its own wire format.
type wireWriter struct {
	buf []byte
}

func (w *wireWriter) byte(b byte)      { w.buf = append(w.buf, b) }
func (w *wireWriter) raw(b []byte)     { w.buf = append(w.buf, b...) }
func (w *wireWriter) string(s []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, s...)
}

type wireReader struct {
	buf []byte
	pos int
}

func (r *wireReader) remaining() int { return len(r.buf) - r.pos }

func (r *wireReader) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, newErr("truncated box: expected a byte")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *wireReader) raw(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, newErr("truncated box")
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *wireReader) string() ([]byte, error) {
	if r.remaining() < 4 {
		return nil, newErr("truncated box: expected a length-prefixed field")
	}
	n := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	if uint64(n) > uint64(r.remaining()) {
		return nil, newErr("truncated box: field length exceeds remaining data")
	}
	return r.raw(int(n))
}

// Marshal serializes b into the box wire format (§3/§4.7): magic, version,
// flags, an optional GUID+slot binding, then (version 2+) cipher and KDF
// names, then the ephemeral and recipient public keys, nonce, and
// ciphertext, all as SSH-wire-framed strings.
func Marshal(b *Box) ([]byte, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	w := &wireWriter{}
	w.raw(boxMagic[:])
	w.byte(b.Version)

	flags := byte(0)
	if len(b.GUID) == 16 {
		flags |= flagHasGUIDSlot
	}
	w.byte(flags)
	if flags&flagHasGUIDSlot != 0 {
		w.raw(b.GUID)
		w.byte(b.Slot)
	}

	if b.Version >= 2 {
		w.string([]byte(b.Cipher))
		w.string([]byte(b.KDF))
	}

	w.string(b.Ephemeral.Marshal())
	w.string(b.Recipient.Marshal())
	w.string(b.Nonce)
	w.string(b.Ciphertext)

	return w.buf, nil
}

// Parse decodes the box wire format produced by Marshal.
func Parse(data []byte) (*Box, error) {
	if len(data) < 4 {
		return nil, newErr("box too short")
	}
	if data[0] != boxMagic[0] || data[1] != boxMagic[1] {
		return nil, newErr("bad box magic")
	}
	r := &wireReader{buf: data, pos: 2}

	version, err := r.byte()
	if err != nil {
		return nil, err
	}
	flags, err := r.byte()
	if err != nil {
		return nil, err
	}

	b := &Box{Version: version}
	if flags&flagHasGUIDSlot != 0 {
		guid, err := r.raw(16)
		if err != nil {
			return nil, err
		}
		b.GUID = append([]byte{}, guid...)
		slot, err := r.byte()
		if err != nil {
			return nil, err
		}
		b.Slot = slot
	}

	if version >= 2 {
		cipherName, err := r.string()
		if err != nil {
			return nil, err
		}
		kdfName, err := r.string()
		if err != nil {
			return nil, err
		}
		b.Cipher = string(cipherName)
		b.KDF = string(kdfName)
	} else {
		b.Cipher = cipherAES256CTR
		b.KDF = kdfSHA512
	}

	ephBlob, err := r.string()
	if err != nil {
		return nil, err
	}
	eph, err := ssh.ParsePublicKey(ephBlob)
	if err != nil {
		return nil, wrapErr("parse ephemeral public key", err)
	}
	b.Ephemeral = eph

	recipBlob, err := r.string()
	if err != nil {
		return nil, err
	}
	recip, err := ssh.ParsePublicKey(recipBlob)
	if err != nil {
		return nil, wrapErr("parse recipient public key", err)
	}
	b.Recipient = recip

	nonce, err := r.string()
	if err != nil {
		return nil, err
	}
	b.Nonce = append([]byte{}, nonce...)

	ciphertext, err := r.string()
	if err != nil {
		return nil, err
	}
	b.Ciphertext = append([]byte{}, ciphertext...)

	if r.remaining() != 0 {
		return nil, newErr("trailing data after box ciphertext")
	}

	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}
