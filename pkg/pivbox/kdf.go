package pivbox

import (
	"crypto/sha512"
	"encoding/binary"
)

const kdfSHA512 = "sha512"

// deriveKey implements the box's KDF: SHA-512 over the big-endian length of
// the shared secret, the shared secret itself, and the literal domain
// separator "piv-box", truncated (or, for longer keys, repeated with an
// incrementing counter appended) to outLen bytes. HKDF was considered and
// rejected in favor of this fixed single-purpose construction (DESIGN.md):
// the box has exactly one key-derivation call site and no need for HKDF's
// salt/info generality.
func deriveKey(kdfName string, shared []byte, outLen int) ([]byte, error) {
	if kdfName != kdfSHA512 {
		return nil, newErr("unsupported box KDF")
	}
	var out []byte
	for counter := uint32(0); len(out) < outLen; counter++ {
		h := sha512.New()
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(shared)))
		h.Write(lenBuf[:])
		h.Write(shared)
		h.Write([]byte("piv-box"))
		if counter > 0 {
			var ctrBuf [4]byte
			binary.BigEndian.PutUint32(ctrBuf[:], counter)
			h.Write(ctrBuf[:])
		}
		out = append(out, h.Sum(nil)...)
	}
	return out[:outLen], nil
}
