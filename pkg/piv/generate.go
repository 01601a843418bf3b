package piv

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"math/big"

	"golang.org/x/crypto/ssh"
)

// GENERATE ASYMMETRIC KEY PAIR request/response tags (§4.6).
const (
	tagGenTemplate uint32 = 0xAC
	tagGenAlg      uint32 = 0x80
	tagPubKeyInfo  uint32 = 0x7F49
	tagRSAModulus  uint32 = 0x81
	tagRSAExponent uint32 = 0x82
	tagECPoint     uint32 = 0x86
)

// Generate issues GENERATE ASYMMETRIC KEY PAIR for slot under alg, parses
// the 0x7F49 public key reply, and checks the result is on-curve /
// well-formed before handing back an SSH-wire-form public key. The private
// key never leaves the card; this call's only output is the public half.
func (t *Token) Generate(slot byte, alg byte, pinPolicy, touchPolicy byte) (ssh.PublicKey, error) {
	if err := t.requireTransaction(); err != nil {
		return nil, err
	}
	if !t.adminAuthed {
		return nil, newErr(KindPermission, "GENERATE ASYMMETRIC KEY PAIR requires admin authentication")
	}
	if err := t.ensureSelected(); err != nil {
		return nil, err
	}

	req := NewBuffer()
	req.OpenConstructed(tagGenTemplate)
	req.WriteTLV(tagGenAlg, []byte{alg})
	if pinPolicy != 0 {
		req.WriteTLV(0xAA, []byte{pinPolicy})
	}
	if touchPolicy != 0 {
		req.WriteTLV(0xAB, []byte{touchPolicy})
	}
	req.Close()

	a := &APDU{Class: 0x00, Ins: insGenerateAsymmetric, P1: 0x00, P2: slot, Data: req.Bytes(), WantReply: true, Le: 0x00}
	reply, _, err := Exchange(t.card, t.logger(), a)
	if err != nil {
		return nil, err
	}

	r := NewReader(reply)
	outerTag, outer, err := r.ReadTLV()
	if err != nil {
		return nil, err
	}
	if outerTag != tagPubKeyInfo {
		return nil, newErr(KindInvalidData, "GENERATE: expected 0x7F49 public key info")
	}
	fields, err := ParseTLVMap(outer)
	if err != nil {
		return nil, err
	}

	switch alg {
	case AlgRSA1024, AlgRSA2048:
		mod, ok := fields[tagRSAModulus]
		if !ok {
			return nil, newErr(KindInvalidData, "GENERATE: missing RSA modulus")
		}
		exp, ok := fields[tagRSAExponent]
		if !ok {
			return nil, newErr(KindInvalidData, "GENERATE: missing RSA exponent")
		}
		pub := &rsa.PublicKey{N: new(big.Int).SetBytes(mod), E: int(new(big.Int).SetBytes(exp).Int64())}
		wantBits := 1024
		if alg == AlgRSA2048 {
			wantBits = 2048
		}
		if pub.N.BitLen() > wantBits || pub.N.BitLen() < wantBits-8 {
			return nil, newErr(KindInvalidData, "GENERATE: RSA modulus size mismatch")
		}
		return ssh.NewPublicKey(pub)

	case AlgECCP256, AlgECCP384:
		point, ok := fields[tagECPoint]
		if !ok {
			return nil, newErr(KindInvalidData, "GENERATE: missing EC point")
		}
		curve := elliptic.P256()
		if alg == AlgECCP384 {
			curve = elliptic.P384()
		}
		x, y := elliptic.Unmarshal(curve, point)
		if x == nil {
			return nil, newErr(KindInvalidData, "GENERATE: EC point is not a valid uncompressed point on the curve")
		}
		pub := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
		return ssh.NewPublicKey(pub)

	default:
		return nil, newErr(KindArgument, "unsupported key generation algorithm")
	}
}
