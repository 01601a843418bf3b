package piv

import (
	"crypto"
	"crypto/rsa"
	"encoding/asn1"
	"math/big"
)

// sign issues GENERAL AUTHENTICATE's SIGN form: an empty response field
// requests the card produce one over the challenge field, per §4.6.
func (t *Token) sign(slot *Slot, alg byte, challenge []byte) ([]byte, error) {
	if err := t.requireTransaction(); err != nil {
		return nil, err
	}
	if err := t.ensureSelected(); err != nil {
		return nil, err
	}
	req := NewBuffer()
	req.OpenConstructed(datTemplate)
	req.WriteTLV(datResponse, nil)
	req.WriteTLV(datChallenge, challenge)
	req.Close()

	a := &APDU{Class: 0x00, Ins: insGeneralAuthenticate, P1: alg, P2: slot.ID, Data: req.Bytes(), WantReply: true, Le: 0x00}
	reply, _, err := Exchange(t.card, t.logger(), a)
	if err != nil {
		return nil, err
	}
	return readDynAuthField(reply, datResponse)
}

// SignPrehash signs a pre-computed digest using slot's key. For RSA slots,
// digest is the bare hash output: SignPrehash prepends hash's DigestInfo
// prefix and applies PKCS#1 v1.5 padding to modulusBits/8 bytes itself;
// for EC slots, digest is truncated to the curve's coordinate width if
// longer.
func (t *Token) SignPrehash(slot *Slot, hash crypto.Hash, digest []byte, modulusBits int) ([]byte, error) {
	switch slot.Alg {
	case AlgRSA1024, AlgRSA2048:
		prefix, ok := rsaDigestPrefix(hash)
		if !ok {
			return nil, newErr(KindArgument, "unsupported hash for RSA signing")
		}
		padded, err := pkcs1v15Pad(append(append([]byte{}, prefix...), digest...), modulusBits/8)
		if err != nil {
			return nil, err
		}
		return t.sign(slot, slot.Alg, padded)

	case AlgECCP256, AlgECCP384:
		size := ecCoordSize(slot.Alg)
		if len(digest) > size {
			digest = digest[:size]
		}
		sig, err := t.sign(slot, slot.Alg, digest)
		if err != nil {
			return nil, err
		}
		return normalizeECSignature(sig, size)

	default:
		return nil, newErr(KindArgument, "slot has no signing algorithm set")
	}
}

// SignOnCard issues GENERAL AUTHENTICATE using one of the PivApplet
// hash-on-card pseudo-algorithms (0xF0/0xF1, §4.6): message is sent
// unhashed and the card computes the SHA-1/SHA-256 digest itself before
// signing, for cards that don't expose a prehash-sign primitive. EC
// results are DER-wrapped the same way SignPrehash's are.
func (t *Token) SignOnCard(slot *Slot, hash crypto.Hash, message []byte) ([]byte, error) {
	alg, ok := pinHashAlg(hash)
	if !ok {
		return nil, newErr(KindArgument, "card-side hashing supports only SHA-1 or SHA-256")
	}
	sig, err := t.sign(slot, alg, message)
	if err != nil {
		return nil, err
	}
	switch slot.Alg {
	case AlgECCP256, AlgECCP384:
		return normalizeECSignature(sig, ecCoordSize(slot.Alg))
	default:
		return sig, nil
	}
}

func pinHashAlg(hash crypto.Hash) (byte, bool) {
	switch hash {
	case crypto.SHA1:
		return AlgPinSHA1, true
	case crypto.SHA256:
		return AlgPinSHA256, true
	default:
		return 0, false
	}
}

func ecCoordSize(alg byte) int {
	if alg == AlgECCP384 {
		return 48
	}
	return 32
}

// ecdsaSignature is the ASN.1 SEQUENCE{r, s} structure a DER-encoded ECDSA
// signature carries.
type ecdsaSignature struct {
	R, S *big.Int
}

// normalizeECSignature returns sig as a DER SEQUENCE(r, s). Per §4.6, some
// cards already answer GEN_AUTH SIGN with that encoding; others return the
// two field-sized integers raw and concatenated, which must be wrapped
// here before the signature is usable with crypto/ecdsa's verifiers.
func normalizeECSignature(sig []byte, coordSize int) ([]byte, error) {
	if len(sig) > 0 && sig[0] == 0x30 {
		var v ecdsaSignature
		if _, err := asn1.Unmarshal(sig, &v); err != nil {
			return nil, wrapErr(KindInvalidData, "card returned malformed DER ECDSA signature", err)
		}
		return sig, nil
	}
	if len(sig) != 2*coordSize {
		return nil, newErr(KindInvalidData, "EC signature has unexpected length")
	}
	der, err := asn1.Marshal(ecdsaSignature{
		R: new(big.Int).SetBytes(sig[:coordSize]),
		S: new(big.Int).SetBytes(sig[coordSize:]),
	})
	if err != nil {
		return nil, wrapErr(KindInvalidData, "DER-encode raw ECDSA signature", err)
	}
	return der, nil
}

// rsaDigestPrefix returns the DER DigestInfo prefix PKCS#1 v1.5 specifies
// for hash, mirroring crypto/rsa's internal table since it is unexported.
func rsaDigestPrefix(hash crypto.Hash) ([]byte, bool) {
	switch hash {
	case crypto.SHA1:
		return []byte{0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14}, true
	case crypto.SHA256:
		return []byte{0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20}, true
	case crypto.SHA384:
		return []byte{0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30}, true
	case crypto.SHA512:
		return []byte{0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40}, true
	default:
		return nil, false
	}
}

// pkcs1v15Pad builds an EMSA-PKCS1-v1_5 encoded block: 00 01 FF..FF 00 <em>,
// padded to size bytes, per RFC 8017 §9.2.
func pkcs1v15Pad(em []byte, size int) ([]byte, error) {
	if len(em)+11 > size {
		return nil, newErr(KindArgument, "digest too large for RSA modulus")
	}
	out := make([]byte, size)
	out[0] = 0x00
	out[1] = 0x01
	for i := 2; i < size-len(em)-1; i++ {
		out[i] = 0xFF
	}
	out[size-len(em)-1] = 0x00
	copy(out[size-len(em):], em)
	return out, nil
}

// verifyRSASignature is a convenience for AuthKey-style checks that avoids
// importing crypto/rsa at call sites throughout the engine.
func verifyRSASignature(pub *rsa.PublicKey, hash crypto.Hash, digest, sig []byte) error {
	return rsa.VerifyPKCS1v15(pub, hash, digest, sig)
}
