package piv

import (
	"crypto/ecdsa"
	"crypto/elliptic"
)

// ECDH performs GENERAL AUTHENTICATE's key-agreement form (§4.6, §6): the
// card combines slot's private key with peer (an uncompressed point on the
// slot's curve) and returns the X-coordinate of the resulting point as the
// shared secret, per SP 800-56A's ECC CDH primitive.
func (t *Token) ECDH(slot *Slot, peer *ecdsa.PublicKey) ([]byte, error) {
	if err := t.requireTransaction(); err != nil {
		return nil, err
	}
	if err := t.ensureSelected(); err != nil {
		return nil, err
	}
	if slot.Alg != AlgECCP256 && slot.Alg != AlgECCP384 {
		return nil, newErr(KindArgument, "ECDH requires an EC slot")
	}

	curve := elliptic.P256()
	if slot.Alg == AlgECCP384 {
		curve = elliptic.P384()
	}
	if peer.Curve != curve {
		return nil, newErr(KindArgument, "peer public key curve does not match slot algorithm")
	}
	point := elliptic.Marshal(curve, peer.X, peer.Y)

	req := NewBuffer()
	req.OpenConstructed(datTemplate)
	req.WriteTLV(datResponse, nil)
	req.WriteTLV(0x85, point) // exponentiation/ECDH request tag
	req.Close()

	a := &APDU{Class: 0x00, Ins: insGeneralAuthenticate, P1: slot.Alg, P2: slot.ID, Data: req.Bytes(), WantReply: true, Le: 0x00}
	reply, _, err := Exchange(t.card, t.logger(), a)
	if err != nil {
		return nil, err
	}
	secret, err := readDynAuthField(reply, datResponse)
	if err != nil {
		return nil, err
	}

	coordSize := (curve.Params().BitSize + 7) / 8
	if len(secret) > coordSize {
		secret = secret[:coordSize]
	}
	return secret, nil
}
