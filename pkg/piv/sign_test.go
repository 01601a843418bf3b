package piv

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"math/big"
	"testing"
)

func TestSignPrehashRSARoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	card := newFakeCard()
	card.setRSAKey(0x9C, priv)
	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	slot := tok.ForceSlot(0x9C, AlgRSA2048)
	digest := sha256.Sum256([]byte("sign me"))

	sig, err := tok.SignPrehash(slot, crypto.SHA256, digest[:], 2048)
	if err != nil {
		t.Fatalf("SignPrehash: %v", err)
	}
	if err := rsa.VerifyPKCS1v15(&priv.PublicKey, crypto.SHA256, digest[:], sig); err != nil {
		t.Fatalf("signature did not verify under the slot's public key: %v", err)
	}
}

// TestSignPrehashECWrapsRawSignature mirrors the scenario of a card that
// answers GEN_AUTH SIGN with a raw r||s pair rather than DER: SignPrehash
// must wrap it into a DER ECDSA signature that verifies under the slot's
// public key.
func TestSignPrehashECWrapsRawSignature(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate EC key: %v", err)
	}
	card := newFakeCard()
	card.setECKey(0x9A, priv)
	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	slot := tok.ForceSlot(0x9A, AlgECCP256)
	digest := sha256.Sum256([]byte("authenticate me"))

	sig, err := tok.SignPrehash(slot, crypto.SHA256, digest[:], 0)
	if err != nil {
		t.Fatalf("SignPrehash: %v", err)
	}
	if sig[0] != 0x30 {
		t.Fatalf("expected SignPrehash to return a DER-encoded signature, got leading byte 0x%02X", sig[0])
	}
	if !ecdsa.VerifyASN1(&priv.PublicKey, digest[:], sig) {
		t.Fatalf("DER signature did not verify under the slot's public key")
	}
}

// TestSignOnCardHashesOnCard exercises the PIN-hash pseudo-algorithm path
// (§4.6): the unhashed message is sent to the card, which hashes and signs
// it, and SignOnCard must DER-wrap the EC result exactly as SignPrehash does.
func TestSignOnCardHashesOnCard(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate EC key: %v", err)
	}
	card := newFakeCard()
	card.setECKey(0x9C, priv)
	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	slot := tok.ForceSlot(0x9C, AlgECCP256)
	message := []byte("card performs the hash itself")

	sig, err := tok.SignOnCard(slot, crypto.SHA256, message)
	if err != nil {
		t.Fatalf("SignOnCard: %v", err)
	}
	digest := sha256.Sum256(message)
	if !ecdsa.VerifyASN1(&priv.PublicKey, digest[:], sig) {
		t.Fatalf("signature did not verify against the card-computed SHA-256 digest")
	}
}

// TestSignOnCardSHA1RoundTrip checks the legacy SHA-1 pseudo-algorithm
// against a raw (unpadded) RSA slot signature: the fake card, like a bare
// PivApplet GEN_AUTH reply, signs the digest by plain modular
// exponentiation, so sig^e mod n must reproduce the SHA-1 digest exactly.
func TestSignOnCardSHA1RoundTrip(t *testing.T) {
	rsaPriv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	card := newFakeCard()
	card.setRSAKey(0x9D, rsaPriv)
	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	slot := tok.ForceSlot(0x9D, AlgRSA1024)
	message := []byte("legacy SHA-1 pseudo-algorithm path")

	sig, err := tok.SignOnCard(slot, crypto.SHA1, message)
	if err != nil {
		t.Fatalf("SignOnCard: %v", err)
	}
	digest := sha1.Sum(message)
	c := new(big.Int).SetBytes(sig)
	m := new(big.Int).Exp(c, big.NewInt(int64(rsaPriv.PublicKey.E)), rsaPriv.PublicKey.N)
	size := (rsaPriv.PublicKey.N.BitLen() + 7) / 8
	got := make([]byte, size)
	m.FillBytes(got)
	if !bytes.Equal(got[size-len(digest):], digest[:]) {
		t.Fatalf("raw RSA signature did not reproduce the SHA-1 digest it was signed over")
	}
}

func TestSignOnCardRejectsUnsupportedHash(t *testing.T) {
	card := newFakeCard()
	tok := newToken("test", card, nil)
	txn, err := tok.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer txn.End()

	slot := tok.ForceSlot(0x9A, AlgECCP256)
	if _, err := tok.SignOnCard(slot, crypto.SHA512, []byte("x")); err == nil {
		t.Fatalf("expected SignOnCard to reject a hash the card cannot compute itself")
	}
}
