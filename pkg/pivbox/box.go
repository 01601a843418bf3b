// Package pivbox implements the ECDH-sealed "box": a self-describing binary
// envelope that binds ciphertext to a specific card and slot via an
// ephemeral-static ECDH exchange, per §3/§4.7 of the PIV box format.
package pivbox

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"

	"golang.org/x/crypto/ssh"
)

// Box holds a sealed envelope's fields in parsed, ready-to-use form. The
// recipient and ephemeral keys are held as SSH-wire-typed public keys;
// sealing and opening accept EC keys only (see toECDSA).
type Box struct {
	Version byte
	Cipher  string
	KDF     string

	// GUID and Slot bind the box to a specific card and key slot. Both are
	// empty/zero for a box not bound to any particular card (version 1
	// compatibility, or an explicit caller choice).
	GUID []byte
	Slot byte

	Ephemeral ssh.PublicKey
	Recipient ssh.PublicKey

	Nonce      []byte
	Ciphertext []byte

	// ephemeralPriv is the private half of Ephemeral for a box made by
	// SealOffline (nil otherwise); nothing reads it after sealing, and
	// OpenOnline never touches it.
	ephemeralPriv *ecdsa.PrivateKey
}

// Magic bytes identifying the box format, and the minimum/current version.
var boxMagic = [2]byte{0xB0, 0xC5}

const (
	minVersion = 1
	curVersion = 3
)

// padBlockSize bounds the random padding version 3+ boxes may prefix onto
// the plaintext before sealing (§4.7): 0..padBlockSize-1 random bytes, with
// the amount recorded as the plaintext's own leading byte so Open can
// strip it back off after decryption.
const padBlockSize = 16

const (
	flagHasGUIDSlot byte = 1 << 0
)

// Clone returns a deep copy of b, so callers can hold one box while
// mutating or zeroing another derived from it.
func (b *Box) Clone() *Box {
	c := *b
	c.GUID = append([]byte{}, b.GUID...)
	c.Nonce = append([]byte{}, b.Nonce...)
	c.Ciphertext = append([]byte{}, b.Ciphertext...)
	return &c
}

// Close zeroes the ciphertext and nonce in place. It does not zero any
// plaintext the caller obtained from Open, and neither does TakeData.
func (b *Box) Close() {
	zero(b.Ciphertext)
	zero(b.Nonce)
}

func zero(p []byte) {
	for i := range p {
		p[i] = 0
	}
}

// validate checks the structural invariants from §3: version in range,
// cipher/KDF present from version 2 on, GUID empty or exactly 16 bytes,
// ephemeral and recipient key types matching, and a nonce length
// appropriate to the declared cipher.
func (b *Box) validate() error {
	if b.Version < minVersion || b.Version > curVersion {
		return newErr("unsupported box version")
	}
	if b.Version >= 2 {
		if b.Cipher == "" || b.KDF == "" {
			return newErr("version 2+ box must declare cipher and KDF")
		}
	}
	if len(b.GUID) != 0 && len(b.GUID) != 16 {
		return newErr("GUID must be empty or exactly 16 bytes")
	}
	if b.Ephemeral == nil || b.Recipient == nil {
		return newErr("box requires both an ephemeral and a recipient key")
	}
	if b.Ephemeral.Type() != b.Recipient.Type() {
		return newErr("ephemeral and recipient key types do not match")
	}
	wantNonce, err := nonceSize(b.effectiveCipher())
	if err != nil {
		return err
	}
	if len(b.Nonce) != wantNonce {
		return newErr("nonce length does not match declared cipher")
	}
	return nil
}

func (b *Box) effectiveCipher() string {
	if b.Cipher != "" {
		return b.Cipher
	}
	return cipherAES256CTR
}

// generateEphemeral creates a fresh ephemeral key on the same curve as
// recipient, for Seal's ephemeral-static ECDH.
func generateEphemeral(recipient *ecdsa.PublicKey) (*ecdsa.PrivateKey, error) {
	priv, err := ecdsa.GenerateKey(recipient.Curve, rand.Reader)
	if err != nil {
		return nil, wrapErr("generate ephemeral key", err)
	}
	return priv, nil
}

func curveCoordSize(curve elliptic.Curve) int {
	return (curve.Params().BitSize + 7) / 8
}
