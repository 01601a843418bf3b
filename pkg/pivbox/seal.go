package pivbox

import (
	"crypto/ecdsa"
	"crypto/rand"
	"math/big"

	"golang.org/x/crypto/ssh"

	"github.com/barnettlynn/pivcard/pkg/piv"
)

var bigPadBlockSize = big.NewInt(padBlockSize)

// toECDSA extracts the underlying *ecdsa.PublicKey from an SSH-wire-form
// public key produced by ssh.NewPublicKey(*ecdsa.PublicKey), the only key
// type the box format supports for the ephemeral/recipient pair.
func toECDSA(pub ssh.PublicKey) (*ecdsa.PublicKey, error) {
	cp, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, newErr("box public key does not wrap a crypto key")
	}
	ec, ok := cp.CryptoPublicKey().(*ecdsa.PublicKey)
	if !ok {
		return nil, newErr("box only supports EC (ECDH) recipient keys")
	}
	return ec, nil
}

// sharedSecretLocal computes the ECC CDH shared secret (the X coordinate of
// priv*pub) between an ephemeral private key and a peer public key, for use
// when the recipient's private key is held locally rather than on a card.
func sharedSecretLocal(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) ([]byte, error) {
	if priv.Curve != pub.Curve {
		return nil, newErr("ephemeral and recipient keys are on different curves")
	}
	x, _ := pub.Curve.ScalarMult(pub.X, pub.Y, priv.D.Bytes())
	size := curveCoordSize(pub.Curve)
	secret := x.Bytes()
	if len(secret) < size {
		padded := make([]byte, size)
		copy(padded[size-len(secret):], secret)
		secret = padded
	}
	return secret, nil
}

// SealOptions configures Seal/SealOnline beyond the required recipient key
// and plaintext.
type SealOptions struct {
	// GUID and Slot, if GUID is exactly 16 bytes, bind the box to a specific
	// card and slot (§3); a GUID of any other length leaves the box unbound: Open then refuses to decrypt against a different
	// card/slot pairing.
	GUID []byte
	Slot byte
	// Version selects the wire version; 0 defaults to the current version.
	Version byte
	// Pad requests version 3+'s random padding: 0..padBlockSize-1 random
	// bytes prefixed onto the plaintext before it is sealed, to obscure
	// its exact length. Every version 3+ box carries the one-byte padding
	// length regardless of Pad; Pad just decides whether that length is
	// ever nonzero.
	Pad bool
}

// SealOffline encrypts plaintext to recipient's EC public key entirely in
// the caller's process (§4.7's "Seal (card-bound)"): it generates an
// ephemeral key pair and performs the ECDH against recipient locally,
// without ever touching a card. The box may still be bound to a target
// card+slot via opts.GUID/opts.Slot — that only constrains which card's
// Open may later decrypt it, it does not involve that card in sealing.
//
// Seal is an alias for SealOffline, the common case: sealing data for a
// card-held recipient key never itself requires a card, since the
// sender's half of the ECDH is a freshly generated ephemeral key.
func Seal(recipient ssh.PublicKey, plaintext []byte, opts SealOptions) (*Box, error) {
	return SealOffline(recipient, plaintext, opts)
}

func SealOffline(recipient ssh.PublicKey, plaintext []byte, opts SealOptions) (*Box, error) {
	recipEC, err := toECDSA(recipient)
	if err != nil {
		return nil, err
	}
	ephPriv, err := generateEphemeral(recipEC)
	if err != nil {
		return nil, err
	}
	ephPub, err := ssh.NewPublicKey(&ephPriv.PublicKey)
	if err != nil {
		return nil, wrapErr("wrap ephemeral public key", err)
	}

	shared, err := sharedSecretLocal(ephPriv, recipEC)
	if err != nil {
		return nil, err
	}

	b, err := newBoxShell(recipient, ephPub, opts)
	if err != nil {
		return nil, err
	}
	b.ephemeralPriv = ephPriv

	if err := sealInto(b, shared, plaintext, opts.Pad); err != nil {
		return nil, err
	}
	return b, nil
}

// SealOnline encrypts plaintext to recipient's EC public key using a live
// card (§4.7's "Seal (online)"): slot's private key, held only on tok,
// computes its half of the ECDH via piv_ecdh rather than a software
// ephemeral key. The card must have PIN-verified already if the slot
// demands it (tok.ECDH surfaces that as a Permission error otherwise). The
// box's Ephemeral field is slot's own public key, so a later Open against
// the recipient's card reconstructs the same shared secret.
func SealOnline(tok *piv.Token, slot *piv.Slot, recipient ssh.PublicKey, plaintext []byte, opts SealOptions) (*Box, error) {
	recipEC, err := toECDSA(recipient)
	if err != nil {
		return nil, err
	}
	if slot.PublicKey == nil {
		return nil, newErr("online seal requires a slot with a public key on record")
	}
	if _, err := toECDSA(slot.PublicKey); err != nil {
		return nil, err
	}

	shared, err := tok.ECDH(slot, recipEC)
	if err != nil {
		return nil, wrapErr("card ECDH failed", err)
	}

	b, err := newBoxShell(recipient, slot.PublicKey, opts)
	if err != nil {
		return nil, err
	}
	if err := sealInto(b, shared, plaintext, opts.Pad); err != nil {
		return nil, err
	}
	return b, nil
}

// newBoxShell fills in the version/cipher/KDF/binding fields common to both
// Seal variants, leaving the caller to set Ephemeral's matching private
// half (or not, for the card-bound online path) and call sealInto.
func newBoxShell(recipient, ephPub ssh.PublicKey, opts SealOptions) (*Box, error) {
	version := opts.Version
	if version == 0 {
		version = curVersion
	}
	cipherName := cipherChaCha20Poly1305
	if version < 2 {
		cipherName = cipherAES256CTR
	}

	b := &Box{
		Version:   version,
		Cipher:    cipherName,
		KDF:       kdfSHA512,
		Ephemeral: ephPub,
		Recipient: recipient,
	}
	if len(opts.GUID) == 16 {
		b.GUID = append([]byte{}, opts.GUID...)
		b.Slot = opts.Slot
	}
	return b, nil
}

// sealInto derives the box's symmetric key from shared and encrypts
// plaintext, filling in b.Nonce and b.Ciphertext. aad binds the ciphertext
// to the rest of the envelope so a tampered header fails to decrypt. For
// version 3+, plaintext is first prefixed with a one-byte padding length
// (0 unless pad is true, in which case it is random in [0, padBlockSize))
// followed by that many random bytes, per §4.7.
func sealInto(b *Box, shared, plaintext []byte, pad bool) error {
	ks, err := keySize(b.effectiveCipher())
	if err != nil {
		return err
	}
	key, err := deriveKey(b.KDF, shared, ks)
	if err != nil {
		return err
	}
	ns, err := nonceSize(b.effectiveCipher())
	if err != nil {
		return err
	}
	nonce := make([]byte, ns)
	if _, err := rand.Read(nonce); err != nil {
		return wrapErr("generate box nonce", err)
	}

	if b.Version >= 3 {
		padded, err := prependPadding(plaintext, pad)
		if err != nil {
			return err
		}
		plaintext = padded
	}

	ct, err := aeadSeal(b.effectiveCipher(), key, nonce, plaintext, sealAAD(b))
	if err != nil {
		return err
	}
	b.Nonce = nonce
	b.Ciphertext = ct
	return nil
}

// prependPadding builds the version 3+ plaintext envelope: a length byte
// followed by that many random bytes, ahead of plaintext itself.
func prependPadding(plaintext []byte, pad bool) ([]byte, error) {
	padLen := 0
	if pad {
		n, err := rand.Int(rand.Reader, bigPadBlockSize)
		if err != nil {
			return nil, wrapErr("generate box padding length", err)
		}
		padLen = int(n.Int64())
	}
	out := make([]byte, 1+padLen+len(plaintext))
	out[0] = byte(padLen)
	if padLen > 0 {
		if _, err := rand.Read(out[1 : 1+padLen]); err != nil {
			return nil, wrapErr("generate box padding", err)
		}
	}
	copy(out[1+padLen:], plaintext)
	return out, nil
}

// stripPadding reverses prependPadding after a version 3+ box is decrypted.
func stripPadding(plaintext []byte) ([]byte, error) {
	if len(plaintext) < 1 {
		return nil, newErr("version 3+ box plaintext missing padding length byte")
	}
	padLen := int(plaintext[0])
	if len(plaintext) < 1+padLen {
		return nil, newErr("version 3+ box padding length exceeds plaintext")
	}
	return plaintext[1+padLen:], nil
}

// sealAAD binds the GUID/slot binding (if any) into the AEAD's associated
// data, so a box cannot be silently retargeted at a different card by
// editing its header after the fact.
func sealAAD(b *Box) []byte {
	aad := append([]byte{}, b.GUID...)
	return append(aad, b.Slot)
}
