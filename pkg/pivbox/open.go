package pivbox

import (
	"crypto/ecdsa"

	"github.com/barnettlynn/pivcard/pkg/piv"
)

// Open decrypts b using token's slot to perform the card-side half of the
// ECDH, the form a recipient holding the private key on a card uses. If b
// carries a GUID/slot binding, it must match token and slot or Open refuses
// to proceed (§3's "binds ciphertext to a card+slot" invariant).
func Open(b *Box, token *piv.Token, slot *piv.Slot) ([]byte, error) {
	if len(b.GUID) == 16 {
		if b.Slot != slot.ID || !guidMatches(b.GUID, token) {
			return nil, newErr("box is bound to a different card or slot")
		}
	}
	ephEC, err := toECDSA(b.Ephemeral)
	if err != nil {
		return nil, err
	}
	shared, err := token.ECDH(slot, ephEC)
	if err != nil {
		return nil, wrapErr("card ECDH failed", err)
	}
	return openWithSecret(b, shared)
}

// OpenOnline decrypts b using a private key held directly by the caller
// rather than on a card, for round-tripping boxes in tests or offline
// tooling without a physical token present.
func OpenOnline(b *Box, priv *ecdsa.PrivateKey) ([]byte, error) {
	ephEC, err := toECDSA(b.Ephemeral)
	if err != nil {
		return nil, err
	}
	shared, err := sharedSecretLocal(priv, ephEC)
	if err != nil {
		return nil, err
	}
	return openWithSecret(b, shared)
}

func openWithSecret(b *Box, shared []byte) ([]byte, error) {
	ks, err := keySize(b.effectiveCipher())
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(b.KDF, shared, ks)
	if err != nil {
		return nil, err
	}
	plaintext, err := aeadOpen(b.effectiveCipher(), key, b.Nonce, b.Ciphertext, sealAAD(b))
	if err != nil {
		return nil, err
	}
	if b.Version >= 3 {
		return stripPadding(plaintext)
	}
	return plaintext, nil
}

func guidMatches(guid []byte, token *piv.Token) bool {
	if len(guid) != 16 {
		return false
	}
	for i, g := range guid {
		if token.GUID[i] != g {
			return false
		}
	}
	return true
}

// TakeData returns b's plaintext after a successful Open/OpenOnline call and
// immediately zeroes the ciphertext and nonce fields, so the caller's only
// remaining copy of sensitive material is the slice they now hold.
func TakeData(b *Box, plaintext []byte) []byte {
	b.Close()
	return plaintext
}
