package pivbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	cipherChaCha20Poly1305 = "chacha20-poly1305"
	cipherAES256CTR        = "aes256-ctr" // version 1 only: CTR + detached HMAC-SHA256
)

func nonceSize(name string) (int, error) {
	switch name {
	case cipherChaCha20Poly1305:
		return chacha20poly1305.NonceSize, nil
	case cipherAES256CTR:
		return aes.BlockSize, nil
	default:
		return 0, newErr("unsupported box cipher")
	}
}

func keySize(name string) (int, error) {
	switch name {
	case cipherChaCha20Poly1305:
		return chacha20poly1305.KeySize, nil
	case cipherAES256CTR:
		return 32 + 32, nil // AES-256 key || HMAC-SHA256 key
	default:
		return 0, newErr("unsupported box cipher")
	}
}

// aeadSeal seals plaintext under cipherName, returning the ciphertext
// (AEAD tag included for chacha20-poly1305; HMAC appended for aes256-ctr).
func aeadSeal(cipherName string, key, nonce, plaintext, aad []byte) ([]byte, error) {
	switch cipherName {
	case cipherChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, wrapErr("init chacha20-poly1305", err)
		}
		return aead.Seal(nil, nonce, plaintext, aad), nil

	case cipherAES256CTR:
		if len(key) != 64 {
			return nil, newErr("aes256-ctr key material must be 64 bytes (enc key || mac key)")
		}
		encKey, macKey := key[:32], key[32:]
		block, err := aes.NewCipher(encKey)
		if err != nil {
			return nil, wrapErr("init aes256-ctr", err)
		}
		stream := cipher.NewCTR(block, nonce)
		ct := make([]byte, len(plaintext))
		stream.XORKeyStream(ct, plaintext)

		mac := hmac.New(sha256.New, macKey)
		mac.Write(aad)
		mac.Write(nonce)
		mac.Write(ct)
		return append(ct, mac.Sum(nil)...), nil

	default:
		return nil, newErr("unsupported box cipher")
	}
}

func aeadOpen(cipherName string, key, nonce, ciphertext, aad []byte) ([]byte, error) {
	switch cipherName {
	case cipherChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, wrapErr("init chacha20-poly1305", err)
		}
		pt, err := aead.Open(nil, nonce, ciphertext, aad)
		if err != nil {
			return nil, wrapErr("box authentication failed", err)
		}
		return pt, nil

	case cipherAES256CTR:
		if len(key) != 64 {
			return nil, newErr("aes256-ctr key material must be 64 bytes (enc key || mac key)")
		}
		if len(ciphertext) < sha256.Size {
			return nil, newErr("ciphertext too short to contain a MAC")
		}
		ct, tag := ciphertext[:len(ciphertext)-sha256.Size], ciphertext[len(ciphertext)-sha256.Size:]
		encKey, macKey := key[:32], key[32:]

		mac := hmac.New(sha256.New, macKey)
		mac.Write(aad)
		mac.Write(nonce)
		mac.Write(ct)
		if !hmac.Equal(mac.Sum(nil), tag) {
			return nil, newErr("box authentication failed")
		}

		block, err := aes.NewCipher(encKey)
		if err != nil {
			return nil, wrapErr("init aes256-ctr", err)
		}
		stream := cipher.NewCTR(block, nonce)
		pt := make([]byte, len(ct))
		stream.XORKeyStream(pt, ct)
		return pt, nil

	default:
		return nil, newErr("unsupported box cipher")
	}
}
