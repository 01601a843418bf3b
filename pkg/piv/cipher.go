package piv

import "crypto/aes"

// newAESCipher wraps crypto/aes so admin-key authentication can treat AES
// and 3DES uniformly through the adminCipher interface.
func newAESCipher(key []byte) (adminCipher, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, wrapErr(KindArgument, "invalid AES key", err)
	}
	return c, nil
}
