package blob

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// TypeAESCTR tags blobs encrypted with AES in CTR mode.
const TypeAESCTR = "aes-ctr"

// AESCTR is an Encryptor using AES-CTR. CTR is its own inverse, so
// Encrypt and Decrypt are the same transformation.
type AESCTR struct{}

var _ Encryptor = AESCTR{}

func (AESCTR) Type() string { return TypeAESCTR }

func (AESCTR) IVSize() int { return aes.BlockSize }

func (a AESCTR) Encrypt(r io.Reader, key, iv []byte) (io.Reader, error) {
	return a.stream(r, key, iv)
}

func (a AESCTR) Decrypt(r io.Reader, key, iv []byte) (io.Reader, error) {
	return a.stream(r, key, iv)
}

func (AESCTR) stream(r io.Reader, key, iv []byte) (io.Reader, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("blob: aes cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("blob: iv must be %d bytes, got %d", block.BlockSize(), len(iv))
	}
	return cipher.StreamReader{S: cipher.NewCTR(block, iv), R: r}, nil
}
