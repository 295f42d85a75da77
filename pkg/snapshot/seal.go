package snapshot

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
)

const (
	nonceSize = 12
	macSize   = sha256.Size
)

func checkKey(key []byte) error {
	switch len(key) {
	case 16, 24, 32:
		return nil
	default:
		return errors.New("snapshot: encryption key must be 16, 24, or 32 bytes long")
	}
}

// encrypt seals data with AES-GCM and prepends the nonce.
func encrypt(data, key []byte) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize, nonceSize+len(data)+aesGCM.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aesGCM.Seal(nonce, nonce, data, nil), nil
}

// decrypt opens data sealed by encrypt.
func decrypt(data, key []byte) ([]byte, error) {
	if len(data) < nonceSize {
		return nil, errors.New("encrypted data too short")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return aesGCM.Open(nil, data[:nonceSize], data[nonceSize:], nil)
}

func computeMAC(key []byte, parts ...[]byte) []byte {
	h := hmac.New(sha256.New, key)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func verifyMAC(key, mac []byte, parts ...[]byte) bool {
	return hmac.Equal(mac, computeMAC(key, parts...))
}
