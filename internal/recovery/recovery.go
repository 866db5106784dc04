// Package recovery encrypts key shares so that a party can rebuild its record from the output
// of a keygen session and its own seed.
package recovery

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/taurusgroup/tssd/pkg/party"
)

// SeedSize is the minimum length of the seed a party encrypts its shares with.
const SeedSize = 32

const info = "tssd recovery"

// ErrDecrypt is returned by Open when the blob was not sealed with the same seed, key and share.
var ErrDecrypt = errors.New("recovery: failed to decrypt share")

func deriveKey(seed []byte, keyUID string, share party.ShareIndex) ([]byte, error) {
	if len(seed) < SeedSize {
		return nil, fmt.Errorf("recovery: seed must be at least %d bytes", SeedSize)
	}
	var index [4]byte
	binary.BigEndian.PutUint32(index[:], uint32(share))
	kdf := hkdf.New(sha256.New, seed, []byte(keyUID), append([]byte(info), index[:]...))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("recovery: derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts the share with the given index of key keyUID.
// The output is the nonce followed by the ciphertext.
func Seal(seed []byte, keyUID string, share party.ShareIndex, plaintext []byte) ([]byte, error) {
	key, err := deriveKey(seed, keyUID, share)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("recovery: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal with the same seed, key and share.
func Open(seed []byte, keyUID string, share party.ShareIndex, blob []byte) ([]byte, error) {
	key, err := deriveKey(seed, keyUID, share)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}
	if len(blob) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
