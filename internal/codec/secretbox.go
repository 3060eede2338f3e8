package codec

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// Secretbox is the symmetric codec: NaCl secretbox under a shared 32-byte
// key. The random nonce is prepended to the sealed payload.
type Secretbox struct {
	key [32]byte
}

// NewSecretbox creates a symmetric codec from a shared key.
func NewSecretbox(key [32]byte) *Secretbox {
	return &Secretbox{key: key}
}

func (s *Secretbox) Encode(plain []byte, _ string) ([]byte, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

func (s *Secretbox) Decode(stored []byte, _ string) ([]byte, error) {
	if len(stored) < nonceSize {
		return nil, fmt.Errorf("stored payload is %d bytes, below nonce size", len(stored))
	}
	var nonce [nonceSize]byte
	copy(nonce[:], stored[:nonceSize])
	plain, ok := secretbox.Open(nil, stored[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("secretbox open failed")
	}
	return plain, nil
}

// SelfCopy is false: the shared key reads both directions.
func (s *Secretbox) SelfCopy() bool { return false }

func newNonce() ([nonceSize]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, err
	}
	return nonce, nil
}
