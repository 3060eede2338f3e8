package codec

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// Box is the asymmetric codec: NaCl box against a keyring of peer public
// keys. Outgoing payloads are sealed to the recipient; because the recipient
// copy is not addressed to the sender, the pipeline stores a second copy
// sealed to the sender's own key (SelfCopy).
type Box struct {
	priv   [32]byte
	selfID string
	peers  map[string][32]byte
}

// NewBox creates an asymmetric codec. The local public key is derived from
// priv and registered under selfID so self copies resolve like any peer.
func NewBox(priv [32]byte, selfID string, peers map[string][32]byte) *Box {
	keyring := make(map[string][32]byte, len(peers)+1)
	for id, pk := range peers {
		keyring[id] = pk
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)
	keyring[selfID] = pub
	return &Box{priv: priv, selfID: selfID, peers: keyring}
}

func (b *Box) Encode(plain []byte, peer string) ([]byte, error) {
	pk, ok := b.peers[peer]
	if !ok {
		return nil, fmt.Errorf("no public key for peer %q", peer)
	}
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	return box.Seal(nonce[:], plain, &nonce, &pk, &b.priv), nil
}

func (b *Box) Decode(stored []byte, peer string) ([]byte, error) {
	pk, ok := b.peers[peer]
	if !ok {
		return nil, fmt.Errorf("no public key for peer %q", peer)
	}
	if len(stored) < nonceSize {
		return nil, fmt.Errorf("stored payload is %d bytes, below nonce size", len(stored))
	}
	var nonce [nonceSize]byte
	copy(nonce[:], stored[:nonceSize])
	plain, ok2 := box.Open(nil, stored[nonceSize:], &nonce, &pk, &b.priv)
	if !ok2 {
		return nil, errors.New("box open failed")
	}
	return plain, nil
}

// SelfCopy is true: rows sealed to a peer are unreadable to third parties,
// so the sender stores a duplicate sealed to itself.
func (b *Box) SelfCopy() bool { return true }
