// Package codec provides the pluggable content transform applied to payloads
// before they are persisted and after they are read back. The pipeline never
// hard-codes a scheme; the active codec is selected from configuration.
package codec

import (
	"encoding/hex"
	"fmt"

	"github.com/courier-chat/courier/internal/config"
)

// Codec transforms payloads between their in-memory plaintext form and their
// at-rest form. peer identifies the other party of the transform where the
// scheme is directional; symmetric and identity codecs ignore it.
type Codec interface {
	Encode(plain []byte, peer string) ([]byte, error)
	Decode(stored []byte, peer string) ([]byte, error)
	// SelfCopy reports whether a sender-readable duplicate row must be
	// stored alongside the recipient copy so the sender can read back
	// their own messages.
	SelfCopy() bool
}

// FromConfig builds the codec selected by cfg. selfID is the local user id,
// used by directional schemes to address self copies.
func FromConfig(cfg config.Codec, selfID string) (Codec, error) {
	switch cfg.Scheme {
	case "identity":
		return Identity{}, nil
	case "secretbox":
		key, err := parseKey(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("secretbox key: %w", err)
		}
		return NewSecretbox(key), nil
	case "box":
		priv, err := parseKey(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("box private key: %w", err)
		}
		peers := make(map[string][32]byte, len(cfg.Peers))
		for id, hexPK := range cfg.Peers {
			pk, err := parseKey(hexPK)
			if err != nil {
				return nil, fmt.Errorf("box peer %q: %w", id, err)
			}
			peers[id] = pk
		}
		return NewBox(priv, selfID, peers), nil
	default:
		return nil, fmt.Errorf("unknown codec scheme %q", cfg.Scheme)
	}
}

func parseKey(hexKey string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return key, err
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("key is %d bytes, want 32", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// Identity is the no-transform codec used by the unencrypted variant.
type Identity struct{}

func (Identity) Encode(plain []byte, _ string) ([]byte, error)  { return plain, nil }
func (Identity) Decode(stored []byte, _ string) ([]byte, error) { return stored, nil }
func (Identity) SelfCopy() bool                                 { return false }
