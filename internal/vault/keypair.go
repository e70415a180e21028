package vault

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Keypair is an ed25519 keypair with a base58-rendered public key.
// The secret key must be zeroed by the owner once signing is done.
type Keypair struct {
	PublicKey string // base58
	SecretKey ed25519.PrivateKey
}

// Zero wipes the secret key.
func (k *Keypair) Zero() {
	Zero(k.SecretKey)
	k.SecretKey = nil
}

// DeriveKeypair derives a deterministic ed25519 keypair from a 32-byte seed.
func DeriveKeypair(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("derive keypair: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	secret := ed25519.NewKeyFromSeed(seed)
	pub := secret.Public().(ed25519.PublicKey)
	return &Keypair{
		PublicKey: base58.Encode(pub),
		SecretKey: secret,
	}, nil
}

// GenerateKeypair creates a new random ed25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	defer Zero(seed)
	return DeriveKeypair(seed)
}

// ValidAddress reports whether addr is a base58-encoded point on the
// ed25519 curve, i.e. a plausible wallet or mint address.
func ValidAddress(addr string) bool {
	decoded, err := base58.Decode(addr)
	if err != nil || len(decoded) != ed25519.PublicKeySize {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(decoded)
	return err == nil
}
