// Package vault encrypts agent and mint secret material at rest and signs
// with it under scoped acquisition: decrypted key bytes exist only for the
// duration of one signing call and are zeroed on every exit path.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// AES-256-GCM parameters. Ciphertext layout: salt | nonce | sealed.
const (
	keyLength   = 32 // 256-bit AES key
	saltLength  = 32
	nonceLength = 12 // GCM standard nonce

	// PBKDF2 iteration count for deriving the AES key from the master key.
	kdfIterations = 100_000

	// MinMasterKeyLength is the minimum accepted master key size in bytes.
	MinMasterKeyLength = 32
)

// Vault errors.
var (
	// ErrMasterKey indicates the master key is absent or malformed.
	// Fatal at startup: the process must not run without a usable vault.
	ErrMasterKey = errors.New("vault: master key absent or malformed")

	// ErrIntegrity indicates a ciphertext failed authentication. The
	// payload is corrupted or tampered; no plaintext is ever returned.
	ErrIntegrity = errors.New("vault: ciphertext integrity check failed")
)

// Vault performs authenticated encryption of secret key material using a
// process-wide master key. It has no network or persistence dependency.
type Vault struct {
	masterKey []byte
}

// New creates a Vault from the master key. Returns ErrMasterKey if the key
// is shorter than MinMasterKeyLength.
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) < MinMasterKeyLength {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrMasterKey, MinMasterKeyLength, len(masterKey))
	}
	mk := make([]byte, len(masterKey))
	copy(mk, masterKey)
	return &Vault{masterKey: mk}, nil
}

// Close zeroes the master key. The vault is unusable afterwards; intended
// for explicit teardown and key rotation paths.
func (v *Vault) Close() {
	Zero(v.masterKey)
	v.masterKey = nil
}

// Encrypt seals secret material with AES-256-GCM. A fresh salt and nonce
// are generated per call, so encrypting the same secret twice yields
// different ciphertexts.
func (v *Vault) Encrypt(secret []byte) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	gcm, err := v.aead(salt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltLength+nonceLength+len(secret)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, secret, nil)
	return out, nil
}

// Decrypt opens a ciphertext produced by Encrypt. Returns ErrIntegrity if
// the payload is truncated, corrupted, or tampered; garbage key material is
// never returned. Callers own the returned plaintext and must Zero it.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < saltLength+nonceLength {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrIntegrity)
	}

	salt := ciphertext[:saltLength]
	nonce := ciphertext[saltLength : saltLength+nonceLength]
	sealed := ciphertext[saltLength+nonceLength:]

	gcm, err := v.aead(salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return plaintext, nil
}

// WithSigningKey decrypts a stored ed25519 secret key, hands it to fn, and
// zeroes the key material before returning, including when fn fails or the
// ciphertext is invalid.
func (v *Vault) WithSigningKey(ciphertext []byte, fn func(ed25519.PrivateKey) error) error {
	secret, err := v.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	defer Zero(secret)

	if len(secret) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: unexpected key length %d", ErrIntegrity, len(secret))
	}
	return fn(ed25519.PrivateKey(secret))
}

// Rotate re-encrypts a ciphertext with a fresh salt and nonce. Used by the
// operator key rotation flow; plaintext never leaves this function.
func (v *Vault) Rotate(ciphertext []byte) ([]byte, error) {
	secret, err := v.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	defer Zero(secret)
	return v.Encrypt(secret)
}

// Validate performs an encrypt/decrypt round trip to prove the vault is
// operational. Run at startup and by the keytool.
func (v *Vault) Validate() error {
	probe := []byte("vault-selfcheck-probe")
	ct, err := v.Encrypt(probe)
	if err != nil {
		return fmt.Errorf("selfcheck encrypt: %w", err)
	}
	pt, err := v.Decrypt(ct)
	if err != nil {
		return fmt.Errorf("selfcheck decrypt: %w", err)
	}
	defer Zero(pt)
	if string(pt) != string(probe) {
		return fmt.Errorf("%w: selfcheck round trip mismatch", ErrIntegrity)
	}
	return nil
}

// aead derives the per-ciphertext AES key and builds the GCM cipher.
func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(v.masterKey, salt, kdfIterations, keyLength, sha256.New)
	defer Zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
