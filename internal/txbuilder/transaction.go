// Package txbuilder assembles unsigned and partially-signed transfer, mint
// creation, and swap transactions. Transactions carry an ordered signer
// list (fee payer first); each required signer fills its slot with an
// ed25519 signature over the canonical message bytes. Secret keys are
// never embedded in a transaction.
package txbuilder

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Transaction errors.
var (
	ErrUnknownSigner  = errors.New("txbuilder: key does not match any required signer")
	ErrBadSignature   = errors.New("txbuilder: signature verification failed")
	ErrAlreadySigned  = errors.New("txbuilder: signer slot already filled")
	ErrInvalidAddress = errors.New("txbuilder: invalid base58 address")
)

const signatureSize = ed25519.SignatureSize

// Instruction is one program invocation inside a transaction.
type Instruction struct {
	ProgramID string   // base58
	Accounts  []string // base58, in program-defined order
	Data      []byte
}

// Transaction is an ordered set of instructions plus the signatures
// required to authorize them. The fee payer is always signer slot 0.
type Transaction struct {
	RecentBlockhash string
	Instructions    []Instruction

	signers    []string // base58 public keys, fee payer first
	signatures [][]byte // aligned with signers; nil until signed
}

// NewTransaction creates a transaction with feePayer as the first
// required signer.
func NewTransaction(feePayer, recentBlockhash string) *Transaction {
	return &Transaction{
		RecentBlockhash: recentBlockhash,
		signers:         []string{feePayer},
		signatures:      [][]byte{nil},
	}
}

// AddInstruction appends an instruction.
func (t *Transaction) AddInstruction(ix Instruction) {
	t.Instructions = append(t.Instructions, ix)
}

// RequireSigner adds pub to the required signer list if not present.
func (t *Transaction) RequireSigner(pub string) {
	for _, s := range t.signers {
		if s == pub {
			return
		}
	}
	t.signers = append(t.signers, pub)
	t.signatures = append(t.signatures, nil)
}

// Signers returns the required signer public keys, fee payer first.
func (t *Transaction) Signers() []string {
	out := make([]string, len(t.signers))
	copy(out, t.signers)
	return out
}

// MissingSigners returns signers whose slots are still empty.
func (t *Transaction) MissingSigners() []string {
	var missing []string
	for i, s := range t.signers {
		if t.signatures[i] == nil {
			missing = append(missing, s)
		}
	}
	return missing
}

// Complete reports whether every required signature is present.
func (t *Transaction) Complete() bool {
	return len(t.MissingSigners()) == 0
}

// Message returns the canonical byte encoding that signatures cover:
// blockhash, signer list, then instructions.
func (t *Transaction) Message() ([]byte, error) {
	var buf []byte

	bh := []byte(t.RecentBlockhash)
	buf = appendU16(buf, uint16(len(bh)))
	buf = append(buf, bh...)

	buf = appendU16(buf, uint16(len(t.signers)))
	for _, s := range t.signers {
		raw, err := base58.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: signer %s", ErrInvalidAddress, s)
		}
		buf = appendU16(buf, uint16(len(raw)))
		buf = append(buf, raw...)
	}

	buf = appendU16(buf, uint16(len(t.Instructions)))
	for _, ix := range t.Instructions {
		prog, err := base58.Decode(ix.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("%w: program %s", ErrInvalidAddress, ix.ProgramID)
		}
		buf = appendU16(buf, uint16(len(prog)))
		buf = append(buf, prog...)

		buf = appendU16(buf, uint16(len(ix.Accounts)))
		for _, a := range ix.Accounts {
			raw, err := base58.Decode(a)
			if err != nil {
				return nil, fmt.Errorf("%w: account %s", ErrInvalidAddress, a)
			}
			buf = appendU16(buf, uint16(len(raw)))
			buf = append(buf, raw...)
		}

		buf = appendU16(buf, uint16(len(ix.Data)))
		buf = append(buf, ix.Data...)
	}

	return buf, nil
}

// Sign fills the signer slot matching key's public key. Returns
// ErrUnknownSigner if the key is not a required signer.
func (t *Transaction) Sign(key ed25519.PrivateKey) error {
	pub := base58.Encode(key.Public().(ed25519.PublicKey))
	for i, s := range t.signers {
		if s != pub {
			continue
		}
		if t.signatures[i] != nil {
			return fmt.Errorf("%w: %s", ErrAlreadySigned, pub)
		}
		msg, err := t.Message()
		if err != nil {
			return err
		}
		t.signatures[i] = ed25519.Sign(key, msg)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownSigner, pub)
}

// VerifySignatures checks every filled slot against the message bytes.
func (t *Transaction) VerifySignatures() error {
	msg, err := t.Message()
	if err != nil {
		return err
	}
	for i, sig := range t.signatures {
		if sig == nil {
			continue
		}
		raw, err := base58.Decode(t.signers[i])
		if err != nil {
			return fmt.Errorf("%w: signer %s", ErrInvalidAddress, t.signers[i])
		}
		if !ed25519.Verify(ed25519.PublicKey(raw), msg, sig) {
			return fmt.Errorf("%w: signer %s", ErrBadSignature, t.signers[i])
		}
	}
	return nil
}

// Serialize returns the base64 wire form: signature block (empty slots
// zero-filled) followed by the message. Partially-signed transactions
// serialize fine; the counterparty fills its slot client-side.
func (t *Transaction) Serialize() (string, error) {
	msg, err := t.Message()
	if err != nil {
		return "", err
	}

	buf := make([]byte, 0, 2+len(t.signatures)*signatureSize+len(msg))
	buf = appendU16(buf, uint16(len(t.signatures)))
	for _, sig := range t.signatures {
		if sig == nil {
			buf = append(buf, make([]byte, signatureSize)...)
			continue
		}
		buf = append(buf, sig...)
	}
	buf = append(buf, msg...)

	return base64.StdEncoding.EncodeToString(buf), nil
}

func appendU16(buf []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(buf, v)
}
