package txbuilder

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"agent-engine/internal/domain"
	"agent-engine/internal/vault"
)

// Well-known program addresses.
const (
	SystemProgram     = "11111111111111111111111111111111"
	TokenProgram      = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AggregatorProgram = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
)

// Instruction tags understood by the programs above.
const (
	sysCreateAccount  = uint32(0)
	sysTransfer       = uint32(2)
	tokInitializeMint = uint8(0)
)

// MintRentLamports is the rent-exempt balance for a new mint account.
const MintRentLamports = int64(1_461_600)

var errMissingAgentKey = errors.New("txbuilder: agent has no encrypted key")

// BlockhashSource supplies a recent blockhash for transaction assembly.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (string, error)
}

// Builder assembles transactions, drawing signing keys from the vault
// only for the duration of each signing call.
type Builder struct {
	vault     *vault.Vault
	blockhash BlockhashSource
}

// NewBuilder creates a Builder.
func NewBuilder(v *vault.Vault, bh BlockhashSource) *Builder {
	return &Builder{vault: v, blockhash: bh}
}

// CreationParams describes an agent token mint creation.
type CreationParams struct {
	Creator     string // creator wallet; pays fees and signs client-side
	AgentWallet string // custodial wallet; becomes the mint authority
	Decimals    uint8
}

// CreationResult is a mint creation transaction awaiting exactly one more
// signature: the creator's.
type CreationResult struct {
	Transaction   *Transaction
	MintPublicKey string
}

// BuildCreation assembles the mint creation transaction for a new agent.
// A one-time mint keypair is generated, used to sign this single
// transaction, and discarded; the mint authority is the agent's custodial
// wallet from the start, so the mint secret is never needed again.
func (b *Builder) BuildCreation(ctx context.Context, params CreationParams) (*CreationResult, error) {
	if !vault.ValidAddress(params.Creator) {
		return nil, fmt.Errorf("%w: creator %q", ErrInvalidAddress, params.Creator)
	}
	if !vault.ValidAddress(params.AgentWallet) {
		return nil, fmt.Errorf("%w: agent wallet %q", ErrInvalidAddress, params.AgentWallet)
	}

	bh, err := b.blockhash.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}

	mint, err := vault.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate mint keypair: %w", err)
	}
	defer mint.Zero()

	tx := NewTransaction(params.Creator, bh)
	tx.AddInstruction(createAccountIx(params.Creator, mint.PublicKey, MintRentLamports))
	tx.AddInstruction(initializeMintIx(mint.PublicKey, params.AgentWallet, params.Decimals))
	tx.RequireSigner(mint.PublicKey)

	// The mint key signs exactly once, here. After this the raw secret
	// is zeroed and the transaction only needs the creator's signature.
	if err := tx.Sign(mint.SecretKey); err != nil {
		return nil, fmt.Errorf("sign with mint key: %w", err)
	}

	return &CreationResult{Transaction: tx, MintPublicKey: mint.PublicKey}, nil
}

// BuildFunding assembles an unsigned transfer from a counterparty wallet
// into the agent's custodial wallet. The counterparty signs client-side.
func (b *Builder) BuildFunding(ctx context.Context, from, to string, lamports int64) (*Transaction, error) {
	if !vault.ValidAddress(from) {
		return nil, fmt.Errorf("%w: from %q", ErrInvalidAddress, from)
	}
	if !vault.ValidAddress(to) {
		return nil, fmt.Errorf("%w: to %q", ErrInvalidAddress, to)
	}
	if lamports <= 0 {
		return nil, fmt.Errorf("funding amount must be positive, got %d", lamports)
	}

	bh, err := b.blockhash.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}

	tx := NewTransaction(from, bh)
	tx.AddInstruction(transferIx(from, to, lamports))
	return tx, nil
}

// BuildSwap assembles and fully signs the swap transaction for an approved
// order. The agent wallet is self-custodial to the platform, so no further
// signature is needed after the vault signing scope completes.
func (b *Builder) BuildSwap(ctx context.Context, agent *domain.Agent, order *domain.TradeOrder) (*Transaction, error) {
	if len(agent.EncryptedKey) == 0 {
		return nil, errMissingAgentKey
	}

	bh, err := b.blockhash.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}

	tx := NewTransaction(agent.Wallet, bh)
	tx.AddInstruction(swapIx(agent.Wallet, order))

	err = b.vault.WithSigningKey(agent.EncryptedKey, func(key ed25519.PrivateKey) error {
		return tx.Sign(key)
	})
	if err != nil {
		return nil, fmt.Errorf("sign with agent key: %w", err)
	}

	if !tx.Complete() {
		return nil, fmt.Errorf("swap transaction missing signatures: %v", tx.MissingSigners())
	}
	return tx, nil
}

func createAccountIx(funder, newAccount string, lamports int64) Instruction {
	data := binary.BigEndian.AppendUint32(nil, sysCreateAccount)
	data = binary.BigEndian.AppendUint64(data, uint64(lamports))
	return Instruction{
		ProgramID: SystemProgram,
		Accounts:  []string{funder, newAccount},
		Data:      data,
	}
}

func transferIx(from, to string, lamports int64) Instruction {
	data := binary.BigEndian.AppendUint32(nil, sysTransfer)
	data = binary.BigEndian.AppendUint64(data, uint64(lamports))
	return Instruction{
		ProgramID: SystemProgram,
		Accounts:  []string{from, to},
		Data:      data,
	}
}

func initializeMintIx(mint, authority string, decimals uint8) Instruction {
	data := []byte{tokInitializeMint, decimals}
	return Instruction{
		ProgramID: TokenProgram,
		Accounts:  []string{mint, authority},
		Data:      data,
	}
}

func swapIx(wallet string, order *domain.TradeOrder) Instruction {
	data := []byte(order.OrderID)
	data = binary.BigEndian.AppendUint64(data, uint64(order.AmountIn))
	data = binary.BigEndian.AppendUint16(data, uint16(order.SlippageBps))
	return Instruction{
		ProgramID: AggregatorProgram,
		Accounts:  []string{wallet, order.InputMint, order.OutputMint},
		Data:      data,
	}
}
