// Package main provides the operator key tool: validate the vault
// encryption setup, and rotate stored agent key ciphertexts.
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"agent-engine/internal/storage/migrations"
	pgstore "agent-engine/internal/storage/postgres"
	"agent-engine/internal/vault"
)

func main() {
	_ = godotenv.Load()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (rotate only)")
	dryRun := flag.Bool("dry-run", false, "Report what rotate would do without writing")
	flag.Parse()

	logger := log.New(os.Stdout, "[keytool] ", log.LstdFlags)

	if flag.NArg() != 1 {
		logger.Fatal("usage: keytool [flags] validate|rotate")
	}

	v := openVault(logger, "VAULT_MASTER_KEY")
	defer v.Close()

	switch flag.Arg(0) {
	case "validate":
		if err := v.Validate(); err != nil {
			logger.Fatalf("Vault selfcheck failed: %v", err)
		}
		logger.Println("Vault selfcheck passed")

	case "rotate":
		if *postgresDSN == "" {
			logger.Fatal("--postgres-dsn is required for rotate")
		}
		if err := rotate(v, *postgresDSN, *dryRun, logger); err != nil {
			logger.Fatalf("Rotation failed: %v", err)
		}

	default:
		logger.Fatalf("unknown command %q", flag.Arg(0))
	}
}

// openVault builds a vault from the named env var, fatally on error.
func openVault(logger *log.Logger, envVar string) *vault.Vault {
	key := os.Getenv(envVar)
	if key == "" {
		logger.Fatalf("%s is required", envVar)
	}
	v, err := vault.New([]byte(key))
	if err != nil {
		logger.Fatalf("Vault init failed: %v", err)
	}
	return v
}

// rotate re-encrypts every stored agent key. With VAULT_MASTER_KEY_NEW
// set, ciphertexts move to the new master key; otherwise they are
// re-sealed under the current key with fresh salt and nonce.
func rotate(v *vault.Vault, postgresDSN string, dryRun bool, logger *log.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return fmt.Errorf("postgres migrations: %w", err)
	}

	var next *vault.Vault
	if os.Getenv("VAULT_MASTER_KEY_NEW") != "" {
		next = openVault(logger, "VAULT_MASTER_KEY_NEW")
		defer next.Close()
		if err := next.Validate(); err != nil {
			return fmt.Errorf("new vault selfcheck: %w", err)
		}
		logger.Println("Rotating to new master key")
	} else {
		logger.Println("Re-sealing under current master key with fresh salt and nonce")
	}

	agents := pgstore.NewAgentStore(pool)
	all, err := agents.List(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	var rotated, skipped int
	for _, agent := range all {
		if len(agent.EncryptedKey) == 0 {
			skipped++
			continue
		}

		fresh, err := reseal(v, next, agent.EncryptedKey)
		if err != nil {
			return fmt.Errorf("agent %s: %w", agent.AgentID, err)
		}

		if dryRun {
			logger.Printf("would rotate agent %s (%s)", agent.AgentID, agent.Name)
			rotated++
			continue
		}

		agent.EncryptedKey = fresh
		agent.UpdatedAt = time.Now().UnixMilli()
		if err := agents.Update(ctx, agent); err != nil {
			return fmt.Errorf("update agent %s: %w", agent.AgentID, err)
		}
		rotated++
	}

	logger.Printf("Rotation complete: %d rotated, %d skipped", rotated, skipped)
	return nil
}

// reseal produces a fresh ciphertext for one stored key. The plaintext
// is confined to the signing scope and zeroed on exit.
func reseal(current, next *vault.Vault, ciphertext []byte) ([]byte, error) {
	if next == nil {
		return current.Rotate(ciphertext)
	}

	var fresh []byte
	err := current.WithSigningKey(ciphertext, func(key ed25519.PrivateKey) error {
		var encErr error
		fresh, encErr = next.Encrypt(key)
		return encErr
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}
