// seed creates the development account. Idempotent: skips the insert if the account already
// exists. The seeded password is recorded in history like any other change.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	accountdomain "loginguard/internal/account/domain"
	"loginguard/internal/config"
	"loginguard/internal/db"
	historydomain "loginguard/internal/passwordhistory/domain"
	"loginguard/internal/security"
	"loginguard/internal/store"
)

const (
	devIdentifier = "dev@example.com"
	devPassword   = "Dev-Passw0rd-2024!"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	st := store.NewPostgres(conn)
	ctx := context.Background()

	existing, err := st.Repos().Accounts.GetByIdentifier(ctx, devIdentifier)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", devIdentifier)
		return
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	hash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	err = st.WithTx(ctx, func(ctx context.Context, r store.Repos) error {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		a := &accountdomain.Account{
			ID:                    id.String(),
			Identifier:            devIdentifier,
			CredentialHash:        hash,
			LastPasswordChangedAt: &now,
			CreatedAt:             now,
		}
		if err := r.Accounts.Create(ctx, a); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		entryID, err := uuid.NewV7()
		if err != nil {
			return err
		}
		return r.History.Insert(ctx, &historydomain.Entry{
			ID:        entryID.String(),
			AccountID: a.ID,
			Hash:      hash,
			CreatedAt: now,
		})
	})
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login: %s / %s\n", devIdentifier, devPassword)
}
