// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"device-trust-engine/internal/config"
	"device-trust-engine/internal/db"
	devicedomain "device-trust-engine/internal/device/domain"
	devicerepo "device-trust-engine/internal/device/repository"
	"device-trust-engine/internal/security"
	userdomain "device-trust-engine/internal/user/domain"
	userrepo "device-trust-engine/internal/user/repository"
)

const (
	devUserEmail = "dev@example.com"
	devPassword  = "password123"
	devUserID    = "dev-user-001"
	devUser2ID   = "dev-user-002"
	devDeviceID  = "dev-device-001"
	memberEmail  = "member@example.com"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	users := userrepo.NewPostgresRepository(pool)
	devices := devicerepo.NewPostgresRepository(pool)

	existing, err := users.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Println("Seed already applied (dev@example.com exists). Skipping.")
		os.Exit(0)
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()

	devUser := &userdomain.User{
		ID:           devUserID,
		Email:        devUserEmail,
		PasswordHash: passwordHash,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, devUser); err != nil {
		log.Fatalf("create dev user: %v", err)
	}

	member := &userdomain.User{
		ID:           devUser2ID,
		Email:        memberEmail,
		PasswordHash: passwordHash,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, member); err != nil {
		log.Fatalf("create member user: %v", err)
	}

	device := &devicedomain.TrustedDevice{
		ID:          devDeviceID,
		UserID:      devUserID,
		Fingerprint: "dev-fp-001",
		DisplayName: "Dev laptop",
		LastIP:      "127.0.0.1",
		TrustedAt:   now,
	}
	if err := devices.Create(ctx, device); err != nil {
		log.Fatalf("create device: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login: %s / %s (trusted fingerprint dev-fp-001)\n", devUserEmail, devPassword)
	fmt.Printf("Member login: %s / %s (no trusted devices)\n", memberEmail, devPassword)
}
