// seed inserts development sample data for local testing: go run ./cmd/seed.
// Idempotent: roles and teams are upserted and users that already exist are skipped.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"helpdesk-auth/backend/internal/config"
	"helpdesk-auth/backend/internal/db"
	"helpdesk-auth/backend/internal/security"
	userdomain "helpdesk-auth/backend/internal/user/domain"
	userrepo "helpdesk-auth/backend/internal/user/repository"
)

const devPassword = "helpdesk-dev-1"

var (
	roles = []userdomain.Role{
		{ID: "role-agent", Name: "agent"},
		{ID: "role-lead", Name: "team-lead"},
		{ID: "role-admin", Name: "admin"},
	}
	teams = []userdomain.Team{
		{ID: "team-support", Name: "support"},
		{ID: "team-billing", Name: "billing"},
	}
	seedUsers = []struct {
		email, name, role, team string
	}{
		{"admin@example.com", "Dev Admin", "role-admin", ""},
		{"lead@example.com", "Dev Lead", "role-lead", "team-support"},
		{"agent@example.com", "Dev Agent", "role-agent", "team-support"},
	}
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	users := userrepo.NewPostgresRepository(pool)

	for _, r := range roles {
		if err := users.UpsertRole(ctx, r); err != nil {
			log.Fatalf("role %s: %v", r.Name, err)
		}
	}
	for _, t := range teams {
		if err := users.UpsertTeam(ctx, t); err != nil {
			log.Fatalf("team %s: %v", t.Name, err)
		}
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	now := time.Now().UTC()
	created := 0
	for _, s := range seedUsers {
		existing, err := users.GetByEmail(ctx, s.email)
		if err != nil {
			log.Fatalf("seed check %s: %v", s.email, err)
		}
		if existing != nil {
			continue
		}
		u := &userdomain.User{
			ID:           uuid.NewString(),
			Email:        s.email,
			PasswordHash: passwordHash,
			Name:         s.name,
			RoleID:       optional(s.role),
			TeamID:       optional(s.team),
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("create %s: %v", s.email, err)
		}
		created++
	}
	fmt.Printf("Seed complete: %d users created (password %q).\n", created, devPassword)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
