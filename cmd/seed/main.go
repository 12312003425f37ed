// seed creates an identity with a hashed secret in PostgreSQL.
// It is idempotent: an existing identifier is left untouched.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/layer-3/turnstile/adapters/store"
	"github.com/layer-3/turnstile/config"
	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/security"
)

func main() {
	identifier := flag.String("identifier", "admin@example.com", "Login identifier of the identity")
	role := flag.String("role", string(core.RoleAdmin), "Role: admin, manager or user")
	cost := flag.Int("cost", security.DefaultCost, "bcrypt cost")
	flag.Parse()

	secret := os.Getenv("SEED_SECRET")
	if secret == "" {
		log.Fatal("SEED_SECRET is not set")
	}
	if !core.Role(*role).Valid() {
		log.Fatalf("unknown role %q", *role)
	}

	dsn, err := config.LoadDatabaseURL()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	verifier, err := security.NewVerifier(*cost, 0)
	if err != nil {
		log.Fatalf("verifier: %v", err)
	}
	hash, err := verifier.Hash(secret)
	if err != nil {
		log.Fatalf("hash: %v", err)
	}

	identities := store.NewPostgresIdentityStore(pool)

	if existing, err := identities.FindByIdentifier(ctx, *identifier); err == nil {
		log.Printf("identity %s already exists (id=%s), skipping", existing.Identifier, existing.ID)
		return
	} else if !errors.Is(err, core.ErrIdentityNotFound) {
		log.Fatalf("lookup: %v", err)
	}

	identity := &core.Identity{
		ID:         uuid.NewString(),
		Identifier: *identifier,
		SecretHash: hash.Hash,
		Role:       core.Role(*role),
		Active:     true,
	}
	if err := identities.Create(ctx, identity); err != nil {
		log.Fatalf("create identity: %v", err)
	}

	log.Printf("created %s identity %s (id=%s)", identity.Role, identity.Identifier, identity.ID)
}
