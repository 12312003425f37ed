package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/layer-3/turnstile/core"
)

const (
	// DefaultCost keeps a single hash in the 100ms+ range on current hardware
	DefaultCost = 12

	// DefaultFloor is the minimum duration of every Verify call
	DefaultFloor = 100 * time.Millisecond

	// NoFloor disables verification padding. Only tests should use it.
	NoFloor time.Duration = -1
)

// HashResult is a freshly computed secret hash and the work factor it used
type HashResult struct {
	Hash string
	Cost int
}

// VerifyResult reports whether a secret matched and how long verification took
type VerifyResult struct {
	Valid   bool
	Elapsed time.Duration
}

// Verifier hashes and verifies secrets with bcrypt. Callers must not log or
// persist plaintext secrets.
type Verifier struct {
	cost  int
	floor time.Duration
	dummy string
}

// NewVerifier returns a Verifier with the given bcrypt cost (clamped to the
// bcrypt bounds) and verification floor. A zero floor means DefaultFloor;
// a negative floor disables padding.
func NewVerifier(cost int, floor time.Duration) (*Verifier, error) {
	if cost <= 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	switch {
	case floor == 0:
		floor = DefaultFloor
	case floor < 0:
		floor = 0
	}

	v := &Verifier{cost: cost, floor: floor}

	// Unknown identifiers are verified against this hash so they cost the same as known ones.
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("%w: dummy seed: %v", core.ErrHashing, err)
	}
	dummy, err := bcrypt.GenerateFromPassword(seed[:], cost)
	if err != nil {
		return nil, fmt.Errorf("%w: dummy hash: %v", core.ErrHashing, err)
	}
	v.dummy = string(dummy)

	return v, nil
}

// Cost returns the configured work factor
func (v *Verifier) Cost() int {
	return v.cost
}

// Floor returns the configured minimum verification time
func (v *Verifier) Floor() time.Duration {
	return v.floor
}

// DummyHash returns a valid hash no secret is known to match
func (v *Verifier) DummyHash() string {
	return v.dummy
}

// Hash produces a salted bcrypt hash of secret
func (v *Verifier) Hash(secret string) (HashResult, error) {
	if secret == "" {
		return HashResult{}, fmt.Errorf("%w: empty secret", core.ErrHashing)
	}

	b, err := bcrypt.GenerateFromPassword([]byte(secret), v.cost)
	if err != nil {
		return HashResult{}, fmt.Errorf("%w: %v", core.ErrHashing, err)
	}

	return HashResult{Hash: string(b), Cost: v.cost}, nil
}

// Verify compares secret with storedHash and never returns before the floor has elapsed.
// A malformed storedHash yields core.ErrMalformedHash together with Valid=false.
func (v *Verifier) Verify(secret, storedHash string) (VerifyResult, error) {
	start := time.Now()

	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(secret))

	if remaining := v.floor - time.Since(start); remaining > 0 {
		time.Sleep(remaining)
	}
	elapsed := time.Since(start)

	switch {
	case err == nil:
		return VerifyResult{Valid: true, Elapsed: elapsed}, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrPasswordTooLong):
		return VerifyResult{Valid: false, Elapsed: elapsed}, nil
	default:
		return VerifyResult{Valid: false, Elapsed: elapsed}, fmt.Errorf("%w: %v", core.ErrMalformedHash, err)
	}
}
