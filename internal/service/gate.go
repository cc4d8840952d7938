package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/porkli/link-rotator/internal/database"
	"github.com/porkli/link-rotator/internal/models"
)

// GrantStore keeps short-lived password-verification grants, scoped to
// a single client and short code. Implementations never store the
// password itself.
type GrantStore interface {
	// Grant records that clientID has verified the password for shortCode.
	Grant(ctx context.Context, clientID, shortCode string) error

	// Valid reports whether clientID holds an unexpired grant for shortCode.
	Valid(ctx context.Context, clientID, shortCode string) (bool, error)
}

// AccessGate decides whether a resolution may proceed past a link's
// password, and verifies supplied passwords to issue grants.
type AccessGate struct {
	repo   LinkRepository
	grants GrantStore
}

func NewAccessGate(repo LinkRepository, grants GrantStore) *AccessGate {
	return &AccessGate{
		repo:   repo,
		grants: grants,
	}
}

// Check reports whether clientID may resolve the link. Links without a
// password are always allowed; gated links require an unexpired grant
// for this exact code from this exact client.
func (g *AccessGate) Check(ctx context.Context, link *models.Link, clientID string) (bool, error) {
	const op = "service.AccessGate.Check"

	if !link.Protected() {
		return true, nil
	}

	ok, err := g.grants.Valid(ctx, clientID, link.ShortCode)
	if err != nil {
		return false, fmt.Errorf("%s: failed to check grant: %w", op, err)
	}

	return ok, nil
}

// VerifyPassword compares the supplied password against the link's
// stored hash and issues a grant for clientID on success. A wrong
// password returns ErrWrongPassword with no state change. Unknown,
// expired and unprotected codes are all reported as not found.
func (g *AccessGate) VerifyPassword(ctx context.Context, shortCode, password, clientID string) error {
	const op = "service.AccessGate.VerifyPassword"

	link, err := g.repo.GetByCode(ctx, shortCode)
	if err != nil {
		return fmt.Errorf("%s: failed to look up link: %w", op, err)
	}

	if !link.Protected() {
		return fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return fmt.Errorf("%s: %w", op, ErrWrongPassword)
		}

		return fmt.Errorf("%s: failed to compare password: %w", op, err)
	}

	if err := g.grants.Grant(ctx, clientID, shortCode); err != nil {
		return fmt.Errorf("%s: failed to issue grant: %w", op, err)
	}

	return nil
}
