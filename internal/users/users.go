// Package users implements account registration and authentication.
package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/botdash/internal/credential"
	"github.com/ashureev/botdash/internal/domain"
	"github.com/ashureev/botdash/internal/store"
	"github.com/google/uuid"
)

// RegisterInput carries the registration form.
type RegisterInput struct {
	Username    string
	Password    string
	AccountType string
	Email       string
}

// Registry creates and authenticates users.
type Registry struct {
	repo store.Repository
}

// NewRegistry creates a user registry.
func NewRegistry(repo store.Repository) *Registry {
	return &Registry{repo: repo}
}

func (in *RegisterInput) validate() error {
	if in.Username == "" || in.Password == "" {
		return fmt.Errorf("%w: username and password required", domain.ErrValidation)
	}
	switch in.AccountType {
	case "":
		in.AccountType = domain.AccountTypeNoEmail
	case domain.AccountTypeNoEmail:
	case domain.AccountTypeEmail:
		in.Email = strings.TrimSpace(in.Email)
		if in.Email == "" {
			return fmt.Errorf("%w: email required for email accounts", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown account type %q", domain.ErrValidation, in.AccountType)
	}
	return nil
}

// Register creates an account. Usernames are unique and compared exactly.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*domain.PublicUser, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	existing, err := r.repo.GetUserByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("lookup username: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: username exists", domain.ErrConflict)
	}

	hash, err := credential.BuildHash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		PasswordHash: hash,
		AccountType:  in.AccountType,
	}
	if in.AccountType == domain.AccountTypeEmail {
		user.Email = in.Email
	}

	// The store re-checks uniqueness atomically; the lookup above only avoids hashing for nothing.
	if err := r.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user.Public(), nil
}

// Authenticate returns the user for valid credentials and nil otherwise.
// Unknown usernames and wrong passwords are indistinguishable.
func (r *Registry) Authenticate(ctx context.Context, username, password string) (*domain.PublicUser, error) {
	user, err := r.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("lookup username: %w", err)
	}
	if user == nil || !credential.Verify(password, user.PasswordHash) {
		return nil, nil
	}
	return user.Public(), nil
}
