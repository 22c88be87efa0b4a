// Package authpw provides email/password authentication.
package authpw

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"breathewell/api/internal/auth"
	"breathewell/api/internal/profile"
	"breathewell/api/internal/util"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailInUse         = errors.New("that email is already in use")
	ErrWeakPassword       = errors.New("password is too weak (minimum 6 characters)")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// CredentialStore is the slice of the local store auth needs.
type CredentialStore interface {
	GetCredential(email string) (profile.Credential, bool, error)
	SaveCredential(c profile.Credential) error
}

// Service handles account creation and sign-in. Sessions are the caller's
// concern; this only proves who the principal is.
type Service struct {
	store CredentialStore
}

func NewService(store CredentialStore) *Service {
	return &Service{store: store}
}

// Register creates an account and returns its principal. Matches the mobile
// app's behavior: no email verification step, a session follows immediately.
func (s *Service) Register(email, password, displayName string) (auth.Principal, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return auth.Principal{}, errors.New("email and password are required")
	}
	if len(password) < 6 {
		return auth.Principal{}, ErrWeakPassword
	}

	if _, exists, err := s.store.GetCredential(email); err != nil {
		return auth.Principal{}, fmt.Errorf("look up account: %w", err)
	} else if exists {
		return auth.Principal{}, ErrEmailInUse
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("hash password: %w", err)
	}

	cred := profile.Credential{
		UserID:       util.NewID("usr"),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.SaveCredential(cred); err != nil {
		return auth.Principal{}, fmt.Errorf("create account: %w", err)
	}

	return auth.Principal{ID: cred.UserID, DisplayName: cred.DisplayName, Email: cred.Email}, nil
}

// SignIn authenticates an account and returns its principal.
func (s *Service) SignIn(email, password string) (auth.Principal, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return auth.Principal{}, errors.New("email and password are required")
	}

	cred, exists, err := s.store.GetCredential(email)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("look up account: %w", err)
	}
	if !exists {
		return auth.Principal{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return auth.Principal{}, ErrInvalidCredentials
	}

	return auth.Principal{ID: cred.UserID, DisplayName: cred.DisplayName, Email: cred.Email}, nil
}
