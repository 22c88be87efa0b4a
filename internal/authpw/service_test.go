package authpw

import (
	"strings"
	"testing"

	"breathewell/api/internal/profile"
)

type memCredentials struct {
	byEmail map[string]profile.Credential
}

func newMemCredentials() *memCredentials {
	return &memCredentials{byEmail: map[string]profile.Credential{}}
}

func (m *memCredentials) GetCredential(email string) (profile.Credential, bool, error) {
	c, ok := m.byEmail[strings.ToLower(email)]
	return c, ok, nil
}

func (m *memCredentials) SaveCredential(c profile.Credential) error {
	m.byEmail[strings.ToLower(c.Email)] = c
	return nil
}

func TestRegisterAndSignIn(t *testing.T) {
	svc := NewService(newMemCredentials())

	p, err := svc.Register("alice@example.com", "hunter22", "Alice")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if p.ID == "" || p.Email != "alice@example.com" || p.DisplayName != "Alice" {
		t.Errorf("principal = %+v", p)
	}

	signedIn, err := svc.SignIn("alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if signedIn.ID != p.ID {
		t.Errorf("SignIn returned %s, want %s", signedIn.ID, p.ID)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := NewService(newMemCredentials())
	if _, err := svc.Register("alice@example.com", "hunter22", "Alice"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := svc.Register("ALICE@example.com", "hunter22", "Alice2"); err != ErrEmailInUse {
		t.Errorf("err = %v, want ErrEmailInUse", err)
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	svc := NewService(newMemCredentials())
	if _, err := svc.Register("alice@example.com", "12345", "Alice"); err != ErrWeakPassword {
		t.Errorf("err = %v, want ErrWeakPassword", err)
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	svc := NewService(newMemCredentials())
	if _, err := svc.Register("alice@example.com", "hunter22", "Alice"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := svc.SignIn("alice@example.com", "wrong"); err != ErrInvalidCredentials {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.SignIn("nobody@example.com", "hunter22"); err != ErrInvalidCredentials {
		t.Errorf("unknown email err = %v, want ErrInvalidCredentials", err)
	}
}

func TestPasswordsAreHashed(t *testing.T) {
	store := newMemCredentials()
	svc := NewService(store)
	if _, err := svc.Register("alice@example.com", "hunter22", "Alice"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	cred := store.byEmail["alice@example.com"]
	if cred.PasswordHash == "hunter22" || cred.PasswordHash == "" {
		t.Error("password stored without hashing")
	}
}
