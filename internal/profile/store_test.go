package profile

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetProfile(t *testing.T) {
	s := openTestStore(t)

	p := Profile{ID: "prf1", AuthUID: "u1", DisplayName: "Alice", Email: "a@x.com"}.WithDefaults()
	if err := s.SaveProfile(p); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	got, ok, err := s.GetProfile("prf1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if !ok {
		t.Fatal("profile not found")
	}
	if got != p {
		t.Errorf("got %+v, want %+v", got, p)
	}
}

func TestGetProfileMissing(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.GetProfile("nope")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if ok {
		t.Error("expected missing profile to report ok=false")
	}
}

func TestSaveProfileRequiresID(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveProfile(Profile{DisplayName: "Nameless"}); err == nil {
		t.Error("expected an error for a profile without ID")
	}
}

func TestListProfiles(t *testing.T) {
	s := openTestStore(t)
	_ = s.SaveProfile(Profile{ID: "prf1", DisplayName: "Alice"}.WithDefaults())
	_ = s.SaveProfile(Profile{ID: "prf2", DisplayName: "Bob"}.WithDefaults())

	all, err := s.ListProfiles()
	if err != nil {
		t.Fatalf("ListProfiles failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d profiles, want 2", len(all))
	}
}

func TestSaveProfileReplaces(t *testing.T) {
	s := openTestStore(t)
	_ = s.SaveProfile(Profile{ID: "prf1", DisplayName: "Alice"}.WithDefaults())
	_ = s.SaveProfile(Profile{ID: "prf1", DisplayName: "Alice Updated"}.WithDefaults())

	got, _, _ := s.GetProfile("prf1")
	if got.DisplayName != "Alice Updated" {
		t.Errorf("display name = %q", got.DisplayName)
	}
	all, _ := s.ListProfiles()
	if len(all) != 1 {
		t.Errorf("got %d profiles, want 1", len(all))
	}
}

func TestCredentialsAreCaseInsensitive(t *testing.T) {
	s := openTestStore(t)

	cred := Credential{
		UserID:       "usr1",
		Email:        "Alice@Example.com",
		DisplayName:  "Alice",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveCredential(cred); err != nil {
		t.Fatalf("SaveCredential failed: %v", err)
	}

	got, ok, err := s.GetCredential("alice@example.COM")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if !ok {
		t.Fatal("credential not found via differently cased email")
	}
	if got.UserID != "usr1" || got.PasswordHash != "hash" {
		t.Errorf("got %+v", got)
	}
}

func TestWithDefaults(t *testing.T) {
	p := Profile{ID: "prf1"}.WithDefaults()
	if p.AvatarToken != DefaultAvatar {
		t.Errorf("avatar = %q", p.AvatarToken)
	}
	if p.DailyTablets != 2 || p.DailyPuffs != 2 {
		t.Errorf("medication defaults = %d/%d", p.DailyTablets, p.DailyPuffs)
	}
	if !p.NotificationsEnabled || p.ReminderHour != 18 {
		t.Errorf("reminders = %v %d", p.NotificationsEnabled, p.ReminderHour)
	}

	// Explicit values survive.
	q := Profile{ID: "prf2", AvatarToken: "lungs.fill", DailyTablets: 1}.WithDefaults()
	if q.AvatarToken != "lungs.fill" || q.DailyTablets != 1 {
		t.Errorf("defaults clobbered explicit values: %+v", q)
	}
}
