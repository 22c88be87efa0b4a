package profile

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	profilePrefix    = "profile:"
	credentialPrefix = "cred:"
)

// Credential is a stored email/password account.
type Credential struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists profiles and credentials in an embedded Pebble database.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the local database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveProfile writes a profile record, creating or replacing it.
func (s *Store) SaveProfile(p Profile) error {
	if p.ID == "" {
		return fmt.Errorf("profile id required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := s.db.Set([]byte(profilePrefix+p.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	return nil
}

// GetProfile fetches a profile by internal ID.
func (s *Store) GetProfile(id string) (Profile, bool, error) {
	value, closer, err := s.db.Get([]byte(profilePrefix + id))
	if err == pebble.ErrNotFound {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("get profile %s: %w", id, err)
	}
	defer closer.Close()

	var p Profile
	if err := json.Unmarshal(value, &p); err != nil {
		return Profile{}, false, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return p, true, nil
}

// ListProfiles returns every stored profile. The local cache is small (one
// record per principal that ever signed in on this device).
func (s *Store) ListProfiles() ([]Profile, error) {
	iter, err := s.db.NewIter(prefixBounds(profilePrefix))
	if err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	defer iter.Close()

	var out []Profile
	for iter.First(); iter.Valid(); iter.Next() {
		var p Profile
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// SaveCredential stores an account keyed by lowercased email.
func (s *Store) SaveCredential(c Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	key := credentialPrefix + strings.ToLower(c.Email)
	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// GetCredential looks up an account by email, case-insensitively.
func (s *Store) GetCredential(email string) (Credential, bool, error) {
	key := credentialPrefix + strings.ToLower(email)
	value, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, fmt.Errorf("get credential: %w", err)
	}
	defer closer.Close()

	var c Credential
	if err := json.Unmarshal(value, &c); err != nil {
		return Credential{}, false, fmt.Errorf("decode credential: %w", err)
	}
	return c, true, nil
}

func prefixBounds(prefix string) *pebble.IterOptions {
	upper := []byte(prefix)
	upper = append(upper[:len(upper):len(upper)], 0xff)
	return &pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	}
}
