// Package identity links authenticated principals to locally cached profiles.
package identity

import (
	"fmt"
	"strings"

	"breathewell/api/internal/auth"
	"breathewell/api/internal/profile"
	"breathewell/api/internal/util"
)

// ProfileStore is the slice of the local store the resolver needs.
type ProfileStore interface {
	ListProfiles() ([]profile.Profile, error)
	SaveProfile(p profile.Profile) error
}

// Resolver guarantees exactly one local profile per authenticated principal.
type Resolver struct {
	profiles ProfileStore
}

func New(profiles ProfileStore) *Resolver {
	return &Resolver{profiles: profiles}
}

// EnsureProfile resolves the principal to its profile, first by auth UID, then
// by case-insensitive email for records created before auth linking, else by
// creating a new profile with defaults. Idempotent; safe on every sign-in.
func (r *Resolver) EnsureProfile(p auth.Principal) (profile.Profile, error) {
	all, err := r.profiles.ListProfiles()
	if err != nil {
		return profile.Profile{}, fmt.Errorf("list profiles: %w", err)
	}

	// 1) Exact match on the external auth ID. Backfill blanks only.
	for _, existing := range all {
		if existing.AuthUID != p.ID {
			continue
		}
		changed := false
		if existing.Email == "" && p.Email != "" {
			existing.Email = p.Email
			changed = true
		}
		if strings.TrimSpace(existing.DisplayName) == "" && p.DisplayName != "" {
			existing.DisplayName = p.DisplayName
			changed = true
		}
		if changed {
			if err := r.profiles.SaveProfile(existing); err != nil {
				return profile.Profile{}, err
			}
		}
		return existing, nil
	}

	// 2) Legacy fallback: a profile created before the account was linked is
	// matched by email and claimed by attaching the auth ID.
	if p.Email != "" {
		for _, existing := range all {
			if existing.AuthUID != "" || !strings.EqualFold(existing.Email, p.Email) {
				continue
			}
			existing.AuthUID = p.ID
			if strings.TrimSpace(existing.DisplayName) == "" && p.DisplayName != "" {
				existing.DisplayName = p.DisplayName
			}
			if err := r.profiles.SaveProfile(existing); err != nil {
				return profile.Profile{}, err
			}
			return existing, nil
		}
	}

	// 3) First sign-in on this device: create with defaults.
	created := profile.Profile{
		ID:          util.NewID("prf"),
		AuthUID:     p.ID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
	}.WithDefaults()
	if err := r.profiles.SaveProfile(created); err != nil {
		return profile.Profile{}, err
	}
	return created, nil
}
