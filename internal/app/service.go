// Package app wires the controllers, stores and auth into one service and
// exposes them over HTTP.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"breathewell/api/internal/auth"
	"breathewell/api/internal/authpw"
	"breathewell/api/internal/avatars"
	"breathewell/api/internal/chat"
	"breathewell/api/internal/config"
	"breathewell/api/internal/docstore"
	"breathewell/api/internal/forum"
	"breathewell/api/internal/identity"
	"breathewell/api/internal/profile"
	"breathewell/api/internal/search"
	"breathewell/api/internal/util"
)

// SessionInfo is what sign-up and sign-in hand back to the client.
type SessionInfo struct {
	Token       string    `json:"token"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service is the application facade: one signed-in device's controllers and
// their backing stores.
type Service struct {
	cfg      config.Config
	store    docstore.Store
	local    *profile.Store
	session  *auth.Session
	accounts *authpw.Service
	resolver *identity.Resolver

	Forum  *forum.Controller
	Chat   *chat.Controller
	Search *search.Service

	avatars *avatars.Store // nil when object storage is not configured

	mu      sync.Mutex
	profile *profile.Profile // resolved profile of the current principal
}

// NewService wires the service. index and av may be nil; search then falls
// back to a local scan and avatar upload is disabled.
func NewService(cfg config.Config, store docstore.Store, local *profile.Store, index search.Indexer, av *avatars.Store) *Service {
	session := auth.NewSession()
	s := &Service{
		cfg:      cfg,
		store:    store,
		local:    local,
		session:  session,
		accounts: authpw.NewService(local),
		resolver: identity.New(local),
		Forum:    forum.NewController(store, session),
		Chat:     chat.NewController(store, session, cfg.ChatWindow),
		avatars:  av,
	}
	s.Search = search.NewService(index, s.postRecords)

	session.OnChange(s.onAuthChange)
	if index != nil {
		s.Forum.OnPostsChanged(s.indexPosts)
	}
	return s
}

// DeletePost deletes a post through the forum controller and drops it from
// the search index, mirroring how creates reach the index via the snapshot
// hook.
func (s *Service) DeletePost(ctx context.Context, postID string) error {
	if err := s.Forum.DeletePost(ctx, postID); err != nil {
		return err
	}
	s.Search.DeletePost(postID)
	return nil
}

// Start begins the live posts and chat streams.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Forum.StartPosts(ctx); err != nil {
		return fmt.Errorf("start posts stream: %w", err)
	}
	if err := s.Chat.Start(ctx); err != nil {
		return fmt.Errorf("start chat stream: %w", err)
	}
	return nil
}

// Close stops the streams.
func (s *Service) Close() {
	s.Forum.Close()
	s.Chat.Close()
}

// Ready reports whether the remote store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// onAuthChange resolves the principal's profile on every sign-in and wires its
// attribution into the forum controller. Sign-out clears both.
func (s *Service) onAuthChange(p *auth.Principal) {
	if p == nil {
		s.mu.Lock()
		s.profile = nil
		s.mu.Unlock()
		s.Forum.SetAuthor(forum.Author{})
		return
	}

	resolved, err := s.resolver.EnsureProfile(*p)
	if err != nil {
		log.Printf("app: resolve profile for %s: %v", p.ID, err)
		return
	}
	s.mu.Lock()
	s.profile = &resolved
	s.mu.Unlock()
	s.Forum.SetAuthor(forum.Author{
		Name:   resolved.DisplayName,
		Avatar: resolved.AvatarToken,
	})
}

// SignUp registers an account, signs the device in and issues a token.
func (s *Service) SignUp(email, password, displayName string) (SessionInfo, error) {
	p, err := s.accounts.Register(email, password, displayName)
	if err != nil {
		return SessionInfo{}, err
	}
	s.session.SignIn(p)
	return s.issueSession(p)
}

// SignIn authenticates an account, signs the device in and issues a token.
func (s *Service) SignIn(email, password string) (SessionInfo, error) {
	p, err := s.accounts.SignIn(email, password)
	if err != nil {
		return SessionInfo{}, err
	}
	s.session.SignIn(p)
	return s.issueSession(p)
}

// SignOut clears the device's principal.
func (s *Service) SignOut() {
	s.session.SignOut()
}

// Resume validates a previously issued token and signs the device back in,
// e.g. after a restart.
func (s *Service) Resume(token string) (auth.Principal, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return auth.Principal{}, err
	}
	p := auth.Principal{ID: claims.Sub, DisplayName: claims.Name, Email: claims.Email}
	s.session.SignIn(p)
	return p, nil
}

// Principal returns the current signed-in principal, if any.
func (s *Service) Principal() (auth.Principal, bool) {
	return s.session.Current()
}

func (s *Service) issueSession(p auth.Principal) (SessionInfo, error) {
	expires := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   p.ID,
		Name:  p.DisplayName,
		Email: p.Email,
		JTI:   util.NewID("jti"),
		Exp:   expires.Unix(),
	})
	if err != nil {
		return SessionInfo{}, fmt.Errorf("issue token: %w", err)
	}
	return SessionInfo{
		Token:       token,
		UserID:      p.ID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		ExpiresAt:   expires,
	}, nil
}

// CurrentProfile returns the resolved profile of the signed-in principal.
func (s *Service) CurrentProfile() (profile.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return profile.Profile{}, false
	}
	return *s.profile, true
}

// UpdateProfile persists edits to the current profile. Identity fields stay
// server-controlled; everything else is taken from the submitted record.
func (s *Service) UpdateProfile(updated profile.Profile) (profile.Profile, error) {
	s.mu.Lock()
	current := s.profile
	s.mu.Unlock()
	if current == nil {
		return profile.Profile{}, auth.ErrUnauthenticated
	}

	updated.ID = current.ID
	updated.AuthUID = current.AuthUID
	updated.Email = current.Email
	if strings.TrimSpace(updated.AvatarToken) == "" {
		updated.AvatarToken = profile.DefaultAvatar
	}
	if err := s.local.SaveProfile(updated); err != nil {
		return profile.Profile{}, fmt.Errorf("save profile: %w", err)
	}

	s.mu.Lock()
	s.profile = &updated
	s.mu.Unlock()
	s.Forum.SetAuthor(forum.Author{Name: updated.DisplayName, Avatar: updated.AvatarToken})
	return updated, nil
}

// ErrAvatarsDisabled is returned when no object storage is configured.
var ErrAvatarsDisabled = fmt.Errorf("avatar storage is not configured")

const maxAvatarBytes = 5 << 20

// UploadAvatar stores an avatar image and points the current profile at it.
func (s *Service) UploadAvatar(ctx context.Context, body io.Reader, size int64, contentType string) (profile.Profile, error) {
	if s.avatars == nil {
		return profile.Profile{}, ErrAvatarsDisabled
	}
	if size <= 0 || size > maxAvatarBytes {
		return profile.Profile{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "avatar must be between 1 byte and 5 MiB", nil)
	}
	current, ok := s.CurrentProfile()
	if !ok {
		return profile.Profile{}, auth.ErrUnauthenticated
	}

	token, err := s.avatars.Upload(ctx, current.AuthUID, body, size, contentType)
	if err != nil {
		return profile.Profile{}, err
	}

	// Replace a previous upload; builtin symbol tokens have nothing to delete.
	if old := current.AvatarToken; strings.HasPrefix(old, "users/") {
		if err := s.avatars.Delete(ctx, old); err != nil {
			log.Printf("app: delete old avatar %s: %v", old, err)
		}
	}

	current.AvatarToken = token
	return s.UpdateProfile(current)
}

// AvatarURL resolves an avatar token to a fetchable URL. Builtin symbol
// tokens resolve to themselves.
func (s *Service) AvatarURL(ctx context.Context, token string) (string, error) {
	if !strings.HasPrefix(token, "users/") {
		return token, nil
	}
	if s.avatars == nil {
		return "", ErrAvatarsDisabled
	}
	return s.avatars.URL(ctx, token, 15*time.Minute)
}

// DisplayName resolves the name shown for the current user: profile name,
// then the principal's own name, then email, then a placeholder.
func (s *Service) DisplayName() string {
	if prof, ok := s.CurrentProfile(); ok {
		if name := strings.TrimSpace(prof.DisplayName); name != "" {
			return name
		}
	}
	if p, ok := s.session.Current(); ok {
		if name := strings.TrimSpace(p.DisplayName); name != "" {
			return name
		}
		if p.Email != "" {
			return p.Email
		}
	}
	return "Anonymous"
}

// OpenThread moves the comment stream to postID and waits for its first
// snapshot, so a read straight after returns that post's comments rather than
// the previous thread's.
func (s *Service) OpenThread(ctx context.Context, postID string) ([]forum.Comment, error) {
	if !s.Forum.ThreadReady(postID) {
		if err := s.Forum.OpenComments(ctx, postID); err != nil {
			return nil, err
		}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for !s.Forum.ThreadReady(postID) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
		}
	}
	return s.Forum.Comments(), nil
}

// postRecords adapts the live post snapshot for the search fallback scan.
func (s *Service) postRecords() []search.PostRecord {
	posts := s.Forum.Posts()
	records := make([]search.PostRecord, len(posts))
	for i, p := range posts {
		records[i] = search.PostRecord{
			ID:         p.ID,
			Title:      p.Title,
			Body:       p.Body,
			AuthorName: p.AuthorName,
			CreatedAt:  p.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return records
}

// indexPosts pushes each snapshot's posts into the search index.
func (s *Service) indexPosts(posts []forum.Post) {
	for _, p := range posts {
		s.Search.IndexPost(search.PostRecord{
			ID:         p.ID,
			Title:      p.Title,
			Body:       p.Body,
			AuthorName: p.AuthorName,
			CreatedAt:  p.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
}
