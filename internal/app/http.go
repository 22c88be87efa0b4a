package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"breathewell/api/internal/auth"
	"breathewell/api/internal/authpw"
	"breathewell/api/internal/docstore"
	"breathewell/api/internal/forum"
	"breathewell/api/internal/likes"
	"breathewell/api/internal/profile"
	"breathewell/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}
		if err := s.service.Ready(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signout" {
		s.service.SignOut()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		p, ok := s.principalFromRequest(r)
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        p.ID,
			"userName":      s.service.DisplayName(),
			"email":         p.Email,
		})
		return
	}

	// Reads are public, like the app's forum and chat screens.
	if r.Method == http.MethodGet && r.URL.Path == "/api/posts" {
		s.handleListPosts(w)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/chat/messages" {
		writeJSON(w, http.StatusOK, map[string]any{
			"messages":     s.service.Chat.Messages(),
			"errorMessage": s.service.Chat.ErrorMessage(),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a non-negative integer", nil)
				return
			}
			limit = parsed
		}
		writeJSON(w, http.StatusOK, s.service.Search.Search(search.Query{Text: q, Limit: limit}))
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "posts" && parts[3] == "comments" && r.Method == http.MethodGet {
		s.handleListComments(w, r, parts[2])
		return
	}

	// Everything below mutates state or touches the profile.
	if _, ok := s.requirePrincipal(w, r); !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/posts" {
		var body struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Title) == "" || strings.TrimSpace(body.Body) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title and body are required", nil)
			return
		}
		s.service.Forum.SetPostDraft(body.Title, body.Body)
		if err := s.service.Forum.CreatePost(r.Context()); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/chat/messages" {
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Text) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
			return
		}
		s.service.Chat.SetDraft(body.Text)
		if err := s.service.Chat.Send(r.Context(), s.service.DisplayName()); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/profile" {
		s.handleGetProfile(w, r)
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/profile" {
		s.handleUpdateProfile(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/profile/avatar" {
		s.handleUploadAvatar(w, r)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "posts" {
		postID := parts[2]
		if r.Method == http.MethodDelete {
			if err := s.service.DeletePost(r.Context(), postID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "posts" && parts[3] == "like" && r.Method == http.MethodPost {
		postID := parts[2]
		if err := s.service.Forum.TogglePostLike(r.Context(), postID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		_, liked := s.service.Forum.LikedPosts()[postID]
		writeJSON(w, http.StatusOK, map[string]any{"liked": liked})
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "posts" && parts[3] == "comments" && r.Method == http.MethodPost {
		postID := parts[2]
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Body) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
			return
		}
		if _, err := s.service.OpenThread(r.Context(), postID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		s.service.Forum.SetCommentDraft(body.Body)
		if err := s.service.Forum.CreateComment(r.Context(), postID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
		return
	}

	if len(parts) == 5 && parts[0] == "api" && parts[1] == "posts" && parts[3] == "comments" && r.Method == http.MethodDelete {
		postID, commentID := parts[2], parts[4]
		if _, err := s.service.OpenThread(r.Context(), postID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		if err := s.service.Forum.DeleteComment(r.Context(), postID, commentID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 6 && parts[0] == "api" && parts[1] == "posts" && parts[3] == "comments" && parts[5] == "like" && r.Method == http.MethodPost {
		postID, commentID := parts[2], parts[4]
		if _, err := s.service.OpenThread(r.Context(), postID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		if err := s.service.Forum.ToggleCommentLike(r.Context(), postID, commentID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		_, liked := s.service.Forum.LikedComments()[likes.CommentKey(postID, commentID)]
		writeJSON(w, http.StatusOK, map[string]any{"liked": liked})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleListPosts(w http.ResponseWriter) {
	posts := s.service.Forum.Posts()
	liked := s.service.Forum.LikedPosts()

	type postView struct {
		forum.Post
		Liked bool `json:"liked"`
	}
	views := make([]postView, len(posts))
	for i, p := range posts {
		_, isLiked := liked[p.ID]
		views[i] = postView{Post: p, Liked: isLiked}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"posts":        views,
		"errorMessage": s.service.Forum.ErrorMessage(),
	})
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request, postID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	comments, err := s.service.OpenThread(ctx, postID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	liked := s.service.Forum.LikedComments()

	type commentView struct {
		forum.Comment
		Liked bool `json:"liked"`
	}
	views := make([]commentView, len(comments))
	for i, c := range comments {
		_, isLiked := liked[likes.CommentKey(postID, c.ID)]
		views[i] = commentView{Comment: c, Liked: isLiked}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"comments":     views,
		"errorMessage": s.service.Forum.ErrorMessage(),
	})
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignUp(body.Email, body.Password, body.DisplayName)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(body.Email, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	prof, ok := s.service.CurrentProfile()
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "You must be signed in", nil)
		return
	}
	avatarURL, err := s.service.AvatarURL(r.Context(), prof.AvatarToken)
	if err != nil {
		avatarURL = prof.AvatarToken
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile":   prof,
		"avatarUrl": avatarURL,
	})
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body profile.Profile
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	updated, err := s.service.UpdateProfile(body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": updated})
}

func (s *HTTPServer) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	updated, err := s.service.UploadAvatar(r.Context(), r.Body, r.ContentLength, contentType)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": updated})
}

// principalFromRequest resolves the bearer token without failing the request.
func (s *HTTPServer) principalFromRequest(r *http.Request) (auth.Principal, bool) {
	token := bearerToken(r)
	if token == "" {
		return auth.Principal{}, false
	}
	claims, err := auth.ParseToken([]byte(s.service.cfg.TokenSecret), token)
	if err != nil {
		return auth.Principal{}, false
	}
	if current, ok := s.service.Principal(); ok && current.ID == claims.Sub {
		return current, true
	}
	p, err := s.service.Resume(token)
	if err != nil {
		return auth.Principal{}, false
	}
	return p, true
}

func (s *HTTPServer) requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := s.principalFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "You must be signed in", nil)
		return auth.Principal{}, false
	}
	return p, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "UNAUTHENTICATED", "You must be signed in", nil
	case errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, forum.ErrNotAllowed):
		return http.StatusForbidden, "FORBIDDEN", "Only the author can delete this", nil
	case errors.Is(err, forum.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, authpw.ErrEmailInUse):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrWeakPassword):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, docstore.ErrTxRetryExhausted):
		return http.StatusConflict, "CONFLICT", "Too much contention, try again", nil
	case errors.Is(err, ErrAvatarsDisabled):
		return http.StatusServiceUnavailable, "AVATARS_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Remote store did not respond in time", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
