package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/runeforge/server/internal/db"
	"github.com/runeforge/server/internal/model"
)

// SessionCookie is the cookie carrying the sealed session token.
const SessionCookie = "rf_session"

// Service owns the login flow and token validation.
type Service struct {
	provider *Provider
	sealer   *TokenSealer
	nonces   *NonceStore
	users    *db.UserRepository
	secure   bool
}

// NewService wires the auth service. secure controls the cookie Secure flag
// and should be true behind TLS.
func NewService(provider *Provider, sealer *TokenSealer, users *db.UserRepository, secure bool) *Service {
	return &Service{
		provider: provider,
		sealer:   sealer,
		nonces:   NewNonceStore(),
		users:    users,
		secure:   secure,
	}
}

// Register mounts the auth endpoints on the mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/callback", s.handleCallback)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("GET /auth/me", s.handleMe)
}

// Validate opens a session token and returns the authenticated claims.
func (s *Service) Validate(token string) (*Claims, error) {
	return s.sealer.Open(token, time.Now())
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := s.nonces.Issue()
	http.Redirect(w, r, s.provider.AuthURL(state), http.StatusFound)
}

func (s *Service) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		http.Error(w, "missing state or code", http.StatusBadRequest)
		return
	}
	if !s.nonces.Consume(state) {
		http.Error(w, "unknown or expired state", http.StatusBadRequest)
		return
	}

	identity, err := s.provider.Exchange(r.Context(), code)
	if err != nil {
		slog.Error("oidc exchange failed", "error", err)
		http.Error(w, "login failed", http.StatusBadGateway)
		return
	}

	user, err := s.users.Upsert(r.Context(), identity.User())
	if err != nil {
		slog.Error("user upsert failed", "subject", identity.Subject, "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	token, err := s.sealer.Seal(user.ID, user.DisplayName, time.Now())
	if err != nil {
		slog.Error("token seal failed", "userID", user.ID, "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, s.cookie(token, s.sealer.TTL()))
	slog.Info("user logged in", "userID", user.ID, "displayName", user.DisplayName)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.cookie("", -time.Hour))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, err := s.RequestClaims(r)
	if err != nil {
		status := http.StatusUnauthorized
		http.Error(w, err.Error(), status)
		return
	}
	user, err := s.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		slog.Error("loading user failed", "userID", claims.UserID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"userId":      user.ID,
		"displayName": user.DisplayName,
		"email":       user.Email,
	})
}

// RequestClaims authenticates an HTTP request from its session cookie or
// bearer header.
func (s *Service) RequestClaims(r *http.Request) (*Claims, error) {
	token := ""
	if c, err := r.Cookie(SessionCookie); err == nil {
		token = c.Value
	}
	if token == "" {
		const prefix = "Bearer "
		if h := r.Header.Get("Authorization"); len(h) > len(prefix) && h[:len(prefix)] == prefix {
			token = h[len(prefix):]
		}
	}
	if token == "" {
		return nil, fmt.Errorf("no session token")
	}
	claims, err := s.sealer.Open(token, time.Now())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ResolveUser authenticates a raw token and loads the user row, used by the
// WebSocket handshake.
func (s *Service) ResolveUser(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.sealer.Open(token, time.Now())
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading user %q: %w", claims.UserID, err)
	}
	if user == nil {
		return nil, errors.Join(ErrTokenInvalid, fmt.Errorf("user %q not found", claims.UserID))
	}
	return user, nil
}

func (s *Service) cookie(value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
