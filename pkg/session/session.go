package session

import (
	"context"
	"sync"

	"github.com/mahaj/chatcore/pkg/chaterr"
	"github.com/mahaj/chatcore/pkg/model"
)

// Credentials is what the auth collaborator hands back after a login.
type Credentials struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

// UserExtra carries the optional profile fields sent with a login.
type UserExtra struct {
	Name      string         `json:"name,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Extras    map[string]any `json:"extras,omitempty"`
}

// Authenticator is the excluded auth service. The token it returns is opaque.
type Authenticator interface {
	Login(ctx context.Context, userID, userKey string, extra UserExtra) (Credentials, error)
	SetUserFromIdentityToken(ctx context.Context, token string) (Credentials, error)
	GetNonce(ctx context.Context) (model.Nonce, error)
}

// Session holds the single active identity. A zero Session is not authenticated.
type Session struct {
	mu         sync.RWMutex
	user       *model.User
	token      string
	generation uint64
}

func New() *Session {
	return &Session{}
}

// Set replaces any previous identity.
func (s *Session) Set(c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := c.User
	s.user = &u
	s.token = c.Token
	s.generation++
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.token = ""
	s.generation++
}

// Generation changes every time the identity is replaced or cleared.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// CurrentUser returns a copy of the active user.
func (s *Session) CurrentUser() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return model.User{}, false
	}
	return *s.user, true
}

// CurrentUserID returns the external user key, or "" with no session.
func (s *Session) CurrentUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.UserID
}

// Require returns the active user or a NotAuthenticated error.
func (s *Session) Require(op string) (model.User, error) {
	u, ok := s.CurrentUser()
	if !ok {
		return model.User{}, chaterr.NotAuthenticated(op)
	}
	return u, nil
}

// RequireAt is Require together with the generation the user belongs to,
// read atomically.
func (s *Session) RequireAt(op string) (model.User, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return model.User{}, s.generation, chaterr.NotAuthenticated(op)
	}
	return *s.user, s.generation, nil
}

// UpdateProfile applies a confirmed profile update to the snapshot in place.
// It is a no-op when the session has been replaced by another user meanwhile.
func (s *Session) UpdateProfile(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil || s.user.UserID != u.UserID {
		return
	}
	if u.DisplayName != "" {
		s.user.DisplayName = u.DisplayName
	}
	if u.AvatarURL != "" {
		s.user.AvatarURL = u.AvatarURL
	}
	if u.Extras != nil {
		s.user.Extras = u.Extras
	}
}
