// Package session holds the signed-in member's token and profile for Go front ends.
package session

import (
	"errors"
	"net/http"
	"sync"

	"github.com/armonempire/portal/models"
)

// ErrSignedOut is returned by Authorize when no member is signed in.
var ErrSignedOut = errors.New("session: not signed in")

// Session is the explicit auth context shared by the portal client and the
// onboarding components. The zero value is a signed-out session.
type Session struct {
	mu    sync.RWMutex
	token string
	user  *models.Profile
	subs  []func(signedIn bool)
}

func New() *Session {
	return &Session{}
}

// Login records the token and the member it belongs to.
func (s *Session) Login(token string, user models.Profile) {
	s.mu.Lock()
	s.token = token
	s.user = &user
	subs := append([]func(bool){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(true)
	}
}

// Logout forgets the token and the member. Calling it twice is harmless.
func (s *Session) Logout() {
	s.mu.Lock()
	was := s.token != ""
	s.token = ""
	s.user = nil
	subs := append([]func(bool){}, s.subs...)
	s.mu.Unlock()
	if !was {
		return
	}
	for _, fn := range subs {
		fn(false)
	}
}

// OnChange registers fn to run after every login and every effective logout.
func (s *Session) OnChange(fn func(signedIn bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) SignedIn() bool {
	return s.Token() != ""
}

// User returns a copy of the signed-in member's profile.
func (s *Session) User() (models.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.Profile{}, false
	}
	return *s.user, true
}

// SetUser replaces the cached profile, for example after a profile save.
// It does nothing on a signed-out session.
func (s *Session) SetUser(user models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return
	}
	s.user = &user
}

// Authorize adds the bearer token to r.
func (s *Session) Authorize(r *http.Request) error {
	token := s.Token()
	if token == "" {
		return ErrSignedOut
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return nil
}
