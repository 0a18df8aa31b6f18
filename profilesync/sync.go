// Package profilesync keeps a local copy of the member profile in step with the portal.
package profilesync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/armonempire/portal/models"
	"github.com/armonempire/portal/portalclient"
	"github.com/armonempire/portal/session"
	"go.uber.org/zap"
)

// Messages shown to the member when a call fails.
const (
	MsgLoadFailed    = "We couldn't load your profile. Please refresh the page."
	MsgSaveFailed    = "Failed to update profile. Please try again."
	MsgPhotoRequired = "Please upload a Photo ID before choosing a drink."
)

// ErrClosed is returned by Load and Save once the synchronizer is closed,
// including calls that were already in flight when Close ran.
var ErrClosed = errors.New("profilesync: closed")

// Error is a failed Load or Save. Message is safe to show the member.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("profilesync: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Portal is the part of the portal API the synchronizer needs.
type Portal interface {
	Profile(ctx context.Context) (models.Profile, error)
	UpdateProfile(ctx context.Context, in portalclient.ProfileUpdate) (models.Profile, error)
}

// Fields are the edits a Save sends.
type Fields struct {
	PreferredBarber string
	DrinkOfChoice   string
	Photo           *portalclient.Photo
}

// Synchronizer owns the local profile. Failed calls leave it untouched, and
// after Close no call changes it or the session.
type Synchronizer struct {
	portal  Portal
	log     *zap.Logger
	session *session.Session

	mu      sync.RWMutex
	profile *models.Profile
	closed  bool
}

func New(portal Portal, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{portal: portal, log: log}
}

// WithSession keeps sess's cached profile in step with every stored profile.
func (s *Synchronizer) WithSession(sess *session.Session) *Synchronizer {
	s.session = sess
	return s
}

// Close abandons calls in flight. Their results are dropped.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Synchronizer) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// store keeps p unless Close ran while the request was in flight.
func (s *Synchronizer) store(p models.Profile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.profile = &p
	if s.session != nil {
		s.session.SetUser(p)
	}
	return true
}

// Load fetches the profile. On failure the local profile stays unset or
// unchanged and there is no automatic retry.
func (s *Synchronizer) Load(ctx context.Context) (models.Profile, error) {
	if s.isClosed() {
		return models.Profile{}, ErrClosed
	}
	p, err := s.portal.Profile(ctx)
	if err != nil {
		s.log.Warn("profile load failed", zap.Error(err))
		return models.Profile{}, &Error{Op: "load", Message: MsgLoadFailed, Err: err}
	}
	p = portalclient.Normalize(p)
	if !s.store(p) {
		s.log.Debug("dropping profile loaded after close")
		return models.Profile{}, ErrClosed
	}
	return p, nil
}

// Profile returns the last loaded or saved profile.
func (s *Synchronizer) Profile() (models.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return models.Profile{}, false
	}
	return *s.profile, true
}

// Validate checks the drink and photo rule without calling the portal.
func (s *Synchronizer) Validate(f Fields) error {
	if f.DrinkOfChoice == "" {
		return nil
	}
	if f.Photo != nil && len(f.Photo.Data) > 0 {
		return nil
	}
	if p, ok := s.Profile(); ok && portalclient.HasPhoto(p) {
		return nil
	}
	return &Error{Op: "validate", Message: MsgPhotoRequired, Err: models.ErrDrinkRequiresPhoto}
}

// Save sends the edits and stores the profile the portal returns.
func (s *Synchronizer) Save(ctx context.Context, f Fields) (models.Profile, error) {
	if err := s.Validate(f); err != nil {
		return models.Profile{}, err
	}
	if s.isClosed() {
		return models.Profile{}, ErrClosed
	}
	p, err := s.portal.UpdateProfile(ctx, portalclient.ProfileUpdate{
		PreferredBarber: f.PreferredBarber,
		DrinkOfChoice:   f.DrinkOfChoice,
		Photo:           f.Photo,
	})
	if err != nil {
		s.log.Warn("profile save failed", zap.Error(err))
		return models.Profile{}, &Error{Op: "save", Message: saveMessage(err), Err: err}
	}
	p = portalclient.Normalize(p)
	if !s.store(p) {
		s.log.Debug("dropping profile saved after close", zap.Uint("user_id", p.ID))
		return models.Profile{}, ErrClosed
	}
	s.log.Info("profile saved", zap.Uint("user_id", p.ID))
	return p, nil
}

// saveMessage surfaces the portal's validation text for 4xx responses.
func saveMessage(err error) string {
	var apiErr *portalclient.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.Text() != "" {
		return apiErr.Text()
	}
	return MsgSaveFailed
}
