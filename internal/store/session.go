package store

import (
	"context"
	"time"
)

// AuthState is the cached outcome of a login probe. Positive and negative
// results are both cached; the TTL decision belongs to the caller.
type AuthState struct {
	IsLoggedIn bool      `json:"isLoggedIn"`
	Timestamp  time.Time `json:"timestamp"`
}

// AuthState returns the cached login-check result, or nil when none exists.
func (s *Store) AuthState(ctx context.Context) (*AuthState, error) {
	var st AuthState
	ok, err := s.getJSON(ctx, keyAuthState, &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

// SetAuthState caches a login-check result.
func (s *Store) SetAuthState(ctx context.Context, loggedIn bool, at time.Time) error {
	return s.putJSON(ctx, keyAuthState, AuthState{IsLoggedIn: loggedIn, Timestamp: at})
}

// ClearAuthState invalidates the cached login state, forcing the next run to
// re-probe the portal.
func (s *Store) ClearAuthState(ctx context.Context) error {
	return s.deleteKey(ctx, keyAuthState)
}

// FirstRunDone reports whether a scrape has completed since the session
// markers were last reset.
func (s *Store) FirstRunDone(ctx context.Context) (bool, error) {
	var done bool
	ok, err := s.getJSON(ctx, keyFirstRunDone, &done)
	if err != nil || !ok {
		return false, err
	}
	return done, nil
}

// MarkFirstRunDone records that a full run completed.
func (s *Store) MarkFirstRunDone(ctx context.Context) error {
	return s.putJSON(ctx, keyFirstRunDone, true)
}

// ResetSession clears the session-scoped trust: the cached auth state and
// the first-run marker. Called on daemon start, mirroring a browser restart.
func (s *Store) ResetSession(ctx context.Context) error {
	if err := s.deleteKey(ctx, keyAuthState); err != nil {
		return err
	}
	return s.deleteKey(ctx, keyFirstRunDone)
}
