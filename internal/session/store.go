// Package session holds each user's clip while it waits for a mode choice.
// Sessions live only in memory and are lost on restart.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/snarg/voicenote/internal/media"
)

// ErrNotFound is returned when a user has no pending session.
var ErrNotFound = errors.New("no pending session")

// Mode is the user's choice of output.
type Mode int

const (
	ModeUnset Mode = iota
	ModeTranscript
	ModeSummary
)

func (m Mode) String() string {
	switch m {
	case ModeTranscript:
		return "transcript"
	case ModeSummary:
		return "summary"
	}
	return "unset"
}

// ParseMode accepts "transcript" and "summary".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "transcript":
		return ModeTranscript, nil
	case "summary":
		return ModeSummary, nil
	}
	return ModeUnset, fmt.Errorf("unknown mode %q", s)
}

// Session is a user's in-flight clip awaiting a mode choice.
type Session struct {
	UserID    string
	Media     media.Ref
	Mode      Mode
	CreatedAt time.Time
}

// Store maps user IDs to their pending session. At most one session exists
// per user; a new Put replaces the previous one. All methods are safe for
// concurrent use and operations are linearized by a single lock.
type Store struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// Put records ref as userID's pending clip. The displaced session, if any,
// is returned so the caller can release its media.
func (s *Store) Put(userID string, ref media.Ref) (prev Session, replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, replaced = s.sessions[userID]
	s.sessions[userID] = Session{
		UserID:    userID,
		Media:     ref,
		CreatedAt: s.now(),
	}
	return prev, replaced
}

// Restore puts sess back unless a newer session for the same user has
// arrived in the meantime. It reports whether sess was restored.
func (s *Store) Restore(sess Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.UserID]; ok {
		return false
	}
	s.sessions[sess.UserID] = sess
	return true
}

// SetMode records the chosen mode on userID's session.
func (s *Store) SetMode(userID string, mode Mode) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return Session{}, ErrNotFound
	}
	sess.Mode = mode
	s.sessions[userID] = sess
	return sess, nil
}

// Take removes and returns userID's session.
func (s *Store) Take(userID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return Session{}, ErrNotFound
	}
	delete(s.sessions, userID)
	return sess, nil
}

// Claim sets the mode and removes the session in one step, handing
// ownership to the caller.
func (s *Store) Claim(userID string, mode Mode) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return Session{}, ErrNotFound
	}
	delete(s.sessions, userID)
	sess.Mode = mode
	return sess, nil
}

// Get returns userID's session without removing it.
func (s *Store) Get(userID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Len returns the number of pending sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Expire removes and returns every session created more than ttl ago.
func (s *Store) Expire(ttl time.Duration) []Session {
	cutoff := s.now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []Session
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	return expired
}
