package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/oni/pkg/session"
)

// DefaultSessionName is the session a user talks to until they switch.
const DefaultSessionName = "default"

// Selector remembers which session each (guild, user) is talking to. Selections live in memory
// only; after a restart every user is back on the default session.
type Selector struct {
	sessions    *session.Manager
	defaultName string

	mu      sync.RWMutex
	current map[partition]string
}

type partition struct {
	guildID string
	userID  string
}

// NewSelector creates a selector. An empty defaultName selects DefaultSessionName.
func NewSelector(sessions *session.Manager, defaultName string) *Selector {
	if defaultName == "" {
		defaultName = DefaultSessionName
	}
	return &Selector{
		sessions:    sessions,
		defaultName: defaultName,
		current:     make(map[partition]string),
	}
}

// Current returns the key of the user's active session.
func (s *Selector) Current(guildID, userID string) session.Key {
	s.mu.RLock()
	name, ok := s.current[partition{guildID, userID}]
	s.mu.RUnlock()
	if !ok {
		name = s.defaultName
	}
	return session.NewKey(guildID, userID, name)
}

// Switch makes an existing session the active one.
func (s *Selector) Switch(ctx context.Context, guildID, userID, name string) error {
	key := session.NewKey(guildID, userID, name)
	if err := key.Validate(); err != nil {
		return err
	}
	if name != s.defaultName && !s.sessions.Exists(ctx, key) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	s.set(guildID, userID, name)
	return nil
}

// Reset puts the user back on the default session.
func (s *Selector) Reset(guildID, userID string) {
	s.mu.Lock()
	delete(s.current, partition{guildID, userID})
	s.mu.Unlock()
}

func (s *Selector) set(guildID, userID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == s.defaultName {
		delete(s.current, partition{guildID, userID})
		return
	}
	s.current[partition{guildID, userID}] = name
}
