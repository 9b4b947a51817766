package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Message roles accepted in a transcript.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Key identifies one named session of one user in one guild.
type Key struct {
	GuildID string
	UserID  string
	Name    string
}

// NewKey builds a key from its three parts.
func NewKey(guildID, userID, name string) Key {
	return Key{GuildID: guildID, UserID: userID, Name: name}
}

// Validate reports whether every part of the key is usable as a primary key component.
func (k Key) Validate() error {
	if strings.TrimSpace(k.GuildID) == "" {
		return fmt.Errorf("%w: guild id cannot be empty", ErrInvalidKey)
	}
	if strings.TrimSpace(k.UserID) == "" {
		return fmt.Errorf("%w: user id cannot be empty", ErrInvalidKey)
	}
	if strings.TrimSpace(k.Name) == "" {
		return fmt.Errorf("%w: session name cannot be empty", ErrInvalidKey)
	}
	for _, part := range []string{k.GuildID, k.UserID, k.Name} {
		if strings.IndexFunc(part, unicode.IsControl) >= 0 {
			return fmt.Errorf("%w: key cannot contain control characters", ErrInvalidKey)
		}
	}
	return nil
}

func (k Key) String() string {
	return k.GuildID + "/" + k.UserID + "/" + k.Name
}

// id is the cache and key lock identity. Control characters are rejected by Validate,
// so the unit separator cannot collide with key content.
func (k Key) id() string {
	return k.GuildID + "\x1f" + k.UserID + "\x1f" + k.Name
}

// partition identifies a user within a guild. Partition ids live in their own lock table;
// they can equal a key id.
func (k Key) partition() string {
	return k.GuildID + "\x1f" + k.UserID
}

// Message is one role-tagged turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Validate reports whether the message has a known role and content.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	case "":
		return fmt.Errorf("missing role")
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	if m.Content == "" {
		return fmt.Errorf("missing content")
	}
	return nil
}

// Transcript is an ordered conversation.
type Transcript []Message

// Validate returns ErrMalformedTranscript wrapping the first bad message, or nil.
func (t Transcript) Validate() error {
	for i, m := range t {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%w: message %d: %v", ErrMalformedTranscript, i, err)
		}
	}
	return nil
}

// WellFormed reports whether every message carries a role and content.
// An empty transcript is well-formed but is still pruned by Sync.
func (t Transcript) WellFormed() bool {
	return t.Validate() == nil
}

// Clone returns a copy that shares no backing array with t. A nil transcript clones to an empty one.
func (t Transcript) Clone() Transcript {
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

func (t Transcript) Equal(other Transcript) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}

// Append returns a copy of t with msgs added at the end.
func (t Transcript) Append(msgs ...Message) Transcript {
	out := make(Transcript, 0, len(t)+len(msgs))
	out = append(out, t...)
	return append(out, msgs...)
}

// Export is a nested snapshot: guild id -> user id -> session name -> transcript.
type Export map[string]map[string]map[string]Transcript

// Add places t under k, creating the nested maps as needed.
func (e Export) Add(k Key, t Transcript) {
	users, ok := e[k.GuildID]
	if !ok {
		users = make(map[string]map[string]Transcript)
		e[k.GuildID] = users
	}
	sessions, ok := users[k.UserID]
	if !ok {
		sessions = make(map[string]Transcript)
		users[k.UserID] = sessions
	}
	sessions[k.Name] = t
}

// Count returns the number of sessions in the snapshot.
func (e Export) Count() int {
	n := 0
	for _, users := range e {
		for _, sessions := range users {
			n += len(sessions)
		}
	}
	return n
}

// ParseTranscript decodes and validates a JSON transcript, as written by the store or an export.
func ParseTranscript(data []byte) (Transcript, error) {
	if err := validateTranscriptJSON(data); err != nil {
		return nil, err
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	if t == nil {
		t = Transcript{}
	}
	return t, nil
}
