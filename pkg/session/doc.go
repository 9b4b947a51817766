// Package session stores named conversation transcripts per guild and user.
//
// Invariants:
// - A session is identified by (guild id, user id, name) in both the cache and the SQLite store.
// - Update writes through to both tiers; a malformed transcript changes neither.
// - Operations on one key are serialized; different keys never wait on each other.
// - Sync persists well-formed entries and prunes empty or malformed ones from the cache only.
// - Create rejects a new name once the user holds MaxSessions sessions.
// - While a Lease is held on a key, only the lease may write it.
//
// Usage:
//
//	mgr, _ := session.Open(session.Config{DBPath: "/tmp/oni/sessions.db", MaxSessions: 5})
//	key := session.NewKey("1", "42", "default")
//	_ = mgr.Update(ctx, key, session.Transcript{{Role: "user", Content: "hi"}})
//	t := mgr.GetCurrent(ctx, key)
//	_ = t
package session
