package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/oni/internal/observability"
	"github.com/harun/oni/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "oni.session"

	// DefaultMaxSessions is the per-user session cap used when none is configured.
	DefaultMaxSessions = 5
)

// Config configures a Manager opened with Open.
type Config struct {
	DBPath      string
	MaxSessions int
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	Persisted int
	Pruned    int
	Failed    int
}

func (r SyncResult) String() string {
	return fmt.Sprintf("persisted=%d pruned=%d failed=%d", r.Persisted, r.Pruned, r.Failed)
}

// Stats is a point-in-time view of the manager's in-memory state.
type Stats struct {
	CachedSessions int
	LockedKeys     int
	MaxSessions    int
}

// Manager is the only entry point to sessions. It owns the cache and the store handle;
// every collaborator in a process shares one Manager.
type Manager struct {
	store       *Store
	cache       *Cache
	locks       *lockTable
	partitions  *lockTable
	maxSessions atomic.Int64

	leaseMu sync.Mutex
	leases  map[string]*Lease

	closeOnce sync.Once
	closeErr  error
}

// Open opens the store at cfg.DBPath and returns a manager with an empty cache.
func Open(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	store, err := OpenStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return NewManager(store, cfg.MaxSessions), nil
}

// NewManager wraps an open store. A non-positive maxSessions selects DefaultMaxSessions.
func NewManager(store *Store, maxSessions int) *Manager {
	m := &Manager{
		store: store,
		cache:      NewCache(),
		locks:      newLockTable(),
		partitions: newLockTable(),
		leases:     make(map[string]*Lease),
	}
	m.SetMaxSessions(maxSessions)
	return m
}

// SetMaxSessions changes the per-user cap for future creates.
func (m *Manager) SetMaxSessions(n int) {
	if n <= 0 {
		n = DefaultMaxSessions
	}
	m.maxSessions.Store(int64(n))
}

func (m *Manager) MaxSessions() int {
	return int(m.maxSessions.Load())
}

func (m *Manager) startSpan(ctx context.Context, name string, key Key) (context.Context, trace.Span, zerolog.Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithPartition(ctx, key.GuildID, key.UserID)
	if key.Name != "" {
		ctx = tracing.WithSessionKey(ctx, key.String())
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, name,
		attribute.String("guild_id", key.GuildID),
		attribute.String("user_id", key.UserID),
		attribute.String("session", key.Name),
	)
	return ctx, span, tracing.LoggerFromContext(ctx, log.Logger)
}

func (m *Manager) updateCachedMetric() {
	observability.SetCachedSessions(m.cache.Len())
}

// GetCurrent returns the transcript for key: the cached copy, else the stored one (which is then
// cached), else an empty transcript. It never fails; an invalid key or a failed store read
// reads as empty and nothing is cached.
func (m *Manager) GetCurrent(ctx context.Context, key Key) Transcript {
	t, err := m.read(ctx, "session.get", key)
	if err != nil {
		return Transcript{}
	}
	return t
}

// Load is GetCurrent for callers that write back what they read. An invalid key returns
// ErrInvalidKey and a failed store read returns ErrStoreUnavailable, so neither can pass for
// an empty session.
func (m *Manager) Load(ctx context.Context, key Key) (Transcript, error) {
	return m.read(ctx, "session.load", key)
}

func (m *Manager) read(ctx context.Context, spanName string, key Key) (Transcript, error) {
	ctx, span, logger := m.startSpan(ctx, spanName, key)
	defer span.End()

	if err := key.Validate(); err != nil {
		logger.Debug().Err(err).Msg("Invalid key read as empty session")
		return nil, err
	}

	unlock := m.locks.lock(key.id())
	defer unlock()

	if t, ok := m.cache.Get(key); ok {
		observability.RecordCacheLookup(true)
		span.SetAttributes(attribute.Bool("cache_hit", true), attribute.Int("messages", len(t)))
		return t, nil
	}
	observability.RecordCacheLookup(false)
	span.SetAttributes(attribute.Bool("cache_hit", false))

	t, ok, err := m.store.load(ctx, key)
	if err != nil {
		err = fmt.Errorf("%w: failed to load %s: %v", ErrStoreUnavailable, key, err)
		tracing.FailSpan(span, err)
		return nil, err
	}
	if !ok {
		return Transcript{}, nil
	}
	m.cache.Put(key, t)
	m.updateCachedMetric()
	span.SetAttributes(attribute.Int("messages", len(t)))
	logger.Debug().Int("messages", len(t)).Msg("Session loaded from store")
	return t, nil
}

// Create registers an empty session for key. The name must be free in both tiers and the user
// must hold fewer than MaxSessions sessions.
func (m *Manager) Create(ctx context.Context, key Key) error {
	ctx, span, logger := m.startSpan(ctx, "session.create", key)
	defer span.End()

	if err := key.Validate(); err != nil {
		tracing.FailSpan(span, err)
		observability.RecordCreateRejected("invalid_key")
		return err
	}

	// Partition first, then key: concurrent creates for one user must not both pass the cap.
	unlockPartition := m.partitions.lock(key.partition())
	defer unlockPartition()
	unlock := m.locks.lock(key.id())
	defer unlock()

	if _, ok := m.cache.Get(key); ok {
		observability.RecordCreateRejected("exists")
		return fmt.Errorf("%w: %s", ErrSessionExists, key.Name)
	}
	_, stored, err := m.store.load(ctx, key)
	if err != nil {
		err = fmt.Errorf("%w: failed to check %s: %v", ErrStoreUnavailable, key, err)
		tracing.FailSpan(span, err)
		return err
	}
	if stored {
		observability.RecordCreateRejected("exists")
		return fmt.Errorf("%w: %s", ErrSessionExists, key.Name)
	}

	count, err := m.partitionCount(ctx, key.GuildID, key.UserID)
	if err != nil {
		tracing.FailSpan(span, err)
		return err
	}
	limit := m.MaxSessions()
	if count >= limit {
		observability.RecordCreateRejected("limit")
		observability.RecordSessionAudit(ctx, "session.create", key.GuildID+"/"+key.UserID, "rejected",
			map[string]interface{}{"session": key.Name, "limit": limit})
		logger.Info().Int("count", count).Int("limit", limit).Msg("Session limit reached")
		return fmt.Errorf("%w: %d of %d", ErrLimitReached, count, limit)
	}

	m.cache.Put(key, Transcript{})
	m.updateCachedMetric()

	observability.RecordSessionAudit(ctx, "session.create", key.GuildID+"/"+key.UserID, "success",
		map[string]interface{}{"session": key.Name})
	logger.Info().Msg("Session created")
	return nil
}

// partitionCount counts distinct session names for a user across the store and the cache.
func (m *Manager) partitionCount(ctx context.Context, guildID, userID string) (int, error) {
	names := make(map[string]struct{})
	stored, err := m.store.listNames(ctx, guildID, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count sessions: %v", ErrStoreUnavailable, err)
	}
	for _, n := range stored {
		names[n] = struct{}{}
	}
	for _, n := range m.cache.Names(guildID, userID) {
		names[n] = struct{}{}
	}
	return len(names), nil
}

// Update replaces the transcript for key in the cache and the store. A malformed transcript is
// rejected with ErrMalformedTranscript and changes nothing. A key held by a Lease is rejected
// with ErrSessionBusy. If the store write fails the cache still holds the new transcript and
// ErrStoreUnavailable is returned.
func (m *Manager) Update(ctx context.Context, key Key, t Transcript) error {
	return m.update(ctx, key, t, nil)
}

func (m *Manager) update(ctx context.Context, key Key, t Transcript, holder *Lease) error {
	ctx, span, logger := m.startSpan(ctx, "session.update", key)
	defer span.End()
	span.SetAttributes(attribute.Int("messages", len(t)))

	if err := key.Validate(); err != nil {
		tracing.FailSpan(span, err)
		observability.RecordRejectedWrite("invalid_key")
		return err
	}
	if err := t.Validate(); err != nil {
		tracing.FailSpan(span, err)
		observability.RecordRejectedWrite("malformed")
		logger.Warn().Err(err).Msg("Rejected malformed transcript")
		return err
	}

	unlock := m.locks.lock(key.id())
	defer unlock()

	if err := m.checkLease(key, holder); err != nil {
		tracing.FailSpan(span, err)
		observability.RecordRejectedWrite("busy")
		return err
	}

	m.cache.Put(key, t)
	m.updateCachedMetric()

	if !m.store.Put(ctx, key, t) {
		err := fmt.Errorf("%w: failed to save %s", ErrStoreUnavailable, key)
		tracing.FailSpan(span, err)
		return err
	}
	logger.Debug().Int("messages", len(t)).Msg("Session updated")
	return nil
}

// Clear empties the transcript for key in both tiers. The empty cache entry is pruned by the
// next sync; the store keeps an empty row until Delete. Like Update it fails with
// ErrSessionBusy while the key is leased.
func (m *Manager) Clear(ctx context.Context, key Key) error {
	return m.Update(ctx, key, Transcript{})
}

// Delete removes key from the cache and the store. Deleting an absent session succeeds.
// A leased key is rejected with ErrSessionBusy.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	ctx, span, logger := m.startSpan(ctx, "session.delete", key)
	defer span.End()

	if err := key.Validate(); err != nil {
		tracing.FailSpan(span, err)
		return err
	}

	unlock := m.locks.lock(key.id())
	defer unlock()

	if err := m.checkLease(key, nil); err != nil {
		tracing.FailSpan(span, err)
		return err
	}

	m.cache.Remove(key)
	m.updateCachedMetric()

	if !m.store.Delete(ctx, key) {
		err := fmt.Errorf("%w: failed to delete %s", ErrStoreUnavailable, key)
		tracing.FailSpan(span, err)
		observability.RecordSessionAudit(ctx, "session.delete", key.GuildID+"/"+key.UserID, "failure",
			map[string]interface{}{"session": key.Name})
		return err
	}

	observability.RecordSessionAudit(ctx, "session.delete", key.GuildID+"/"+key.UserID, "success",
		map[string]interface{}{"session": key.Name})
	logger.Info().Msg("Session deleted")
	return nil
}

// List returns the saved session names for a user in ascending order.
func (m *Manager) List(ctx context.Context, guildID, userID string) []string {
	ctx, span, _ := m.startSpan(ctx, "session.list", Key{GuildID: guildID, UserID: userID})
	defer span.End()

	names := m.store.ListSessionNames(ctx, guildID, userID)
	span.SetAttributes(attribute.Int("count", len(names)))
	return names
}

// Exists reports whether key is present in the cache or the store.
func (m *Manager) Exists(ctx context.Context, key Key) bool {
	if key.Validate() != nil {
		return false
	}
	unlock := m.locks.lock(key.id())
	defer unlock()

	if _, ok := m.cache.Get(key); ok {
		return true
	}
	_, ok := m.store.Get(ctx, key)
	return ok
}

// Sync walks a snapshot of the cache. Well-formed non-empty entries are written to the store;
// empty or malformed entries are dropped from the cache only. A failure on one entry is counted
// and the pass continues.
func (m *Manager) Sync(ctx context.Context) SyncResult {
	res, _ := m.syncPass(ctx, "manual")
	return res
}

func (m *Manager) syncPass(ctx context.Context, trigger string) (SyncResult, map[string]struct{}) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.sync", attribute.String("trigger", trigger))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()

	var res SyncResult
	failed := make(map[string]struct{})

	for _, entry := range m.cache.Entries() {
		if err := ctx.Err(); err != nil {
			logger.Warn().Err(err).Msg("Sync interrupted")
			break
		}

		key := entry.Key
		unlock := m.locks.lock(key.id())
		// Re-read under the key lock; the snapshot value may be stale.
		t, ok := m.cache.Get(key)
		switch {
		case !ok:
		case prunable(t):
			m.cache.Remove(key)
			res.Pruned++
			logger.Debug().Str("key", key.String()).Int("messages", len(t)).Msg("Pruned session from cache")
		case m.store.Put(ctx, key, t):
			res.Persisted++
		default:
			res.Failed++
			failed[key.id()] = struct{}{}
			logger.Error().Str("key", key.String()).Msg("Failed to persist session during sync")
		}
		unlock()
	}

	m.updateCachedMetric()
	observability.RecordSync(trigger, time.Since(start), res.Pruned, res.Failed)
	span.SetAttributes(
		attribute.Int("persisted", res.Persisted),
		attribute.Int("pruned", res.Pruned),
		attribute.Int("failed", res.Failed),
	)

	event := logger.Info()
	if res.Failed > 0 {
		event = logger.Warn()
	}
	event.Int("persisted", res.Persisted).
		Int("pruned", res.Pruned).
		Int("failed", res.Failed).
		Dur("duration", time.Since(start)).
		Str("trigger", trigger).
		Msg("Session sync completed")

	return res, failed
}

// FlushAll runs a sync pass and then checks that every remaining cache entry matches its store
// row, rewriting any that do not. Entries still inconsistent afterwards are counted as failed.
func (m *Manager) FlushAll(ctx context.Context) SyncResult {
	if ctx == nil {
		ctx = context.Background()
	}
	res, failed := m.syncPass(ctx, "flush")
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	for _, entry := range m.cache.Entries() {
		key := entry.Key
		if _, already := failed[key.id()]; already {
			continue
		}

		unlock := m.locks.lock(key.id())
		t, ok := m.cache.Get(key)
		if ok && !prunable(t) {
			stored, found := m.store.Get(ctx, key)
			if !found || !stored.Equal(t) {
				if !m.store.Put(ctx, key, t) {
					res.Failed++
					logger.Error().Str("key", key.String()).Msg("Session not consistent with store after flush")
				}
			}
		}
		unlock()
	}

	return res
}

// ExportUser returns a saved session by user id and name from any guild.
func (m *Manager) ExportUser(ctx context.Context, userID, name string) (Transcript, bool) {
	ctx, span, _ := m.startSpan(ctx, "session.export_user", Key{UserID: userID, Name: name})
	defer span.End()

	t, ok := m.store.ExportUser(ctx, userID, name)
	if ok {
		observability.RecordExportAudit(ctx, "export.session", userID, map[string]interface{}{"session": name})
	}
	return t, ok
}

// ExportAll returns every saved session. A store failure yields whatever was read before it.
func (m *Manager) ExportAll(ctx context.Context) Export {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.export_all")
	defer span.End()

	out, err := m.store.ExportAll(ctx)
	if err != nil {
		tracing.FailSpan(span, err)
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Error().Err(err).Msg("Export of all sessions failed")
	}
	observability.RecordExportAudit(ctx, "export.all", "", map[string]interface{}{"sessions": out.Count()})
	return out
}

// Import writes every session of e through Update. Existing sessions with the same key are
// replaced. It returns how many were written and how many failed.
func (m *Manager) Import(ctx context.Context, e Export) (imported, failed int) {
	for guildID, users := range e {
		for userID, sessions := range users {
			for name, t := range sessions {
				if err := m.Update(ctx, NewKey(guildID, userID, name), t); err != nil {
					failed++
					log.Warn().Err(err).Str("guild_id", guildID).Str("user_id", userID).Str("session", name).Msg("Failed to import session")
					continue
				}
				imported++
			}
		}
	}
	observability.RecordSessionAudit(ctx, "session.import", "", "success",
		map[string]interface{}{"imported": imported, "failed": failed})
	return imported, failed
}

func (m *Manager) Stats() Stats {
	return Stats{
		CachedSessions: m.cache.Len(),
		LockedKeys:     m.locks.size() + m.partitions.size(),
		MaxSessions:    m.MaxSessions(),
	}
}

// Close flushes the cache and closes the store. Later calls return the first result.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		res := m.FlushAll(ctx)
		var flushErr error
		if res.Failed > 0 {
			flushErr = fmt.Errorf("%w: flush completed with %d failures", ErrStoreUnavailable, res.Failed)
		}
		m.closeErr = errors.Join(flushErr, m.store.Close())
		log.Info().Str("result", res.String()).Msg("Session manager closed")
	})
	return m.closeErr
}
