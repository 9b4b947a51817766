package session

import (
	"sort"

	gocache "github.com/patrickmn/go-cache"
)

type cacheItem struct {
	key        Key
	transcript Transcript
}

// Entry is one cached session as seen by a snapshot.
type Entry struct {
	Key        Key
	Transcript Transcript
}

// Cache holds the live copy of recently used sessions. Entries never expire; they leave the
// cache through Remove or when Sync prunes them. Transcripts are copied on the way in and out.
type Cache struct {
	items *gocache.Cache
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{items: gocache.New(gocache.NoExpiration, 0)}
}

func (c *Cache) Get(key Key) (Transcript, bool) {
	v, ok := c.items.Get(key.id())
	if !ok {
		return nil, false
	}
	return v.(cacheItem).transcript.Clone(), true
}

func (c *Cache) Put(key Key, t Transcript) {
	c.items.Set(key.id(), cacheItem{key: key, transcript: t.Clone()}, gocache.NoExpiration)
}

func (c *Cache) Remove(key Key) {
	c.items.Delete(key.id())
}

// Entries returns a copy of every entry taken under the cache lock, ordered by key.
// Callers may mutate the cache while walking the result.
func (c *Cache) Entries() []Entry {
	items := c.items.Items()
	out := make([]Entry, 0, len(items))
	for _, item := range items {
		ci := item.Object.(cacheItem)
		out = append(out, Entry{Key: ci.key, Transcript: ci.transcript.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.id() < out[j].Key.id()
	})
	return out
}

// Names returns the cached session names for one user, in ascending order.
func (c *Cache) Names(guildID, userID string) []string {
	names := []string{}
	for _, item := range c.items.Items() {
		ci := item.Object.(cacheItem)
		if ci.key.GuildID == guildID && ci.key.UserID == userID {
			names = append(names, ci.key.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.items.Flush()
}

// prunable reports whether Sync should drop an entry from the cache instead of persisting it.
func prunable(t Transcript) bool {
	return len(t) == 0 || !t.WellFormed()
}
