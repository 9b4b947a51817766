package session

import "sync"

type refLock struct {
	mu   sync.Mutex
	refs int
}

// lockTable hands out one mutex per id. An entry lives only while some goroutine holds or waits
// for it, so the table stays as small as the number of keys in flight.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*refLock)}
}

// lock blocks until id is held and returns the function that releases it.
func (lt *lockTable) lock(id string) func() {
	lt.mu.Lock()
	l, ok := lt.locks[id]
	if !ok {
		l = &refLock{}
		lt.locks[id] = l
	}
	l.refs++
	lt.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		lt.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(lt.locks, id)
		}
		lt.mu.Unlock()
	}
}

func (lt *lockTable) size() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.locks)
}
