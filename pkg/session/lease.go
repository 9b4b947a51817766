package session

import (
	"context"
	"fmt"
	"sync"
)

// Lease reserves one session for a read-modify-write cycle whose middle step runs with no lock
// held, such as a model call. While the lease is held, Update, Clear, Delete and Reserve for the
// same key fail with ErrSessionBusy; only the lease's own Update goes through.
type Lease struct {
	m    *Manager
	key  Key
	once sync.Once
}

// Reserve takes the lease for key. It fails with ErrSessionBusy if the key is already leased.
func (m *Manager) Reserve(key Key) (*Lease, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	m.leaseMu.Lock()
	defer m.leaseMu.Unlock()
	if _, held := m.leases[key.id()]; held {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, key)
	}
	l := &Lease{m: m, key: key}
	m.leases[key.id()] = l
	return l, nil
}

// checkLease rejects a write to a key leased by anyone other than holder.
func (m *Manager) checkLease(key Key, holder *Lease) error {
	m.leaseMu.Lock()
	defer m.leaseMu.Unlock()
	if l, held := m.leases[key.id()]; held && l != holder {
		return fmt.Errorf("%w: %s", ErrSessionBusy, key)
	}
	return nil
}

func (l *Lease) Key() Key {
	return l.key
}

// Load reads the leased session; see Manager.Load.
func (l *Lease) Load(ctx context.Context) (Transcript, error) {
	return l.m.Load(ctx, l.key)
}

// Update writes the leased session. After Release it behaves like Manager.Update.
func (l *Lease) Update(ctx context.Context, t Transcript) error {
	return l.m.update(ctx, l.key, t, l)
}

// Release gives the key back. Calling it more than once is harmless.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.leaseMu.Lock()
		if l.m.leases[l.key.id()] == l {
			delete(l.m.leases, l.key.id())
		}
		l.m.leaseMu.Unlock()
	})
}
