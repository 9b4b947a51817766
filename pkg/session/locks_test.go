package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockTable_SameIDSerializes(t *testing.T) {
	lt := newLockTable()
	unlock := lt.lock("a")

	acquired := make(chan struct{})
	go func() {
		release := lt.lock("a")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
}

func TestLockTable_DifferentIDsIndependent(t *testing.T) {
	lt := newLockTable()
	unlockA := lt.lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		release := lt.lock("b")
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestLockTable_EntriesReleased(t *testing.T) {
	lt := newLockTable()
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := lt.lock("shared")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, lt.size())
}
