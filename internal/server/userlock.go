package server

import "sync"

// userLocks serializes presence transitions per user id while letting
// different users proceed concurrently. Entries are reference counted and
// dropped once no goroutine holds or waits for them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// lock blocks until userId's lock is held and returns its release func.
func (l *userLocks) lock(userId string) func() {
	l.mu.Lock()
	ul, ok := l.locks[userId]
	if !ok {
		ul = &userLock{}
		l.locks[userId] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ul.mu.Unlock()

			l.mu.Lock()
			ul.refs--
			if ul.refs == 0 {
				delete(l.locks, userId)
			}
			l.mu.Unlock()
		})
	}
}

func (l *userLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
