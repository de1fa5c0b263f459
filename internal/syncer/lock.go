package syncer

import "sync"

// playerLocks serializes runs per xuid. Entries are dropped once no run
// holds or waits on them.
type playerLocks struct {
	mu   sync.Mutex
	held map[string]*playerLock
}

type playerLock struct {
	mu   sync.Mutex
	refs int
}

func newPlayerLocks() *playerLocks {
	return &playerLocks{held: make(map[string]*playerLock)}
}

func (l *playerLocks) lock(xuid string) (unlock func()) {
	l.mu.Lock()
	pl, ok := l.held[xuid]
	if !ok {
		pl = &playerLock{}
		l.held[xuid] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.held, xuid)
		}
		l.mu.Unlock()
	}
}
