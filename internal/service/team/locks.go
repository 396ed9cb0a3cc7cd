package team

import "sync"

// teamLocks hands out one mutex per team and forgets it once nobody holds it.
type teamLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newTeamLocks() *teamLocks {
	return &teamLocks{entries: make(map[string]*lockEntry)}
}

// lock blocks until teamID is free and returns the matching unlock.
func (l *teamLocks) lock(teamID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[teamID]
	if !ok {
		entry = &lockEntry{}
		l.entries[teamID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, teamID)
		}
		l.mu.Unlock()
	}
}

func (l *teamLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
