package engine

import (
	"sync"

	"github.com/google/uuid"
)

// orgLocks serializes tag-forest mutations per organization within one
// process. Reparent and delete touch multiple tags, so the lock is
// org-wide rather than per-tag: acyclicity and sibling-uniqueness checks
// are only sound when no other mutation can commit between validation
// and write. Across replicas the same guarantee comes from the per-org
// database advisory lock each mutation transaction takes.
type orgLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newOrgLocks() *orgLocks {
	return &orgLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// Lock acquires the mutation lock for orgID, creating it on first use.
// The returned function releases it.
func (l *orgLocks) Lock(orgID uuid.UUID) func() {
	l.mu.Lock()
	m, ok := l.locks[orgID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[orgID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
