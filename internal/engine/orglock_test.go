package engine

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestOrgLocksSerializeSameOrg(t *testing.T) {
	t.Parallel()

	locks := newOrgLocks()
	orgID := uuid.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(orgID)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}

func TestOrgLocksIndependentOrgs(t *testing.T) {
	t.Parallel()

	locks := newOrgLocks()
	orgA := uuid.New()
	orgB := uuid.New()

	unlockA := locks.Lock(orgA)
	defer unlockA()

	// Holding org A's lock must not block org B.
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock(orgB)
		unlockB()
		close(done)
	}()
	<-done
}

func TestOrgLocksReuseMutex(t *testing.T) {
	t.Parallel()

	locks := newOrgLocks()
	orgID := uuid.New()

	unlock := locks.Lock(orgID)
	unlock()
	unlock = locks.Lock(orgID)
	unlock()

	if len(locks.locks) != 1 {
		t.Fatalf("expected one mutex for the org, got %d", len(locks.locks))
	}
}
