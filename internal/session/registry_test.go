package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechat-service/internal/realtime"
)

func newTestRegistry() *Registry {
	return NewRegistry(Config{
		Conversations: newFakeBackend(),
		Messages:      newFakeBackend(),
		Assignments:   newFakeBackend(),
		Feed:          realtime.NewBroker(),
	})
}

func TestRegistryAcquireReturnsSameSession(t *testing.T) {
	reg := newTestRegistry()

	a := reg.Acquire("caregiver-1")
	b := reg.Acquire("caregiver-1")
	assert.Same(t, a, b)

	other := reg.Acquire("caregiver-2")
	assert.NotSame(t, a, other)
}

func TestRegistryLookupDoesNotCreate(t *testing.T) {
	reg := newTestRegistry()

	_, ok := reg.Lookup("nobody")
	assert.False(t, ok)

	sess := reg.Acquire("patient-1")
	got, ok := reg.Lookup("patient-1")
	require.True(t, ok)
	assert.Same(t, sess, got)
}

func TestRegistryReleaseEndsAndRemoves(t *testing.T) {
	reg := newTestRegistry()

	sess := reg.Acquire("caregiver-1")
	reg.Release("caregiver-1")

	_, ok := reg.Lookup("caregiver-1")
	assert.False(t, ok)

	snap := sess.Snapshot()
	assert.Empty(t, snap.ParticipantID)
	assert.Empty(t, string(snap.Role))

	// Releasing an absent participant is a no-op.
	reg.Release("caregiver-1")
}

func TestRegistryConcurrentAcquire(t *testing.T) {
	reg := newTestRegistry()

	const workers = 16
	sessions := make([]*Session, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = reg.Acquire("patient-7")
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
}
