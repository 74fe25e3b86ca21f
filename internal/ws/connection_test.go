package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechat-service/internal/models"
)

// stallSocket blocks every write until released, standing in for a peer with
// a full TCP buffer.
type stallSocket struct {
	entered   chan struct{}
	release   chan struct{}
	closed    chan struct{}
	enterOnce sync.Once
	closeOnce sync.Once
}

func newStallSocket() *stallSocket {
	return &stallSocket{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (s *stallSocket) WriteJSON(v interface{}) error {
	s.enterOnce.Do(func() { close(s.entered) })
	select {
	case <-s.release:
		return nil
	case <-s.closed:
		return errors.New("use of closed connection")
	}
}

func (s *stallSocket) SetWriteDeadline(t time.Time) error { return nil }

func (s *stallSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *stallSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type failSocket struct {
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *failSocket) WriteJSON(v interface{}) error      { return errors.New("broken pipe") }
func (s *failSocket) SetWriteDeadline(t time.Time) error { return nil }
func (s *failSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func TestPushNeverBlocksOnStalledPeer(t *testing.T) {
	sock := newStallSocket()
	var mu sync.Mutex
	var gotErr error
	pump := newSnapshotPump(sock, func(err error) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
	})
	pump.Start()

	// First snapshot is taken by the write loop and stalls on the socket.
	pump.Push(models.SessionSnapshot{ParticipantID: "p"})
	<-sock.entered

	// Every further push must return immediately even though nothing drains.
	done := make(chan struct{})
	go func() {
		for i := 0; i < snapshotBuffer+2; i++ {
			pump.Push(models.SessionSnapshot{ParticipantID: "p"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("push blocked behind a stalled peer")
	}

	// The stalled connection gets kicked rather than backing up delivery.
	require.Eventually(t, sock.isClosed, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Error(t, gotErr)

	close(sock.release)
}

func TestWriteErrorDropsConnection(t *testing.T) {
	sock := &failSocket{closed: make(chan struct{})}
	errc := make(chan error, 1)
	pump := newSnapshotPump(sock, func(err error) { errc <- err })
	pump.Start()

	pump.Push(models.SessionSnapshot{})

	select {
	case err := <-errc:
		assert.EqualError(t, err, "broken pipe")
	case <-time.After(time.Second):
		t.Fatal("write error never surfaced")
	}
	<-sock.closed

	// The pump is dead; further pushes are discarded without blocking.
	pump.Push(models.SessionSnapshot{})
}

func TestStopIsIdempotentAndSilent(t *testing.T) {
	sock := newStallSocket()
	pump := newSnapshotPump(sock, func(err error) {
		t.Errorf("unexpected error callback: %v", err)
	})
	pump.Start()

	pump.Stop()
	pump.Stop()
	assert.True(t, sock.isClosed())
}
