package ws

import (
	"errors"
	"sync"
	"time"

	"carechat-service/internal/models"
)

const (
	writeWait      = 10 * time.Second
	snapshotBuffer = 16
)

// socket is the subset of *websocket.Conn the snapshot pump writes through.
type socket interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// snapshotPump coordinates outbound snapshot writes through a buffered
// channel so session notify callbacks never touch the network. Push returns
// immediately; a peer too slow to drain the buffer is disconnected instead of
// applying backpressure to message delivery.
type snapshotPump struct {
	conn    socket
	send    chan models.SessionSnapshot
	done    chan struct{}
	once    sync.Once
	onError func(error)
}

func newSnapshotPump(conn socket, onError func(error)) *snapshotPump {
	return &snapshotPump{
		conn:    conn,
		send:    make(chan models.SessionSnapshot, snapshotBuffer),
		done:    make(chan struct{}),
		onError: onError,
	}
}

// Start launches the write loop. It must be called exactly once per pump.
func (p *snapshotPump) Start() {
	go p.writeLoop()
}

// Push enqueues a snapshot for delivery without blocking. Older undelivered
// snapshots are superseded by design, so a full buffer means the peer is
// stalled and the connection is dropped.
func (p *snapshotPump) Push(snap models.SessionSnapshot) {
	select {
	case <-p.done:
	case p.send <- snap:
	default:
		p.fail(errors.New("snapshot buffer full"))
	}
}

// Stop terminates the write loop and closes the socket. Safe to call more
// than once.
func (p *snapshotPump) Stop() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

func (p *snapshotPump) fail(err error) {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
		if p.onError != nil {
			p.onError(err)
		}
	})
}

func (p *snapshotPump) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case snap := <-p.send:
			if err := p.write(snap); err != nil {
				p.fail(err)
				return
			}
		}
	}
}

func (p *snapshotPump) write(snap models.SessionSnapshot) error {
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return p.conn.WriteJSON(models.SessionEvent{Type: "snapshot", Snapshot: &snap})
}
