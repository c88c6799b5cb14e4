package messaging

import (
	"sync"

	"github.com/google/uuid"
)

// Port is one side of a named long-lived connection. Disconnecting either
// side notifies the other side's OnDisconnect listeners on its event loop;
// the side that disconnects is not notified.
type Port struct {
	ID   string
	Name string

	owner *Endpoint
	peer  *Port

	// shared by both sides of the pair
	state *portState

	mu           sync.Mutex
	onDisconnect []func(*Port)
}

type portState struct {
	once      sync.Once
	connected bool
	mu        sync.RWMutex
}

func newPortPair(name string, a, b *Endpoint) (*Port, *Port) {
	state := &portState{connected: true}
	id := uuid.NewString()
	left := &Port{ID: id, Name: name, owner: a, state: state}
	right := &Port{ID: id, Name: name, owner: b, state: state}
	left.peer = right
	right.peer = left
	return left, right
}

// Sender is the name of the endpoint on the other side
func (p *Port) Sender() string {
	return p.peer.owner.name
}

// Connected reports whether the connection is still open
func (p *Port) Connected() bool {
	p.state.mu.RLock()
	defer p.state.mu.RUnlock()
	return p.state.connected
}

// OnDisconnect registers a listener for the peer tearing the connection down
func (p *Port) OnDisconnect(fn func(*Port)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDisconnect = append(p.onDisconnect, fn)
}

// Disconnect closes the connection. Safe to call more than once and from
// either side.
func (p *Port) Disconnect() {
	p.state.once.Do(func() {
		p.state.mu.Lock()
		p.state.connected = false
		p.state.mu.Unlock()

		p.owner.untrack(p)
		p.peer.owner.untrack(p.peer)

		peer := p.peer
		peer.owner.postLifecycle(func() {
			// read at delivery time so listeners added by a connect
			// handler queued earlier are included
			peer.mu.Lock()
			listeners := append([]func(*Port){}, peer.onDisconnect...)
			peer.mu.Unlock()

			for _, fn := range listeners {
				peer.owner.safeCall("disconnect listener", func() { fn(peer) })
			}
		})
	})
}
