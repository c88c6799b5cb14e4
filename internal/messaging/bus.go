// Package messaging connects the isolated extension contexts. Each context
// owns an Endpoint with a single event-loop goroutine and a handler table
// keyed by message kind; contexts never share memory.
package messaging

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hesto/backend/internal/logging"
)

// Well-known endpoint names
const (
	BackgroundEndpoint = "background"
	PopupEndpoint      = "popup"
	contentPrefix      = "content/"
)

// DefaultInboxSize bounds each endpoint's pending work
const DefaultInboxSize = 64

// ContentEndpoint returns the endpoint name of the content context in a tab
func ContentEndpoint(tabID string) string {
	return contentPrefix + tabID
}

// TabID extracts the tab from a content endpoint name
func TabID(endpoint string) (string, bool) {
	if !strings.HasPrefix(endpoint, contentPrefix) {
		return "", false
	}
	return strings.TrimPrefix(endpoint, contentPrefix), true
}

// Bus is the routing table shared by every endpoint
type Bus struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	inboxSize int
	log       *logrus.Entry
}

// NewBus creates a bus; inboxSize <= 0 uses DefaultInboxSize
func NewBus(inboxSize int) *Bus {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	return &Bus{
		endpoints: make(map[string]*Endpoint),
		inboxSize: inboxSize,
		log:       logging.NewLogger("messaging"),
	}
}

// Register creates and starts the endpoint for a context. A previous
// endpoint with the same name is orphaned: it keeps running but can no
// longer send or be reached, like a content script left behind by an
// extension reload.
func (b *Bus) Register(name string) *Endpoint {
	ep := newEndpoint(b, name, b.inboxSize)

	b.mu.Lock()
	previous := b.endpoints[name]
	b.endpoints[name] = ep
	b.mu.Unlock()

	if previous != nil {
		b.log.WithField("endpoint", name).Debug("Replacing endpoint, previous context invalidated")
		previous.Invalidate()
	}

	go ep.run()
	return ep
}

// Lookup returns the live endpoint registered under name
func (b *Bus) Lookup(name string) (*Endpoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ep, ok := b.endpoints[name]
	return ep, ok
}

// Names lists registered endpoints
func (b *Bus) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.endpoints))
	for name := range b.endpoints {
		names = append(names, name)
	}
	return names
}

// Close stops every endpoint
func (b *Bus) Close() {
	b.mu.Lock()
	endpoints := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		endpoints = append(endpoints, ep)
	}
	b.mu.Unlock()

	for _, ep := range endpoints {
		ep.Close()
	}
}

// unregister removes ep only if it is still the registered endpoint for its name
func (b *Bus) unregister(ep *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.endpoints[ep.name] == ep {
		delete(b.endpoints, ep.name)
	}
}
