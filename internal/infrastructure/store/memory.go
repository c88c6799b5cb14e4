package store

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/logging"
)

// MemoryStore is a thread-safe in-process key-value store with change
// notifications. Values are kept JSON-encoded, the same shape the host
// persistence hands back.
type MemoryStore struct {
	data  map[domain.StoreKey]json.RawMessage
	mutex sync.RWMutex

	listeners   map[string]domain.ChangeListener
	listenersMu sync.RWMutex

	// pending change sets, drained in order by the dispatcher goroutine
	queue   []domain.ChangeSet
	queueMu sync.Mutex
	queueCV *sync.Cond
	closed  bool
	done    chan struct{}

	log *logrus.Entry
}

// NewMemoryStore creates a store seeded with the idle app state
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		data:      make(map[domain.StoreKey]json.RawMessage),
		listeners: make(map[string]domain.ChangeListener),
		done:      make(chan struct{}),
		log:       logging.NewLogger("store"),
	}
	s.queueCV = sync.NewCond(&s.queueMu)

	idle, _ := json.Marshal(domain.AppStateIdle)
	popup, _ := json.Marshal(domain.PopupData{State: domain.AppStateIdle})
	s.data[domain.KeyAppState] = idle
	s.data[domain.KeyPopupData] = popup

	go s.dispatch()

	return s
}

// Get returns the requested keys; with no keys it returns everything.
// Absent keys are omitted from the result.
func (s *MemoryStore) Get(ctx context.Context, keys ...domain.StoreKey) (map[domain.StoreKey]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make(map[domain.StoreKey]json.RawMessage)
	if len(keys) == 0 {
		for k, v := range s.data {
			result[k] = cloneRaw(v)
		}
		return result, nil
	}
	for _, k := range keys {
		if !domain.IsKnownKey(k) {
			return nil, domain.ErrUnknownKey
		}
		if v, ok := s.data[k]; ok {
			result[k] = cloneRaw(v)
		}
	}
	return result, nil
}

// Set writes every value and queues one change set for listeners.
// Last write wins; there are no transactions across calls.
func (s *MemoryStore) Set(ctx context.Context, origin domain.Origin, values map[domain.StoreKey]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded := make(map[domain.StoreKey]json.RawMessage, len(values))
	for k, v := range values {
		if !domain.IsKnownKey(k) {
			return domain.ErrUnknownKey
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		encoded[k] = raw
	}

	return s.apply(origin, encoded, false)
}

// apply stores already-encoded values. When onlyChanged is set, keys whose
// bytes are unchanged are skipped.
func (s *MemoryStore) apply(origin domain.Origin, values map[domain.StoreKey]json.RawMessage, onlyChanged bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isClosed() {
		return domain.ErrStoreClosed
	}

	changes := make(map[domain.StoreKey]domain.Change, len(values))
	for k, raw := range values {
		old, existed := s.data[k]
		if onlyChanged && existed && bytes.Equal(old, raw) {
			continue
		}
		change := domain.Change{NewValue: cloneRaw(raw)}
		if existed {
			change.OldValue = cloneRaw(old)
		}
		if raw == nil {
			delete(s.data, k)
		} else {
			s.data[k] = raw
		}
		changes[k] = change
	}

	if len(changes) > 0 {
		// Enqueued under the data lock so notifications follow write order
		s.enqueue(domain.ChangeSet{Origin: origin, Changes: changes})
	}
	return nil
}

// Subscribe registers a listener; call the returned func on teardown
func (s *MemoryStore) Subscribe(listener domain.ChangeListener) func() {
	id := uuid.NewString()

	s.listenersMu.Lock()
	s.listeners[id] = listener
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// ListenerCount returns the number of active subscriptions (for leak checks)
func (s *MemoryStore) ListenerCount() int {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	return len(s.listeners)
}

// Size returns the number of stored keys
func (s *MemoryStore) Size() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.data)
}

// Snapshot returns a copy of all stored values
func (s *MemoryStore) Snapshot() map[domain.StoreKey]json.RawMessage {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make(map[domain.StoreKey]json.RawMessage, len(s.data))
	for k, v := range s.data {
		out[k] = cloneRaw(v)
	}
	return out
}

// Close stops the dispatcher. Pending notifications are still delivered.
func (s *MemoryStore) Close() error {
	s.queueMu.Lock()
	if s.closed {
		s.queueMu.Unlock()
		return nil
	}
	s.closed = true
	s.queueCV.Broadcast()
	s.queueMu.Unlock()

	<-s.done
	return nil
}

func (s *MemoryStore) isClosed() bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.closed
}

func (s *MemoryStore) enqueue(cs domain.ChangeSet) {
	s.queueMu.Lock()
	s.queue = append(s.queue, cs)
	s.queueCV.Signal()
	s.queueMu.Unlock()
}

// dispatch delivers change sets one at a time, in the order they were queued
func (s *MemoryStore) dispatch() {
	defer close(s.done)
	for {
		s.queueMu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.queueCV.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.queueMu.Unlock()
			return
		}
		cs := s.queue[0]
		s.queue = s.queue[1:]
		s.queueMu.Unlock()

		s.notify(cs)
	}
}

func (s *MemoryStore) notify(cs domain.ChangeSet) {
	s.listenersMu.RLock()
	listeners := make([]domain.ChangeListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		s.safeCall(l, cs)
	}
}

func (s *MemoryStore) safeCall(l domain.ChangeListener, cs domain.ChangeSet) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Change listener panicked: %v", r)
		}
	}()
	l(cs)
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
