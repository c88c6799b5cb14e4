package messaging

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/logging"
)

// safeSendTimeout bounds how long a detached send waits for its reply
const safeSendTimeout = 5 * time.Second

// Envelope is a delivered message plus its routing metadata
type Envelope struct {
	ID      string
	From    string
	Message domain.Message
}

// Handler processes one message kind on the receiving endpoint's event loop.
// The returned value is the sender's response.
type Handler func(ctx context.Context, env Envelope) (any, error)

// ResponseCallback receives the best-effort response of a SafeSend
type ResponseCallback func(response any, err error)

// Endpoint is one execution context: an inbox drained by a single goroutine
type Endpoint struct {
	name string
	bus  *Bus

	inbox chan func()

	// connect/disconnect events: unbounded and delivered in order
	lifeMu     sync.Mutex
	lifeQueue  []func()
	lifeSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	handlers  map[domain.MessageKind]Handler
	onConnect []func(*Port)
	ports     map[string]*Port

	valid     atomic.Bool
	closeOnce sync.Once

	log *logrus.Entry
}

func newEndpoint(bus *Bus, name string, inboxSize int) *Endpoint {
	ctx, cancel := context.WithCancel(context.Background())
	ep := &Endpoint{
		name:       name,
		bus:        bus,
		inbox:      make(chan func(), inboxSize),
		lifeSignal: make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		handlers:   make(map[domain.MessageKind]Handler),
		ports:      make(map[string]*Port),
		log:        logging.NewLogger("messaging").WithField("endpoint", name),
	}
	ep.valid.Store(true)
	return ep
}

// Name returns the endpoint's routing name
func (e *Endpoint) Name() string {
	return e.name
}

// Valid reports whether the context can still use the messaging facility
func (e *Endpoint) Valid() bool {
	return e.valid.Load()
}

// Handle registers the handler for a message kind, replacing any previous one
func (e *Endpoint) Handle(kind domain.MessageKind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

// OnConnect registers a listener for incoming named connections
func (e *Endpoint) OnConnect(fn func(*Port)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConnect = append(e.onConnect, fn)
}

// Send delivers msg to the endpoint named to and waits for its response
func (e *Endpoint) Send(ctx context.Context, to string, msg domain.Message) (any, error) {
	if !e.Valid() {
		return nil, domain.ErrContextInvalidated
	}
	dest, ok := e.bus.Lookup(to)
	if !ok || !dest.Valid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoReceiver, to)
	}

	env := Envelope{ID: uuid.NewString(), From: e.name, Message: msg}
	type reply struct {
		value any
		err   error
	}
	replies := make(chan reply, 1)

	err := dest.post(func() {
		value, err := dest.dispatch(env)
		replies <- reply{value, err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-replies:
		return r.value, r.err
	case <-dest.done:
		return nil, fmt.Errorf("%w: %s stopped", domain.ErrNoReceiver, to)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SafeSend is fire-and-forget: it never blocks and never reports an error to
// the caller. Failures are logged. The optional callback runs on this
// endpoint's event loop, best-effort.
func (e *Endpoint) SafeSend(to string, msg domain.Message, callback ResponseCallback) {
	if !e.Valid() {
		e.log.WithField("action", msg.Kind()).Warn("Extension context invalidated, message dropped")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, safeSendTimeout)
		defer cancel()

		value, err := e.Send(ctx, to, msg)
		if err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"to":     to,
				"action": msg.Kind(),
			}).Warn("Message delivery failed")
		}
		if callback == nil {
			return
		}
		if postErr := e.post(func() { callback(value, err) }); postErr != nil {
			e.log.WithError(postErr).Debug("Response callback dropped")
		}
	}()
}

// Connect opens a named long-lived connection to another endpoint. The
// receiver's OnConnect listeners get the peer port on its event loop.
func (e *Endpoint) Connect(to, name string) (*Port, error) {
	if !e.Valid() {
		return nil, domain.ErrContextInvalidated
	}
	dest, ok := e.bus.Lookup(to)
	if !ok || !dest.Valid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoReceiver, to)
	}

	dest.mu.RLock()
	listeners := append([]func(*Port){}, dest.onConnect...)
	dest.mu.RUnlock()
	if len(listeners) == 0 {
		return nil, fmt.Errorf("%w: %s accepts no connections", domain.ErrNoReceiver, to)
	}

	local, remote := newPortPair(name, e, dest)
	e.track(local)
	dest.track(remote)

	dest.postLifecycle(func() {
		for _, fn := range listeners {
			dest.safeCall("connect listener", func() { fn(remote) })
		}
	})

	e.log.WithFields(logrus.Fields{"to": to, "port": name, "id": local.ID}).Debug("Port connected")
	return local, nil
}

// Invalidate models an extension reload underneath a live context: the
// endpoint can no longer send or be reached and its ports are torn down.
// The event loop keeps running so already-queued work finishes.
func (e *Endpoint) Invalidate() {
	if !e.valid.Swap(false) {
		return
	}
	e.bus.unregister(e)

	e.mu.Lock()
	ports := make([]*Port, 0, len(e.ports))
	for _, p := range e.ports {
		ports = append(ports, p)
	}
	e.mu.Unlock()

	for _, p := range ports {
		p.Disconnect()
	}
	e.log.Info("Context invalidated")
}

// Close invalidates the endpoint and stops its event loop
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		e.Invalidate()
		e.cancel()
		<-e.done
	})
}

// Done is closed once the event loop has exited
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Context is cancelled when the endpoint closes
func (e *Endpoint) Context() context.Context {
	return e.ctx
}

// Post schedules fn on the event loop. It fails when the inbox is full or
// the loop has stopped.
func (e *Endpoint) Post(fn func()) error {
	return e.post(fn)
}

func (e *Endpoint) run() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.lifeSignal:
			e.drainLifecycle()
		case task := <-e.inbox:
			e.safeCall("task", task)
		}
	}
}

func (e *Endpoint) post(task func()) error {
	select {
	case <-e.ctx.Done():
		return fmt.Errorf("%w: %s stopped", domain.ErrNoReceiver, e.name)
	default:
	}
	select {
	case e.inbox <- task:
		return nil
	case <-e.ctx.Done():
		return fmt.Errorf("%w: %s stopped", domain.ErrNoReceiver, e.name)
	default:
		return fmt.Errorf("%w: %s", domain.ErrInboxFull, e.name)
	}
}

// postLifecycle never drops: connect and disconnect events are the only
// close signal a context gets.
func (e *Endpoint) postLifecycle(task func()) {
	e.lifeMu.Lock()
	e.lifeQueue = append(e.lifeQueue, task)
	e.lifeMu.Unlock()

	select {
	case e.lifeSignal <- struct{}{}:
	default:
	}
}

func (e *Endpoint) drainLifecycle() {
	e.lifeMu.Lock()
	tasks := e.lifeQueue
	e.lifeQueue = nil
	e.lifeMu.Unlock()

	for _, task := range tasks {
		e.safeCall("lifecycle", task)
	}
}

func (e *Endpoint) dispatch(env Envelope) (any, error) {
	e.mu.RLock()
	h, ok := e.handlers[env.Message.Kind()]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s at %s", domain.ErrNoHandler, env.Message.Kind(), e.name)
	}

	var (
		value any
		err   error
	)
	e.safeCall(string(env.Message.Kind()), func() {
		value, err = h(e.ctx, env)
	})
	return value, err
}

func (e *Endpoint) track(p *Port) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ports[p.ID] = p
}

func (e *Endpoint) untrack(p *Port) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.ports, p.ID)
}

func (e *Endpoint) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("callback", what).Errorf("Recovered from panic: %v", r)
		}
	}()
	fn()
}
