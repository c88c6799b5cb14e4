package messaging

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hesto/backend/internal/domain"
)

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestContentEndpointNames(t *testing.T) {
	name := ContentEndpoint("42")
	assert.Equal(t, "content/42", name)

	tab, ok := TabID(name)
	assert.True(t, ok)
	assert.Equal(t, "42", tab)

	_, ok = TabID(BackgroundEndpoint)
	assert.False(t, ok)
}

func TestSend(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()
	ctx := context.Background()

	background := bus.Register(BackgroundEndpoint)
	content := bus.Register(ContentEndpoint("1"))

	background.Handle(domain.KindTriggerPopup, func(ctx context.Context, env Envelope) (any, error) {
		return "opened for " + env.From, nil
	})

	t.Run("delivers and returns response", func(t *testing.T) {
		resp, err := content.Send(ctx, BackgroundEndpoint, domain.TriggerPopup{})
		require.NoError(t, err)
		assert.Equal(t, "opened for content/1", resp)
	})

	t.Run("missing handler", func(t *testing.T) {
		_, err := content.Send(ctx, BackgroundEndpoint, domain.ClosePopup{})
		assert.True(t, errors.Is(err, domain.ErrNoHandler), "got %v", err)
	})

	t.Run("missing receiver", func(t *testing.T) {
		_, err := content.Send(ctx, ContentEndpoint("999"), domain.ClosePopup{})
		assert.True(t, errors.Is(err, domain.ErrNoReceiver), "got %v", err)
	})

	t.Run("handler error is returned", func(t *testing.T) {
		background.Handle(domain.KindOpenSpacePopup, func(context.Context, Envelope) (any, error) {
			return nil, errors.New("window API unavailable")
		})
		_, err := content.Send(ctx, BackgroundEndpoint, domain.OpenSpacePopup{})
		assert.EqualError(t, err, "window API unavailable")
	})

	t.Run("handler panic does not kill the loop", func(t *testing.T) {
		background.Handle(domain.KindClosePopup, func(context.Context, Envelope) (any, error) {
			panic("handler bug")
		})
		_, _ = content.Send(ctx, BackgroundEndpoint, domain.ClosePopup{})

		resp, err := content.Send(ctx, BackgroundEndpoint, domain.TriggerPopup{})
		require.NoError(t, err)
		assert.NotNil(t, resp)
	})
}

func TestSend_InboxFull(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	background := bus.Register(BackgroundEndpoint)
	content := bus.Register(ContentEndpoint("1"))

	release := make(chan struct{})
	started := make(chan struct{})
	background.Handle(domain.KindTriggerPopup, func(context.Context, Envelope) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() { _, _ = content.Send(ctx, BackgroundEndpoint, domain.TriggerPopup{}) }()
	waitFor(t, started, "handler start")

	// one slot left in the inbox
	require.NoError(t, background.Post(func() {}))

	_, err := content.Send(ctx, BackgroundEndpoint, domain.TriggerPopup{})
	assert.True(t, errors.Is(err, domain.ErrInboxFull), "got %v", err)
}

func TestSafeSend(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	background := bus.Register(BackgroundEndpoint)
	content := bus.Register(ContentEndpoint("7"))

	received := make(chan struct{})
	background.Handle(domain.KindTriggerPopup, func(context.Context, Envelope) (any, error) {
		close(received)
		return "ok", nil
	})

	t.Run("delivers and calls back", func(t *testing.T) {
		called := make(chan struct{})
		content.SafeSend(BackgroundEndpoint, domain.TriggerPopup{}, func(resp any, err error) {
			assert.NoError(t, err)
			assert.Equal(t, "ok", resp)
			close(called)
		})
		waitFor(t, received, "delivery")
		waitFor(t, called, "callback")
	})

	t.Run("delivery error reaches callback, not caller", func(t *testing.T) {
		called := make(chan struct{})
		assert.NotPanics(t, func() {
			content.SafeSend("nowhere", domain.ClosePopup{}, func(_ any, err error) {
				assert.True(t, errors.Is(err, domain.ErrNoReceiver))
				close(called)
			})
		})
		waitFor(t, called, "callback")
	})

	t.Run("invalidated context drops silently", func(t *testing.T) {
		var calls atomic.Int32
		content.Invalidate()

		content.SafeSend(BackgroundEndpoint, domain.TriggerPopup{}, func(any, error) { calls.Add(1) })
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(0), calls.Load())

		_, err := content.Send(context.Background(), BackgroundEndpoint, domain.TriggerPopup{})
		assert.True(t, errors.Is(err, domain.ErrContextInvalidated))
	})
}

func TestRegister_ReplacesAndInvalidatesPrevious(t *testing.T) {
	bus := NewBus(0)
	defer bus.Close()

	old := bus.Register(ContentEndpoint("3"))
	fresh := bus.Register(ContentEndpoint("3"))

	assert.False(t, old.Valid())
	assert.True(t, fresh.Valid())

	got, ok := bus.Lookup(ContentEndpoint("3"))
	require.True(t, ok)
	assert.Same(t, fresh, got)

	// closing the orphan must not unregister its replacement
	old.Close()
	_, ok = bus.Lookup(ContentEndpoint("3"))
	assert.True(t, ok)
}

func TestPorts(t *testing.T) {
	t.Run("connect and disconnect notify the other side", func(t *testing.T) {
		bus := NewBus(0)
		defer bus.Close()

		background := bus.Register(BackgroundEndpoint)
		popup := bus.Register(PopupEndpoint)

		connected := make(chan *Port, 1)
		disconnected := make(chan struct{})
		background.OnConnect(func(p *Port) {
			p.OnDisconnect(func(*Port) { close(disconnected) })
			connected <- p
		})

		port, err := popup.Connect(BackgroundEndpoint, domain.PortPopupLifecycle)
		require.NoError(t, err)

		var remote *Port
		select {
		case remote = <-connected:
		case <-time.After(time.Second):
			t.Fatal("connect listener not called")
		}
		assert.Equal(t, domain.PortPopupLifecycle, remote.Name)
		assert.Equal(t, PopupEndpoint, remote.Sender())
		assert.True(t, remote.Connected())

		port.Disconnect()
		port.Disconnect()
		waitFor(t, disconnected, "disconnect")
		assert.False(t, remote.Connected())
	})

	t.Run("immediate disconnect still reaches listeners added on connect", func(t *testing.T) {
		bus := NewBus(0)
		defer bus.Close()

		background := bus.Register(BackgroundEndpoint)
		popup := bus.Register(PopupEndpoint)

		disconnected := make(chan struct{})
		background.OnConnect(func(p *Port) {
			p.OnDisconnect(func(*Port) { close(disconnected) })
		})

		port, err := popup.Connect(BackgroundEndpoint, domain.PortPopupLifecycle)
		require.NoError(t, err)
		port.Disconnect()

		waitFor(t, disconnected, "disconnect")
	})

	t.Run("closing the endpoint tears its ports down", func(t *testing.T) {
		bus := NewBus(0)
		defer bus.Close()

		background := bus.Register(BackgroundEndpoint)
		popup := bus.Register(PopupEndpoint)

		disconnected := make(chan struct{})
		background.OnConnect(func(p *Port) {
			p.OnDisconnect(func(*Port) { close(disconnected) })
		})

		_, err := popup.Connect(BackgroundEndpoint, domain.PortPopupLifecycle)
		require.NoError(t, err)

		popup.Close()
		waitFor(t, disconnected, "disconnect on close")
	})

	t.Run("receiver without connect listeners", func(t *testing.T) {
		bus := NewBus(0)
		defer bus.Close()

		bus.Register(BackgroundEndpoint)
		popup := bus.Register(PopupEndpoint)

		_, err := popup.Connect(BackgroundEndpoint, domain.PortPopupLifecycle)
		assert.True(t, errors.Is(err, domain.ErrNoReceiver))
	})
}
