package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/logging"
	"github.com/hesto/backend/internal/messaging"
)

// BackgroundEvent is pushed to the background shim, which owns the host
// action API
type BackgroundEvent struct {
	Type  string `json:"type"`
	TabID string `json:"tabId,omitempty"`
}

// EventOpenPopup asks the background shim to open the popup window
const EventOpenPopup = "open_popup"

// ShimPopupOpener opens the popup by asking the connected background shim
// to call the host action API.
type ShimPopupOpener struct {
	events *Broadcaster[BackgroundEvent]
}

// NewShimPopupOpener creates an opener with no shim attached yet
func NewShimPopupOpener() *ShimPopupOpener {
	return &ShimPopupOpener{events: NewBroadcaster[BackgroundEvent](8)}
}

// OpenPopup implements domain.PopupOpener
func (o *ShimPopupOpener) OpenPopup(ctx context.Context, tabID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.events.Publish(BackgroundEvent{Type: EventOpenPopup, TabID: tabID}) == 0 {
		return fmt.Errorf("%w: no background shim attached", domain.ErrNoReceiver)
	}
	return nil
}

// Events streams open requests to a background shim
func (o *ShimPopupOpener) Events() (<-chan BackgroundEvent, func()) {
	return o.events.Subscribe()
}

// Close ends every shim stream
func (o *ShimPopupOpener) Close() {
	o.events.Close()
}

// LifecycleCoordinator is the background context. It opens the popup on
// request and turns the teardown of the popup's lifecycle connection into
// close_popup for the page plus the Idle state.
type LifecycleCoordinator struct {
	endpoint *messaging.Endpoint
	state    *StateService
	opener   domain.PopupOpener

	mu        sync.Mutex
	activeTab string
	ports     map[string]*messaging.Port

	log *logrus.Entry
}

// NewLifecycleCoordinator registers the background endpoint on the bus
func NewLifecycleCoordinator(bus *messaging.Bus, store domain.StateStore, opener domain.PopupOpener) *LifecycleCoordinator {
	c := &LifecycleCoordinator{
		endpoint: bus.Register(messaging.BackgroundEndpoint),
		state:    NewStateService(store, domain.OriginBackground),
		opener:   opener,
		ports:    make(map[string]*messaging.Port),
		log:      logging.NewLogger("background"),
	}

	c.endpoint.Handle(domain.KindTriggerPopup, c.handleOpenPopup)
	c.endpoint.Handle(domain.KindOpenSpacePopup, c.handleOpenPopup)
	c.endpoint.OnConnect(c.handleConnect)

	return c
}

// ActiveTab returns the tab that last triggered the popup
func (c *LifecycleCoordinator) ActiveTab() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeTab
}

// Connected reports whether a popup currently holds a lifecycle connection
func (c *LifecycleCoordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ports) > 0
}

// Close stops the background context
func (c *LifecycleCoordinator) Close() {
	c.endpoint.Close()
}

func (c *LifecycleCoordinator) handleOpenPopup(ctx context.Context, env messaging.Envelope) (any, error) {
	tabID, ok := messaging.TabID(env.From)
	if ok {
		c.mu.Lock()
		c.activeTab = tabID
		c.mu.Unlock()
	}

	fields := logrus.Fields{"tab": tabID, "action": env.Message.Kind()}
	if open, isOpen := env.Message.(domain.OpenSpacePopup); isOpen && open.Price != nil {
		fields["price"] = *open.Price
	}

	if err := c.opener.OpenPopup(ctx, tabID); err != nil {
		c.log.WithError(err).WithFields(fields).Warn("Failed to open popup")
		return nil, err
	}
	c.log.WithFields(fields).Info("Opening popup")
	return nil, nil
}

func (c *LifecycleCoordinator) handleConnect(port *messaging.Port) {
	if port.Name != domain.PortPopupLifecycle {
		c.log.WithFields(logrus.Fields{"port": port.Name, "from": port.Sender()}).Warn("Ignoring unexpected connection")
		return
	}

	c.mu.Lock()
	c.ports[port.ID] = port
	c.mu.Unlock()

	port.OnDisconnect(c.handleDisconnect)
	c.log.WithField("id", port.ID).Debug("Popup lifecycle connected")
}

// handleDisconnect is the only place the popup's closure is observed
func (c *LifecycleCoordinator) handleDisconnect(port *messaging.Port) {
	c.mu.Lock()
	delete(c.ports, port.ID)
	tabID := c.activeTab
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"id": port.ID, "tab": tabID}).Info("Popup closed")

	if tabID != "" {
		c.endpoint.SafeSend(messaging.ContentEndpoint(tabID), domain.ClosePopup{}, nil)
	}
	if err := c.state.MarkIdle(c.endpoint.Context()); err != nil {
		c.log.WithError(err).Error("Failed to reset state to idle")
	}
}
