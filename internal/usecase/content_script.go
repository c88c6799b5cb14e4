package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hesto/backend/internal/dom"
	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/logging"
	"github.com/hesto/backend/internal/messaging"
)

// Content event types streamed to the page shim
const (
	EventOverlayInsert = "overlay_insert"
	EventOverlayRemove = "overlay_remove"
	EventClosePopup    = "close_popup"
)

// Detection outcome reasons
const (
	ReasonNoActionable    = "no actionable element"
	ReasonNoIntent        = "not a purchase intent"
	ReasonIncomplete      = "product name, price or url missing"
	ReasonNotLoggedIn     = "user is not logged in"
	ReasonPopupTriggered  = "popup triggered"
	ReasonStateNotWritten = "state store write failed"
)

// OverlayCommand tells the shim which element to add or remove
type OverlayCommand struct {
	ID    string `json:"id"`
	Style string `json:"style,omitempty"`
}

// ContentEvent is pushed to the page shim of one tab
type ContentEvent struct {
	Type    string          `json:"type"`
	TabID   string          `json:"tabId"`
	Overlay *OverlayCommand `json:"overlay,omitempty"`
}

// ContentConfig holds the detection switches of a content context
type ContentConfig struct {
	RequireLogin bool
	Overlay      dom.Overlay
}

// ContentScript is the page context of one tab: it classifies clicks,
// extracts the product, publishes the detection and owns the dim overlay.
type ContentScript struct {
	tabID      string
	endpoint   *messaging.Endpoint
	state      *StateService
	classifier *IntentClassifier
	extractor  *ProductExtractor
	cfg        ContentConfig
	events     *Broadcaster[ContentEvent]

	mu           sync.Mutex
	overlayShown bool

	log *logrus.Entry
}

// NewContentScript registers the tab's endpoint on the bus and wires its
// close_popup handler.
func NewContentScript(tabID string, bus *messaging.Bus, store domain.StateStore, classifier *IntentClassifier, extractor *ProductExtractor, cfg ContentConfig) *ContentScript {
	if cfg.Overlay.ID == "" {
		cfg.Overlay = dom.NewOverlay("", 0)
	}
	c := &ContentScript{
		tabID:      tabID,
		endpoint:   bus.Register(messaging.ContentEndpoint(tabID)),
		state:      NewStateService(store, domain.OriginContent),
		classifier: classifier,
		extractor:  extractor,
		cfg:        cfg,
		events:     NewBroadcaster[ContentEvent](16),
		log:        logging.NewLogger("content").WithField("tab", tabID),
	}
	c.endpoint.Handle(domain.KindClosePopup, c.handleClosePopup)
	return c
}

// TabID returns the tab this context is injected in
func (c *ContentScript) TabID() string {
	return c.tabID
}

// Endpoint exposes the context's messaging endpoint
func (c *ContentScript) Endpoint() *messaging.Endpoint {
	return c.endpoint
}

// Events streams overlay and close notifications for the page shim
func (c *ContentScript) Events() (<-chan ContentEvent, func()) {
	return c.events.Subscribe()
}

// OverlayShown reports whether the shim was told to dim the page
func (c *ContentScript) OverlayShown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overlayShown
}

// HandleClick runs the detection pipeline for one click. Only malformed
// input is an error; every heuristic miss is reported in the result.
func (c *ContentScript) HandleClick(ctx context.Context, click domain.ClickEvent) (*domain.DetectionResult, error) {
	page, err := dom.ParsePage(click.URL, click.HTML)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	target, err := page.Target(click.Target)
	if err != nil {
		return nil, err
	}

	result := &domain.DetectionResult{}

	actionable := dom.ClosestActionable(target)
	if actionable == nil {
		result.Reason = ReasonNoActionable
		result.Overlay = c.removeOverlay(page)
		c.log.Debug("Click without actionable element")
		return result, nil
	}
	result.Actionable = true

	if !c.classifier.IsPurchaseIntent(actionable) {
		result.Reason = ReasonNoIntent
		result.Overlay = c.removeOverlay(page)
		return result, nil
	}
	result.PurchaseIntent = true

	extraction := c.extractor.Extract(page, actionable)
	result.Strategy = extraction.Strategy
	product := extraction.Product
	result.Product = &product

	if !product.IsTriggerable() {
		result.Reason = ReasonIncomplete
		c.log.WithField("strategy", extraction.Strategy).Info("Purchase intent without usable product")
		return result, nil
	}

	if c.cfg.RequireLogin {
		auth, err := c.state.AuthState(ctx)
		if err != nil {
			c.log.WithError(err).Warn("Could not read auth state")
		}
		if !auth.IsLoggedIn {
			result.Reason = ReasonNotLoggedIn
			return result, nil
		}
	}

	if err := c.state.MarkDetected(ctx, product); err != nil {
		if errors.Is(err, domain.ErrStoreClosed) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.log.WithError(err).Error("Failed to publish detection")
		result.Reason = ReasonStateNotWritten
		return result, nil
	}

	c.endpoint.SafeSend(messaging.BackgroundEndpoint, domain.TriggerPopup{}, nil)

	result.Triggered = true
	result.Reason = ReasonPopupTriggered
	result.Overlay = c.insertOverlay(page)

	c.log.WithFields(logrus.Fields{
		"product":  domain.Deref(product.Name),
		"price":    *product.Price,
		"strategy": extraction.Strategy,
	}).Info("Purchase intent detected")

	return result, nil
}

// Close tears the context down, as when the tab navigates away
func (c *ContentScript) Close() {
	c.endpoint.Close()
	c.events.Close()
}

func (c *ContentScript) handleClosePopup(ctx context.Context, env messaging.Envelope) (any, error) {
	c.log.WithField("from", env.From).Debug("Popup closed")
	c.events.Publish(ContentEvent{Type: EventClosePopup, TabID: c.tabID})
	c.removeOverlay(nil)
	return nil, nil
}

// insertOverlay reports whether the overlay is shown after the call
func (c *ContentScript) insertOverlay(page *dom.Page) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a snapshot already holding the overlay means the shim has it
	inserted := page == nil || c.cfg.Overlay.Insert(page)
	if c.overlayShown || !inserted {
		c.overlayShown = true
		return true
	}

	c.overlayShown = true
	c.events.Publish(ContentEvent{
		Type:    EventOverlayInsert,
		TabID:   c.tabID,
		Overlay: &OverlayCommand{ID: c.cfg.Overlay.ID, Style: c.cfg.Overlay.Style()},
	})
	return true
}

// removeOverlay returns whether the overlay is still shown (always false)
func (c *ContentScript) removeOverlay(page *dom.Page) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	inPage := page != nil && c.cfg.Overlay.Remove(page)
	if !c.overlayShown && !inPage {
		return false
	}

	c.overlayShown = false
	c.events.Publish(ContentEvent{
		Type:    EventOverlayRemove,
		TabID:   c.tabID,
		Overlay: &OverlayCommand{ID: c.cfg.Overlay.ID},
	})
	return false
}

// ContentScripts holds the content context of every tab seen so far
type ContentScripts struct {
	mu      sync.Mutex
	scripts map[string]*ContentScript
	factory func(tabID string) *ContentScript
}

// NewContentScripts creates contexts lazily with factory
func NewContentScripts(factory func(tabID string) *ContentScript) *ContentScripts {
	return &ContentScripts{
		scripts: make(map[string]*ContentScript),
		factory: factory,
	}
}

// ForTab returns the tab's context, injecting one on first use
func (r *ContentScripts) ForTab(tabID string) *ContentScript {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.scripts[tabID]; ok && c.endpoint.Valid() {
		return c
	}
	c := r.factory(tabID)
	r.scripts[tabID] = c
	return c
}

// Remove tears down and forgets a tab's context
func (r *ContentScripts) Remove(tabID string) {
	r.mu.Lock()
	c, ok := r.scripts[tabID]
	delete(r.scripts, tabID)
	r.mu.Unlock()

	if ok {
		c.Close()
	}
}

// Close tears down every context
func (r *ContentScripts) Close() {
	r.mu.Lock()
	scripts := r.scripts
	r.scripts = make(map[string]*ContentScript)
	r.mu.Unlock()

	for _, c := range scripts {
		c.Close()
	}
}
