package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hesto/backend/internal/dom"
	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/messaging"
)

const productPage = `<html><head><title>Widget | Shop</title>
<script type="application/ld+json">{"@type":"Product","name":"Widget","offers":{"price":"49.99","priceCurrency":"USD"}}</script>
</head><body>
<div class="product">
  <h1>Widget</h1>
  <button id="add" class="btn"><span id="add-label">Add to Cart</span></button>
  <button id="info">Learn more</button>
  <p id="text">Plain paragraph</p>
</div>
</body></html>`

const pageWithoutPrice = `<html><head><title>Widget | Shop</title></head><body>
<button id="add">Add to Cart</button>
</body></html>`

type contentFixture struct {
	bus    *messaging.Bus
	store  domain.StateStore
	opener *MockPopupOpener
	bg     *LifecycleCoordinator
}

func newContentFixture(t *testing.T) *contentFixture {
	t.Helper()
	f := &contentFixture{
		bus:    messaging.NewBus(0),
		store:  newTestStore(t),
		opener: &MockPopupOpener{},
	}
	f.bg = NewLifecycleCoordinator(f.bus, f.store, f.opener)
	t.Cleanup(f.bus.Close)
	return f
}

func (f *contentFixture) script(t *testing.T, tabID string, cfg ContentConfig) *ContentScript {
	t.Helper()
	classifier, err := NewDefaultIntentClassifier()
	require.NoError(t, err)
	extractor, err := NewProductExtractor(nil)
	require.NoError(t, err)
	return NewContentScript(tabID, f.bus, f.store, classifier, extractor, cfg)
}

func click(target, page string) domain.ClickEvent {
	return domain.ClickEvent{URL: "https://shop.example.com/widget", HTML: page, Target: target}
}

func nextEvent[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func TestContentScript_HandleClick(t *testing.T) {
	tests := []struct {
		name          string
		target        string
		page          string
		requireLogin  bool
		wantTriggered bool
		wantIntent    bool
		wantReason    string
	}{
		{
			name:          "nested label inside add to cart button",
			target:        "#add-label",
			page:          productPage,
			wantTriggered: true,
			wantIntent:    true,
			wantReason:    ReasonPopupTriggered,
		},
		{
			name:       "click outside any actionable element",
			target:     "#text",
			page:       productPage,
			wantReason: ReasonNoActionable,
		},
		{
			name:       "button without purchase wording",
			target:     "#info",
			page:       productPage,
			wantReason: ReasonNoIntent,
		},
		{
			name:       "product without price",
			target:     "#add",
			page:       pageWithoutPrice,
			wantIntent: true,
			wantReason: ReasonIncomplete,
		},
		{
			name:         "signed out user with login required",
			target:       "#add",
			page:         productPage,
			requireLogin: true,
			wantIntent:   true,
			wantReason:   ReasonNotLoggedIn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newContentFixture(t)
			script := f.script(t, "7", ContentConfig{RequireLogin: tt.requireLogin})

			result, err := script.HandleClick(context.Background(), click(tt.target, tt.page))
			require.NoError(t, err)

			assert.Equal(t, tt.wantTriggered, result.Triggered)
			assert.Equal(t, tt.wantIntent, result.PurchaseIntent)
			assert.Equal(t, tt.wantReason, result.Reason)
			assert.Equal(t, tt.wantTriggered, result.Overlay)
			assert.Equal(t, tt.wantTriggered, script.OverlayShown())

			state, err := NewStateService(f.store, domain.OriginPopup).AppState(context.Background())
			require.NoError(t, err)
			if tt.wantTriggered {
				assert.Equal(t, domain.AppStateDetected, state)
				require.Eventually(t, func() bool { return len(f.opener.Opened()) == 1 }, time.Second, 5*time.Millisecond)
				assert.Equal(t, []string{"7"}, f.opener.Opened())
				assert.Equal(t, "7", f.bg.ActiveTab())
			} else {
				assert.Equal(t, domain.AppStateIdle, state)
				assert.Never(t, func() bool { return len(f.opener.Opened()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
			}
		})
	}
}

func TestContentScript_DetectedProduct(t *testing.T) {
	f := newContentFixture(t)
	script := f.script(t, "7", ContentConfig{})

	result, err := script.HandleClick(context.Background(), click("#add", productPage))

	require.NoError(t, err)
	assert.Equal(t, StrategyJSONLD, result.Strategy)
	require.NotNil(t, result.Product)
	assert.Equal(t, "Widget", domain.Deref(result.Product.Name))
	assert.InDelta(t, 49.99, *result.Product.Price, 1e-9)

	data, err := NewStateService(f.store, domain.OriginPopup).PopupData(context.Background())
	require.NoError(t, err)
	require.NotNil(t, data.Product)
	assert.Equal(t, "https://shop.example.com/widget", domain.Deref(data.Product.URL))
}

func TestContentScript_SignedInUserTriggers(t *testing.T) {
	f := newContentFixture(t)
	signIn(t, f.store)
	script := f.script(t, "7", ContentConfig{RequireLogin: true})

	result, err := script.HandleClick(context.Background(), click("#add", productPage))

	require.NoError(t, err)
	assert.True(t, result.Triggered)
}

func TestContentScript_InvalidClick(t *testing.T) {
	f := newContentFixture(t)
	script := f.script(t, "7", ContentConfig{})

	_, err := script.HandleClick(context.Background(), click("#missing", productPage))
	assert.ErrorIs(t, err, domain.ErrTargetNotFound)

	_, err = script.HandleClick(context.Background(), click("[[", productPage))
	assert.Error(t, err)
}

func TestContentScript_OverlayIsInsertedOnce(t *testing.T) {
	f := newContentFixture(t)
	script := f.script(t, "7", ContentConfig{Overlay: dom.NewOverlay("hesto-dim", 0.5)})
	events, cancel := script.Events()
	defer cancel()

	for i := 0; i < 2; i++ {
		result, err := script.HandleClick(context.Background(), click("#add", productPage))
		require.NoError(t, err)
		require.True(t, result.Overlay)
	}

	ev := nextEvent(t, events)
	assert.Equal(t, EventOverlayInsert, ev.Type)
	require.NotNil(t, ev.Overlay)
	assert.Equal(t, "hesto-dim", ev.Overlay.ID)
	assert.Contains(t, ev.Overlay.Style, "rgba(0, 0, 0, 0.5)")

	select {
	case extra := <-events:
		t.Fatalf("unexpected second event: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestContentScript_SnapshotAlreadyDimmed(t *testing.T) {
	f := newContentFixture(t)
	script := f.script(t, "7", ContentConfig{})
	events, cancel := script.Events()
	defer cancel()

	dimmed := `<html><head><script type="application/ld+json">{"@type":"Product","name":"Widget","offers":{"price":"49.99"}}</script></head>
<body><button id="add">Buy now</button><div id="dim-overlay"></div></body></html>`

	result, err := script.HandleClick(context.Background(), click("#add", dimmed))
	require.NoError(t, err)
	assert.True(t, result.Overlay)
	assert.True(t, script.OverlayShown())

	select {
	case extra := <-events:
		t.Fatalf("overlay already present, got event %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestContentScript_ClosePopupRemovesOverlay(t *testing.T) {
	f := newContentFixture(t)
	script := f.script(t, "7", ContentConfig{})
	events, cancel := script.Events()
	defer cancel()

	_, err := script.HandleClick(context.Background(), click("#add", productPage))
	require.NoError(t, err)
	assert.Equal(t, EventOverlayInsert, nextEvent(t, events).Type)

	bg, ok := f.bus.Lookup(messaging.BackgroundEndpoint)
	require.True(t, ok)
	_, err = bg.Send(context.Background(), messaging.ContentEndpoint("7"), domain.ClosePopup{})
	require.NoError(t, err)

	assert.Equal(t, EventClosePopup, nextEvent(t, events).Type)
	removed := nextEvent(t, events)
	assert.Equal(t, EventOverlayRemove, removed.Type)
	assert.Equal(t, "7", removed.TabID)
	assert.False(t, script.OverlayShown())
}

func TestContentScript_NonIntentClickClearsStaleOverlay(t *testing.T) {
	f := newContentFixture(t)
	script := f.script(t, "7", ContentConfig{})
	events, cancel := script.Events()
	defer cancel()

	_, err := script.HandleClick(context.Background(), click("#add", productPage))
	require.NoError(t, err)
	nextEvent(t, events)

	result, err := script.HandleClick(context.Background(), click("#info", productPage))
	require.NoError(t, err)
	assert.False(t, result.Overlay)
	assert.Equal(t, EventOverlayRemove, nextEvent(t, events).Type)
}

func TestContentScripts_ForTab(t *testing.T) {
	f := newContentFixture(t)
	created := 0
	scripts := NewContentScripts(func(tabID string) *ContentScript {
		created++
		return f.script(t, tabID, ContentConfig{})
	})
	defer scripts.Close()

	first := scripts.ForTab("1")
	assert.Same(t, first, scripts.ForTab("1"))
	assert.NotSame(t, first, scripts.ForTab("2"))
	assert.Equal(t, 2, created)

	scripts.Remove("1")
	assert.False(t, first.Endpoint().Valid())
	assert.NotSame(t, first, scripts.ForTab("1"))
	assert.Equal(t, 3, created)
}
