package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hesto/backend/internal/domain"
)

func mustPage(t *testing.T, body string) *Page {
	t.Helper()
	page, err := ParsePage("https://shop.example.com/item/1", "<html><head><title>Shop</title></head><body>"+body+"</body></html>")
	require.NoError(t, err)
	return page
}

func TestDeepText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"plain text", `<button id="t">Add to Cart</button>`, "Add to Cart"},
		{"nested elements", `<button id="t"><span> Add </span><b>to</b>   <i>Cart</i></button>`, "Add to Cart"},
		{"whitespace collapsed", "<div id=\"t\">\n  Buy\n\n  <span>\tNow </span></div>", "Buy Now"},
		{"empty element", `<button id="t"></button>`, ""},
		{"comment ignored", `<button id="t"><!-- hidden -->Checkout</button>`, "Checkout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := mustPage(t, tt.html)
			assert.Equal(t, tt.want, DeepText(page.First("#t")))
		})
	}

	assert.Equal(t, "", DeepText(nil))
}

func TestClosestActionable(t *testing.T) {
	page := mustPage(t, `
		<div class="card">
			<button id="btn"><span id="icon"><i id="glyph">+</i></span></button>
			<a id="link" href="/cart"><span id="label">Cart</span></a>
			<p id="para"><span id="loose">nothing</span></p>
		</div>`)

	t.Run("self is actionable", func(t *testing.T) {
		assert.Equal(t, page.First("#btn"), ClosestActionable(page.First("#btn")))
	})
	t.Run("deep descendant of button", func(t *testing.T) {
		assert.Equal(t, page.First("#btn"), ClosestActionable(page.First("#glyph")))
	})
	t.Run("descendant of anchor", func(t *testing.T) {
		assert.Equal(t, page.First("#link"), ClosestActionable(page.First("#label")))
	})
	t.Run("no actionable ancestor", func(t *testing.T) {
		assert.Nil(t, ClosestActionable(page.First("#loose")))
	})
}

func TestPageTarget(t *testing.T) {
	page := mustPage(t, `<button id="go">Go</button>`)

	n, err := page.Target("#go")
	require.NoError(t, err)
	assert.Equal(t, "go", ID(n))

	_, err = page.Target("#missing")
	assert.ErrorIs(t, err, domain.ErrTargetNotFound)
	assert.Contains(t, err.Error(), `"#missing"`)
}

func TestPageTitle(t *testing.T) {
	page := mustPage(t, ``)
	assert.Equal(t, "Shop", page.Title())

	og, err := ParsePage("https://x", `<html><head><title>Fallback</title><meta property="og:title" content=" Fancy Lamp "></head><body></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "Fancy Lamp", og.Title())
}

func TestOverlay(t *testing.T) {
	t.Run("insert twice leaves exactly one overlay", func(t *testing.T) {
		page := mustPage(t, `<main>content</main>`)
		overlay := NewOverlay("", 0)

		assert.True(t, overlay.Insert(page))
		assert.False(t, overlay.Insert(page))
		assert.Equal(t, 1, page.Doc.Find("#dim-overlay").Length())
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		page := mustPage(t, `<main>content</main>`)
		overlay := NewOverlay("dim-overlay", 0.5)

		overlay.Insert(page)
		assert.True(t, overlay.Remove(page))
		assert.False(t, overlay.Remove(page))
		assert.False(t, overlay.Present(page))
	})

	t.Run("style carries dim amount", func(t *testing.T) {
		overlay := NewOverlay("x", 0.5)
		assert.Contains(t, overlay.Style(), "rgba(0, 0, 0, 0.5)")
		assert.Contains(t, overlay.Style(), "z-index:9998")
	})

	t.Run("out of range dim amount falls back to default", func(t *testing.T) {
		assert.Equal(t, 0.8, NewOverlay("", 3).DimAmount)
	})
}
