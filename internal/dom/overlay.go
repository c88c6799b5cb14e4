package dom

import (
	"fmt"
	"html"
)

// DefaultOverlayID is the fixed identifier of the dim overlay element
const DefaultOverlayID = "dim-overlay"

// Overlay owns the page-dimming element. Insert and Remove are idempotent
// and keyed by ID, so at most one overlay exists per page.
type Overlay struct {
	ID        string
	DimAmount float64
}

// NewOverlay returns an overlay with defaults applied
func NewOverlay(id string, dimAmount float64) Overlay {
	if id == "" {
		id = DefaultOverlayID
	}
	if dimAmount <= 0 || dimAmount > 1 {
		dimAmount = 0.8
	}
	return Overlay{ID: id, DimAmount: dimAmount}
}

func (o Overlay) selector() string {
	return fmt.Sprintf(`[id=%q]`, o.ID)
}

// Style is the inline style the shim applies to the real page element.
// z-index stays below the popup and pointer events pass through.
func (o Overlay) Style() string {
	return fmt.Sprintf(
		"position:fixed;top:0;left:0;width:100%%;height:100%%;background-color:rgba(0, 0, 0, %g);z-index:9998;pointer-events:none",
		o.DimAmount,
	)
}

// Present reports whether the overlay element is in the page
func (o Overlay) Present(p *Page) bool {
	return p.Doc.Find(o.selector()).Length() > 0
}

// Insert appends the overlay to <body>. It returns false when the overlay
// already existed.
func (o Overlay) Insert(p *Page) bool {
	if o.Present(p) {
		return false
	}
	body := p.Doc.Find("body").First()
	if body.Length() == 0 {
		return false
	}
	body.AppendHtml(fmt.Sprintf(`<div id="%s" style="%s"></div>`,
		html.EscapeString(o.ID), html.EscapeString(o.Style())))
	return true
}

// Remove deletes the overlay. It returns false when there was nothing to remove.
func (o Overlay) Remove(p *Page) bool {
	sel := p.Doc.Find(o.selector())
	if sel.Length() == 0 {
		return false
	}
	sel.Remove()
	return true
}
