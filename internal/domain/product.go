package domain

// ProductData represents product information extracted from a retail page.
// Every field is nullable; extraction failures leave fields nil.
type ProductData struct {
	Name         *string  `json:"name"`
	Price        *float64 `json:"price"`
	Currency     *string  `json:"currency"`
	URL          *string  `json:"url"`
	Image        *string  `json:"image"`
	Description  *string  `json:"description"`
	Availability *string  `json:"availability"`
}

// IsTriggerable reports whether the product carries the name, price and URL
// needed to open the popup
func (p *ProductData) IsTriggerable() bool {
	return p != nil && p.Name != nil && p.Price != nil && p.URL != nil
}

// IsEmpty reports whether no field was extracted
func (p *ProductData) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.Name == nil && p.Price == nil && p.Currency == nil && p.URL == nil &&
		p.Image == nil && p.Description == nil && p.Availability == nil
}

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FloatPtr returns a pointer to f
func FloatPtr(f float64) *float64 {
	return &f
}

// Deref returns the pointed-to string or ""
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ClickEvent describes a click delivered by the content script shim
type ClickEvent struct {
	TabID  string `json:"tabId"`
	URL    string `json:"url" binding:"required"`
	HTML   string `json:"html" binding:"required"`
	Target string `json:"target" binding:"required"` // CSS selector of the click target
}

// DetectionResult reports what the content pipeline did with a click
type DetectionResult struct {
	Actionable     bool         `json:"actionable"`
	PurchaseIntent bool         `json:"purchaseIntent"`
	Triggered      bool         `json:"triggered"`
	Overlay        bool         `json:"overlay"`
	Strategy       string       `json:"strategy,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Product        *ProductData `json:"product,omitempty"`
}
