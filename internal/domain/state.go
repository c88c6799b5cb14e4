package domain

import (
	"encoding/json"
	"fmt"
)

// AppState is the global popup state shared by every extension context.
// The zero value is AppStateIdle.
type AppState uint8

const (
	AppStateIdle AppState = iota
	AppStateDetected
)

// String returns the wire name of the state
func (s AppState) String() string {
	switch s {
	case AppStateIdle:
		return "idle"
	case AppStateDetected:
		return "detected"
	default:
		return fmt.Sprintf("AppState(%d)", uint8(s))
	}
}

// ParseAppState converts a wire name into an AppState
func ParseAppState(s string) (AppState, error) {
	switch s {
	case "idle":
		return AppStateIdle, nil
	case "detected":
		return AppStateDetected, nil
	default:
		return AppStateIdle, fmt.Errorf("%w: unknown app state %q", ErrInvalidState, s)
	}
}

// MarshalJSON always encodes the string form; ordinals never reach the store.
func (s AppState) MarshalJSON() ([]byte, error) {
	if s != AppStateIdle && s != AppStateDetected {
		return nil, fmt.Errorf("%w: %d", ErrInvalidState, uint8(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts only the string form.
func (s *AppState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("%w: app state must be a string", ErrInvalidState)
	}
	parsed, err := ParseAppState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// PopupData is the consolidated record written in a single store write so a
// subscriber never sees Detected without its product.
type PopupData struct {
	State   AppState     `json:"state"`
	Product *ProductData `json:"product,omitempty"`
}

// StoreKey addresses a value in the shared state store
type StoreKey string

const (
	KeyAppState      StoreKey = "appState"
	KeyProductData   StoreKey = "productData"
	KeyAuthState     StoreKey = "authState"
	KeyUserInfo      StoreKey = "userInfo"
	KeyPopupData     StoreKey = "popupData"
	KeyTotalInvested StoreKey = "totalInvested"
)

// KnownKeys lists every key the store accepts
var KnownKeys = []StoreKey{
	KeyAppState,
	KeyProductData,
	KeyAuthState,
	KeyUserInfo,
	KeyPopupData,
	KeyTotalInvested,
}

// IsKnownKey reports whether k belongs to the fixed key set
func IsKnownKey(k StoreKey) bool {
	for _, known := range KnownKeys {
		if known == k {
			return true
		}
	}
	return false
}

// Origin identifies the execution context that performed a write
type Origin string

const (
	OriginContent    Origin = "content"
	OriginBackground Origin = "background"
	OriginPopup      Origin = "popup"
	OriginAuth       Origin = "auth"
	OriginExternal   Origin = "external"
)

// Change is the old/new pair for one key. A nil side means the key was absent.
type Change struct {
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
}

// ChangeSet is delivered to store listeners after every write
type ChangeSet struct {
	Origin  Origin              `json:"origin"`
	Changes map[StoreKey]Change `json:"changes"`
}

// ChangeListener receives change notifications from the store
type ChangeListener func(ChangeSet)
