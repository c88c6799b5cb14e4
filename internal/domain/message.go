package domain

import (
	"encoding/json"
	"fmt"
)

// MessageKind names a command exchanged between extension contexts
type MessageKind string

const (
	KindTriggerPopup   MessageKind = "trigger_popup"
	KindClosePopup     MessageKind = "close_popup"
	KindOpenSpacePopup MessageKind = "open_space_popup"
)

// Message is the closed set of commands carried by the messaging channel.
// Only the types in this file implement it.
type Message interface {
	Kind() MessageKind
	isMessage()
}

// TriggerPopup asks the background context to open the popup
type TriggerPopup struct{}

// ClosePopup tells a content context that the popup went away
type ClosePopup struct{}

// OpenSpacePopup is the legacy open request that carries the detected price
type OpenSpacePopup struct {
	Price *float64
}

func (TriggerPopup) Kind() MessageKind   { return KindTriggerPopup }
func (ClosePopup) Kind() MessageKind     { return KindClosePopup }
func (OpenSpacePopup) Kind() MessageKind { return KindOpenSpacePopup }

func (TriggerPopup) isMessage()   {}
func (ClosePopup) isMessage()     {}
func (OpenSpacePopup) isMessage() {}

// wireMessage is the JSON shape used by the extension shims
type wireMessage struct {
	Action MessageKind `json:"action"`
	Price  *float64    `json:"price,omitempty"`
}

// EncodeMessage renders a message in its {"action": ...} wire form
func EncodeMessage(m Message) ([]byte, error) {
	w := wireMessage{Action: m.Kind()}
	if open, ok := m.(OpenSpacePopup); ok {
		w.Price = open.Price
	}
	return json.Marshal(w)
}

// DecodeMessage parses the wire form back into a typed message
func DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	switch w.Action {
	case KindTriggerPopup:
		return TriggerPopup{}, nil
	case KindClosePopup:
		return ClosePopup{}, nil
	case KindOpenSpacePopup:
		return OpenSpacePopup{Price: w.Price}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidMessage, w.Action)
	}
}

// PortPopupLifecycle names the connection the popup holds open while mounted
const PortPopupLifecycle = "popup_lifecycle"
