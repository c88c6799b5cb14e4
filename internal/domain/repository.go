package domain

import (
	"context"
	"encoding/json"
)

// StateStore is the process-wide key-value map shared by all contexts.
// Writes are last-write-wins per key; listeners are notified asynchronously
// in write order.
type StateStore interface {
	Get(ctx context.Context, keys ...StoreKey) (map[StoreKey]json.RawMessage, error)
	Set(ctx context.Context, origin Origin, values map[StoreKey]any) error
	Subscribe(listener ChangeListener) (unsubscribe func())
}

// IdentityProvider is the hosted authentication collaborator
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	LookupProfile(ctx context.Context, uid, idToken string) (*Profile, error)
}

// ProductArchive stores products the user chose to invest instead of buy
type ProductArchive interface {
	SaveProduct(ctx context.Context, uid, idToken string, product ProductData) error
}

// PopupOpener opens the extension popup window (host action API)
type PopupOpener interface {
	OpenPopup(ctx context.Context, tabID string) error
}
