package usecase

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/logging"
)

// keyWriters assigns each store key to the contexts allowed to write it
var keyWriters = map[domain.StoreKey][]domain.Origin{
	domain.KeyPopupData:     {domain.OriginContent, domain.OriginBackground},
	domain.KeyAppState:      {domain.OriginContent, domain.OriginBackground},
	domain.KeyProductData:   {domain.OriginContent},
	domain.KeyAuthState:     {domain.OriginAuth},
	domain.KeyUserInfo:      {domain.OriginAuth},
	domain.KeyTotalInvested: {domain.OriginPopup},
}

// StateService is the typed view one context has of the shared store.
// Every write is tagged with the context's origin and checked against the
// key's writers.
type StateService struct {
	store  domain.StateStore
	origin domain.Origin
	log    *logrus.Entry
}

// NewStateService binds the store to the calling context
func NewStateService(store domain.StateStore, origin domain.Origin) *StateService {
	return &StateService{
		store:  store,
		origin: origin,
		log:    logging.NewLogger("store").WithField("origin", origin),
	}
}

// Origin returns the context this view writes as
func (s *StateService) Origin() domain.Origin {
	return s.origin
}

// PopupData returns the consolidated state, falling back to the legacy
// appState/productData keys when popupData was never written.
func (s *StateService) PopupData(ctx context.Context) (domain.PopupData, error) {
	values, err := s.store.Get(ctx, domain.KeyPopupData, domain.KeyAppState, domain.KeyProductData)
	if err != nil {
		return domain.PopupData{}, err
	}

	var data domain.PopupData
	if raw, ok := values[domain.KeyPopupData]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &data); err != nil {
			return domain.PopupData{}, errors.Wrap(err, "decode popup data")
		}
		return data, nil
	}

	if raw, ok := values[domain.KeyAppState]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &data.State); err != nil {
			return domain.PopupData{}, err
		}
	}
	if raw, ok := values[domain.KeyProductData]; ok && !isNull(raw) {
		var product domain.ProductData
		if err := json.Unmarshal(raw, &product); err != nil {
			return domain.PopupData{}, errors.Wrap(err, "decode product data")
		}
		data.Product = &product
	}
	return data, nil
}

// AppState returns the current global state
func (s *StateService) AppState(ctx context.Context) (domain.AppState, error) {
	data, err := s.PopupData(ctx)
	if err != nil {
		return domain.AppStateIdle, err
	}
	return data.State, nil
}

// MarkDetected publishes the product and the Detected state in one write
func (s *StateService) MarkDetected(ctx context.Context, product domain.ProductData) error {
	if s.origin != domain.OriginContent {
		return errors.Wrapf(domain.ErrNotKeyOwner, "%s cannot publish detections", s.origin)
	}

	data := domain.PopupData{State: domain.AppStateDetected, Product: &product}
	err := s.set(ctx, map[domain.StoreKey]any{
		domain.KeyPopupData:   data,
		domain.KeyAppState:    data.State,
		domain.KeyProductData: product,
	})
	if err != nil {
		return err
	}

	s.log.WithField("product", domain.Deref(product.Name)).Info("State set to detected")
	return nil
}

// MarkIdle resets the state after the popup went away. The last product is
// kept until the next detection overwrites it.
func (s *StateService) MarkIdle(ctx context.Context) error {
	if s.origin != domain.OriginBackground {
		return errors.Wrapf(domain.ErrNotKeyOwner, "%s cannot reset the popup state", s.origin)
	}

	current, err := s.PopupData(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Could not read popup data before reset")
	}
	data := domain.PopupData{State: domain.AppStateIdle, Product: current.Product}

	if err := s.set(ctx, map[domain.StoreKey]any{
		domain.KeyPopupData: data,
		domain.KeyAppState:  data.State,
	}); err != nil {
		return err
	}

	s.log.Info("State set to idle")
	return nil
}

// AuthState returns the mirrored session, logged out when never written
func (s *StateService) AuthState(ctx context.Context) (domain.AuthState, error) {
	var state domain.AuthState
	_, err := s.decode(ctx, domain.KeyAuthState, &state)
	return state, err
}

// UserInfo returns the signed-in user's profile, or nil
func (s *StateService) UserInfo(ctx context.Context) (*domain.UserInformation, error) {
	var info domain.UserInformation
	found, err := s.decode(ctx, domain.KeyUserInfo, &info)
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

// SetAuth mirrors the identity session into the store. A nil user clears userInfo.
func (s *StateService) SetAuth(ctx context.Context, state domain.AuthState, user *domain.UserInformation) error {
	return s.set(ctx, map[domain.StoreKey]any{
		domain.KeyAuthState: state,
		domain.KeyUserInfo:  user,
	})
}

// TotalInvested returns the running simulated total, or seed when unset
func (s *StateService) TotalInvested(ctx context.Context, seed decimal.Decimal) (decimal.Decimal, error) {
	var total decimal.Decimal
	found, err := s.decode(ctx, domain.KeyTotalInvested, &total)
	if err != nil {
		return seed, err
	}
	if !found {
		return seed, nil
	}
	return total, nil
}

// AddInvested adds amount to the running total and returns the new total
func (s *StateService) AddInvested(ctx context.Context, amount, seed decimal.Decimal) (decimal.Decimal, error) {
	total, err := s.TotalInvested(ctx, seed)
	if err != nil {
		return total, err
	}
	total = total.Add(amount).Round(2)
	if err := s.set(ctx, map[domain.StoreKey]any{domain.KeyTotalInvested: total}); err != nil {
		return total, err
	}
	return total, nil
}

// Subscribe forwards store changes to listener; call the result on teardown
func (s *StateService) Subscribe(listener domain.ChangeListener) func() {
	return s.store.Subscribe(listener)
}

func (s *StateService) set(ctx context.Context, values map[domain.StoreKey]any) error {
	for key := range values {
		if !canWrite(key, s.origin) {
			return errors.Wrapf(domain.ErrNotKeyOwner, "%s cannot write %s", s.origin, key)
		}
	}
	return s.store.Set(ctx, s.origin, values)
}

func (s *StateService) decode(ctx context.Context, key domain.StoreKey, dst any) (bool, error) {
	values, err := s.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	raw, ok := values[key]
	if !ok || isNull(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, errors.Wrapf(err, "decode %s", key)
	}
	return true, nil
}

func canWrite(key domain.StoreKey, origin domain.Origin) bool {
	for _, o := range keyWriters[key] {
		if o == origin {
			return true
		}
	}
	return false
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
