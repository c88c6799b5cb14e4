package usecase

import (
	"context"
	"sync"
	"testing"

	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/infrastructure/store"
)

// MockIdentityProvider is a mock implementation of domain.IdentityProvider
type MockIdentityProvider struct {
	session      *domain.Session
	signInError  error
	profile      *domain.Profile
	profileError error

	mu            sync.Mutex
	signInCalls   int
	profileCalled bool
}

func NewMockIdentityProvider() *MockIdentityProvider {
	return &MockIdentityProvider{
		session: &domain.Session{UID: "uid-1", Email: "jane@example.com", IDToken: "token-1"},
		profile: &domain.Profile{UID: "uid-1", Name: "Jane Doe", Email: "jane@example.com"},
	}
}

func (m *MockIdentityProvider) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	m.mu.Lock()
	m.signInCalls++
	m.mu.Unlock()
	if m.signInError != nil {
		return nil, m.signInError
	}
	return m.session, nil
}

func (m *MockIdentityProvider) LookupProfile(ctx context.Context, uid, idToken string) (*domain.Profile, error) {
	m.mu.Lock()
	m.profileCalled = true
	m.mu.Unlock()
	if m.profileError != nil {
		return nil, m.profileError
	}
	return m.profile, nil
}

// MockProductArchive records archived products
type MockProductArchive struct {
	mu      sync.Mutex
	saved   []domain.ProductData
	uids    []string
	saveErr error
}

func (m *MockProductArchive) SaveProduct(ctx context.Context, uid, idToken string, product domain.ProductData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, product)
	m.uids = append(m.uids, uid)
	return nil
}

func (m *MockProductArchive) Saved() []domain.ProductData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ProductData(nil), m.saved...)
}

// MockPopupOpener records open requests
type MockPopupOpener struct {
	mu      sync.Mutex
	tabs    []string
	openErr error
}

func (m *MockPopupOpener) OpenPopup(ctx context.Context, tabID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.tabs = append(m.tabs, tabID)
	return nil
}

func (m *MockPopupOpener) Opened() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tabs...)
}

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func signIn(t *testing.T, s domain.StateStore) {
	t.Helper()
	state := NewStateService(s, domain.OriginAuth)
	err := state.SetAuth(context.Background(),
		domain.AuthState{IsLoggedIn: true, UID: domain.StringPtr("uid-1"), Token: domain.StringPtr("token-1")},
		&domain.UserInformation{UID: domain.StringPtr("uid-1"), Name: domain.StringPtr("Jane Doe")},
	)
	if err != nil {
		t.Fatalf("SetAuth() unexpected error: %v", err)
	}
}
