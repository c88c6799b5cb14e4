package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/logging"
)

// Messages surfaced to the user through authState.error
const (
	MsgInvalidCredentials = "Invalid email or password. Please try again."
	MsgIncompleteProfile  = "account profile is incomplete"
	MsgSignInFailed       = "Sign-in failed. Please try again later."
)

// AuthService mirrors the hosted identity session into the shared store.
// It is the only writer of authState and userInfo.
type AuthService struct {
	provider domain.IdentityProvider
	state    *StateService
	log      *logrus.Entry
}

// NewAuthService creates an auth service over the identity provider
func NewAuthService(provider domain.IdentityProvider, store domain.StateStore) *AuthService {
	return &AuthService{
		provider: provider,
		state:    NewStateService(store, domain.OriginAuth),
		log:      logging.NewLogger("auth"),
	}
}

// State returns the mirrored session
func (a *AuthService) State(ctx context.Context) (domain.AuthState, error) {
	return a.state.AuthState(ctx)
}

// Login signs in and loads the profile. Rejected credentials and a missing
// profile are reported through the returned state, not as errors. Any profile
// lookup failure ends the session; only a missing profile is reported as
// incomplete.
func (a *AuthService) Login(ctx context.Context, req domain.LoginRequest) (domain.AuthState, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return domain.AuthState{}, fmt.Errorf("%w: email and password are required", domain.ErrInvalidRequest)
	}

	if err := a.state.SetAuth(ctx, domain.AuthState{Pending: true}, nil); err != nil {
		return domain.AuthState{}, err
	}

	session, err := a.provider.SignIn(ctx, email, req.Password)
	if err != nil {
		msg := MsgSignInFailed
		if errors.Is(err, domain.ErrInvalidCredentials) {
			msg = MsgInvalidCredentials
		}
		a.log.WithError(err).WithField("email", email).Warn("Sign-in failed")
		return a.fail(ctx, msg)
	}

	profile, err := a.provider.LookupProfile(ctx, session.UID, session.IDToken)
	if err != nil {
		msg := MsgSignInFailed
		if errors.Is(err, domain.ErrProfileNotFound) {
			msg = MsgIncompleteProfile
		}
		a.log.WithError(err).WithField("uid", session.UID).Error("Profile lookup failed, signing out")
		return a.fail(ctx, msg)
	}

	state := domain.AuthState{
		IsLoggedIn: true,
		Token:      domain.StringPtr(session.IDToken),
		UID:        domain.StringPtr(session.UID),
	}
	if err := a.state.SetAuth(ctx, state, userInfoFromProfile(profile, session)); err != nil {
		return domain.AuthState{}, err
	}

	a.log.WithField("uid", session.UID).Info("User signed in")
	return state, nil
}

// Logout resets the session to logged out
func (a *AuthService) Logout(ctx context.Context) (domain.AuthState, error) {
	state := domain.AuthState{}
	if err := a.state.SetAuth(ctx, state, nil); err != nil {
		return state, err
	}
	a.log.Info("User signed out")
	return state, nil
}

// Revalidate re-reads the profile of the current session, as on extension
// startup. A session whose profile is gone is signed out.
func (a *AuthService) Revalidate(ctx context.Context) (domain.AuthState, error) {
	current, err := a.state.AuthState(ctx)
	if err != nil {
		return current, err
	}
	if !current.IsLoggedIn || current.UID == nil || current.Token == nil {
		return current, nil
	}

	profile, err := a.provider.LookupProfile(ctx, *current.UID, *current.Token)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityAPIFailure) || errors.Is(err, domain.ErrRateLimited) {
			// transient; keep the session
			a.log.WithError(err).Warn("Could not revalidate session")
			return current, nil
		}
		a.log.WithError(err).WithField("uid", *current.UID).Warn("Session no longer valid, signing out")
		return a.fail(ctx, MsgIncompleteProfile)
	}

	session := &domain.Session{UID: *current.UID, IDToken: *current.Token}
	if err := a.state.SetAuth(ctx, current, userInfoFromProfile(profile, session)); err != nil {
		return current, err
	}
	return current, nil
}

func (a *AuthService) fail(ctx context.Context, msg string) (domain.AuthState, error) {
	state := domain.AuthState{Error: domain.StringPtr(msg)}
	if err := a.state.SetAuth(ctx, state, nil); err != nil {
		return state, err
	}
	return state, nil
}

func userInfoFromProfile(p *domain.Profile, s *domain.Session) *domain.UserInformation {
	email := p.Email
	if email == "" {
		email = s.Email
	}
	return &domain.UserInformation{
		UID:   domain.StringPtr(s.UID),
		Name:  domain.StringPtr(p.Name),
		Email: domain.StringPtr(email),
	}
}
