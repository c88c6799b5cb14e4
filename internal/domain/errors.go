package domain

import "github.com/go-faster/errors"

var (
	// ErrInvalidState is returned when an app state value is not idle/detected
	ErrInvalidState = errors.New("invalid app state")

	// ErrInvalidMessage is returned when a wire message cannot be decoded
	ErrInvalidMessage = errors.New("invalid message")

	// ErrUnknownKey is returned for store keys outside the fixed key set
	ErrUnknownKey = errors.New("unknown store key")

	// ErrNotKeyOwner is returned when a context writes a key it does not own
	ErrNotKeyOwner = errors.New("origin does not own store key")

	// ErrStoreClosed is returned after the store has been closed
	ErrStoreClosed = errors.New("state store closed")

	// ErrContextInvalidated is returned when the sending context was torn down
	ErrContextInvalidated = errors.New("extension context invalidated")

	// ErrNoReceiver is returned when nothing listens at the destination
	ErrNoReceiver = errors.New("could not establish connection: receiving end does not exist")

	// ErrInboxFull is returned when the destination event loop is saturated
	ErrInboxFull = errors.New("receiver inbox full")

	// ErrNoHandler is returned when the destination has no handler for the kind
	ErrNoHandler = errors.New("no handler for message kind")

	// ErrPortClosed is returned when posting on a disconnected port
	ErrPortClosed = errors.New("attempting to use a disconnected port")

	// ErrInvalidCredentials is returned when the identity provider rejects a sign-in
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrProfileNotFound is returned when the signed-in user has no profile document
	ErrProfileNotFound = errors.New("user profile not found")

	// ErrIdentityAPIFailure is returned when the identity REST API fails
	ErrIdentityAPIFailure = errors.New("identity API request failed")

	// ErrNotLoggedIn is returned when an operation needs a signed-in user
	ErrNotLoggedIn = errors.New("user is not logged in")

	// ErrTargetNotFound is returned when the click selector matches nothing
	ErrTargetNotFound = errors.New("click target not found in page")

	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrRateLimited is returned when rate limit is exceeded
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNoProduct is returned when the popup has no product to act on
	ErrNoProduct = errors.New("no detected product")

	// ErrCacheMiss is returned when a key is not found in cache
	ErrCacheMiss = errors.New("cache miss")
)
