package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/infrastructure/cache"
	"github.com/hesto/backend/internal/logging"
)

const maxAttempts = 3

// Config locates the hosted identity and document APIs
type Config struct {
	APIKey            string        `mapstructure:"api_key"`
	AuthURL           string        `mapstructure:"auth_url"`
	DatabaseURL       string        `mapstructure:"database_url"`
	ProjectID         string        `mapstructure:"project_id"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
	ProfileCacheTTL   time.Duration `mapstructure:"profile_cache_ttl"` // zero disables the cache
}

// Client talks to the hosted identity provider (password sign-in) and its
// document database (user profiles, archived products)
type Client struct {
	httpClient  *http.Client
	cfg         Config
	rateLimiter *rate.Limiter
	profiles    *cache.MemoryCache[domain.Profile]
	debug       bool
	now         func() time.Time
	log         *logrus.Entry
}

// NewClient creates a new identity API client
func NewClient(cfg Config) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:         cfg,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		now:         time.Now,
		log:         logging.NewLogger("identity"),
	}
	if cfg.ProfileCacheTTL > 0 {
		c.profiles = cache.NewMemoryCache[domain.Profile](0)
	}
	return c
}

// Close releases the profile cache
func (c *Client) Close() {
	if c.profiles != nil {
		c.profiles.Close()
	}
}

// SetDebug enables logging of response bodies
func (c *Client) SetDebug(debug bool) {
	c.debug = debug
}

// exponentialBackoff returns the wait before retrying attempt
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(500*(1<<(attempt-1))) * time.Millisecond
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignIn implements domain.IdentityProvider
func (c *Client) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	payload, err := json.Marshal(signInRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Add("key", c.cfg.APIKey)
	reqURL := fmt.Sprintf("%s/v1/accounts:signInWithPassword?%s", c.cfg.AuthURL, params.Encode())

	status, body, err := c.do(ctx, http.MethodPost, reqURL, "", payload)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusOK:
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)
		c.log.WithField("reason", apiErr.Error.Message).Info("Sign-in rejected")
		return nil, domain.ErrInvalidCredentials
	default:
		return nil, errors.Wrapf(domain.ErrIdentityAPIFailure, "sign-in status %d", status)
	}

	var resp signInResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "decode sign-in response")
	}
	if resp.LocalID == "" || resp.IDToken == "" {
		return nil, errors.Wrap(domain.ErrIdentityAPIFailure, "sign-in response without session")
	}

	return &domain.Session{
		UID:          resp.LocalID,
		Email:        resp.Email,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// LookupProfile implements domain.IdentityProvider
func (c *Client) LookupProfile(ctx context.Context, uid, idToken string) (*domain.Profile, error) {
	// keyed by token too, so a new sign-in always reaches the API
	cacheKey := uid + "|" + idToken
	if c.profiles != nil {
		if cached, err := c.profiles.Get(ctx, cacheKey); err == nil {
			c.log.WithField("uid", uid).Debug("Profile cache hit")
			return &cached, nil
		}
	}

	reqURL := fmt.Sprintf("%s/users/%s", c.documentsURL(), url.PathEscape(uid))

	status, body, err := c.do(ctx, http.MethodGet, reqURL, idToken, nil)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, domain.ErrProfileNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, errors.Wrap(domain.ErrNotLoggedIn, "session rejected by document API")
	default:
		return nil, errors.Wrapf(domain.ErrIdentityAPIFailure, "profile status %d", status)
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Wrap(err, "decode profile document")
	}
	profile, err := MapToProfile(uid, &doc)
	if err != nil {
		return nil, err
	}

	if c.profiles != nil {
		if err := c.profiles.Set(ctx, cacheKey, *profile, c.cfg.ProfileCacheTTL); err != nil {
			c.log.WithError(err).Warn("Failed to cache profile")
		}
	}
	return profile, nil
}

// SaveProduct implements domain.ProductArchive
func (c *Client) SaveProduct(ctx context.Context, uid, idToken string, product domain.ProductData) error {
	payload, err := json.Marshal(document{Fields: MapProductFields(product, c.now())})
	if err != nil {
		return err
	}
	reqURL := fmt.Sprintf("%s/userData/%s/products", c.documentsURL(), url.PathEscape(uid))

	status, _, err := c.do(ctx, http.MethodPost, reqURL, idToken, payload)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		c.log.WithField("uid", uid).Debug("Product archived")
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Wrap(domain.ErrNotLoggedIn, "session rejected by document API")
	default:
		return errors.Wrapf(domain.ErrIdentityAPIFailure, "archive status %d", status)
	}
}

func (c *Client) documentsURL() string {
	return fmt.Sprintf("%s/v1/projects/%s/databases/(default)/documents", c.cfg.DatabaseURL, c.cfg.ProjectID)
}

// do executes a request with rate limiting, retrying transport errors, 429
// and 5xx responses. Other statuses are returned to the caller.
func (c *Client) do(ctx context.Context, method, reqURL, bearer string, payload []byte) (int, []byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return 0, nil, errors.Wrapf(domain.ErrRateLimited, "limiter: %v", err)
		}

		status, body, err := c.doRequest(ctx, method, reqURL, bearer, payload)
		if err == nil && status != http.StatusTooManyRequests && status < http.StatusInternalServerError {
			if c.debug {
				c.log.WithFields(logrus.Fields{"status": status, "body": string(body)}).Debug("Identity API response")
			}
			return status, body, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = errors.Wrapf(domain.ErrIdentityAPIFailure, "status %d", status)
		}
		c.log.WithError(lastErr).WithField("attempt", attempt).Warn("Identity API request failed")

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(exponentialBackoff(attempt)):
		}
	}
	return 0, nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, method, reqURL, bearer string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return 0, nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", "Hesto/1.0")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(domain.ErrIdentityAPIFailure, "transport: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Wrapf(domain.ErrIdentityAPIFailure, "reading body: %v", err)
	}
	return resp.StatusCode, body, nil
}
