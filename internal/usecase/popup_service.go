package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/logging"
	"github.com/hesto/backend/internal/messaging"
)

// DecisionInvest is the only decision the popup records
const DecisionInvest = "invest"

// PopupConfig drives the numbers shown in the popup
type PopupConfig struct {
	GrowthRate       float64
	GrowthYears      int
	InvestedSeed     decimal.Decimal
	CountdownSeconds int
	Tick             time.Duration
	RedirectURL      string
}

// DefaultPopupConfig matches the production popup
func DefaultPopupConfig() PopupConfig {
	return PopupConfig{
		GrowthRate:       0.105,
		GrowthYears:      15,
		InvestedSeed:     decimal.RequireFromString("2571.92"),
		CountdownSeconds: 10,
		Tick:             time.Second,
		RedirectURL:      "https://hesto.io",
	}
}

// PopupView is what the popup renders
type PopupView struct {
	State           domain.AppState     `json:"state"`
	UserName        string              `json:"userName,omitempty"`
	Product         *domain.ProductData `json:"product,omitempty"`
	PurchasePrice   *float64            `json:"purchasePrice,omitempty"`
	PurchaseAmount  string              `json:"purchaseAmount,omitempty"`
	Growth          *float64            `json:"growth,omitempty"`
	PotentialGrowth string              `json:"potentialGrowth,omitempty"`
	TotalInvested   string              `json:"totalInvested"`
	Decision        string              `json:"decision,omitempty"`
	Countdown       *int                `json:"countdown,omitempty"`
	RedirectURL     string              `json:"redirectUrl,omitempty"`
	Closed          bool                `json:"closed"`
}

// PopupService mounts the popup context. The host shows at most one popup,
// so mounting closes any previous session.
type PopupService struct {
	bus     *messaging.Bus
	store   domain.StateStore
	archive domain.ProductArchive
	cfg     PopupConfig

	mu      sync.Mutex
	current *PopupSession

	log *logrus.Entry
}

// NewPopupService creates the popup context factory. archive may be nil.
func NewPopupService(bus *messaging.Bus, store domain.StateStore, archive domain.ProductArchive, cfg PopupConfig) *PopupService {
	if cfg.GrowthYears <= 0 {
		cfg.GrowthYears = 15
	}
	if cfg.GrowthRate <= 0 {
		cfg.GrowthRate = 0.105
	}
	if cfg.CountdownSeconds <= 0 {
		cfg.CountdownSeconds = 10
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &PopupService{
		bus:     bus,
		store:   store,
		archive: archive,
		cfg:     cfg,
		log:     logging.NewLogger("popup"),
	}
}

// Snapshot renders the view a popup would show right now, without mounting
func (p *PopupService) Snapshot(ctx context.Context) (PopupView, error) {
	state := NewStateService(p.store, domain.OriginPopup)
	return p.render(ctx, state)
}

// Current returns the mounted session, or nil
func (p *PopupService) Current() *PopupSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Mount reads the current state, then opens the lifecycle connection to the
// background context and subscribes to store changes.
func (p *PopupService) Mount(ctx context.Context) (*PopupSession, error) {
	p.mu.Lock()
	previous := p.current
	p.current = nil
	p.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	state := NewStateService(p.store, domain.OriginPopup)
	view, err := p.render(ctx, state)
	if err != nil {
		return nil, err
	}

	s := &PopupSession{
		svc:      p,
		state:    state,
		endpoint: p.bus.Register(messaging.PopupEndpoint),
		views:    NewBroadcaster[PopupView](16),
		view:     view,
		done:     make(chan struct{}),
		log:      p.log,
	}

	port, err := s.endpoint.Connect(messaging.BackgroundEndpoint, domain.PortPopupLifecycle)
	if err != nil {
		// without a background context nobody can observe the close
		p.log.WithError(err).Warn("Popup mounted without lifecycle connection")
	}
	s.port = port

	s.unsubscribe = p.store.Subscribe(s.onStoreChange)

	p.mu.Lock()
	p.current = s
	p.mu.Unlock()

	p.log.WithField("state", view.State).Info("Popup mounted")
	return s, nil
}

func (p *PopupService) render(ctx context.Context, state *StateService) (PopupView, error) {
	data, err := state.PopupData(ctx)
	if err != nil {
		return PopupView{}, err
	}
	user, err := state.UserInfo(ctx)
	if err != nil {
		p.log.WithError(err).Warn("Could not read user info")
	}
	total, err := state.TotalInvested(ctx, p.cfg.InvestedSeed)
	if err != nil {
		p.log.WithError(err).Warn("Could not read total invested")
	}

	view := PopupView{
		State:         data.State,
		UserName:      user.FirstName(),
		TotalInvested: FormatUSD(total),
	}
	if data.State == domain.AppStateDetected && data.Product != nil {
		view.Product = data.Product
		if data.Product.Price != nil && *data.Product.Price > 0 {
			p.applyPrice(&view, *data.Product.Price)
		}
	}
	return view, nil
}

func (p *PopupService) applyPrice(view *PopupView, price float64) {
	amount := decimal.NewFromFloat(price)
	growth := amount.Mul(p.GrowthFactor())
	growthF, _ := growth.Float64()

	view.PurchasePrice = &price
	view.PurchaseAmount = FormatUSD(amount)
	view.Growth = &growthF
	view.PotentialGrowth = FormatUSD(growth)
}

// GrowthFactor is (1 + rate)^years
func (p *PopupService) GrowthFactor() decimal.Decimal {
	return decimal.NewFromFloat(1 + p.cfg.GrowthRate).Pow(decimal.NewFromInt(int64(p.cfg.GrowthYears)))
}

func (p *PopupService) release(s *PopupSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == s {
		p.current = nil
	}
}

// PopupSession is one mounted popup window
type PopupSession struct {
	svc         *PopupService
	state       *StateService
	endpoint    *messaging.Endpoint
	port        *messaging.Port
	unsubscribe func()
	views       *Broadcaster[PopupView]

	mu        sync.Mutex
	view      PopupView
	timer     *time.Timer
	investing bool
	closed    bool
	done      chan struct{}

	log *logrus.Entry
}

// View returns the latest rendered view
func (s *PopupSession) View() PopupView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Updates streams every re-rendered view until the session closes
func (s *PopupSession) Updates() (<-chan PopupView, func()) {
	return s.views.Subscribe()
}

// Done is closed when the popup closes
func (s *PopupSession) Done() <-chan struct{} {
	return s.done
}

// Invest records the simulated investment, archives the product for the
// signed-in user and starts the redirect countdown.
func (s *PopupSession) Invest(ctx context.Context) (PopupView, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return PopupView{}, domain.ErrPortClosed
	}
	// a second click while the first is being recorded is a no-op
	if s.view.Decision == DecisionInvest || s.investing {
		view := s.view
		s.mu.Unlock()
		return view, nil
	}
	if s.view.State != domain.AppStateDetected || s.view.PurchasePrice == nil {
		s.mu.Unlock()
		return PopupView{}, domain.ErrNoProduct
	}
	s.investing = true
	price := *s.view.PurchasePrice
	product := *s.view.Product
	s.mu.Unlock()

	total, err := s.state.AddInvested(ctx, decimal.NewFromFloat(price), s.svc.cfg.InvestedSeed)
	if err != nil {
		s.mu.Lock()
		s.investing = false
		s.mu.Unlock()
		return PopupView{}, fmt.Errorf("failed to record investment: %w", err)
	}
	s.archive(ctx, product)

	s.mu.Lock()
	s.investing = false
	if s.closed {
		s.mu.Unlock()
		return PopupView{}, domain.ErrPortClosed
	}
	countdown := s.svc.cfg.CountdownSeconds
	s.view.Decision = DecisionInvest
	s.view.TotalInvested = FormatUSD(total)
	s.view.Countdown = &countdown
	s.timer = time.AfterFunc(s.svc.cfg.Tick, s.tick)
	view := s.view
	s.mu.Unlock()

	s.views.Publish(view)
	s.log.WithFields(logrus.Fields{"price": price, "total": total.String()}).Info("User chose to invest")
	return view, nil
}

// StopRedirect cancels the countdown and closes the popup
func (s *PopupSession) StopRedirect() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.view.Countdown = nil
	s.mu.Unlock()

	s.Close()
}

// Purchase is "I really want this": the popup just closes
func (s *PopupSession) Purchase() {
	s.log.Info("User chose to purchase")
	s.Close()
}

// Close unmounts the popup. Disconnecting the lifecycle port is what tells
// the background context the popup is gone.
func (s *PopupSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.view.Closed = true
	view := s.view
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.port != nil {
		s.port.Disconnect()
	}
	s.endpoint.Close()

	s.views.Publish(view)
	s.views.Close()
	s.svc.release(s)
	close(s.done)

	s.log.Info("Popup unmounted")
}

func (s *PopupSession) tick() {
	s.mu.Lock()
	if s.closed || s.view.Countdown == nil {
		s.mu.Unlock()
		return
	}
	remaining := *s.view.Countdown - 1
	s.view.Countdown = &remaining
	if remaining <= 0 {
		s.view.RedirectURL = s.svc.cfg.RedirectURL
		s.timer = nil
	} else {
		s.timer = time.AfterFunc(s.svc.cfg.Tick, s.tick)
	}
	view := s.view
	s.mu.Unlock()

	s.views.Publish(view)
	if remaining <= 0 {
		s.log.WithField("url", view.RedirectURL).Info("Redirecting")
		s.Close()
	}
}

// onStoreChange runs on the store dispatcher; rendering happens on the
// popup's own event loop.
func (s *PopupSession) onStoreChange(cs domain.ChangeSet) {
	_, popup := cs.Changes[domain.KeyPopupData]
	_, user := cs.Changes[domain.KeyUserInfo]
	if !popup && !user {
		return
	}

	err := s.endpoint.Post(func() {
		view, err := s.svc.render(s.endpoint.Context(), s.state)
		if err != nil {
			s.log.WithError(err).Warn("Failed to re-render popup")
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		// the decision and countdown belong to this session, not the store
		view.Decision = s.view.Decision
		view.Countdown = s.view.Countdown
		view.RedirectURL = s.view.RedirectURL
		if s.view.Decision == DecisionInvest {
			view.TotalInvested = s.view.TotalInvested
		}
		s.view = view
		s.mu.Unlock()

		s.views.Publish(view)
	})
	if err != nil {
		s.log.WithError(err).Debug("Dropped popup refresh")
	}
}

func (s *PopupSession) archive(ctx context.Context, product domain.ProductData) {
	if s.svc.archive == nil {
		return
	}
	auth, err := s.state.AuthState(ctx)
	if err != nil || !auth.IsLoggedIn || auth.UID == nil || auth.Token == nil {
		s.log.Debug("Skipping product archive, no signed-in user")
		return
	}
	if err := s.svc.archive.SaveProduct(ctx, *auth.UID, *auth.Token, product); err != nil {
		s.log.WithError(err).Warn("Failed to archive product")
	}
}
