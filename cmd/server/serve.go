package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hesto/backend/config"
	httpDelivery "github.com/hesto/backend/internal/delivery/http"
	"github.com/hesto/backend/internal/dom"
	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/infrastructure/identity"
	"github.com/hesto/backend/internal/infrastructure/store"
	"github.com/hesto/backend/internal/logging"
	"github.com/hesto/backend/internal/messaging"
	"github.com/hesto/backend/internal/usecase"
)

const shutdownTimeout = 5 * time.Second

type closableStore interface {
	domain.StateStore
	io.Closer
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the extension contexts behind the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func openStore(cfg config.StoreConfig) (closableStore, error) {
	if cfg.Type == "file" {
		return store.NewFileStore(cfg.Path)
	}
	return store.NewMemoryStore(), nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	logging.Configure(cfg.Logging)
	log := logging.NewLogger("main")

	log.Infof("Starting Hesto Backend v%s", version)
	log.WithFields(logrus.Fields{
		"environment": cfg.Server.Environment,
		"port":        cfg.Server.Port,
		"store":       cfg.Store.Type,
	}).Info("Configuration loaded")

	st, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer st.Close()

	bus := messaging.NewBus(cfg.Messaging.InboxSize)
	defer bus.Close()

	opener := usecase.NewShimPopupOpener()
	defer opener.Close()
	background := usecase.NewLifecycleCoordinator(bus, st, opener)
	defer background.Close()

	classifier, err := usecase.NewDefaultIntentClassifier()
	if err != nil {
		return fmt.Errorf("failed to build intent classifier: %w", err)
	}
	extractor, err := usecase.NewProductExtractor(cfg.Extraction.Strategies)
	if err != nil {
		return fmt.Errorf("failed to build product extractor: %w", err)
	}
	contentCfg := usecase.ContentConfig{
		RequireLogin: cfg.Detection.RequireLogin,
		Overlay:      dom.NewOverlay(cfg.Overlay.ID, cfg.Overlay.DimAmount),
	}
	scripts := usecase.NewContentScripts(func(tabID string) *usecase.ContentScript {
		return usecase.NewContentScript(tabID, bus, st, classifier, extractor, contentCfg)
	})
	defer scripts.Close()

	var (
		auth    *usecase.AuthService
		archive domain.ProductArchive
	)
	if cfg.Identity.Enabled() {
		client := identity.NewClient(identity.Config(cfg.Identity))
		defer client.Close()
		if cfg.Server.Environment == "development" {
			client.SetDebug(true)
			log.Info("Identity client debug mode enabled")
		}
		auth = usecase.NewAuthService(client, st)
		archive = client

		if state, err := auth.Revalidate(ctx); err != nil {
			log.WithError(err).Warn("Could not revalidate stored session")
		} else {
			log.WithField("logged_in", state.IsLoggedIn).Info("Stored session checked")
		}
	} else {
		log.Warn("Identity provider not configured: sign-in disabled")
		if cfg.Detection.RequireLogin {
			log.Warn("Detection requires login, so no popup will open until sign-in is configured")
		}
	}

	seed, err := decimal.NewFromString(cfg.Popup.InvestedSeed)
	if err != nil {
		return fmt.Errorf("invalid popup invested_seed: %w", err)
	}
	popups := usecase.NewPopupService(bus, st, archive, usecase.PopupConfig{
		GrowthRate:       cfg.Popup.GrowthRate,
		GrowthYears:      cfg.Popup.GrowthYears,
		InvestedSeed:     seed,
		CountdownSeconds: cfg.Popup.CountdownSeconds,
		Tick:             cfg.Popup.Tick,
		RedirectURL:      cfg.Popup.RedirectURL,
	})

	handler := httpDelivery.NewHandler(httpDelivery.Services{
		Scripts: scripts,
		Popups:  popups,
		Auth:    auth,
		Opener:  opener,
		Store:   st,
	}, cfg.Server.AllowedOrigins)
	router := httpDelivery.SetupRouter(cfg, handler)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server shutdown incomplete")
	}
	return nil
}
