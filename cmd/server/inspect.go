package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hesto/backend/internal/dom"
	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/infrastructure/store"
	"github.com/hesto/backend/internal/messaging"
	"github.com/hesto/backend/internal/usecase"
)

// newInspectCmd runs detection against a saved page, without a server
func newInspectCmd() *cobra.Command {
	var (
		pageURL    string
		target     string
		strategies []string
	)

	cmd := &cobra.Command{
		Use:   "inspect <html-file>",
		Short: "Classify a click on a saved page and print what was detected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read page: %w", err)
			}
			result, err := inspect(cmd.Context(), domain.ClickEvent{
				TabID:  "inspect",
				URL:    pageURL,
				HTML:   string(raw),
				Target: target,
			}, strategies)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&pageURL, "url", "https://example.com/", "URL the page was saved from")
	cmd.Flags().StringVar(&target, "target", "button", "CSS selector of the clicked element")
	cmd.Flags().StringSliceVar(&strategies, "strategies", nil, "extraction strategy order (site, jsonld)")
	return cmd
}

func inspect(ctx context.Context, click domain.ClickEvent, strategies []string) (*domain.DetectionResult, error) {
	st := store.NewMemoryStore()
	defer st.Close()
	bus := messaging.NewBus(0)
	defer bus.Close()

	classifier, err := usecase.NewDefaultIntentClassifier()
	if err != nil {
		return nil, err
	}
	extractor, err := usecase.NewProductExtractor(strategies)
	if err != nil {
		return nil, err
	}
	script := usecase.NewContentScript(click.TabID, bus, st, classifier, extractor, usecase.ContentConfig{
		Overlay: dom.NewOverlay("", 0),
	})
	defer script.Close()

	return script.HandleClick(ctx, click)
}
