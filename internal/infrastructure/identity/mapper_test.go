package identity

import (
	"testing"
	"time"

	"github.com/hesto/backend/internal/domain"
)

func TestMapToProfile(t *testing.T) {
	name := "  Jane Doe "
	email := "jane@example.com"
	count := "42"

	tests := []struct {
		name     string
		doc      document
		wantName string
		wantErr  bool
	}{
		{
			name:     "trimmed name",
			doc:      document{Fields: map[string]value{"name": {StringValue: &name}, "email": {StringValue: &email}}},
			wantName: "Jane Doe",
		},
		{
			name:     "integer name is rendered",
			doc:      document{Fields: map[string]value{"name": {IntegerValue: &count}}},
			wantName: "42",
		},
		{
			name:    "no fields",
			doc:     document{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile, err := MapToProfile("uid-1", &tt.doc)
			if tt.wantErr {
				if err != domain.ErrProfileNotFound {
					t.Errorf("MapToProfile() error = %v, want ErrProfileNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("MapToProfile() unexpected error: %v", err)
			}
			if profile.Name != tt.wantName {
				t.Errorf("MapToProfile() name = %q, want %q", profile.Name, tt.wantName)
			}
			if profile.UID != "uid-1" {
				t.Errorf("MapToProfile() uid = %q, want uid-1", profile.UID)
			}
		})
	}
}

func TestMapProductFields(t *testing.T) {
	savedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	product := domain.ProductData{
		Name:     domain.StringPtr("Widget"),
		Currency: domain.StringPtr("EUR"),
	}

	fields := MapProductFields(product, savedAt)

	if got := fields["name"].StringValue; got == nil || *got != "Widget" {
		t.Errorf("name = %v, want Widget", got)
	}
	if got := fields["currency"].StringValue; got == nil || *got != "EUR" {
		t.Errorf("currency = %v, want EUR", got)
	}
	if fields["price"].NullValue == nil {
		t.Error("missing price should be a null value")
	}
	if fields["url"].NullValue == nil {
		t.Error("missing url should be a null value")
	}
	if got := fields["date"].TimestampValue; got == nil || *got != "2026-01-02T02:04:05Z" {
		t.Errorf("date = %v, want UTC timestamp", got)
	}
}
