package identity

import (
	"strconv"
	"strings"
	"time"

	"github.com/hesto/backend/internal/domain"
)

// value is one typed field of a database document
type value struct {
	StringValue    *string  `json:"stringValue,omitempty"`
	DoubleValue    *float64 `json:"doubleValue,omitempty"`
	IntegerValue   *string  `json:"integerValue,omitempty"`
	TimestampValue *string  `json:"timestampValue,omitempty"`
	NullValue      *string  `json:"nullValue,omitempty"`
}

type document struct {
	Name   string           `json:"name,omitempty"`
	Fields map[string]value `json:"fields"`
}

func stringValue(s *string) value {
	if s == nil {
		return nullValue()
	}
	return value{StringValue: s}
}

func nullValue() value {
	null := "NULL_VALUE"
	return value{NullValue: &null}
}

// MapToProfile converts a users/{uid} document to a domain profile. A
// document without a name is treated as a missing profile.
func MapToProfile(uid string, doc *document) (*domain.Profile, error) {
	name := strings.TrimSpace(fieldString(doc.Fields["name"]))
	if name == "" {
		return nil, domain.ErrProfileNotFound
	}
	return &domain.Profile{
		UID:   uid,
		Name:  name,
		Email: fieldString(doc.Fields["email"]),
	}, nil
}

// MapProductFields renders an archived product with its save date
func MapProductFields(p domain.ProductData, savedAt time.Time) map[string]value {
	date := savedAt.UTC().Format(time.RFC3339Nano)
	fields := map[string]value{
		"name":         stringValue(p.Name),
		"currency":     stringValue(p.Currency),
		"url":          stringValue(p.URL),
		"image":        stringValue(p.Image),
		"description":  stringValue(p.Description),
		"availability": stringValue(p.Availability),
		"date":         {TimestampValue: &date},
	}
	if p.Price != nil {
		price := *p.Price
		fields["price"] = value{DoubleValue: &price}
	} else {
		fields["price"] = nullValue()
	}
	return fields
}

func fieldString(v value) string {
	switch {
	case v.StringValue != nil:
		return *v.StringValue
	case v.IntegerValue != nil:
		return *v.IntegerValue
	case v.DoubleValue != nil:
		return strconv.FormatFloat(*v.DoubleValue, 'f', -1, 64)
	default:
		return ""
	}
}
