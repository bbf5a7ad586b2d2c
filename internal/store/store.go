// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ashureev/quoteworks/internal/domain"
)

const (
	draftKeyPrefix        = "quote-response-draft:"
	manufacturerKeyPrefix = "manufacturer-name:"
)

// DraftStore persists at most one in-progress response per seller and quote.
type DraftStore interface {
	// LoadDraft returns the stored draft, or nil if none exists.
	LoadDraft(ctx context.Context, ref domain.DraftRef) (*domain.ResponseDraft, error)

	// SaveDraft overwrites the draft for ref and stamps UpdatedAt.
	// It returns the draft as stored.
	SaveDraft(ctx context.Context, ref domain.DraftRef, draft *domain.ResponseDraft) (*domain.ResponseDraft, error)

	// DiscardDraft removes the draft. It is a no-op if none exists.
	DiscardDraft(ctx context.Context, ref domain.DraftRef) error
}

// ManufacturerCache is the durable tier of the manufacturer-name lookup.
type ManufacturerCache interface {
	// GetManufacturerName returns the cached name and whether it was present.
	GetManufacturerName(ctx context.Context, supplierID int64) (string, bool, error)

	// PutManufacturerName stores a resolved name.
	PutManufacturerName(ctx context.Context, supplierID int64, name string) error
}

// Repository is the full persistence surface used by the server.
type Repository interface {
	DraftStore
	ManufacturerCache

	// DeleteUnownedDrafts removes drafts that carry no seller.
	DeleteUnownedDrafts(ctx context.Context) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DraftKey is the namespaced key of a seller's draft for a quote.
func DraftKey(ref domain.DraftRef) string {
	return draftKeyPrefix + strconv.FormatInt(ref.SellerID, 10) + ":" + strconv.FormatInt(int64(ref.QuoteID), 10)
}

func manufacturerKey(supplierID int64) string {
	return manufacturerKeyPrefix + strconv.FormatInt(supplierID, 10)
}

// stamp prepares a copy of draft for storage.
func stamp(ref domain.DraftRef, draft *domain.ResponseDraft, now time.Time) (*domain.ResponseDraft, error) {
	if ref.SellerID <= 0 {
		return nil, fmt.Errorf("save draft %d: missing seller", ref.QuoteID)
	}
	if draft == nil {
		return nil, fmt.Errorf("save draft %d: nil draft", ref.QuoteID)
	}
	stored := draft.Clone()
	stored.SellerID = ref.SellerID
	stored.QuoteID = ref.QuoteID
	if stored.Items == nil {
		stored.Items = map[string]domain.ItemPriceEntry{}
	}
	stored.UpdatedAt = now.UTC().Truncate(time.Millisecond)
	return stored, nil
}
