package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/quoteworks/internal/config"
	"github.com/ashureev/quoteworks/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func backends(t *testing.T, clock *fakeClock) map[string]Repository {
	t.Helper()
	dir := t.TempDir()

	sqliteRepo, err := NewSQLite(filepath.Join(dir, "drafts.db"), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteRepo.Close() })

	pebbleRepo, err := NewPebble(filepath.Join(dir, "pebble"), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pebbleRepo.Close() })

	return map[string]Repository{"sqlite": sqliteRepo, "pebble": pebbleRepo}
}

var (
	ref501 = domain.DraftRef{SellerID: 10, QuoteID: 501}
	ref502 = domain.DraftRef{SellerID: 10, QuoteID: 502}
)

func sampleDraft() *domain.ResponseDraft {
	return &domain.ResponseDraft{
		SellerID: 10,
		QuoteID:  501,
		Items: map[string]domain.ItemPriceEntry{
			"A": {ItemKey: "A", PriceText: "10,50", BrandText: "Acme"},
			"B": {ItemKey: "B"},
		},
		ValidityDate:   "2026-10-20",
		CiapagDiscount: "5",
	}
}

func TestDraftStoreRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	for name, repo := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := repo.LoadDraft(ctx, ref501)
			require.NoError(t, err)
			assert.Nil(t, got, "absent draft loads as nil")

			draft := sampleDraft()
			saved, err := repo.SaveDraft(ctx, ref501, draft)
			require.NoError(t, err)
			assert.True(t, clock.Now().Equal(saved.UpdatedAt))

			loaded, err := repo.LoadDraft(ctx, ref501)
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.True(t, draft.SameContent(loaded))
			assert.True(t, clock.Now().Equal(loaded.UpdatedAt))
		})
	}
}

func TestDraftStoreSaveIsIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	for name, repo := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			draft := sampleDraft()

			_, err := repo.SaveDraft(ctx, ref501, draft)
			require.NoError(t, err)
			clock.Advance(time.Minute)
			_, err = repo.SaveDraft(ctx, ref501, draft)
			require.NoError(t, err)

			loaded, err := repo.LoadDraft(ctx, ref501)
			require.NoError(t, err)
			assert.True(t, draft.SameContent(loaded))
			assert.True(t, clock.Now().Equal(loaded.UpdatedAt), "updatedAt tracks the latest save")
		})
	}
}

func TestDraftStoreDiscardIsolatesQuotes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	for name, repo := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			other := sampleDraft()
			other.QuoteID = 502
			other.CiapagDiscount = "7"
			_, err := repo.SaveDraft(ctx, ref501, sampleDraft())
			require.NoError(t, err)
			_, err = repo.SaveDraft(ctx, ref502, other)
			require.NoError(t, err)

			require.NoError(t, repo.DiscardDraft(ctx, ref501))
			require.NoError(t, repo.DiscardDraft(ctx, ref501), "discard is idempotent")

			gone, err := repo.LoadDraft(ctx, ref501)
			require.NoError(t, err)
			assert.Nil(t, gone)

			kept, err := repo.LoadDraft(ctx, ref502)
			require.NoError(t, err)
			require.NotNil(t, kept)
			assert.Equal(t, "7", kept.CiapagDiscount)
		})
	}
}

func TestDraftStoreSaveDoesNotAliasCaller(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	for name, repo := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			draft := sampleDraft()
			_, err := repo.SaveDraft(ctx, ref501, draft)
			require.NoError(t, err)

			draft.Items["A"] = domain.ItemPriceEntry{ItemKey: "A", PriceText: "99"}

			loaded, err := repo.LoadDraft(ctx, ref501)
			require.NoError(t, err)
			assert.Equal(t, "10,50", loaded.Items["A"].PriceText)
		})
	}
}

func TestDraftStoreConcurrentSaveAndLoad(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	for name, repo := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := sampleDraft()
			second := sampleDraft()
			second.Items["A"] = domain.ItemPriceEntry{ItemKey: "A", PriceText: "11", BrandText: "Other"}
			second.ValidityDate = "2026-11-01"

			_, err := repo.SaveDraft(ctx, ref501, first)
			require.NoError(t, err)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					next := first
					if i%2 == 0 {
						next = second
					}
					_, _ = repo.SaveDraft(ctx, ref501, next)
				}
			}()
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					loaded, err := repo.LoadDraft(ctx, ref501)
					if err != nil || loaded == nil {
						continue
					}
					if !loaded.SameContent(first) && !loaded.SameContent(second) {
						t.Errorf("observed a torn draft: %+v", loaded)
						return
					}
				}
			}()
			wg.Wait()
		})
	}
}

func TestManufacturerCache(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	for name, repo := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := repo.GetManufacturerName(ctx, 42)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, repo.PutManufacturerName(ctx, 42, "Bosch"))
			got, ok, err := repo.GetManufacturerName(ctx, 42)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "Bosch", got)
		})
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	repo, err := Open(&config.Config{
		DraftBackend: config.DraftBackendPebble,
		PebblePath:   filepath.Join(dir, "kv"),
	})
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	_, isPebble := repo.(*PebbleStore)
	assert.True(t, isPebble)
	assert.NoError(t, repo.Ping(context.Background()))
}

func TestDraftStoreIsolatesSellers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	for name, repo := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rival := domain.DraftRef{SellerID: 11, QuoteID: 501}

			mine := sampleDraft()
			mine.Items["A"] = domain.ItemPriceEntry{ItemKey: "A", PriceText: "999,99"}
			_, err := repo.SaveDraft(ctx, ref501, mine)
			require.NoError(t, err)

			got, err := repo.LoadDraft(ctx, rival)
			require.NoError(t, err)
			assert.Nil(t, got, "another seller must not see this draft")

			theirs := sampleDraft()
			theirs.Items["A"] = domain.ItemPriceEntry{ItemKey: "A", PriceText: "5"}
			_, err = repo.SaveDraft(ctx, rival, theirs)
			require.NoError(t, err)
			require.NoError(t, repo.DiscardDraft(ctx, rival))

			kept, err := repo.LoadDraft(ctx, ref501)
			require.NoError(t, err)
			require.NotNil(t, kept, "discarding another seller's draft must keep this one")
			assert.Equal(t, int64(10), kept.SellerID)
			assert.Equal(t, "999,99", kept.Items["A"].PriceText)
		})
	}
}

func TestSaveDraftRequiresSeller(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	for name, repo := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.SaveDraft(context.Background(), domain.DraftRef{QuoteID: 501}, sampleDraft())
			assert.Error(t, err)
		})
	}
}

func TestDeleteUnownedDrafts(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	ctx := context.Background()
	repos := backends(t, clock)

	sqliteRepo := repos["sqlite"].(*SQLiteStore)
	_, err := sqliteRepo.db.ExecContext(ctx, `
		INSERT INTO response_drafts (draft_key, quote_id, items_json, updated_at)
		VALUES ('quote-response-draft:501', 501, '{}', 0)`)
	require.NoError(t, err)

	pebbleRepo := repos["pebble"].(*PebbleStore)
	require.NoError(t, pebbleRepo.db.Set([]byte("quote-response-draft:501"), []byte(`{"quote_id":501}`), nil))

	for name, repo := range repos {
		t.Run(name, func(t *testing.T) {
			_, err := repo.SaveDraft(ctx, ref501, sampleDraft())
			require.NoError(t, err)

			n, err := repo.DeleteUnownedDrafts(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			kept, err := repo.LoadDraft(ctx, ref501)
			require.NoError(t, err)
			assert.NotNil(t, kept)
		})
	}
}

func TestDraftKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "quote-response-draft:10:501", DraftKey(ref501))
	assert.NotEqual(t, DraftKey(domain.DraftRef{SellerID: 1, QuoteID: 2}), DraftKey(domain.DraftRef{SellerID: 2, QuoteID: 1}))
	assert.NotEqual(t, DraftKey(domain.DraftRef{SellerID: 1, QuoteID: 1}), manufacturerKey(1))
}
