package workspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/quoteworks/internal/domain"
)

type countingMarket struct {
	*fakeMarket
	mu    sync.Mutex
	loads int
}

func (c *countingMarket) GetQuoteItems(ctx context.Context, quoteID domain.QuoteID) ([]domain.QuoteItem, error) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	return c.fakeMarket.GetQuoteItems(ctx, quoteID)
}

func TestManagerReusesWorkspace(t *testing.T) {
	market := &countingMarket{fakeMarket: newFakeMarket()}
	m := NewManager(market, newStore(t), testOptions(), nil)
	t.Cleanup(m.CloseAll)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Workspace, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws, err := m.Open(ctx, sellerID, 501)
			assert.NoError(t, err)
			results[i] = ws
		}(i)
	}
	wg.Wait()

	for _, ws := range results {
		assert.Same(t, results[0], ws)
	}
	assert.Equal(t, 1, m.Len())

	market.mu.Lock()
	assert.Equal(t, 1, market.loads)
	market.mu.Unlock()

	other, err := m.Open(ctx, sellerID+1, 501)
	require.NoError(t, err)
	assert.NotSame(t, results[0], other)
	assert.Equal(t, 2, m.Len())
}

func TestManagerClose(t *testing.T) {
	m := NewManager(newFakeMarket(), newStore(t), testOptions(), nil)
	t.Cleanup(m.CloseAll)

	ws, err := m.Open(context.Background(), sellerID, 501)
	require.NoError(t, err)

	assert.True(t, m.Close(sellerID, 501))
	assert.False(t, m.Close(sellerID, 501))
	assert.Nil(t, m.Get(sellerID, 501))
	assert.ErrorIs(t, ws.SetPrice("A", "1"), ErrClosed)
}

func TestManagerReapsIdleWorkspaces(t *testing.T) {
	var mu sync.Mutex
	now := today
	opts := testOptions()
	opts.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	m := NewManager(newFakeMarket(), newStore(t), opts, nil)
	t.Cleanup(m.CloseAll)
	ctx := context.Background()

	idle, err := m.Open(ctx, sellerID, 501)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(90 * time.Minute)
	mu.Unlock()
	_, err = m.Open(ctx, sellerID, 502)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(45 * time.Minute)
	mu.Unlock()

	assert.Equal(t, 1, m.reapIdle(time.Hour))
	assert.Nil(t, m.Get(sellerID, 501))
	assert.NotNil(t, m.Get(sellerID, 502))

	select {
	case <-idle.Done():
	default:
		t.Fatal("reaped workspace was not closed")
	}
}

func TestManagerKeepsSellerDraftsApart(t *testing.T) {
	st := newStore(t)
	m := NewManager(newFakeMarket(), st, testOptions(), nil)
	t.Cleanup(m.CloseAll)
	ctx := context.Background()
	other := sellerID + 1

	first, err := m.Open(ctx, sellerID, 501)
	require.NoError(t, err)
	require.NoError(t, first.SetPrice("A", "999,99"))
	require.NoError(t, first.SaveDraftNow(ctx))

	second, err := m.Open(ctx, other, 501)
	require.NoError(t, err)
	snap := second.Snapshot()
	assert.Equal(t, "", itemByKey(t, snap, "A").PriceText)
	assert.Nil(t, snap.LastSavedAt)

	require.NoError(t, second.SetPrice("A", "1"))
	require.NoError(t, second.SaveDraftNow(ctx))
	require.NoError(t, second.DiscardDraft(ctx))

	kept, err := st.LoadDraft(ctx, draft501)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, sellerID, kept.SellerID)
	assert.Equal(t, "999,99", kept.Items["A"].PriceText)

	gone, err := st.LoadDraft(ctx, domain.DraftRef{SellerID: other, QuoteID: 501})
	require.NoError(t, err)
	assert.Nil(t, gone)

	// A fresh workspace for the first seller still restores its own values.
	require.True(t, m.Close(sellerID, 501))
	reopened, err := m.Open(ctx, sellerID, 501)
	require.NoError(t, err)
	assert.Equal(t, "999,99", itemByKey(t, reopened.Snapshot(), "A").PriceText)
}
