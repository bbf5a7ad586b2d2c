package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/quoteworks/internal/domain"
)

func TestClientGetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/quotes/501":
			_ = json.NewEncoder(w).Encode(domain.QuoteMetadata{BuyerID: 20, BuyerName: "Oficina Central", DeadlineDate: "2026-10-25"})
		case "/quotes/501/items":
			_, _ = w.Write([]byte(`[{"item_key":"A","quantity":3,"previously_proposed_price":"9.90"},{"item_key":"B","quantity":1}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", 0, nil)

	meta, err := c.GetQuoteMetadata(context.Background(), 501)
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteID(501), meta.QuoteID)
	assert.Equal(t, int64(20), meta.BuyerID)

	items, err := c.GetQuoteItems(context.Background(), 501)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.NotNil(t, items[0].PreviouslyProposedPrice)
	assert.True(t, decimal.RequireFromString("9.90").Equal(*items[0].PreviouslyProposedPrice))
	assert.Nil(t, items[1].PreviouslyProposedPrice)
}

func TestClientMessages(t *testing.T) {
	var gotActor, gotQuery string
	var gotPatch domain.MessagePatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/quotes/501/messages":
			gotQuery = r.URL.RawQuery
			_, _ = w.Write([]byte(`[{"id":77,"quote_id":501,"sender_id":20,"recipient_id":10,"body":"hi"}]`))
		case r.Method == http.MethodPatch && r.URL.Path == "/messages/77":
			gotActor = r.Header.Get("X-User-ID")
			_ = json.NewDecoder(r.Body).Decode(&gotPatch)
			_, _ = w.Write([]byte(`{"id":77,"body":"edited"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/messages/77":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0, nil)

	msgs, err := c.GetMessages(context.Background(), 501, 10, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(77), msgs[0].ID)
	assert.Equal(t, "recipient_id=20&sender_id=10", gotQuery)

	body := "edited"
	updated, err := c.UpdateMessage(context.Background(), 10, 77, domain.MessagePatch{Body: &body})
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Body)
	assert.Equal(t, "10", gotActor)
	require.NotNil(t, gotPatch.Body)
	assert.Equal(t, "edited", *gotPatch.Body)

	require.NoError(t, c.DeleteMessage(context.Background(), 10, 77))
}

func TestClientStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		is     func(error) bool
	}{
		{http.StatusBadRequest, errdefs.IsInvalidArgument},
		{http.StatusUnprocessableEntity, errdefs.IsInvalidArgument},
		{http.StatusUnauthorized, errdefs.IsPermissionDenied},
		{http.StatusForbidden, errdefs.IsPermissionDenied},
		{http.StatusNotFound, errdefs.IsNotFound},
		{http.StatusConflict, errdefs.IsConflict},
		{http.StatusBadGateway, errdefs.IsUnavailable},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			err := NewClient(srv.URL, "", 0, nil).DeleteMessage(context.Background(), 10, 1)
			require.Error(t, err)
			assert.True(t, tt.is(err), "status %d gave %v", tt.status, err)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.Code)
		})
	}
}

func TestClientTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewClient(url, "", 0, nil).SubmitResponse(context.Background(), 10, domain.SubmitRequest{QuoteID: 501})
	require.Error(t, err)
	assert.True(t, errdefs.IsUnavailable(err))
}

func TestClientSubmitPayload(t *testing.T) {
	var got domain.SubmitRequest
	var gotActor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quotes/501/responses", r.URL.Path)
		gotActor = r.Header.Get("X-User-ID")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	price := decimal.RequireFromString("10.50")
	err := NewClient(srv.URL, "", 0, nil).SubmitResponse(context.Background(), 10, domain.SubmitRequest{
		QuoteID:      501,
		Items:        []domain.ResponseItem{{ItemKey: "A", Price: &price}, {ItemKey: "B"}},
		DeadlineDate: "2026-10-20",
	})
	require.NoError(t, err)
	assert.Equal(t, "10", gotActor, "the submitting seller is sent as the actor")
	require.Len(t, got.Items, 2)
	require.NotNil(t, got.Items[0].Price)
	assert.True(t, price.Equal(*got.Items[0].Price))
	assert.Nil(t, got.Items[1].Price)
	assert.Equal(t, "2026-10-20", got.DeadlineDate)
}
