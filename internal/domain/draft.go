package domain

import (
	"time"
)

// ItemPriceEntry is the seller's in-progress input for one quote item.
// PriceText is kept exactly as typed; normalization happens at submit.
type ItemPriceEntry struct {
	ItemKey   string `json:"item_key"`
	PriceText string `json:"price_text"`
	BrandText string `json:"brand_text"`
}

// DraftRef identifies one seller's draft for one quote. Sellers answering
// the same quote never share a draft.
type DraftRef struct {
	SellerID int64
	QuoteID  QuoteID
}

// ResponseDraft is the locally persisted work-in-progress response for a quote.
type ResponseDraft struct {
	SellerID       int64                     `json:"seller_id"`
	QuoteID        QuoteID                   `json:"quote_id"`
	Items          map[string]ItemPriceEntry `json:"items"`
	ValidityDate   string                    `json:"validity_date"`
	CiapagDiscount string                    `json:"ciapag_discount"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// Clone returns a deep copy of the draft.
func (d *ResponseDraft) Clone() *ResponseDraft {
	if d == nil {
		return nil
	}
	out := *d
	out.Items = make(map[string]ItemPriceEntry, len(d.Items))
	for k, v := range d.Items {
		out.Items[k] = v
	}
	return &out
}

// SameContent reports whether two drafts hold the same edits, ignoring UpdatedAt.
func (d *ResponseDraft) SameContent(other *ResponseDraft) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.SellerID != other.SellerID ||
		d.QuoteID != other.QuoteID ||
		d.ValidityDate != other.ValidityDate ||
		d.CiapagDiscount != other.CiapagDiscount ||
		len(d.Items) != len(other.Items) {
		return false
	}
	for k, v := range d.Items {
		if ov, ok := other.Items[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
