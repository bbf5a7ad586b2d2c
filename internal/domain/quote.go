// Package domain contains core domain types for the quote response workspace.
package domain

import (
	"github.com/shopspring/decimal"
)

// QuoteID identifies a quote request. It keys both drafts and message threads.
type QuoteID int64

// QuoteMetadata is the buyer-facing header of a quote request.
type QuoteMetadata struct {
	QuoteID         QuoteID  `json:"quote_id"`
	BuyerID         int64    `json:"buyer_id"`
	BuyerName       string   `json:"buyer_name"`
	Requirements    string   `json:"requirements"`
	DeadlineDate    string   `json:"deadline_date"`
	DeadlineTime    string   `json:"deadline_time"`
	AvailableBrands []string `json:"available_brands"`
	LogoURL         string   `json:"logo_url,omitempty"`
}

// QuoteItem is one requested part as returned by the marketplace.
type QuoteItem struct {
	ItemKey                 string           `json:"item_key"`
	Quantity                int              `json:"quantity"`
	PreviouslyProposedPrice *decimal.Decimal `json:"previously_proposed_price,omitempty"`
	PreviouslyProposedBrand string           `json:"previously_proposed_brand,omitempty"`
}

// ResponseItem is one priced line of a submitted response.
// A nil Price means the item was left unpriced; zero means "remove this line".
type ResponseItem struct {
	ItemKey string           `json:"item_key"`
	Price   *decimal.Decimal `json:"price"`
	Brand   string           `json:"brand"`
}

// SubmitRequest is the payload of a final quote response.
type SubmitRequest struct {
	QuoteID         QuoteID         `json:"quote_id"`
	Items           []ResponseItem  `json:"items"`
	DeadlineDate    string          `json:"deadline_date"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}
