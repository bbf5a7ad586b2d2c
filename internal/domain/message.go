package domain

import (
	"time"
)

// Message is one entry of a quote's buyer/seller thread. ID is assigned by the server.
type Message struct {
	ID          int64     `json:"id"`
	QuoteID     QuoteID   `json:"quote_id"`
	OrderID     *int64    `json:"order_id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
}

// NewMessage is the payload for creating a message. It carries no id.
type NewMessage struct {
	QuoteID     QuoteID   `json:"quote_id"`
	OrderID     *int64    `json:"order_id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
}

// MessagePatch carries the fields accepted by a message update.
type MessagePatch struct {
	Body *string `json:"body,omitempty"`
}

// ThreadKey identifies one open thread from the current user's point of view.
type ThreadKey struct {
	QuoteID        QuoteID
	UserID         int64
	CounterpartyID int64
}
