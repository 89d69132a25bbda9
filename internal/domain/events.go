package domain

// Audit events emitted on every state transition. The stream is
// append-only and independent of the mutable ledger state.

// SubscriptionCreatedEvent is emitted once per record, including each
// occurrence of a batch.
type SubscriptionCreatedEvent struct {
	SubscriptionID int64  `json:"subscription_id"`
	Payer          string `json:"payer"`
	Recipient      string `json:"recipient"`
	Amount         int64  `json:"amount"`
	PaymentDate    int64  `json:"payment_date"`
	Description    string `json:"description"`
}

// SubscriptionCancelledEvent is emitted when the payer cancels a pending record.
type SubscriptionCancelledEvent struct {
	SubscriptionID int64  `json:"subscription_id"`
	Payer          string `json:"payer"`
}

// PaymentExecutedEvent is emitted strictly after a confirmed transfer.
type PaymentExecutedEvent struct {
	SubscriptionID int64  `json:"subscription_id"`
	Payer          string `json:"payer"`
	Recipient      string `json:"recipient"`
	Amount         int64  `json:"amount"`
	Timestamp      int64  `json:"timestamp"`
}
