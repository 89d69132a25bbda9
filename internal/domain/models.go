package domain

import "time"

// Subscription is one payment record between a payer and a recipient.
// A record is created pending and ends up either paid or cancelled,
// never both. Terminal records are kept for audit and stay queryable.
type Subscription struct {
	ID          int64  `json:"id"`
	Payer       string `json:"payer"`
	Recipient   string `json:"recipient"`
	Amount      int64  `json:"amount"`
	PaymentDate int64  `json:"payment_date"`
	Paid        bool   `json:"paid"`
	Cancelled   bool   `json:"cancelled"`
	Description string `json:"description"`
}

// Status returns the human-readable lifecycle state.
func (s Subscription) Status() string {
	switch {
	case s.Paid:
		return "paid"
	case s.Cancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// Terminal reports whether the record has reached a final state.
func (s Subscription) Terminal() bool {
	return s.Paid || s.Cancelled
}

// DueAt reports whether the scheduled instant has been reached at t.
func (s Subscription) DueAt(t time.Time) bool {
	return t.Unix() >= s.PaymentDate
}

// Executable reports whether the record could be executed at t:
// non-terminal and past its scheduled instant.
func (s Subscription) Executable(t time.Time) bool {
	return !s.Terminal() && s.DueAt(t)
}
