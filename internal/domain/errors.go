package domain

import "errors"

var (
	// ErrInvalidAmount is returned when a payment amount is not positive.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidRecipient is returned when the recipient is empty or equals the payer.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrInvalidDate is returned when a scheduled date is in the past or a
	// batch schedule has a non-positive interval or an out-of-range count.
	ErrInvalidDate = errors.New("invalid date")

	// ErrSubscriptionNotFound is returned for an id that was never assigned.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrUnauthorized is returned when the caller is not the payer of record.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotYetDue is returned when execution is attempted before the payment date.
	ErrNotYetDue = errors.New("payment not yet due")

	// ErrAlreadyPaid is returned on any transition attempt against a paid record.
	ErrAlreadyPaid = errors.New("subscription already paid")

	// ErrAlreadyCancelled is returned on any transition attempt against a cancelled record.
	ErrAlreadyCancelled = errors.New("subscription already cancelled")

	// ErrInsufficientBalance is returned when the payer's balance cannot cover the amount.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance is returned when the payer has not pre-authorized
	// the engine for the amount.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrTransferFailed is returned when the value transfer was declined for
	// any other reason.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrAccountNotFound is returned by the token ledger for an unknown address.
	ErrAccountNotFound = errors.New("account not found")
)
