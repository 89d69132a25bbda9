package api

import "github.com/go-playground/validator/v10"

var validate = validator.New()

type PayNowRequest struct {
	Recipient   string `json:"recipient" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description"`
}

type SchedulePaymentRequest struct {
	Recipient   string `json:"recipient" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	PaymentDate int64  `json:"payment_date" validate:"required,gt=0"`
	Description string `json:"description"`
}

type BatchScheduleRequest struct {
	Recipient    string `json:"recipient" validate:"required"`
	Amount       int64  `json:"amount" validate:"required,gt=0"`
	StartDate    int64  `json:"start_date" validate:"required,gt=0"`
	IntervalDays int64  `json:"interval_days" validate:"required,gt=0"`
	Count        int64  `json:"count" validate:"required,gte=1"`
	Description  string `json:"description"`
}

type ApproveRequest struct {
	Amount int64 `json:"amount" validate:"gte=0"`
}

type SubscriptionIDResponse struct {
	SubscriptionID int64  `json:"subscription_id"`
	Status         string `json:"status"`
}

type SubscriptionIDsResponse struct {
	SubscriptionIDs []int64 `json:"subscription_ids"`
}

type ExecutableResponse struct {
	SubscriptionID int64 `json:"subscription_id"`
	Executable     bool  `json:"executable"`
}

type StatsResponse struct {
	TotalSubscriptions int64 `json:"total_subscriptions"`
}

type TokenAccountResponse struct {
	Address   string `json:"address"`
	Balance   int64  `json:"balance"`
	Allowance int64  `json:"allowance"`
}
