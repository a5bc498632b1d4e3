package domain

import "errors"

var (
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrTierNotFound          = errors.New("subscription tier not found")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrPackageNotFound       = errors.New("credit package not found")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrPaymentsNotConfigured = errors.New("payments not configured")
)
