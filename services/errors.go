package services

import "errors"

var (
	ErrNotEligible        = errors.New("pending balance is below the minimum payout")
	ErrInvalidBankDetails = errors.New("invalid bank details")
	ErrPayoutNotFound     = errors.New("payout request not found")
	ErrInvalidTransition  = errors.New("invalid payout status transition")

	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotVerified        = errors.New("email not verified")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidInput       = errors.New("invalid input")
)
