package models

import "fmt"

var (
	// ErrNotFound is returned when a transaction or related record does not exist.
	ErrNotFound = fmt.Errorf("not found")

	// ErrValidation marks bad caller input; no remote call was attempted.
	ErrValidation = fmt.Errorf("validation failed")

	// ErrNotConfigured means the gateway is disabled or has no usable
	// credentials. Fatal until configuration is fixed.
	ErrNotConfigured = fmt.Errorf("gateway not configured")

	// ErrInvalidState marks an illegal lifecycle transition. No mutation happened.
	ErrInvalidState = fmt.Errorf("invalid transaction state")

	// ErrSignature marks a webhook whose signature did not verify. Rejected
	// without side effects and logged as a security event.
	ErrSignature = fmt.Errorf("invalid webhook signature")

	// ErrCustomerResolution wraps a failed remote customer search/create.
	ErrCustomerResolution = fmt.Errorf("customer resolution failed")

	// ErrCardTokenization wraps a failed remote card registration.
	ErrCardTokenization = fmt.Errorf("card tokenization failed")
)
