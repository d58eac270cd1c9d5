package policy

import "errors"

var (
	// ErrPolicyNotFound is returned when an identifier is not in the registry.
	ErrPolicyNotFound = errors.New("policy not found")
	// ErrThresholdTooLarge is returned when more fragments are requested than a policy holds.
	ErrThresholdTooLarge = errors.New("threshold exceeds fragment count")
	// ErrInvalidInput is returned for empty fragment sets and non-positive thresholds.
	ErrInvalidInput = errors.New("invalid input")
)
