//go:generate mockgen -package=mocks -destination=../../mocks/mock_oracle.go github.com/prepolicy/prepolicy/core/liveness Oracle

// Package liveness asks the platform whether a policy is still alive.
//
// Every oracle returns a typed Status. A failed query is StatusUnavailable together
// with an *UnavailableError, never a bare false, so a dead policy and an unreachable
// platform stay distinguishable all the way up to the caller's logs.
package liveness

import (
	"context"
	"errors"
	"fmt"

	"github.com/prepolicy/prepolicy/core/policy"
)

// ErrOracleUnavailable matches every *UnavailableError.
var ErrOracleUnavailable = errors.New("liveness oracle unavailable")

// Status is the outcome of a liveness query.
type Status int

const (
	// StatusUnavailable means the query could not be completed.
	StatusUnavailable Status = iota
	// StatusAlive means the platform confirmed the policy is alive.
	StatusAlive
	// StatusDead means the platform confirmed the policy is not alive.
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "alive"
	case StatusDead:
		return "dead"
	default:
		return "unavailable"
	}
}

// Reason classifies why a query failed.
type Reason string

const (
	ReasonTransport   Reason = "transport"
	ReasonTimeout     Reason = "timeout"
	ReasonCanceled    Reason = "canceled"
	ReasonStatus      Reason = "bad_status"
	ReasonMalformed   Reason = "malformed_response"
	ReasonRateLimited Reason = "rate_limited"
)

// UnavailableError describes a failed liveness query.
type UnavailableError struct {
	Reason Reason
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrOracleUnavailable, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", ErrOracleUnavailable, e.Reason, e.Err)
}

// Unwrap exposes both ErrOracleUnavailable and the underlying cause.
func (e *UnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrOracleUnavailable}
	}
	return []error{ErrOracleUnavailable, e.Err}
}

func unavailable(reason Reason, err error) (Status, error) {
	return StatusUnavailable, &UnavailableError{Reason: reason, Err: err}
}

// contextReason maps a finished context to a Reason.
func contextReason(ctx context.Context) Reason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonCanceled
}

// ReasonOf extracts the failure reason from err, or "" if err is not an oracle failure.
func ReasonOf(err error) Reason {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue.Reason
	}
	return ""
}

// Oracle answers whether a policy is alive. Implementations return a non-nil error
// exactly when the status is StatusUnavailable.
type Oracle interface {
	Check(ctx context.Context, id policy.ID) (Status, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, id policy.ID) (Status, error)

// Check implements Oracle.
func (f OracleFunc) Check(ctx context.Context, id policy.ID) (Status, error) {
	return f(ctx, id)
}

// StaticOracle returns the same verdict for every policy.
type StaticOracle struct {
	Alive bool
}

// Check implements Oracle.
func (o StaticOracle) Check(ctx context.Context, _ policy.ID) (Status, error) {
	if ctx.Err() != nil {
		return unavailable(contextReason(ctx), ctx.Err())
	}
	if o.Alive {
		return StatusAlive, nil
	}
	return StatusDead, nil
}
