// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrTradingHalted     = errors.New("trading halted")
	ErrInsufficientFunds = errors.New("insufficient buying power")
	ErrRateLimited       = errors.New("rate limited")
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrTimeout           = errors.New("operation timed out")
	ErrNoSources         = errors.New("no sources available")
	ErrNotTradable       = errors.New("signal not tradable")
	ErrOrderRejected     = errors.New("order rejected")
	ErrPositionNotFound  = errors.New("position not found")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrDataNotFound      = errors.New("data not found")
	ErrExposureLimit     = errors.New("position exposure limit reached")
)

// SourceError represents a failure while fetching an opinion from a source.
type SourceError struct {
	SourceID string
	Symbol   string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source error [%s] %s: %v", e.SourceID, e.Symbol, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a new SourceError.
func NewSourceError(sourceID, symbol string, err error) *SourceError {
	return &SourceError{
		SourceID: sourceID,
		Symbol:   symbol,
		Err:      err,
	}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID string
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, symbol, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID: orderID,
		Symbol:  symbol,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// RiskError represents a risk limit violation.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.4f, limit: %.4f)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// ValidationError represents a configuration or input validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
