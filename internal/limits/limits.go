// Package limits enforces payment-method minimum amounts and the
// withdrawal fee schedule. Minimums are validated at submission time, so a
// request that clears validation can always be decided later without
// re-checking the schedule.
package limits

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrBelowMinimum is returned when an amount is under the method's
	// configured minimum.
	ErrBelowMinimum = errors.New("limits: amount below method minimum")

	// ErrFeeExceedsAmount is returned when a withdrawal would pay out
	// nothing after the fee.
	ErrFeeExceedsAmount = errors.New("limits: withdrawal fee exceeds amount")
)

// Method holds the schedule for one payment method.
type Method struct {
	// MinDeposit is the smallest accepted deposit amount.
	MinDeposit decimal.Decimal

	// MinWithdrawal is the smallest accepted withdrawal amount.
	MinWithdrawal decimal.Decimal

	// WithdrawalFee is the flat fee deducted from the payout when a
	// withdrawal is approved.
	WithdrawalFee decimal.Decimal
}

// Schedule validates amounts against per-method limits, falling back to a
// default method when no override is configured.
type Schedule struct {
	def       Method
	overrides map[string]Method
}

// NewSchedule creates a schedule with the given default method limits.
func NewSchedule(def Method) *Schedule {
	return &Schedule{
		def:       def,
		overrides: make(map[string]Method),
	}
}

// SetMethod configures an override for one payment method.
func (s *Schedule) SetMethod(name string, m Method) {
	s.overrides[name] = m
}

func (s *Schedule) methodFor(name string) Method {
	if m, ok := s.overrides[name]; ok {
		return m
	}
	return s.def
}

// CheckDeposit validates a deposit amount for the given method.
func (s *Schedule) CheckDeposit(method string, amount decimal.Decimal) error {
	m := s.methodFor(method)
	if amount.LessThan(m.MinDeposit) {
		return fmt.Errorf("%w: deposit %s < %s", ErrBelowMinimum, amount, m.MinDeposit)
	}
	return nil
}

// CheckWithdrawal validates a withdrawal amount for the given method.
func (s *Schedule) CheckWithdrawal(method string, amount decimal.Decimal) error {
	m := s.methodFor(method)
	if amount.LessThan(m.MinWithdrawal) {
		return fmt.Errorf("%w: withdrawal %s < %s", ErrBelowMinimum, amount, m.MinWithdrawal)
	}
	if amount.LessThanOrEqual(m.WithdrawalFee) {
		return fmt.Errorf("%w: fee %s, amount %s", ErrFeeExceedsAmount, m.WithdrawalFee, amount)
	}
	return nil
}

// WithdrawalFee returns the flat fee for the given method.
func (s *Schedule) WithdrawalFee(method string) decimal.Decimal {
	return s.methodFor(method).WithdrawalFee
}
