package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors for errors.Is checks. Business-rule rejections carry
// detail structs (below) that unwrap to these.
var (
	ErrInvalidAmount           = errors.New("amount must be a positive number")
	ErrInvalidKind             = errors.New("unknown kind")
	ErrInvalidMonth            = errors.New("month must be formatted as YYYY-MM")
	ErrInvalidTransfer         = errors.New("transfer requires a distinct destination account")
	ErrAccountNotFound         = errors.New("account not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrNotDebtAccount          = errors.New("account is not a debt account")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrOverpaymentOfDebt       = errors.New("payment exceeds current debt")
	ErrPaymentExceedsMonthDebt = errors.New("payment exceeds debt for month")
	ErrNoDebtForMonth          = errors.New("no outstanding debt for month")
	ErrStorage                 = errors.New("storage failure")
)

// InsufficientBalanceError reports an asset account that would go negative.
type InsufficientBalanceError struct {
	AccountName string
	Balance     decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %q: have %s, need %s",
		e.AccountName, e.Balance, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// OverpaymentError reports a repayment larger than the debt it pays down.
type OverpaymentError struct {
	AccountName string
	Debt        decimal.Decimal
	Requested   decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s exceeds current debt %s on %q",
		e.Requested, e.Debt, e.AccountName)
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpaymentOfDebt }

// MonthLimitError reports a repayment larger than what was charged in the
// target month. MaxPayable is the month's remaining debt.
type MonthLimitError struct {
	Month      string
	MaxPayable decimal.Decimal
	Requested  decimal.Decimal
}

func (e *MonthLimitError) Error() string {
	return fmt.Sprintf("payment of %s exceeds debt for %s (max payable %s)",
		e.Requested, e.Month, e.MaxPayable)
}

func (e *MonthLimitError) Unwrap() error { return ErrPaymentExceedsMonthDebt }

// NoDebtForMonthError reports a repayment against a month with nothing owed.
type NoDebtForMonthError struct {
	Month string
}

func (e *NoDebtForMonthError) Error() string {
	return fmt.Sprintf("no outstanding debt for %s", e.Month)
}

func (e *NoDebtForMonthError) Unwrap() error { return ErrNoDebtForMonth }

// StorageError wraps a read or write failure from the backing store.
// The engine never partially commits: any storage failure rolls the
// whole operation back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
