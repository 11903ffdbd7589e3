package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// monthEpsilon tolerates decimal rounding drift when comparing a proposed
// payment against a month's remaining debt.
var monthEpsilon = decimal.New(1, -9) // 1e-9

// BuildTransaction validates a pending transaction against current account
// state and returns the plan to commit. It is pure: no I/O, no mutation.
//
// src is the resolved source account (nil if unknown). dst is the resolved
// destination for transfers (nil otherwise, or if unknown). destHistory is
// the destination account's full transaction history, required only when
// the destination is a debt account.
//
// Balance semantics per account kind:
//
//	income   asset +amount   debt -amount (repayment)
//	expense  asset -amount   debt +amount (new charge)
//	transfer src asset -amount / src debt +amount
//	         dst asset +amount / dst debt -amount (repayment, month-guarded)
func BuildTransaction(in TransactionInput, src, dst *Account, destHistory []Transaction) (Plan, error) {
	if !in.Amount.IsPositive() {
		return Plan{}, ErrInvalidAmount
	}
	if !in.Kind.Valid() {
		return Plan{}, ErrInvalidKind
	}
	if src == nil {
		return Plan{}, ErrAccountNotFound
	}

	if in.Kind == TxTransfer {
		to := strings.TrimSpace(in.TransferToAccountID)
		if to == "" || to == in.AccountID {
			return Plan{}, ErrInvalidTransfer
		}
		if dst == nil {
			return Plan{}, ErrAccountNotFound
		}
	}

	srcDelta, dstDelta := projectDeltas(in.Kind, src.Kind, dstKind(dst), in.Amount)

	newSrc := src.Balance.Add(srcDelta)
	if src.Kind == KindAsset && srcDelta.IsNegative() && newSrc.IsNegative() {
		return Plan{}, &InsufficientBalanceError{
			AccountName: src.Name,
			Balance:     src.Balance,
			Requested:   in.Amount,
		}
	}
	if src.Kind == KindDebt && srcDelta.IsNegative() && newSrc.IsNegative() {
		return Plan{}, &OverpaymentError{
			AccountName: src.Name,
			Debt:        src.Balance,
			Requested:   in.Amount,
		}
	}

	var updates []BalanceUpdate
	updates = append(updates, BalanceUpdate{AccountID: src.ID, NewBalance: newSrc})

	var targetMonth string
	if in.Kind == TxTransfer {
		newDst := dst.Balance.Add(dstDelta)
		if dst.Kind == KindDebt {
			if newDst.IsNegative() {
				return Plan{}, &OverpaymentError{
					AccountName: dst.Name,
					Debt:        dst.Balance,
					Requested:   in.Amount,
				}
			}
			// A transfer into a debt account is a debt payment and
			// must fit inside one month's charges. The resolved month
			// is stamped on the record so the payment keeps reducing
			// that month's bucket, not the month it was dated.
			targetMonth = in.TargetMonth
			if targetMonth == "" {
				targetMonth = MonthKey(in.Date)
			}
			if err := CheckMonthPayment(dst.ID, destHistory, targetMonth, in.Amount); err != nil {
				return Plan{}, err
			}
		}
		updates = append(updates, BalanceUpdate{AccountID: dst.ID, NewBalance: newDst})
	}

	rec := Transaction{
		Owner:          in.Owner,
		AccountID:      in.AccountID,
		CategoryID:     in.CategoryID,
		Kind:           in.Kind,
		Amount:         in.Amount,
		Description:    in.Description,
		Date:           in.Date,
		IdempotencyKey: in.IdempotencyKey,
	}
	if in.Kind == TxTransfer {
		rec.TransferToAccountID = in.TransferToAccountID
		rec.TargetMonth = targetMonth
		rec.CategoryID = "" // categories do not apply to transfers
	}

	return Plan{Records: []Transaction{rec}, Updates: updates}, nil
}

// BuildPayLater expands a buy-now-pay-later purchase into N equal monthly
// installment records against a debt account. The full charge lands on the
// balance immediately; only the repayment schedule is spread over time.
func BuildPayLater(in PayLaterInput, acct *Account) (Plan, error) {
	if !in.Total.IsPositive() || in.Installments < 1 {
		return Plan{}, ErrInvalidAmount
	}
	if acct == nil {
		return Plan{}, ErrAccountNotFound
	}
	if acct.Kind != KindDebt {
		return Plan{}, ErrNotDebtAccount
	}
	start, err := ParseMonth(in.StartMonth)
	if err != nil {
		return Plan{}, ErrInvalidMonth
	}

	// Exact division; any fractional remainder is left unreconciled.
	// Confirmed product behavior, not an oversight.
	per := in.Total.Div(decimal.NewFromInt(int64(in.Installments)))

	records := make([]Transaction, 0, in.Installments)
	for i := 0; i < in.Installments; i++ {
		records = append(records, Transaction{
			Owner:          in.Owner,
			AccountID:      in.AccountID,
			CategoryID:     in.CategoryID,
			Kind:           TxExpense,
			Amount:         per,
			Description:    installmentLabel(in.Description, i+1, in.Installments),
			Date:           start.AddDate(0, i, 0),
			IdempotencyKey: in.IdempotencyKey,
		})
	}

	return Plan{
		Records: records,
		Updates: []BalanceUpdate{{
			AccountID:  acct.ID,
			NewBalance: acct.Balance.Add(in.Total),
		}},
	}, nil
}

// BuildReversal computes the balance updates that undo tx: the exact
// inverse of the projection that created it, subject to the same
// negative-balance rules. Applying tx then its reversal restores the
// pre-transaction balances exactly.
func BuildReversal(tx Transaction, src, dst *Account) ([]BalanceUpdate, error) {
	if src == nil {
		return nil, ErrAccountNotFound
	}
	if tx.Kind == TxTransfer && dst == nil {
		return nil, ErrAccountNotFound
	}

	srcDelta, dstDelta := projectDeltas(tx.Kind, src.Kind, dstKind(dst), tx.Amount)

	newSrc := src.Balance.Sub(srcDelta)
	if err := checkFloor(src, newSrc, tx.Amount); err != nil {
		return nil, err
	}
	updates := []BalanceUpdate{{AccountID: src.ID, NewBalance: newSrc}}

	if tx.Kind == TxTransfer {
		newDst := dst.Balance.Sub(dstDelta)
		if err := checkFloor(dst, newDst, tx.Amount); err != nil {
			return nil, err
		}
		updates = append(updates, BalanceUpdate{AccountID: dst.ID, NewBalance: newDst})
	}
	return updates, nil
}

// projectDeltas returns the signed balance deltas for source and
// destination. dstDelta is meaningful only for transfers.
func projectDeltas(kind TxKind, srcKind, destKind AccountKind, amount decimal.Decimal) (srcDelta, dstDelta decimal.Decimal) {
	neg := amount.Neg()
	switch kind {
	case TxIncome:
		if srcKind == KindDebt {
			return neg, decimal.Zero // repayment
		}
		return amount, decimal.Zero
	case TxExpense:
		if srcKind == KindDebt {
			return amount, decimal.Zero // new charge
		}
		return neg, decimal.Zero
	case TxTransfer:
		srcDelta = neg
		if srcKind == KindDebt {
			srcDelta = amount
		}
		dstDelta = amount
		if destKind == KindDebt {
			dstDelta = neg
		}
		return srcDelta, dstDelta
	}
	return decimal.Zero, decimal.Zero
}

func checkFloor(acct *Account, newBalance, requested decimal.Decimal) error {
	if !newBalance.IsNegative() {
		return nil
	}
	if acct.Kind == KindAsset {
		return &InsufficientBalanceError{AccountName: acct.Name, Balance: acct.Balance, Requested: requested}
	}
	return &OverpaymentError{AccountName: acct.Name, Debt: acct.Balance, Requested: requested}
}

func dstKind(dst *Account) AccountKind {
	if dst == nil {
		return ""
	}
	return dst.Kind
}

// DebtByMonth replays a debt account's transaction history and returns the
// net debt delta per calendar month (YYYY-MM). Charges add, repayments
// subtract. Months can net negative when repayments were recorded as plain
// income rather than month-scoped transfers.
func DebtByMonth(accountID string, history []Transaction) map[string]decimal.Decimal {
	buckets := make(map[string]decimal.Decimal)
	for _, tx := range history {
		month, delta, ok := debtDelta(accountID, tx)
		if !ok {
			continue
		}
		buckets[month] = buckets[month].Add(delta)
	}
	return buckets
}

// debtDelta returns tx's contribution to accountID's debt and the month it
// lands in, and whether the transaction touches the account at all.
// Charges land in the month of the transaction date; transfer repayments
// land in the month they were applied against, falling back to the date's
// month for records without one.
func debtDelta(accountID string, tx Transaction) (string, decimal.Decimal, bool) {
	switch {
	case tx.AccountID == accountID:
		switch tx.Kind {
		case TxExpense:
			return MonthKey(tx.Date), tx.Amount, true // charge
		case TxIncome:
			return MonthKey(tx.Date), tx.Amount.Neg(), true // repayment
		case TxTransfer:
			return MonthKey(tx.Date), tx.Amount, true // charge funded from this account
		}
	case tx.Kind == TxTransfer && tx.TransferToAccountID == accountID:
		month := tx.TargetMonth
		if month == "" {
			month = MonthKey(tx.Date)
		}
		return month, tx.Amount.Neg(), true // repayment
	}
	return "", decimal.Zero, false
}

// RemainingDebtForMonth is the still-payable portion of one month's
// charges, floored at zero.
func RemainingDebtForMonth(accountID string, history []Transaction, month string) decimal.Decimal {
	remaining := DebtByMonth(accountID, history)[month]
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// CheckMonthPayment enforces the debt-month guard: a payment may not
// exceed what was actually charged (and not yet repaid) in the target
// month, within a small rounding tolerance.
func CheckMonthPayment(accountID string, history []Transaction, month string, amount decimal.Decimal) error {
	remaining := RemainingDebtForMonth(accountID, history, month)
	if remaining.Sign() <= 0 {
		return &NoDebtForMonthError{Month: month}
	}
	if amount.GreaterThan(remaining.Add(monthEpsilon)) {
		return &MonthLimitError{Month: month, MaxPayable: remaining, Requested: amount}
	}
	return nil
}

// MonthKey formats a date's calendar month as YYYY-MM.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

// ParseMonth parses YYYY-MM into the first day of that month (UTC).
func ParseMonth(s string) (time.Time, error) {
	return time.Parse("2006-01", strings.TrimSpace(s))
}

func installmentLabel(desc string, i, n int) string {
	if n == 1 {
		return desc
	}
	if desc == "" {
		return fmt.Sprintf("installment %d/%d", i, n)
	}
	return fmt.Sprintf("%s (%d/%d)", desc, i, n)
}
