package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind distinguishes accounts that hold funds from accounts that
// track an amount owed.
type AccountKind string

const (
	// KindAsset covers cash, bank, e-wallet and investment accounts.
	// A positive balance means funds available.
	KindAsset AccountKind = "asset"
	// KindDebt covers credit-card style accounts. A positive balance
	// means amount owed.
	KindDebt AccountKind = "debt"
)

// TxKind is the transaction type.
type TxKind string

const (
	TxIncome   TxKind = "income"
	TxExpense  TxKind = "expense"
	TxTransfer TxKind = "transfer"
)

// Account balances are mutated exclusively through engine-issued plans.
type Account struct {
	ID        string          `json:"id"`
	Owner     string          `json:"owner"`
	Name      string          `json:"name"`
	Kind      AccountKind     `json:"kind"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
}

// Transaction is an immutable ledger record. Deleting one reverses the
// balance effect it caused.
type Transaction struct {
	ID                  string          `json:"id"`
	Owner               string          `json:"owner"`
	AccountID           string          `json:"account_id"`
	CategoryID          string          `json:"category_id,omitempty"`
	Kind                TxKind          `json:"kind"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description"`
	Date                time.Time       `json:"date"`
	TransferToAccountID string          `json:"transfer_to_account_id,omitempty"`
	// TargetMonth records which month's charges a debt repayment was
	// applied against, so later guard checks attribute it correctly.
	// Empty for everything but transfers into a debt account.
	TargetMonth    string    `json:"target_month,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Sequence       uint64    `json:"sequence"`
	CreatedAt      time.Time `json:"created_at"`
}

// BalanceUpdate is the projected post-transaction balance for one account.
type BalanceUpdate struct {
	AccountID  string
	NewBalance decimal.Decimal
}

// Plan is the accepted outcome of a validation pass: the record(s) to
// insert and the balance update(s) to apply. Both must be committed
// together or not at all.
type Plan struct {
	Records []Transaction
	Updates []BalanceUpdate
}

// TransactionInput is a caller's intent to record a single transaction.
type TransactionInput struct {
	Owner               string          `json:"-"`
	AccountID           string          `json:"account_id"`
	CategoryID          string          `json:"category_id,omitempty"`
	Kind                TxKind          `json:"kind"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description"`
	Date                time.Time       `json:"date"`
	TransferToAccountID string          `json:"transfer_to_account_id,omitempty"`
	// TargetMonth (YYYY-MM) scopes a debt repayment to one month's
	// charges. Only meaningful for transfers into a debt account;
	// defaults to the month of Date.
	TargetMonth    string `json:"target_month,omitempty"`
	IdempotencyKey string `json:"-"`
}

// PayLaterInput is a buy-now-pay-later purchase: the debt account is
// charged the full total immediately, the repayment schedule is spread
// over Installments consecutive months.
type PayLaterInput struct {
	Owner          string          `json:"-"`
	AccountID      string          `json:"account_id"`
	CategoryID     string          `json:"category_id,omitempty"`
	Total          decimal.Decimal `json:"total"`
	Installments   int             `json:"installments"`
	StartMonth     string          `json:"start_month"` // YYYY-MM
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"-"`
}

// CreateAccountInput describes a new account.
type CreateAccountInput struct {
	Owner    string          `json:"-"`
	Name     string          `json:"name"`
	Kind     AccountKind     `json:"kind"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

// Valid reports whether k is a known account kind.
func (k AccountKind) Valid() bool {
	return k == KindAsset || k == KindDebt
}

// Valid reports whether k is a known transaction kind.
func (k TxKind) Valid() bool {
	return k == TxIncome || k == TxExpense || k == TxTransfer
}
