package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fintrack.org/internal/ids"
)

// Service defines the ledger engine operations exposed to callers.
type Service interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)
	GetAccount(ctx context.Context, owner, id string) (Account, error)
	CreateTransaction(ctx context.Context, in TransactionInput) ([]Transaction, error)
	CreatePayLater(ctx context.Context, in PayLaterInput) ([]Transaction, error)
	DeleteTransaction(ctx context.Context, owner, id string) error
	ListTransactions(ctx context.Context, owner, accountID string, from, to time.Time) ([]Transaction, error)
	DebtByMonth(ctx context.Context, owner, accountID string) (map[string]decimal.Decimal, error)
}

// InMemory implements Service with in-process concurrency safety. It is
// the reference implementation: the Postgres store must agree with it on
// every accept/reject decision.
type InMemory struct {
	mu    sync.RWMutex
	accts map[string]*Account
	txs   []Transaction
	seq   uint64
	idem  map[string][]Transaction // idempotency key -> committed records
}

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		accts: make(map[string]*Account),
		idem:  make(map[string][]Transaction),
	}
}

func (s *InMemory) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	if !in.Kind.Valid() {
		return Account{}, ErrInvalidKind
	}
	if in.Balance.IsNegative() {
		return Account{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := &Account{
		ID:        ids.New(),
		Owner:     in.Owner,
		Name:      in.Name,
		Kind:      in.Kind,
		Balance:   in.Balance,
		Currency:  in.Currency,
		CreatedAt: time.Now().UTC(),
	}
	s.accts[acc.ID] = acc
	return *acc, nil
}

func (s *InMemory) GetAccount(ctx context.Context, owner, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc := s.lookup(owner, id)
	if acc == nil {
		return Account{}, ErrAccountNotFound
	}
	return *acc, nil
}

func (s *InMemory) CreateTransaction(ctx context.Context, in TransactionInput) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.IdempotencyKey != "" {
		if recs, ok := s.idem[in.IdempotencyKey]; ok {
			return cloneRecords(recs), nil
		}
	}

	src := s.lookup(in.Owner, in.AccountID)
	var dst *Account
	var history []Transaction
	if in.Kind == TxTransfer {
		dst = s.lookup(in.Owner, in.TransferToAccountID)
		if dst != nil && dst.Kind == KindDebt {
			history = s.historyLocked(in.Owner, dst.ID, time.Time{}, time.Time{})
		}
	}

	plan, err := BuildTransaction(in, src, dst, history)
	if err != nil {
		return nil, err
	}
	return s.commitLocked(plan, in.IdempotencyKey), nil
}

func (s *InMemory) CreatePayLater(ctx context.Context, in PayLaterInput) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.IdempotencyKey != "" {
		if recs, ok := s.idem[in.IdempotencyKey]; ok {
			return cloneRecords(recs), nil
		}
	}

	plan, err := BuildPayLater(in, s.lookup(in.Owner, in.AccountID))
	if err != nil {
		return nil, err
	}
	return s.commitLocked(plan, in.IdempotencyKey), nil
}

func (s *InMemory) DeleteTransaction(ctx context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, tx := range s.txs {
		if tx.ID == id && tx.Owner == owner {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrTransactionNotFound
	}
	tx := s.txs[idx]

	src := s.lookup(owner, tx.AccountID)
	var dst *Account
	if tx.Kind == TxTransfer {
		dst = s.lookup(owner, tx.TransferToAccountID)
	}

	updates, err := BuildReversal(tx, src, dst)
	if err != nil {
		return err
	}
	for _, u := range updates {
		s.accts[u.AccountID].Balance = u.NewBalance
	}
	s.txs = append(s.txs[:idx], s.txs[idx+1:]...)
	return nil
}

func (s *InMemory) ListTransactions(ctx context.Context, owner, accountID string, from, to time.Time) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lookup(owner, accountID) == nil {
		return nil, ErrAccountNotFound
	}
	return s.historyLocked(owner, accountID, from, to), nil
}

func (s *InMemory) DebtByMonth(ctx context.Context, owner, accountID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc := s.lookup(owner, accountID)
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	if acc.Kind != KindDebt {
		return nil, ErrNotDebtAccount
	}
	return DebtByMonth(accountID, s.historyLocked(owner, accountID, time.Time{}, time.Time{})), nil
}

// commitLocked stamps ids and sequence numbers on the plan's records and
// applies its balance updates. Caller holds the write lock.
func (s *InMemory) commitLocked(plan Plan, idemKey string) []Transaction {
	now := time.Now().UTC()
	for i := range plan.Records {
		s.seq++
		plan.Records[i].ID = ids.New()
		plan.Records[i].Sequence = s.seq
		plan.Records[i].CreatedAt = now
	}
	for _, u := range plan.Updates {
		s.accts[u.AccountID].Balance = u.NewBalance
	}
	s.txs = append(s.txs, plan.Records...)
	if idemKey != "" {
		s.idem[idemKey] = cloneRecords(plan.Records)
	}
	return plan.Records
}

// historyLocked returns every transaction touching the account as source
// or transfer destination, oldest first. Zero bounds mean unbounded.
func (s *InMemory) historyLocked(owner, accountID string, from, to time.Time) []Transaction {
	var out []Transaction
	for _, tx := range s.txs {
		if tx.Owner != owner {
			continue
		}
		if tx.AccountID != accountID && tx.TransferToAccountID != accountID {
			continue
		}
		if !from.IsZero() && tx.Date.Before(from) {
			continue
		}
		if !to.IsZero() && tx.Date.After(to) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

func (s *InMemory) lookup(owner, id string) *Account {
	acc, ok := s.accts[id]
	if !ok || acc.Owner != owner {
		return nil
	}
	return acc
}

func cloneRecords(recs []Transaction) []Transaction {
	out := make([]Transaction, len(recs))
	copy(out, recs)
	return out
}
