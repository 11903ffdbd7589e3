// Package pg persists the ledger in PostgreSQL. Every mutating operation
// runs read-validate-write inside one serializable transaction with the
// touched account rows locked, so two submissions racing on the same
// account cannot lose an update.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"fintrack.org/internal/ids"
	"fintrack.org/internal/ledger"
)

type Store struct {
	db *sql.DB
}

var _ ledger.Service = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) CreateAccount(ctx context.Context, in ledger.CreateAccountInput) (ledger.Account, error) {
	if !in.Kind.Valid() {
		return ledger.Account{}, ledger.ErrInvalidKind
	}
	if in.Balance.IsNegative() {
		return ledger.Account{}, ledger.ErrInvalidAmount
	}
	acc := ledger.Account{
		ID:        ids.New(),
		Owner:     in.Owner,
		Name:      in.Name,
		Kind:      in.Kind,
		Balance:   in.Balance,
		Currency:  in.Currency,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		insert into accounts(id, owner, name, kind, balance, currency, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, acc.ID, acc.Owner, acc.Name, string(acc.Kind), acc.Balance, acc.Currency, acc.CreatedAt)
	if err != nil {
		return ledger.Account{}, storageErr("create account", err)
	}
	return acc, nil
}

func (s *Store) GetAccount(ctx context.Context, owner, id string) (ledger.Account, error) {
	acc, err := scanAccount(s.db.QueryRowContext(ctx, `
		select id, owner, name, kind, balance, currency, created_at
		from accounts where id=$1 and owner=$2
	`, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	if err != nil {
		return ledger.Account{}, storageErr("get account", err)
	}
	return acc, nil
}

func (s *Store) CreateTransaction(ctx context.Context, in ledger.TransactionInput) ([]ledger.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if in.IdempotencyKey != "" {
		recs, err := s.recordsByIdemKey(ctx, tx, in.Owner, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			return recs, nil
		}
	}

	// Lock rows in sorted id order to avoid deadlocks between racers.
	accts, err := lockAccounts(ctx, tx, in.Owner, in.AccountID, in.TransferToAccountID)
	if err != nil {
		return nil, err
	}
	src := accts[in.AccountID]
	var dst *ledger.Account
	var history []ledger.Transaction
	if in.Kind == ledger.TxTransfer {
		dst = accts[in.TransferToAccountID]
		if dst != nil && dst.Kind == ledger.KindDebt {
			history, err = queryHistory(ctx, tx, in.Owner, dst.ID, time.Time{}, time.Time{})
			if err != nil {
				return nil, err
			}
		}
	}

	plan, err := ledger.BuildTransaction(in, src, dst, history)
	if err != nil {
		return nil, err
	}

	recs, err := commitPlan(ctx, tx, plan)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit transaction", err)
	}
	return recs, nil
}

func (s *Store) CreatePayLater(ctx context.Context, in ledger.PayLaterInput) ([]ledger.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if in.IdempotencyKey != "" {
		recs, err := s.recordsByIdemKey(ctx, tx, in.Owner, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			return recs, nil
		}
	}

	accts, err := lockAccounts(ctx, tx, in.Owner, in.AccountID)
	if err != nil {
		return nil, err
	}

	plan, err := ledger.BuildPayLater(in, accts[in.AccountID])
	if err != nil {
		return nil, err
	}

	recs, err := commitPlan(ctx, tx, plan)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit transaction", err)
	}
	return recs, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, owner, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanTransaction(tx.QueryRowContext(ctx, `
		select id, owner, account_id, coalesce(category_id,''), kind, amount, description,
		       tx_date, coalesce(transfer_to_account_id,''), coalesce(target_month,''),
		       coalesce(idempotency_key,''), sequence, created_at
		from transactions where id=$1 and owner=$2 for update
	`, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrTransactionNotFound
	}
	if err != nil {
		return storageErr("load transaction", err)
	}

	accts, err := lockAccounts(ctx, tx, owner, rec.AccountID, rec.TransferToAccountID)
	if err != nil {
		return err
	}
	var dst *ledger.Account
	if rec.Kind == ledger.TxTransfer {
		dst = accts[rec.TransferToAccountID]
	}

	updates, err := ledger.BuildReversal(rec, accts[rec.AccountID], dst)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if err := applyBalance(ctx, tx, u); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `delete from transactions where id=$1 and owner=$2`, id, owner); err != nil {
		return storageErr("delete transaction", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, owner, accountID string, from, to time.Time) ([]ledger.Transaction, error) {
	if _, err := s.GetAccount(ctx, owner, accountID); err != nil {
		return nil, err
	}
	return queryHistory(ctx, s.db, owner, accountID, from, to)
}

func (s *Store) DebtByMonth(ctx context.Context, owner, accountID string) (map[string]decimal.Decimal, error) {
	acc, err := s.GetAccount(ctx, owner, accountID)
	if err != nil {
		return nil, err
	}
	if acc.Kind != ledger.KindDebt {
		return nil, ledger.ErrNotDebtAccount
	}
	history, err := queryHistory(ctx, s.db, owner, accountID, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	return ledger.DebtByMonth(accountID, history), nil
}

// --- helpers ---

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func lockAccounts(ctx context.Context, tx querier, owner string, accountIDs ...string) (map[string]*ledger.Account, error) {
	seen := make(map[string]bool)
	var order []string
	for _, id := range accountIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, id)
	}
	sort.Strings(order)

	out := make(map[string]*ledger.Account, len(order))
	for _, id := range order {
		acc, err := scanAccount(tx.QueryRowContext(ctx, `
			select id, owner, name, kind, balance, currency, created_at
			from accounts where id=$1 and owner=$2 for update
		`, id, owner))
		if errors.Is(err, sql.ErrNoRows) {
			continue // unresolved; the engine decides how to reject
		}
		if err != nil {
			return nil, storageErr("lock account", err)
		}
		out[id] = &acc
	}
	return out, nil
}

func commitPlan(ctx context.Context, tx querier, plan ledger.Plan) ([]ledger.Transaction, error) {
	now := time.Now().UTC()
	recs := make([]ledger.Transaction, 0, len(plan.Records))
	for _, rec := range plan.Records {
		rec.ID = ids.New()
		rec.CreatedAt = now
		err := tx.QueryRowContext(ctx, `
			insert into transactions(id, owner, account_id, category_id, kind, amount,
			                         description, tx_date, transfer_to_account_id,
			                         target_month, idempotency_key, created_at)
			values ($1,$2,$3,nullif($4,''),$5,$6,$7,$8,nullif($9,''),nullif($10,''),nullif($11,''),$12)
			returning sequence
		`, rec.ID, rec.Owner, rec.AccountID, rec.CategoryID, string(rec.Kind), rec.Amount,
			rec.Description, rec.Date, rec.TransferToAccountID, rec.TargetMonth,
			rec.IdempotencyKey, rec.CreatedAt).Scan(&rec.Sequence)
		if err != nil {
			return nil, storageErr("insert transaction", err)
		}
		recs = append(recs, rec)
	}
	for _, u := range plan.Updates {
		if err := applyBalance(ctx, tx, u); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func applyBalance(ctx context.Context, tx querier, u ledger.BalanceUpdate) error {
	if _, err := tx.ExecContext(ctx, `
		update accounts set balance=$2 where id=$1
	`, u.AccountID, u.NewBalance); err != nil {
		return storageErr("update balance", err)
	}
	return nil
}

func (s *Store) recordsByIdemKey(ctx context.Context, tx querier, owner, key string) ([]ledger.Transaction, error) {
	rows, err := tx.QueryContext(ctx, `
		select id, owner, account_id, coalesce(category_id,''), kind, amount, description,
		       tx_date, coalesce(transfer_to_account_id,''), coalesce(target_month,''),
		       coalesce(idempotency_key,''), sequence, created_at
		from transactions where owner=$1 and idempotency_key=$2
		order by sequence asc
	`, owner, key)
	if err != nil {
		return nil, storageErr("idempotency lookup", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func queryHistory(ctx context.Context, tx querier, owner, accountID string, from, to time.Time) ([]ledger.Transaction, error) {
	query := `
		select id, owner, account_id, coalesce(category_id,''), kind, amount, description,
		       tx_date, coalesce(transfer_to_account_id,''), coalesce(target_month,''),
		       coalesce(idempotency_key,''), sequence, created_at
		from transactions
		where owner=$1 and (account_id=$2 or transfer_to_account_id=$2)
	`
	args := []any{owner, accountID}
	if !from.IsZero() {
		args = append(args, from)
		query += ` and tx_date >= $3`
	}
	if !to.IsZero() {
		args = append(args, to)
		if from.IsZero() {
			query += ` and tx_date <= $3`
		} else {
			query += ` and tx_date <= $4`
		}
	}
	query += ` order by sequence asc`

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query transactions", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for rows.Next() {
		var rec ledger.Transaction
		var kind string
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.AccountID, &rec.CategoryID, &kind,
			&rec.Amount, &rec.Description, &rec.Date, &rec.TransferToAccountID,
			&rec.TargetMonth, &rec.IdempotencyKey, &rec.Sequence, &rec.CreatedAt); err != nil {
			return nil, storageErr("scan transaction", err)
		}
		rec.Kind = ledger.TxKind(kind)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("read transactions", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var acc ledger.Account
	var kind string
	if err := row.Scan(&acc.ID, &acc.Owner, &acc.Name, &kind, &acc.Balance, &acc.Currency, &acc.CreatedAt); err != nil {
		return ledger.Account{}, err
	}
	acc.Kind = ledger.AccountKind(kind)
	return acc, nil
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var rec ledger.Transaction
	var kind string
	if err := row.Scan(&rec.ID, &rec.Owner, &rec.AccountID, &rec.CategoryID, &kind,
		&rec.Amount, &rec.Description, &rec.Date, &rec.TransferToAccountID,
		&rec.TargetMonth, &rec.IdempotencyKey, &rec.Sequence, &rec.CreatedAt); err != nil {
		return ledger.Transaction{}, err
	}
	rec.Kind = ledger.TxKind(kind)
	return rec, nil
}

func storageErr(op string, err error) error {
	return &ledger.StorageError{Op: op, Err: err}
}
