package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fintrack.org/internal/audit"
	"fintrack.org/internal/auth"
	"fintrack.org/internal/events"
	"fintrack.org/internal/ledger"
	"fintrack.org/internal/obs"
)

const dateLayout = "2006-01-02"

type createAccountRequest struct {
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

type transactionRequest struct {
	AccountID           string          `json:"account_id"`
	CategoryID          string          `json:"category_id"`
	Kind                string          `json:"kind"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description"`
	Date                string          `json:"date"`
	TransferToAccountID string          `json:"transfer_to_account_id"`
	TargetMonth         string          `json:"target_month"`
}

type payLaterRequest struct {
	AccountID    string          `json:"account_id"`
	CategoryID   string          `json:"category_id"`
	Total        decimal.Decimal `json:"total"`
	Installments int             `json:"installments"`
	StartMonth   string          `json:"start_month"`
	Description  string          `json:"description"`
}

type transactionsResponse struct {
	Items []ledger.Transaction `json:"items"`
	AsOf  time.Time            `json:"as_of"`
}

func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createAccount(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if rest, ok := strings.CutSuffix(path, "/debt-by-month"); ok {
		id := strings.TrimSuffix(rest, "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "account not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getDebtByMonth(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getAccount(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleTransactionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTransaction(w, r)
	case http.MethodGet:
		a.listTransactions(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTransactionResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/transactions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodDelete:
		a.deleteTransaction(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodDelete)
	}
}

func (a *API) handlePayLater(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createPayLater(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	acc, err := a.ledger.CreateAccount(r.Context(), ledger.CreateAccountInput{
		Owner:    owner,
		Name:     strings.TrimSpace(req.Name),
		Kind:     ledger.AccountKind(req.Kind),
		Balance:  req.Balance,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
	})
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}

	a.audit(r.Context(), "ledger.account.create", map[string]any{
		"account_id": acc.ID,
		"kind":       string(acc.Kind),
	})

	w.Header().Set("Location", "/v1/accounts/"+acc.ID)
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request, id string) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	acc, err := a.ledger.GetAccount(r.Context(), owner, id)
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) getDebtByMonth(w http.ResponseWriter, r *http.Request, id string) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	months, err := a.ledger.DebtByMonth(r.Context(), owner, id)
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"months":     months,
		"as_of":      time.Now().UTC(),
	})
}

func (a *API) createTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	date, err := time.Parse(dateLayout, strings.TrimSpace(req.Date))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idem) > 128 {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}

	start := time.Now().UTC()
	recs, err := a.ledger.CreateTransaction(r.Context(), ledger.TransactionInput{
		Owner:               owner,
		AccountID:           strings.TrimSpace(req.AccountID),
		CategoryID:          strings.TrimSpace(req.CategoryID),
		Kind:                ledger.TxKind(req.Kind),
		Amount:              req.Amount,
		Description:         req.Description,
		Date:                date,
		TransferToAccountID: strings.TrimSpace(req.TransferToAccountID),
		TargetMonth:         strings.TrimSpace(req.TargetMonth),
		IdempotencyKey:      idem,
	})
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}

	replayed := idem != "" && len(recs) > 0 && recs[0].CreatedAt.Before(start)
	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}

	event := "ledger.transaction.create"
	if replayed {
		event = "ledger.transaction.idempotent_replay"
	}
	a.audit(r.Context(), event, map[string]any{
		"account_id": req.AccountID,
		"kind":       req.Kind,
		"amount":     req.Amount.String(),
	})
	if !replayed {
		a.recordAndPublish(r, recs)
	}

	writeJSON(w, http.StatusCreated, transactionsResponse{Items: recs, AsOf: time.Now().UTC()})
}

func (a *API) createPayLater(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req payLaterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idem) > 128 {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}

	start := time.Now().UTC()
	recs, err := a.ledger.CreatePayLater(r.Context(), ledger.PayLaterInput{
		Owner:          owner,
		AccountID:      strings.TrimSpace(req.AccountID),
		CategoryID:     strings.TrimSpace(req.CategoryID),
		Total:          req.Total,
		Installments:   req.Installments,
		StartMonth:     strings.TrimSpace(req.StartMonth),
		Description:    req.Description,
		IdempotencyKey: idem,
	})
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}

	replayed := idem != "" && len(recs) > 0 && recs[0].CreatedAt.Before(start)
	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}

	event := "ledger.paylater.create"
	if replayed {
		event = "ledger.paylater.idempotent_replay"
	}
	a.audit(r.Context(), event, map[string]any{
		"account_id":   req.AccountID,
		"total":        req.Total.String(),
		"installments": req.Installments,
	})
	if !replayed {
		a.recordAndPublish(r, recs)
	}

	writeJSON(w, http.StatusCreated, transactionsResponse{Items: recs, AsOf: time.Now().UTC()})
}

func (a *API) deleteTransaction(w http.ResponseWriter, r *http.Request, id string) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	if err := a.ledger.DeleteTransaction(r.Context(), owner, id); err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	a.audit(r.Context(), "ledger.transaction.delete", map[string]any{
		"transaction_id": id,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	if accountID == "" {
		writeError(w, r, http.StatusBadRequest, "account_id query parameter is required")
		return
	}
	from, err := parseDateParam(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	to, err := parseDateParam(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}

	items, err := a.ledger.ListTransactions(r.Context(), owner, accountID, from, to)
	if err != nil {
		a.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Items: items, AsOf: time.Now().UTC()})
}

// recordAndPublish bumps metrics and emits post-commit events for newly
// committed records. Event delivery is best effort.
func (a *API) recordAndPublish(r *http.Request, recs []ledger.Transaction) {
	for _, rec := range recs {
		obs.RecordTransaction(string(rec.Kind))
	}
	if a.publisher == nil {
		return
	}
	for _, rec := range recs {
		err := a.publisher.Publish(r.Context(), events.TransactionRecorded{
			TransactionID:       rec.ID,
			Owner:               rec.Owner,
			AccountID:           rec.AccountID,
			Kind:                string(rec.Kind),
			Amount:              rec.Amount,
			TransferToAccountID: rec.TransferToAccountID,
			Date:                rec.Date,
			OccurredAt:          rec.CreatedAt,
		})
		if err != nil {
			obs.LogRequest(map[string]any{
				"level":          "warn",
				"msg":            "event publish failed",
				"transaction_id": rec.ID,
				"error":          err.Error(),
			})
		}
	}
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.LogRequest(map[string]any{
			"level": "warn",
			"msg":   "audit log failed",
			"error": err.Error(),
		})
	}
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return owner, true
}

func parseDateParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, raw)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func (a *API) handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	if reason := rejectionReason(err); reason != "" {
		obs.RecordRejection(reason)
	}
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidKind),
		errors.Is(err, ledger.ErrInvalidMonth),
		errors.Is(err, ledger.ErrInvalidTransfer),
		errors.Is(err, ledger.ErrNotDebtAccount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrOverpaymentOfDebt),
		errors.Is(err, ledger.ErrPaymentExceedsMonthDebt),
		errors.Is(err, ledger.ErrNoDebtForMonth):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func rejectionReason(err error) string {
	for sentinel, reason := range map[error]string{
		ledger.ErrInvalidAmount:           "invalid_amount",
		ledger.ErrInvalidKind:             "invalid_kind",
		ledger.ErrInvalidMonth:            "invalid_month",
		ledger.ErrInvalidTransfer:         "invalid_transfer",
		ledger.ErrAccountNotFound:         "account_not_found",
		ledger.ErrTransactionNotFound:     "transaction_not_found",
		ledger.ErrNotDebtAccount:          "not_debt_account",
		ledger.ErrInsufficientBalance:     "insufficient_balance",
		ledger.ErrOverpaymentOfDebt:       "overpayment_of_debt",
		ledger.ErrPaymentExceedsMonthDebt: "payment_exceeds_month_debt",
		ledger.ErrNoDebtForMonth:          "no_debt_for_month",
	} {
		if errors.Is(err, sentinel) {
			return reason
		}
	}
	return ""
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
