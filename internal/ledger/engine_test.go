package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func asset(id, name, balance string) *Account {
	return &Account{ID: id, Name: name, Kind: KindAsset, Balance: d(balance)}
}

func debt(id, name, balance string) *Account {
	return &Account{ID: id, Name: name, Kind: KindDebt, Balance: d(balance)}
}

func TestBuildTransactionProjection(t *testing.T) {
	cases := []struct {
		name    string
		kind    TxKind
		src     *Account
		dst     *Account
		amount  string
		wantSrc string
		wantDst string
	}{
		{"income to asset", TxIncome, asset("a", "wallet", "100"), nil, "40", "140", ""},
		{"income to debt repays", TxIncome, debt("c", "card", "100"), nil, "40", "60", ""},
		{"expense from asset", TxExpense, asset("a", "wallet", "100"), nil, "40", "60", ""},
		{"expense on debt charges", TxExpense, debt("c", "card", "100"), nil, "40", "140", ""},
		{"transfer asset to asset", TxTransfer, asset("a", "wallet", "100"), asset("b", "savings", "10"), "40", "60", "50"},
		{"transfer debt funds charge", TxTransfer, debt("c", "card", "100"), asset("b", "savings", "10"), "40", "140", "50"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := TransactionInput{
				Owner:     "o",
				AccountID: tc.src.ID,
				Kind:      tc.kind,
				Amount:    d(tc.amount),
				Date:      date("2025-03-10"),
			}
			if tc.dst != nil {
				in.TransferToAccountID = tc.dst.ID
			}
			plan, err := BuildTransaction(in, tc.src, tc.dst, nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(plan.Records) != 1 {
				t.Fatalf("expected 1 record, got %d", len(plan.Records))
			}
			if got := plan.Updates[0].NewBalance; !got.Equal(d(tc.wantSrc)) {
				t.Fatalf("src balance = %s, want %s", got, tc.wantSrc)
			}
			if tc.wantDst != "" {
				if got := plan.Updates[1].NewBalance; !got.Equal(d(tc.wantDst)) {
					t.Fatalf("dst balance = %s, want %s", got, tc.wantDst)
				}
			}
		})
	}
}

func TestBuildTransactionValidationOrder(t *testing.T) {
	// A non-positive amount must be rejected before account resolution.
	_, err := BuildTransaction(TransactionInput{Kind: TxExpense, Amount: d("0")}, nil, nil, nil)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	_, err = BuildTransaction(TransactionInput{Kind: TxExpense, Amount: d("-5")}, nil, nil, nil)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount: got %v, want ErrInvalidAmount", err)
	}

	_, err = BuildTransaction(TransactionInput{Kind: TxKind("refund"), Amount: d("5")}, nil, nil, nil)
	if !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("unknown kind: got %v, want ErrInvalidKind", err)
	}

	_, err = BuildTransaction(TransactionInput{Kind: TxExpense, Amount: d("5")}, nil, nil, nil)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("missing source: got %v, want ErrAccountNotFound", err)
	}

	src := asset("a", "wallet", "100")
	_, err = BuildTransaction(TransactionInput{AccountID: "a", Kind: TxTransfer, Amount: d("5")}, src, nil, nil)
	if !errors.Is(err, ErrInvalidTransfer) {
		t.Fatalf("blank destination: got %v, want ErrInvalidTransfer", err)
	}
	_, err = BuildTransaction(TransactionInput{AccountID: "a", Kind: TxTransfer, Amount: d("5"), TransferToAccountID: "a"}, src, nil, nil)
	if !errors.Is(err, ErrInvalidTransfer) {
		t.Fatalf("self transfer: got %v, want ErrInvalidTransfer", err)
	}
	_, err = BuildTransaction(TransactionInput{AccountID: "a", Kind: TxTransfer, Amount: d("5"), TransferToAccountID: "ghost"}, src, nil, nil)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("unknown destination: got %v, want ErrAccountNotFound", err)
	}
}

func TestExpenseInsufficientBalance(t *testing.T) {
	src := asset("a", "wallet", "30")
	_, err := BuildTransaction(TransactionInput{
		Owner: "o", AccountID: "a", Kind: TxExpense, Amount: d("30.01"), Date: date("2025-03-10"),
	}, src, nil, nil)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	var detail *InsufficientBalanceError
	if !errors.As(err, &detail) {
		t.Fatalf("expected InsufficientBalanceError, got %T", err)
	}
	if detail.AccountName != "wallet" || !detail.Balance.Equal(d("30")) {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	// Spending the exact balance is allowed.
	if _, err := BuildTransaction(TransactionInput{
		Owner: "o", AccountID: "a", Kind: TxExpense, Amount: d("30"), Date: date("2025-03-10"),
	}, src, nil, nil); err != nil {
		t.Fatalf("exact balance spend rejected: %v", err)
	}
}

func TestIncomeOverpaysDebt(t *testing.T) {
	card := debt("c", "card", "50")
	_, err := BuildTransaction(TransactionInput{
		Owner: "o", AccountID: "c", Kind: TxIncome, Amount: d("50.01"), Date: date("2025-03-10"),
	}, card, nil, nil)
	if !errors.Is(err, ErrOverpaymentOfDebt) {
		t.Fatalf("got %v, want ErrOverpaymentOfDebt", err)
	}

	if _, err := BuildTransaction(TransactionInput{
		Owner: "o", AccountID: "c", Kind: TxIncome, Amount: d("50"), Date: date("2025-03-10"),
	}, card, nil, nil); err != nil {
		t.Fatalf("exact repayment rejected: %v", err)
	}
}

func TestTransferRepaymentMonthGuard(t *testing.T) {
	wallet := asset("a", "wallet", "1000")
	card := debt("c", "card", "300")
	history := []Transaction{
		{AccountID: "c", Kind: TxExpense, Amount: d("120"), Date: date("2025-03-05")},
		{AccountID: "c", Kind: TxExpense, Amount: d("180"), Date: date("2025-04-02")},
	}

	pay := func(amount, target string, txDate string) error {
		_, err := BuildTransaction(TransactionInput{
			Owner: "o", AccountID: "a", Kind: TxTransfer, Amount: d(amount),
			TransferToAccountID: "c", TargetMonth: target, Date: date(txDate),
		}, wallet, card, history)
		return err
	}

	if err := pay("120", "2025-03", "2025-05-01"); err != nil {
		t.Fatalf("full march repayment rejected: %v", err)
	}
	if err := pay("120.01", "2025-03", "2025-05-01"); !errors.Is(err, ErrPaymentExceedsMonthDebt) {
		t.Fatalf("got %v, want ErrPaymentExceedsMonthDebt", err)
	}
	var limit *MonthLimitError
	err := pay("200", "2025-03", "2025-05-01")
	if !errors.As(err, &limit) {
		t.Fatalf("expected MonthLimitError, got %v", err)
	}
	if limit.Month != "2025-03" || !limit.MaxPayable.Equal(d("120")) {
		t.Fatalf("unexpected limit detail: %+v", limit)
	}

	if err := pay("10", "2025-06", "2025-05-01"); !errors.Is(err, ErrNoDebtForMonth) {
		t.Fatalf("got %v, want ErrNoDebtForMonth", err)
	}

	// Missing target month falls back to the month of the transaction date.
	if err := pay("180", "", "2025-04-20"); err != nil {
		t.Fatalf("default month repayment rejected: %v", err)
	}
	if err := pay("181", "", "2025-04-20"); !errors.Is(err, ErrPaymentExceedsMonthDebt) {
		t.Fatalf("got %v, want ErrPaymentExceedsMonthDebt", err)
	}
}

func TestTransferRecordCarriesTargetMonth(t *testing.T) {
	wallet := asset("a", "wallet", "1000")
	card := debt("c", "card", "300")
	history := []Transaction{
		{AccountID: "c", Kind: TxExpense, Amount: d("120"), Date: date("2025-03-05")},
		{AccountID: "c", Kind: TxExpense, Amount: d("180"), Date: date("2025-04-02")},
	}

	plan, err := BuildTransaction(TransactionInput{
		Owner: "o", AccountID: "a", Kind: TxTransfer, Amount: d("120"),
		TransferToAccountID: "c", TargetMonth: "2025-03", Date: date("2025-04-10"),
	}, wallet, card, history)
	if err != nil {
		t.Fatal(err)
	}
	if got := plan.Records[0].TargetMonth; got != "2025-03" {
		t.Fatalf("target month = %q, want 2025-03", got)
	}

	// With no explicit month the record keeps the resolved default, so a
	// later re-read of the history attributes it the same way the guard did.
	plan, err = BuildTransaction(TransactionInput{
		Owner: "o", AccountID: "a", Kind: TxTransfer, Amount: d("180"),
		TransferToAccountID: "c", Date: date("2025-04-10"),
	}, wallet, card, history)
	if err != nil {
		t.Fatal(err)
	}
	if got := plan.Records[0].TargetMonth; got != "2025-04" {
		t.Fatalf("defaulted target month = %q, want 2025-04", got)
	}

	// Transfers between assets carry no month.
	plan, err = BuildTransaction(TransactionInput{
		Owner: "o", AccountID: "a", Kind: TxTransfer, Amount: d("10"),
		TransferToAccountID: "b", Date: date("2025-04-10"),
	}, wallet, asset("b", "savings", "0"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := plan.Records[0].TargetMonth; got != "" {
		t.Fatalf("asset transfer target month = %q, want empty", got)
	}
}

func TestMonthGuardTolerance(t *testing.T) {
	history := []Transaction{
		{AccountID: "c", Kind: TxExpense, Amount: d("100"), Date: date("2025-03-05")},
	}

	// Rounding drift within 1e-9 of the remaining debt is accepted.
	if err := CheckMonthPayment("c", history, "2025-03", d("100.000000001")); err != nil {
		t.Fatalf("within tolerance rejected: %v", err)
	}
	if err := CheckMonthPayment("c", history, "2025-03", d("100.000000002")); !errors.Is(err, ErrPaymentExceedsMonthDebt) {
		t.Fatalf("got %v, want ErrPaymentExceedsMonthDebt", err)
	}
}

func TestOverrepaidMonthTreatedAsZero(t *testing.T) {
	history := []Transaction{
		{AccountID: "c", Kind: TxExpense, Amount: d("100"), Date: date("2025-03-05")},
		{AccountID: "a", Kind: TxTransfer, TransferToAccountID: "c", Amount: d("100"), Date: date("2025-03-20")},
		{AccountID: "c", Kind: TxIncome, Amount: d("30"), Date: date("2025-03-25")},
	}
	if got := RemainingDebtForMonth("c", history, "2025-03"); !got.IsZero() {
		t.Fatalf("remaining = %s, want 0", got)
	}
	if err := CheckMonthPayment("c", history, "2025-03", d("1")); !errors.Is(err, ErrNoDebtForMonth) {
		t.Fatalf("got %v, want ErrNoDebtForMonth", err)
	}
}

func TestDebtByMonthBuckets(t *testing.T) {
	history := []Transaction{
		{AccountID: "c", Kind: TxExpense, Amount: d("120"), Date: date("2025-03-05")},
		{AccountID: "c", Kind: TxExpense, Amount: d("30"), Date: date("2025-03-18")},
		{AccountID: "c", Kind: TxIncome, Amount: d("50"), Date: date("2025-03-20")},
		{AccountID: "c", Kind: TxTransfer, TransferToAccountID: "b", Amount: d("25"), Date: date("2025-04-01")},
		{AccountID: "a", Kind: TxTransfer, TransferToAccountID: "c", Amount: d("10"), Date: date("2025-04-09")},
		// Dated April but aimed at March: reduces the March bucket.
		{AccountID: "a", Kind: TxTransfer, TransferToAccountID: "c", TargetMonth: "2025-03", Amount: d("40"), Date: date("2025-04-15")},
		{AccountID: "x", Kind: TxExpense, Amount: d("999"), Date: date("2025-04-09")},
	}

	buckets := DebtByMonth("c", history)
	if got := buckets["2025-03"]; !got.Equal(d("60")) {
		t.Fatalf("2025-03 = %s, want 60", got)
	}
	if got := buckets["2025-04"]; !got.Equal(d("15")) {
		t.Fatalf("2025-04 = %s, want 15", got)
	}
	if _, ok := buckets["2025-05"]; ok {
		t.Fatal("unexpected bucket for untouched month")
	}
}

func TestBuildPayLater(t *testing.T) {
	card := debt("c", "card", "40")
	plan, err := BuildPayLater(PayLaterInput{
		Owner: "o", AccountID: "c", Total: d("300"), Installments: 3,
		StartMonth: "2025-11", Description: "laptop",
	}, card)
	if err != nil {
		t.Fatal(err)
	}

	if len(plan.Records) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(plan.Records))
	}
	sum := decimal.Zero
	for i, rec := range plan.Records {
		if rec.Kind != TxExpense {
			t.Fatalf("installment %d kind = %s", i, rec.Kind)
		}
		if !rec.Amount.Equal(d("100")) {
			t.Fatalf("installment %d amount = %s, want 100", i, rec.Amount)
		}
		sum = sum.Add(rec.Amount)
	}
	if !sum.Equal(d("300")) {
		t.Fatalf("installments sum to %s, want 300", sum)
	}

	// Consecutive first-of-month dates, rolling over the year boundary.
	wantDates := []string{"2025-11-01", "2025-12-01", "2026-01-01"}
	for i, rec := range plan.Records {
		if got := rec.Date.Format("2006-01-02"); got != wantDates[i] {
			t.Fatalf("installment %d date = %s, want %s", i, got, wantDates[i])
		}
	}
	if got := plan.Records[0].Description; got != "laptop (1/3)" {
		t.Fatalf("label = %q", got)
	}
	if got := plan.Records[2].Description; got != "laptop (3/3)" {
		t.Fatalf("label = %q", got)
	}

	// Full total lands on the balance at once.
	if len(plan.Updates) != 1 || !plan.Updates[0].NewBalance.Equal(d("340")) {
		t.Fatalf("unexpected updates: %+v", plan.Updates)
	}
}

func TestBuildPayLaterSingleInstallmentKeepsLabel(t *testing.T) {
	plan, err := BuildPayLater(PayLaterInput{
		Owner: "o", AccountID: "c", Total: d("90"), Installments: 1,
		StartMonth: "2025-06", Description: "headphones",
	}, debt("c", "card", "0"))
	if err != nil {
		t.Fatal(err)
	}
	if got := plan.Records[0].Description; got != "headphones" {
		t.Fatalf("label = %q", got)
	}
}

func TestBuildPayLaterRejections(t *testing.T) {
	card := debt("c", "card", "0")
	cases := []struct {
		name string
		in   PayLaterInput
		acct *Account
		want error
	}{
		{"zero total", PayLaterInput{Total: d("0"), Installments: 3, StartMonth: "2025-06"}, card, ErrInvalidAmount},
		{"zero installments", PayLaterInput{Total: d("90"), Installments: 0, StartMonth: "2025-06"}, card, ErrInvalidAmount},
		{"bad month", PayLaterInput{Total: d("90"), Installments: 3, StartMonth: "June 2025"}, card, ErrInvalidMonth},
		{"missing account", PayLaterInput{Total: d("90"), Installments: 3, StartMonth: "2025-06"}, nil, ErrAccountNotFound},
		{"asset account", PayLaterInput{Total: d("90"), Installments: 3, StartMonth: "2025-06"}, asset("a", "wallet", "0"), ErrNotDebtAccount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := BuildPayLater(tc.in, tc.acct); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestBuildReversalRestoresBalances(t *testing.T) {
	cases := []struct {
		name string
		kind TxKind
		src  *Account
		dst  *Account
	}{
		{"income to asset", TxIncome, asset("a", "wallet", "100"), nil},
		{"expense on debt", TxExpense, debt("c", "card", "100"), nil},
		{"transfer asset to debt", TxTransfer, asset("a", "wallet", "100"), debt("c", "card", "100")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := TransactionInput{
				Owner: "o", AccountID: tc.src.ID, Kind: tc.kind,
				Amount: d("40"), Date: date("2025-03-10"),
			}
			var history []Transaction
			if tc.dst != nil {
				in.TransferToAccountID = tc.dst.ID
				history = []Transaction{{AccountID: tc.dst.ID, Kind: TxExpense, Amount: d("60"), Date: date("2025-03-01")}}
			}
			plan, err := BuildTransaction(in, tc.src, tc.dst, history)
			if err != nil {
				t.Fatal(err)
			}

			// Apply the plan, then reverse the committed record.
			after := map[string]*Account{tc.src.ID: cloneAccount(tc.src)}
			if tc.dst != nil {
				after[tc.dst.ID] = cloneAccount(tc.dst)
			}
			for _, u := range plan.Updates {
				after[u.AccountID].Balance = u.NewBalance
			}

			var dstAfter *Account
			if tc.dst != nil {
				dstAfter = after[tc.dst.ID]
			}
			updates, err := BuildReversal(plan.Records[0], after[tc.src.ID], dstAfter)
			if err != nil {
				t.Fatal(err)
			}
			for _, u := range updates {
				after[u.AccountID].Balance = u.NewBalance
			}

			if !after[tc.src.ID].Balance.Equal(tc.src.Balance) {
				t.Fatalf("src balance = %s, want %s", after[tc.src.ID].Balance, tc.src.Balance)
			}
			if tc.dst != nil && !after[tc.dst.ID].Balance.Equal(tc.dst.Balance) {
				t.Fatalf("dst balance = %s, want %s", after[tc.dst.ID].Balance, tc.dst.Balance)
			}
		})
	}
}

func TestBuildReversalFloors(t *testing.T) {
	// Undoing an income would overdraw the asset account if the funds were
	// already spent.
	tx := Transaction{AccountID: "a", Kind: TxIncome, Amount: d("100"), Date: date("2025-03-10")}
	_, err := BuildReversal(tx, asset("a", "wallet", "20"), nil)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}

	// Undoing a charge would push the debt negative after a repayment.
	tx = Transaction{AccountID: "c", Kind: TxExpense, Amount: d("100"), Date: date("2025-03-10")}
	_, err = BuildReversal(tx, debt("c", "card", "20"), nil)
	if !errors.Is(err, ErrOverpaymentOfDebt) {
		t.Fatalf("got %v, want ErrOverpaymentOfDebt", err)
	}
}

func TestMonthKeyHelpers(t *testing.T) {
	if got := MonthKey(date("2025-12-31")); got != "2025-12" {
		t.Fatalf("MonthKey = %q", got)
	}
	start, err := ParseMonth(" 2025-07 ")
	if err != nil {
		t.Fatal(err)
	}
	if got := start.Format("2006-01-02"); got != "2025-07-01" {
		t.Fatalf("ParseMonth = %s", got)
	}
	if _, err := ParseMonth("07/2025"); err == nil {
		t.Fatal("expected parse error")
	}
}

func cloneAccount(a *Account) *Account {
	cp := *a
	return &cp
}
