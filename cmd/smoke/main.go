package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"fintrack.org/internal/ledger"
)

// Exercises a running fintrack API end to end: mints a dev token, creates
// an asset and a debt account, spends from the card, repays part of the
// month's debt and checks the resulting balances.
func main() {
	base := os.Getenv("FINTRACK_SMOKE_ADDR")
	if base == "" {
		base = "http://localhost:8080"
	}

	c := &smokeClient{
		base: base,
		http: &http.Client{Timeout: 5 * time.Second},
	}

	var tokenResp struct {
		Token string `json:"token"`
	}
	c.call(http.MethodPost, "/v1/auth/token", map[string]any{"owner": "smoke"}, &tokenResp)
	c.token = tokenResp.Token

	var wallet, card ledger.Account
	c.call(http.MethodPost, "/v1/accounts", map[string]any{
		"name":     "smoke wallet",
		"kind":     "asset",
		"balance":  "1000",
		"currency": "USD",
	}, &wallet)
	c.call(http.MethodPost, "/v1/accounts", map[string]any{
		"name":     "smoke card",
		"kind":     "debt",
		"balance":  "0",
		"currency": "USD",
	}, &card)

	today := time.Now().UTC().Format("2006-01-02")

	var spent struct {
		Items []ledger.Transaction `json:"items"`
	}
	c.call(http.MethodPost, "/v1/transactions", map[string]any{
		"account_id":  card.ID,
		"kind":        "expense",
		"amount":      "250",
		"description": "smoke purchase",
		"date":        today,
	}, &spent)
	if len(spent.Items) != 1 {
		log.Fatalf("expected 1 expense record, got %d", len(spent.Items))
	}

	c.call(http.MethodPost, "/v1/transactions", map[string]any{
		"account_id":             wallet.ID,
		"kind":                   "transfer",
		"amount":                 "100",
		"description":            "smoke repayment",
		"date":                   today,
		"transfer_to_account_id": card.ID,
	}, nil)

	var walletAfter, cardAfter ledger.Account
	c.call(http.MethodGet, "/v1/accounts/"+wallet.ID, nil, &walletAfter)
	c.call(http.MethodGet, "/v1/accounts/"+card.ID, nil, &cardAfter)

	if !walletAfter.Balance.Equal(decimal.NewFromInt(900)) {
		log.Fatalf("unexpected wallet balance: %s", walletAfter.Balance)
	}
	if !cardAfter.Balance.Equal(decimal.NewFromInt(150)) {
		log.Fatalf("unexpected card balance: %s", cardAfter.Balance)
	}

	var debt struct {
		Months map[string]decimal.Decimal `json:"months"`
	}
	c.call(http.MethodGet, "/v1/accounts/"+card.ID+"/debt-by-month", nil, &debt)
	month := time.Now().UTC().Format("2006-01")
	if got := debt.Months[month]; !got.Equal(decimal.NewFromInt(150)) {
		log.Fatalf("unexpected debt for %s: %s", month, got)
	}

	fmt.Printf("✅ fintrack smoke test passed: accounts=%s,%s\n", wallet.ID, card.ID)
}

type smokeClient struct {
	base  string
	token string
	http  *http.Client
}

func (c *smokeClient) call(method, path string, body any, out any) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("%s %s: marshal body: %v", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		log.Fatalf("%s %s: build request: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("%s %s: read response: %v", method, path, err)
	}
	if resp.StatusCode >= 400 {
		log.Fatalf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			log.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
}
