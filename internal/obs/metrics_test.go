package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                  "/",
		"/metrics":                          "/metrics",
		"/v1/accounts/abc":                  "/v1/accounts/:id",
		"/v1/accounts/abc/debt-by-month":    "/v1/accounts/:id/debt-by-month",
		"/v1/accounts/abc/extra/deep":       "/v1/accounts/abc/extra/deep",
		"/v1/transactions":                  "/v1/transactions",
		"/v1/transactions/01J0":             "/v1/transactions/:id",
		"/v1/transactions?account_id=01J0":  "/v1/transactions",
		"/v1/paylater":                      "/v1/paylater",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
