package httpapi

import (
	"net/http"
	"strings"
	"time"

	"fintrack.org/internal/auth"
)

type tokenRequest struct {
	Owner string `json:"owner"`
}

// handleAuthToken mints a development token for the given owner. User
// management proper lives outside this service; this endpoint just lets
// callers obtain a scoped identity.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		writeError(w, r, http.StatusBadRequest, "owner is required")
		return
	}
	if len(owner) > 64 {
		writeError(w, r, http.StatusBadRequest, "owner too long")
		return
	}

	token, err := auth.GenerateToken(owner, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": time.Now().UTC().Add(a.tokenTTL).Format(time.RFC3339),
	})
}
