package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/xbcsmith/xzepr/infrastructure/audit"
	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/infrastructure/httputil"
	"github.com/xbcsmith/xzepr/internal/app/auth"
)

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	clientIP := httputil.ClientIP(r)
	fail := func(reason string) {
		h.metrics.RecordAuthAttempt("failure")
		h.metrics.RecordAuthFailure(reason, clientIP)
		h.auditor.Record(r.Context(), audit.Entry{
			Action:    audit.ActionLogin,
			Resource:  "user/" + req.Name,
			Outcome:   audit.OutcomeFailure,
			IPAddress: clientIP,
			UserAgent: r.UserAgent(),
			Duration:  time.Since(start),
		})
		httputil.WriteServiceError(w, errors.Unauthorized("invalid credentials"))
	}

	account, err := h.users.GetUserByName(r.Context(), req.Name)
	if err != nil {
		fail("unknown_user")
		return
	}
	if !account.Enabled {
		fail("account_disabled")
		return
	}
	if !account.VerifyPassword(req.Password) {
		fail("bad_password")
		return
	}

	roles, err := h.users.GetRoles(r.Context(), account.ID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	roleStrings := make([]string, len(roles))
	for i, role := range roles {
		roleStrings[i] = string(role)
	}

	access, refresh, err := h.tokens.Issue(account.ID.String(), roleStrings)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	h.metrics.RecordAuthAttempt("success")
	h.metrics.RecordAuthSuccess("password", account.ID.String())
	h.metrics.ObserveAuthDuration("login", time.Since(start))
	h.metrics.IncrementSessions()
	h.auditor.Record(r.Context(), audit.Entry{
		UserID:    account.ID.String(),
		Action:    audit.ActionLogin,
		Resource:  "user/" + account.ID.String(),
		Outcome:   audit.OutcomeSuccess,
		IPAddress: clientIP,
		UserAgent: r.UserAgent(),
		Duration:  time.Since(start),
	})

	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	access, refresh, err := h.tokens.Refresh(req.RefreshToken)
	if err != nil {
		h.auditor.Record(r.Context(), audit.Entry{
			Action:       audit.ActionTokenRefresh,
			Resource:     "token",
			Outcome:      audit.OutcomeFailure,
			ErrorMessage: "refresh rejected",
		})
		httputil.WriteServiceError(w, err)
		return
	}

	h.auditor.Record(r.Context(), audit.Entry{
		Action:   audit.ActionTokenRefresh,
		Resource: "token",
		Outcome:  audit.OutcomeSuccess,
	})
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
	})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		httputil.WriteServiceError(w, errors.Unauthorized("authentication required"))
		return
	}

	claims, err := h.tokens.Verify(strings.TrimSpace(tokenString), auth.TokenTypeAccess)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	h.tokens.Revoke(claims)
	h.metrics.DecrementSessions()
	h.auditor.Record(r.Context(), audit.Entry{
		UserID:   claims.UserID,
		Action:   audit.ActionLogout,
		Resource: "user/" + claims.UserID,
		Outcome:  audit.OutcomeSuccess,
	})

	w.WriteHeader(http.StatusOK)
}
