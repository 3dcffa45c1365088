package handler

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/docscan/internal/auth"
	"github.com/dukerupert/docscan/internal/middleware"
	"github.com/dukerupert/docscan/internal/model"
	"github.com/dukerupert/docscan/internal/quota"
	"github.com/dukerupert/docscan/internal/store"
)

// AdminCredentials is the single admin login. An empty username or hash
// disables login.
type AdminCredentials struct {
	Username     string
	PasswordHash string
}

type AdminHandler struct {
	ledger        *quota.Ledger
	sessionStore  *store.SessionStore
	creds         AdminCredentials
	secureCookies bool
	logger        *slog.Logger
}

func NewAdminHandler(ledger *quota.Ledger, ss *store.SessionStore, creds AdminCredentials, secureCookies bool, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		ledger:        ledger,
		sessionStore:  ss,
		creds:         creds,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.creds.Username == "" || h.creds.PasswordHash == "" {
		writeError(w, http.StatusForbidden, "admin login is disabled")
		return
	}

	var req loginRequest
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.creds.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(h.creds.PasswordHash), []byte(req.Password))
	if !userOK || passErr != nil {
		h.logger.Warn("admin login failed", "username", req.Username, "remote", middleware.RealIP(r))
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	sess, err := h.sessionStore.Create(h.creds.Username)
	if err != nil {
		h.logger.Error("create admin session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   h.secureCookies,
	})

	h.logger.Info("admin logged in", "username", sess.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"username":   sess.Username,
		"expires_at": sess.ExpiresAt,
	})
}

func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if admin, ok := auth.AdminFromContext(r.Context()); ok {
		if err := h.sessionStore.Delete(admin.SessionID); err != nil {
			h.logger.Error("delete admin session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type accountView struct {
	model.Account
	Usage model.Usage `json:"usage"`
}

func (h *AdminHandler) view(acct model.Account) accountView {
	return accountView{Account: acct, Usage: h.ledger.UsageOf(acct)}
}

func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.ledger.Accounts()
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, h.view(a))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.ledger.Get(r.PathValue("identity"))
	if !ok {
		writeError(w, http.StatusNotFound, quota.ErrUnknownUser.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.view(acct))
}

type createAccountRequest struct {
	Identity string `json:"identity"`
}

func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if r.ContentLength != 0 && !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	acct, err := h.ledger.CreateAccount(strings.TrimSpace(req.Identity))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(acct))
}

type setTierRequest struct {
	Tier string `json:"tier"`
}

func (h *AdminHandler) SetTier(w http.ResponseWriter, r *http.Request) {
	var req setTierRequest
	if !decodeJSON(r, &req) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	acct, err := h.ledger.SetTier(r.PathValue("identity"), strings.TrimSpace(req.Tier))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.logger.Info("tier changed", "identity", acct.Identity, "tier", acct.Tier, "admin", adminName(r))
	writeJSON(w, http.StatusOK, h.view(acct))
}

func (h *AdminHandler) ResetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.ledger.ResetUsage(r.PathValue("identity"))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(acct))
}

func (h *AdminHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	if err := h.ledger.DeleteAccount(identity); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.logger.Info("account deleted", "identity", identity, "admin", adminName(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) ResetAllUsage(w http.ResponseWriter, r *http.Request) {
	n := h.ledger.ResetAllUsage()
	h.logger.Info("all usage reset", "accounts", n, "admin", adminName(r))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "accounts": n})
}

func (h *AdminHandler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quota.ErrUnknownUser):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, quota.ErrInvalidTier):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, quota.ErrAccountExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("ledger operation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func adminName(r *http.Request) string {
	admin, _ := auth.AdminFromContext(r.Context())
	return admin.Username
}
