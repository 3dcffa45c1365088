package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/docscan/internal/auth"
	"github.com/dukerupert/docscan/internal/store"
)

const (
	AdminCookieName    = "docscan_admin"
	IdentityCookieName = "docscan_uid"
	IdentityHeader     = "X-User-ID"

	identityCookieAge = 365 * 24 * time.Hour
)

var validIdentity = regexp.MustCompile(`^[A-Za-z0-9._@:-]{1,128}$`)

// Identity resolves the caller's quota identity from the X-User-ID header,
// then the identity cookie. A caller with neither gets a generated identity
// set as a cookie.
func Identity(secureCookies bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(IdentityHeader))
			if id != "" && !validIdentity.MatchString(id) {
				writeError(w, http.StatusBadRequest, "invalid "+IdentityHeader+" header")
				return
			}
			if id == "" {
				if c, err := r.Cookie(IdentityCookieName); err == nil && validIdentity.MatchString(c.Value) {
					id = c.Value
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     IdentityCookieName,
					Value:    id,
					Path:     "/",
					MaxAge:   int(identityCookieAge.Seconds()),
					HttpOnly: true,
					Secure:   secureCookies,
					SameSite: http.SameSiteLaxMode,
				})
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAdmin validates the admin session cookie and populates the admin
// principal. Requests without a live session get a 401 JSON body.
func RequireAdmin(sessions *store.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(AdminCookieName)
			if err != nil || cookie.Value == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			sess, err := sessions.GetByToken(cookie.Value)
			if err != nil || sess == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			ctx := auth.WithAdmin(r.Context(), auth.Admin{Username: sess.Username, SessionID: sess.ID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
