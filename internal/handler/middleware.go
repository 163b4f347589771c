package handler

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/auth"
	"admin-auth-service/internal/model"
	"admin-auth-service/internal/session"
	"admin-auth-service/internal/util"
)

type contextKey string

const sessionContextKey contextKey = "adminSession"

// SessionCookieName is the browser transport; X-Session-Id is the
// fallback for non-cookie clients.
const (
	SessionCookieName = "adminSession"
	sessionHeader     = "X-Session-Id"
	csrfHeader        = "X-CSRF-Token"
)

// SessionFromContext returns the authenticated session placed there by
// RequireAuth.
func SessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionContextKey).(*session.Session)
	return sess
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.Header.Get(sessionHeader)
}

func clientIP(r *http.Request) string {
	// middleware.RealIP has already rewritten RemoteAddr when a
	// forwarding header was present; a raw listener still carries the
	// port.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

// RequireAuth resolves the session, enforces the IP pin, slides the
// expiry window, and injects the session into the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeAuthError(w, auth.ErrSessionExpired)
			return
		}

		ip := clientIP(r)
		sess, err := h.sessions.Lookup(r.Context(), token, ip)
		if err != nil {
			clearSessionCookie(w)
			switch err {
			case session.ErrIPMismatch:
				h.recorder.Record(r.Context(), audit.Event{
					Action:     "admin_session_ip_mismatch",
					EntityType: "admin",
					IP:         ip,
					UserAgent:  r.UserAgent(),
				})
				writeAuthError(w, auth.ErrSessionIPMismatch)
			case session.ErrNotFound, session.ErrExpired:
				writeAuthError(w, auth.ErrSessionExpired)
			default:
				util.Error("Session lookup failed", util.ErrorField(err))
				writeAuthError(w, auth.ErrInternal)
			}
			return
		}

		if err := h.sessions.Touch(r.Context(), token); err != nil {
			util.Warn("Failed to touch session", util.ErrorField(err))
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCSRF enforces the per-session CSRF token on every non-GET
// request. It runs after RequireAuth.
func (h *AuthHandler) RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		sess := SessionFromContext(r.Context())
		token := r.Header.Get(csrfHeader)
		if sess == nil || token == "" ||
			subtle.ConstantTimeCompare([]byte(sess.CSRFToken), []byte(token)) != 1 {
			writeAuthError(w, auth.ErrCSRFMismatch)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole gates a route on a minimum role rank.
func RequireRole(minRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := SessionFromContext(r.Context())
			if sess == nil || model.RoleRank(sess.Role) < model.RoleRank(minRole) {
				writeAuthError(w, auth.ErrInsufficientRole)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
