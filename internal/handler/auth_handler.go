package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/auth"
	"admin-auth-service/internal/model"
	"admin-auth-service/internal/session"
	"admin-auth-service/internal/util"
)

// AuthHandler serves the admin authentication and session-security
// endpoints.
type AuthHandler struct {
	svc        *auth.Service
	sessions   session.Store
	recorder   audit.Recorder
	sessionTTL time.Duration
	defaultMax int
}

func NewAuthHandler(svc *auth.Service, sessions session.Store, recorder audit.Recorder, sessionTTL time.Duration, defaultMaxSessions int) *AuthHandler {
	return &AuthHandler{
		svc:        svc,
		sessions:   sessions,
		recorder:   recorder,
		sessionTTL: sessionTTL,
		defaultMax: defaultMaxSessions,
	}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Post("/login", h.Login)

	router.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(h.RequireCSRF)

		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
		r.Post("/change-password", h.ChangePassword)

		r.Post("/mfa/enroll", h.MFAEnroll)
		r.Post("/mfa/verify", h.MFAVerify)
		r.Post("/mfa/disable", h.MFADisable)
		r.Get("/mfa/status", h.MFAStatus)

		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions/revoke", h.RevokeSession)
		r.Post("/sessions/revoke-all", h.RevokeAllSessions)
		r.Post("/sessions/label", h.LabelSession)
		r.Get("/session-policy", h.GetSessionPolicy)
		r.Post("/session-policy", h.SetSessionPolicy)

		r.Get("/security/signals", h.SecuritySignals)
		r.Get("/security/events", h.SecurityEvents)

		r.Get("/blacklist", h.ListBlacklist)
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(model.RoleAdmin))
			r.Post("/blacklist", h.AddBlacklist)
			r.Delete("/blacklist/{ip}", h.RemoveBlacklist)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeAuthError maps taxonomy errors to their status and machine code;
// everything else degrades to the generic 500.
func writeAuthError(w http.ResponseWriter, err error) {
	if authErr, ok := err.(*auth.Error); ok {
		writeJSON(w, authErr.Status, authErr)
		return
	}
	util.Error("Unhandled error at handler boundary", util.ErrorField(err))
	writeJSON(w, auth.ErrInternal.Status, auth.ErrInternal)
}

// sessionUser is the principal snapshot returned by login and /me.
type sessionUser struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	PartnerAPIID string `json:"partnerApiId,omitempty"`
	MFAEnabled   bool   `json:"mfaEnabled"`
}

func userFromSession(sess *session.Session) sessionUser {
	return sessionUser{
		ID:           sess.AdminID,
		Username:     sess.Username,
		Role:         sess.Role,
		PartnerAPIID: sess.PartnerAPIID,
		MFAEnabled:   sess.MFAEnabled,
	}
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string `json:"username"`
		Password   string `json:"password"`
		OTP        string `json:"otp"`
		DeviceName string `json:"deviceName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, auth.BadRequest("Username and password are required"))
		return
	}

	res, err := h.svc.Login(r.Context(), auth.LoginInput{
		Username:   req.Username,
		Password:   req.Password,
		OTP:        req.OTP,
		DeviceName: req.DeviceName,
		IP:         clientIP(r),
		UserAgent:  util.Truncate(r.UserAgent(), 500),
	})
	if err != nil {
		writeAuthError(w, err)
		return
	}

	sess := res.Session
	h.setSessionCookie(w, sess.Token)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"sessionId": sess.Token,
		"csrfToken": sess.CSRFToken,
		"user":      userFromSession(sess),
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if err := h.svc.Logout(r.Context(), sess); err != nil {
		writeAuthError(w, err)
		return
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":      userFromSession(sess),
		"csrfToken": sess.CSRFToken,
	})
}

var passwordClasses = []func(rune) bool{
	func(c rune) bool { return c >= 'a' && c <= 'z' },
	func(c rune) bool { return c >= 'A' && c <= 'Z' },
	func(c rune) bool { return c >= '0' && c <= '9' },
	func(c rune) bool {
		switch c {
		case '@', '$', '!', '%', '*', '?', '&', '.':
			return true
		}
		return false
	},
}

func passwordStrong(pw string) bool {
	for _, class := range passwordClasses {
		found := false
		for _, c := range pw {
			if class(c) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		writeAuthError(w, auth.BadRequest("Current and new password are required"))
		return
	}
	if len(req.NewPassword) < 8 {
		writeAuthError(w, auth.BadRequest("New password must be at least 8 characters"))
		return
	}
	if len(req.NewPassword) > 100 {
		writeAuthError(w, auth.BadRequest("Password too long"))
		return
	}
	if !passwordStrong(req.NewPassword) {
		writeAuthError(w, auth.BadRequest("Password must contain uppercase, lowercase, number, and special character"))
		return
	}

	sess := SessionFromContext(r.Context())
	if err := h.svc.ChangePassword(r.Context(), sess, req.CurrentPassword, req.NewPassword); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Password changed successfully. Other sessions have been logged out.",
	})
}

func (h *AuthHandler) MFAEnroll(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	secret, uri, err := h.svc.EnrollMFA(r.Context(), sess)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"secret":     secret,
		"otpAuthUrl": uri,
	})
}

func (h *AuthHandler) MFAVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OTP  string `json:"otp"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, auth.BadRequest("Authentication code is required"))
		return
	}
	code := req.OTP
	if code == "" {
		code = req.Code
	}

	sess := SessionFromContext(r.Context())
	if err := h.svc.VerifyMFA(r.Context(), sess, code); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *AuthHandler) MFADisable(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	supported, err := h.svc.DisableMFA(r.Context(), sess)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"supported": supported,
	})
}

func (h *AuthHandler) MFAStatus(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	enabled, supported, err := h.svc.MFAStatus(r.Context(), sess)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":   enabled,
		"supported": supported,
	})
}

func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	list, err := h.svc.ListSessions(r.Context(), sess)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": list})
}

func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeAuthError(w, auth.BadRequest("sessionId required"))
		return
	}

	sess := SessionFromContext(r.Context())
	if err := h.svc.RevokeSession(r.Context(), sess, req.SessionID); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *AuthHandler) RevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	removed, currentRevoked, err := h.svc.RevokeAllSessions(r.Context(), sess)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"removed":        removed,
		"currentRevoked": currentRevoked,
	})
}

func (h *AuthHandler) LabelSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID  string `json:"sessionId"`
		DeviceName string `json:"deviceName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.DeviceName == "" {
		writeAuthError(w, auth.BadRequest("sessionId and deviceName required"))
		return
	}

	sess := SessionFromContext(r.Context())
	name, err := h.svc.LabelSession(r.Context(), sess, req.SessionID, req.DeviceName)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"deviceName": name,
	})
}

func (h *AuthHandler) GetSessionPolicy(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	limit, err := h.svc.SessionPolicy(r.Context(), sess.AdminID)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"maxSessions": limit,
		"defaultMax":  h.defaultMax,
	})
}

func (h *AuthHandler) SetSessionPolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxSessions int `json:"maxSessions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, auth.BadRequest("maxSessions must be between 1 and 10"))
		return
	}

	sess := SessionFromContext(r.Context())
	if err := h.svc.SetSessionPolicy(r.Context(), sess.AdminID, req.MaxSessions); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"maxSessions": req.MaxSessions,
	})
}

func (h *AuthHandler) SecuritySignals(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	sig := h.svc.Signals(r.Context(), ip)

	var lockoutRemaining int64
	if !sig.LockoutUntil.IsZero() {
		if remaining := time.Until(sig.LockoutUntil); remaining > 0 {
			lockoutRemaining = remaining.Milliseconds()
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ip":               ip,
		"failedAttempts":   sig.FailedAttempts,
		"lockoutUntil":     sig.LockoutUntil,
		"lockoutRemaining": lockoutRemaining,
		"isBanned":         sig.Banned,
	})
}

func (h *AuthHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 50 {
		limit = 50
	}

	events, err := h.svc.RecentEvents(r.Context(), limit)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (h *AuthHandler) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	bans, err := h.svc.ListBans(r.Context())
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"blacklist": bans})
}

func (h *AuthHandler) AddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IPAddress string `json:"ipAddress"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, auth.BadRequest("IP address is required"))
		return
	}
	ip := util.SanitizeInput(req.IPAddress)
	if ip == "" {
		writeAuthError(w, auth.BadRequest("IP address is required"))
		return
	}

	sess := SessionFromContext(r.Context())
	if err := h.svc.BanIP(r.Context(), sess, ip, util.SanitizeInput(req.Reason)); err != nil {
		writeAuthError(w, err)
		return
	}

	bans, err := h.svc.ListBans(r.Context())
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"blacklist": bans,
	})
}

func (h *AuthHandler) RemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	ip := util.SanitizeInput(chi.URLParam(r, "ip"))
	if ip == "" {
		writeAuthError(w, auth.BadRequest("IP address is required"))
		return
	}

	sess := SessionFromContext(r.Context())
	if err := h.svc.UnbanIP(r.Context(), sess, ip); err != nil {
		writeAuthError(w, err)
		return
	}

	bans, err := h.svc.ListBans(r.Context())
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"blacklist": bans,
	})
}
