// Package auth is the login orchestrator and the operations behind the
// admin security endpoints. It owns no storage of its own; everything
// is injected as an interface so single-instance and fleet deployments
// differ only in wiring.
package auth

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/device"
	"admin-auth-service/internal/geo"
	"admin-auth-service/internal/ledger"
	"admin-auth-service/internal/model"
	"admin-auth-service/internal/otp"
	"admin-auth-service/internal/secrets"
	"admin-auth-service/internal/session"
	"admin-auth-service/internal/util"
)

// AdminStore is the credential-store contract the service consumes.
// The Scylla repository is the production implementation.
type AdminStore interface {
	GetAdminByUsername(ctx context.Context, username string) (*model.Admin, error)
	CreateAdmin(ctx context.Context, admin *model.Admin) error
	UpdatePasswordHash(ctx context.Context, username, hash string) error
	UpdateLastLogin(ctx context.Context, username string, at time.Time, ip string) error
	SetMFASecret(ctx context.Context, username, encryptedSecret string) error
	EnableMFA(ctx context.Context, username string) error
	DisableMFA(ctx context.Context, username string) error
}

type Options struct {
	BcryptCost int
	MFAIssuer  string

	// LoginFailureDelay is the base pause before a rejected login
	// responds; up to half of it again is added as jitter. Zero means
	// the one second production default.
	LoginFailureDelay time.Duration
}

type Service struct {
	admins   AdminStore
	sessions session.Store
	attempts ledger.AttemptLedger
	mfa      ledger.MFALedger
	devices  *device.Tracker
	codec    *secrets.Codec
	recorder audit.Recorder
	events   audit.Reader
	geo      *geo.Resolver
	caps     model.Capabilities
	opts     Options

	// Failure paths sleep a randomized beat so response timing does not
	// leak which check failed. Swapped out in tests.
	failureDelay func() time.Duration
	sleep        func(ctx context.Context, d time.Duration)
	now          func() time.Time
}

func NewService(
	admins AdminStore,
	sessions session.Store,
	attempts ledger.AttemptLedger,
	mfa ledger.MFALedger,
	devices *device.Tracker,
	codec *secrets.Codec,
	recorder audit.Recorder,
	events audit.Reader,
	geoResolver *geo.Resolver,
	caps model.Capabilities,
	opts Options,
) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = 12
	}
	if opts.MFAIssuer == "" {
		opts.MFAIssuer = "MIYOMINT"
	}
	if opts.LoginFailureDelay == 0 {
		opts.LoginFailureDelay = time.Second
	}
	return &Service{
		admins:   admins,
		sessions: sessions,
		attempts: attempts,
		mfa:      mfa,
		devices:  devices,
		codec:    codec,
		recorder: recorder,
		events:   events,
		geo:      geoResolver,
		caps:     caps,
		opts:     opts,
		failureDelay: func() time.Duration {
			d := opts.LoginFailureDelay
			if jitter := int64(d / 2); jitter > 0 {
				d += time.Duration(rand.Int63n(jitter))
			}
			return d
		},
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
		now: time.Now,
	}
}

// Capabilities exposes the probed schema features to handlers.
func (s *Service) Capabilities() model.Capabilities { return s.caps }

type LoginInput struct {
	Username   string
	Password   string
	OTP        string
	DeviceName string
	IP         string
	UserAgent  string
}

type LoginResult struct {
	Session *session.Session
}

// Login runs the full state machine: ban gate, password verification,
// MFA gate, session issue. Every rejection is one of the taxonomy
// errors; only genuinely unexpected conditions map to ErrInternal.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	locked, err := s.attempts.IsLocked(ctx, in.IP)
	if err != nil {
		util.Error("Ban gate check failed", util.String("ip", in.IP), zap.Error(err))
		return nil, ErrInternal
	}
	if locked {
		if s.attempts.Signals(ctx, in.IP).Banned {
			return nil, ErrIPBanned
		}
		return nil, ErrLockedOut
	}

	username := util.SanitizeInput(in.Username)
	if username == "" || in.Password == "" {
		return nil, BadRequest("Username and password are required")
	}
	if len(username) > 50 || len(in.Password) > 100 {
		return nil, ErrInvalidCredentials
	}

	admin, err := s.admins.GetAdminByUsername(ctx, username)
	if err != nil {
		return nil, ErrInternal
	}
	if admin == nil {
		return nil, s.failLogin(ctx, in, 0, "user_not_found")
	}
	if admin.PasswordHash == "" {
		util.Error("Admin has no password hash", util.String("username", username))
		return nil, ErrInternal
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(in.Password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, s.failLogin(ctx, in, admin.ID, "wrong_password")
		}
		util.Error("Password hash comparison failed",
			util.String("username", username), zap.Error(err))
		return nil, ErrInternal
	}

	s.attempts.ClearOnSuccess(ctx, in.IP)

	mfaEnabled := s.caps.MFA && admin.MFAEnabled
	if mfaEnabled {
		if err := s.verifyLoginMFA(ctx, admin, in); err != nil {
			return nil, err
		}
	}

	sess, err := s.issueSession(ctx, admin, in, mfaEnabled)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Session: sess}, nil
}

// failLogin records the failure, emits the audit events, and picks
// between the uniform invalid-credentials response and the fresh-ban
// response. The randomized delay applies to the non-ban path only.
func (s *Service) failLogin(ctx context.Context, in LoginInput, adminID int64, reason string) error {
	bannedNow, err := s.attempts.RecordFailure(ctx, in.IP)
	if err != nil {
		util.Error("Failed to record login failure", util.String("ip", in.IP), zap.Error(err))
	}

	s.recorder.Record(ctx, audit.Event{
		Action:     audit.ActionLoginFailed,
		EntityType: "admin",
		AdminID:    adminID,
		IP:         in.IP,
		UserAgent:  in.UserAgent,
		Details:    map[string]interface{}{"username": in.Username, "reason": reason},
	})

	if bannedNow {
		s.recorder.Record(ctx, audit.Event{
			Action:     audit.ActionLoginBanned,
			EntityType: "security",
			AdminID:    adminID,
			IP:         in.IP,
			Details:    map[string]interface{}{"reason": ledger.DefaultBanReason},
		})
		return ErrIPBanned
	}

	s.sleep(ctx, s.failureDelay())
	return ErrInvalidCredentials
}

func (s *Service) verifyLoginMFA(ctx context.Context, admin *model.Admin, in LoginInput) error {
	if locked, _ := s.mfa.Record(admin.ID, in.IP); locked {
		return ErrMFALockedOut
	}
	if in.OTP == "" {
		return ErrMFARequired
	}

	secret, ok := s.codec.DecryptSecret(admin.MFASecret)
	if !ok {
		// Secret unavailable is a server problem; never let it look
		// like a wrong code.
		util.Error("MFA secret unavailable", util.String("username", admin.Username))
		return ErrInternal
	}

	if !otp.VerifyTOTP(secret, in.OTP, s.now()) {
		s.mfa.Record(admin.ID, in.IP)
		s.recorder.Record(ctx, audit.Event{
			Action:     audit.ActionMFAFailed,
			EntityType: "admin",
			AdminID:    admin.ID,
			IP:         in.IP,
			Details:    map[string]interface{}{"username": admin.Username},
		})
		return ErrMFAInvalid
	}

	s.mfa.Reset(admin.ID, in.IP)
	return nil
}

func (s *Service) issueSession(ctx context.Context, admin *model.Admin, in LoginInput, mfaEnabled bool) (*session.Session, error) {
	ua := device.ParseUserAgent(in.UserAgent)
	fingerprint := device.Fingerprint(in.IP, ua)
	newDevice := s.devices.IsNewDevice(ctx, admin.ID, fingerprint)

	deviceName := util.SanitizeInput(in.DeviceName)
	if deviceName == "" {
		if rec := s.devices.FindRecord(ctx, admin.ID, fingerprint); rec != nil {
			deviceName = rec.DeviceName
		}
	}
	if deviceName == "" {
		deviceName = device.BuildLabel(ua)
	}

	token, err := session.NewToken()
	if err != nil {
		return nil, ErrInternal
	}
	csrf, err := session.NewToken()
	if err != nil {
		return nil, ErrInternal
	}

	sess := &session.Session{
		Token:        token,
		AdminID:      admin.ID,
		Username:     admin.Username,
		Role:         admin.Role,
		PartnerAPIID: admin.PartnerAPIID,
		MFAEnabled:   mfaEnabled,
		IP:           in.IP,
		UserAgent:    util.Truncate(in.UserAgent, 500),
		Fingerprint:  fingerprint,
		DeviceLabel:  deviceName,
		Location:     s.geo.Locate(ctx, in.IP),
		CSRFToken:    csrf,
		NewDevice:    newDevice,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		util.Error("Failed to create session",
			util.String("username", admin.Username), zap.Error(err))
		return nil, ErrInternal
	}

	s.devices.Remember(ctx, admin.ID, fingerprint, deviceName)
	_ = s.admins.UpdateLastLogin(ctx, admin.Username, s.now().UTC(), in.IP)

	s.recorder.Record(ctx, audit.Event{
		Action:        audit.ActionLoginSuccess,
		EntityType:    "admin",
		AdminID:       admin.ID,
		AdminUsername: admin.Username,
		IP:            in.IP,
		UserAgent:     sess.UserAgent,
		Details:       map[string]interface{}{"deviceName": deviceName, "newDevice": newDevice},
	})
	if newDevice {
		s.recorder.Record(ctx, audit.Event{
			Action:        audit.ActionNewDeviceLogin,
			EntityType:    "security",
			AdminID:       admin.ID,
			AdminUsername: admin.Username,
			IP:            in.IP,
			Details:       map[string]interface{}{"deviceName": deviceName},
		})
	}

	return sess, nil
}

func (s *Service) Logout(ctx context.Context, sess *session.Session) error {
	if err := s.sessions.Revoke(ctx, sess.Token); err != nil {
		return ErrInternal
	}
	s.recorder.Record(ctx, audit.Event{
		Action:        audit.ActionLogout,
		EntityType:    "admin",
		AdminID:       sess.AdminID,
		AdminUsername: sess.Username,
		IP:            sess.IP,
	})
	return nil
}

// ChangePassword verifies the current password, installs the new hash
// and revokes every other session of the caller.
func (s *Service) ChangePassword(ctx context.Context, sess *session.Session, current, next string) error {
	admin, err := s.admins.GetAdminByUsername(ctx, sess.Username)
	if err != nil || admin == nil {
		return ErrInternal
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(current)); err != nil {
		s.recorder.Record(ctx, audit.Event{
			Action:        "admin_change_password_failed",
			EntityType:    "admin",
			AdminID:       sess.AdminID,
			AdminUsername: sess.Username,
			IP:            sess.IP,
			Details:       map[string]interface{}{"reason": "wrong_current_password"},
		})
		return &Error{Code: "invalid_credentials", Status: 401, Message: "Current password is incorrect"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.opts.BcryptCost)
	if err != nil {
		return ErrInternal
	}
	if err := s.admins.UpdatePasswordHash(ctx, sess.Username, string(hash)); err != nil {
		return ErrInternal
	}

	if _, err := s.sessions.RevokeAll(ctx, sess.AdminID, sess.Token); err != nil {
		util.Warn("Failed to revoke other sessions after password change", zap.Error(err))
	}

	s.recorder.Record(ctx, audit.Event{
		Action:        audit.ActionPasswordChanged,
		EntityType:    "admin",
		AdminID:       sess.AdminID,
		AdminUsername: sess.Username,
		IP:            sess.IP,
	})
	return nil
}

// SessionInfo is one row of the caller's session listing.
type SessionInfo struct {
	SessionID    string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
	UserAgent    string    `json:"userAgent"`
	DeviceName   string    `json:"deviceName"`
	Fingerprint  string    `json:"deviceFingerprint"`
	NewDevice    bool      `json:"newDevice"`
	Location     string    `json:"location,omitempty"`
	Current      bool      `json:"current"`
}

// ListSessions returns the caller's live sessions, geo-enriched
// concurrently since each missing location may cost an upstream call.
func (s *Service) ListSessions(ctx context.Context, sess *session.Session) ([]SessionInfo, error) {
	live, err := s.sessions.SessionsFor(ctx, sess.AdminID)
	if err != nil {
		return nil, ErrInternal
	}

	out := make([]SessionInfo, len(live))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range live {
		i := i
		g.Go(func() error {
			entry := live[i]
			location := entry.Location
			if location == "" {
				location = s.geo.Locate(gctx, entry.IP)
			}
			deviceName := entry.DeviceLabel
			newDevice := entry.NewDevice
			if rec := s.devices.FindRecord(gctx, sess.AdminID, entry.Fingerprint); rec != nil {
				if rec.DeviceName != "" {
					deviceName = rec.DeviceName
				}
				newDevice = false
			}
			out[i] = SessionInfo{
				SessionID:    entry.Token,
				CreatedAt:    entry.CreatedAt,
				LastActivity: entry.LastActivity,
				IPAddress:    entry.IP,
				UserAgent:    entry.UserAgent,
				DeviceName:   deviceName,
				Fingerprint:  entry.Fingerprint,
				NewDevice:    newDevice,
				Location:     location,
				Current:      entry.Token == sess.Token,
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// RevokeSession terminates one of the caller's own sessions. Tokens
// belonging to other admins are indistinguishable from unknown ones.
func (s *Service) RevokeSession(ctx context.Context, sess *session.Session, target string) error {
	live, err := s.sessions.SessionsFor(ctx, sess.AdminID)
	if err != nil {
		return ErrInternal
	}
	for _, entry := range live {
		if entry.Token == target {
			if err := s.sessions.Revoke(ctx, target); err != nil {
				return ErrInternal
			}
			s.recorder.Record(ctx, audit.Event{
				Action:        audit.ActionSessionRevoked,
				EntityType:    "admin",
				AdminID:       sess.AdminID,
				AdminUsername: sess.Username,
				IP:            sess.IP,
			})
			return nil
		}
	}
	return NotFound("Session not found")
}

// RevokeAllSessions terminates every session of the caller, including
// the current one, and reports both counts.
func (s *Service) RevokeAllSessions(ctx context.Context, sess *session.Session) (removed int, currentRevoked bool, err error) {
	removed, err = s.sessions.RevokeAll(ctx, sess.AdminID, "")
	if err != nil {
		return 0, false, ErrInternal
	}
	return removed, removed > 0, nil
}

// LabelSession renames the device behind one of the caller's sessions
// and persists the label on the device record.
func (s *Service) LabelSession(ctx context.Context, sess *session.Session, target, name string) (string, error) {
	safeName := util.Truncate(util.SanitizeInput(name), 120)
	if safeName == "" {
		safeName = "Device"
	}

	live, err := s.sessions.SessionsFor(ctx, sess.AdminID)
	if err != nil {
		return "", ErrInternal
	}
	for _, entry := range live {
		if entry.Token != target {
			continue
		}
		if entry.Fingerprint == "" {
			return "", BadRequest("No device fingerprint on session")
		}
		if !s.devices.Supported() {
			return "", BadRequest("Device labeling disabled (schema missing)")
		}
		if err := s.sessions.SetLabel(ctx, target, safeName); err != nil {
			return "", ErrInternal
		}
		s.devices.Remember(ctx, sess.AdminID, entry.Fingerprint, safeName)
		return safeName, nil
	}
	return "", NotFound("Session not found")
}

func (s *Service) SessionPolicy(ctx context.Context, adminID int64) (int, error) {
	limit, err := s.sessions.UserLimit(ctx, adminID)
	if err != nil {
		return 0, ErrInternal
	}
	return limit, nil
}

func (s *Service) SetSessionPolicy(ctx context.Context, adminID int64, limit int) error {
	if limit < 1 || limit > 10 {
		return BadRequest("maxSessions must be between 1 and 10")
	}
	if err := s.sessions.SetUserLimit(ctx, adminID, limit); err != nil {
		return ErrInternal
	}
	return nil
}

// Signals reports the ledger's view of the caller's IP.
func (s *Service) Signals(ctx context.Context, ip string) ledger.Signals {
	return s.attempts.Signals(ctx, ip)
}

// RecentEvents serves the security dashboard feed.
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]audit.Event, error) {
	if s.events == nil {
		return nil, nil
	}
	events, err := s.events.RecentEvents(ctx, limit)
	if err != nil {
		util.Error("Failed to load recent events", zap.Error(err))
		return nil, ErrInternal
	}
	return events, nil
}

func (s *Service) ListBans(ctx context.Context) ([]ledger.BanRecord, error) {
	bans, err := s.attempts.ListBans(ctx)
	if err != nil {
		return nil, ErrInternal
	}
	return bans, nil
}

func (s *Service) BanIP(ctx context.Context, sess *session.Session, ip, reason string) error {
	if reason == "" {
		reason = "Manual block"
	}
	if err := s.attempts.BanIP(ctx, ip, reason, sess.Username); err != nil {
		return ErrInternal
	}
	s.recorder.Record(ctx, audit.Event{
		Action:        audit.ActionIPBanned,
		EntityType:    "security",
		AdminID:       sess.AdminID,
		AdminUsername: sess.Username,
		IP:            sess.IP,
		Details:       map[string]interface{}{"ipAddress": ip, "reason": reason},
	})
	return nil
}

func (s *Service) UnbanIP(ctx context.Context, sess *session.Session, ip string) error {
	if err := s.attempts.UnbanIP(ctx, ip); err != nil {
		return ErrInternal
	}
	s.recorder.Record(ctx, audit.Event{
		Action:        audit.ActionIPUnbanned,
		EntityType:    "security",
		AdminID:       sess.AdminID,
		AdminUsername: sess.Username,
		IP:            sess.IP,
		Details:       map[string]interface{}{"ipAddress": ip},
	})
	return nil
}
