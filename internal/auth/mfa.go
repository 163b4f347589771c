package auth

import (
	"context"

	"go.uber.org/zap"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/otp"
	"admin-auth-service/internal/session"
	"admin-auth-service/internal/util"
)

const mfaUnsupportedMessage = "MFA is not configured on the server. Add mfa_secret and mfa_enabled columns to admin_users."

// EnrollMFA generates and stores a fresh TOTP seed for the caller. MFA
// stays disabled until one correct code passes VerifyMFA; a dropped
// enrollment must not lock the account out.
func (s *Service) EnrollMFA(ctx context.Context, sess *session.Session) (secret, provisionURI string, err error) {
	if !s.caps.MFA {
		return "", "", BadRequest(mfaUnsupportedMessage)
	}

	secret, err = otp.GenerateSecret()
	if err != nil {
		return "", "", ErrInternal
	}

	encrypted, err := s.codec.EncryptSecret(secret)
	if err != nil {
		util.Error("Failed to encrypt MFA secret", zap.Error(err))
		return "", "", ErrInternal
	}
	if err := s.admins.SetMFASecret(ctx, sess.Username, encrypted); err != nil {
		return "", "", ErrInternal
	}

	return secret, otp.ProvisionURI(secret, sess.Username, s.opts.MFAIssuer), nil
}

// VerifyMFA confirms one code against the enrolled seed and flips
// mfa_enabled. Attempts count against the same (admin, IP) ledger as
// login-time codes.
func (s *Service) VerifyMFA(ctx context.Context, sess *session.Session, code string) error {
	if !s.caps.MFA {
		return BadRequest(mfaUnsupportedMessage)
	}
	if len(code) != 6 {
		return BadRequest("Authentication code is required")
	}

	admin, err := s.admins.GetAdminByUsername(ctx, sess.Username)
	if err != nil || admin == nil {
		return ErrInternal
	}
	if admin.MFASecret == "" {
		return BadRequest("Enroll MFA before verification")
	}

	if locked, _ := s.mfa.Record(sess.AdminID, sess.IP); locked {
		return ErrMFALockedOut
	}

	secret, ok := s.codec.DecryptSecret(admin.MFASecret)
	if !ok {
		util.Error("MFA secret unavailable", util.String("username", sess.Username))
		return ErrInternal
	}
	if !otp.VerifyTOTP(secret, code, s.now()) {
		s.mfa.Record(sess.AdminID, sess.IP)
		return ErrMFAInvalid
	}

	s.mfa.Reset(sess.AdminID, sess.IP)
	if err := s.admins.EnableMFA(ctx, sess.Username); err != nil {
		return ErrInternal
	}

	s.recorder.Record(ctx, audit.Event{
		Action:        audit.ActionMFAEnabled,
		EntityType:    "admin",
		AdminID:       sess.AdminID,
		AdminUsername: sess.Username,
		IP:            sess.IP,
	})
	return nil
}

// DisableMFA clears the seed and the enabled flag. On a schema without
// MFA columns this is a no-op success so clients can treat "disabled"
// and "unsupported" uniformly.
func (s *Service) DisableMFA(ctx context.Context, sess *session.Session) (supported bool, err error) {
	if !s.caps.MFA {
		return false, nil
	}

	if err := s.admins.DisableMFA(ctx, sess.Username); err != nil {
		return true, ErrInternal
	}
	s.mfa.Reset(sess.AdminID, sess.IP)

	s.recorder.Record(ctx, audit.Event{
		Action:        audit.ActionMFADisabled,
		EntityType:    "admin",
		AdminID:       sess.AdminID,
		AdminUsername: sess.Username,
		IP:            sess.IP,
	})
	return true, nil
}

// MFAStatus reports whether the caller has MFA enabled and whether the
// deployment supports it at all.
func (s *Service) MFAStatus(ctx context.Context, sess *session.Session) (enabled, supported bool, err error) {
	if !s.caps.MFA {
		return false, false, nil
	}
	admin, err := s.admins.GetAdminByUsername(ctx, sess.Username)
	if err != nil || admin == nil {
		return false, true, ErrInternal
	}
	return admin.MFAEnabled, true, nil
}
