package scylla

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"admin-auth-service/internal/model"
	"admin-auth-service/internal/util"
)

// AdminRepository reads and mutates admin principals. The select list
// is fixed at construction from the probed capabilities, so a schema
// without the optional MFA or partner columns never sees them in a
// query.
type AdminRepository struct {
	client     *ScyllaClient
	caps       model.Capabilities
	selectStmt string
}

func NewAdminRepository(client *ScyllaClient, caps model.Capabilities) *AdminRepository {
	cols := []string{
		"id", "username", "password_hash", "role",
		"created_at", "updated_at", "last_login_at", "last_login_ip",
	}
	if caps.MFA {
		cols = append(cols, "mfa_enabled", "mfa_secret")
	}
	if caps.PartnerAPI {
		cols = append(cols, "partner_api_id")
	}

	return &AdminRepository{
		client: client,
		caps:   caps,
		selectStmt: fmt.Sprintf(
			"SELECT %s FROM admin_users WHERE username = ?",
			strings.Join(cols, ", ")),
	}
}

func (r *AdminRepository) GetAdminByUsername(ctx context.Context, username string) (*model.Admin, error) {
	admin := &model.Admin{}

	dest := []interface{}{
		&admin.ID, &admin.Username, &admin.PasswordHash, &admin.Role,
		&admin.CreatedAt, &admin.UpdatedAt,
	}
	var lastLogin time.Time
	dest = append(dest, &lastLogin, &admin.LastLoginIP)
	if r.caps.MFA {
		dest = append(dest, &admin.MFAEnabled, &admin.MFASecret)
	}
	if r.caps.PartnerAPI {
		dest = append(dest, &admin.PartnerAPIID)
	}

	query := r.client.Query(r.selectStmt, username).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, dest...); err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("Failed to get admin by username",
			util.String("username", username), zap.Error(err))
		return nil, fmt.Errorf("failed to get admin by username: %w", err)
	}

	if !lastLogin.IsZero() {
		admin.LastLoginAt = &lastLogin
	}
	return admin, nil
}

func (r *AdminRepository) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	now := time.Now().UTC()
	admin.CreatedAt = now
	admin.UpdatedAt = now
	if admin.ID == 0 {
		admin.ID = now.UnixMilli()
	}

	query := r.client.Prepared.CreateAdmin.WithContext(ctx).Bind(
		admin.Username, admin.ID, admin.PasswordHash, admin.Role,
		admin.CreatedAt, admin.UpdatedAt)

	applied, err := query.MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to create admin",
			util.String("username", admin.Username), zap.Error(err))
		return fmt.Errorf("failed to create admin: %w", err)
	}
	if !applied {
		return fmt.Errorf("admin %q already exists", admin.Username)
	}

	util.Info("Admin account created",
		util.String("username", admin.Username), util.String("role", admin.Role))
	return nil
}

func (r *AdminRepository) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	query := r.client.Prepared.UpdatePasswordHash.WithContext(ctx).Bind(
		hash, time.Now().UTC(), username)
	if err := query.Exec(); err != nil {
		util.Error("Failed to update password hash",
			util.String("username", username), zap.Error(err))
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	return nil
}

func (r *AdminRepository) UpdateLastLogin(ctx context.Context, username string, at time.Time, ip string) error {
	query := r.client.Prepared.UpdateLastLogin.WithContext(ctx).Bind(at, ip, username)
	if err := query.Exec(); err != nil {
		// Login proceeds even if the bookkeeping write fails.
		util.Warn("Failed to update last login",
			util.String("username", username), zap.Error(err))
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *AdminRepository) SetMFASecret(ctx context.Context, username, encryptedSecret string) error {
	if !r.caps.MFA {
		return fmt.Errorf("mfa columns not present in schema")
	}
	query := r.client.Prepared.SetMFASecret.WithContext(ctx).Bind(
		encryptedSecret, time.Now().UTC(), username)
	if err := query.Exec(); err != nil {
		return fmt.Errorf("failed to set mfa secret: %w", err)
	}
	return nil
}

func (r *AdminRepository) EnableMFA(ctx context.Context, username string) error {
	if !r.caps.MFA {
		return fmt.Errorf("mfa columns not present in schema")
	}
	query := r.client.Prepared.EnableMFA.WithContext(ctx).Bind(time.Now().UTC(), username)
	if err := query.Exec(); err != nil {
		return fmt.Errorf("failed to enable mfa: %w", err)
	}
	util.Info("MFA enabled", util.String("username", username))
	return nil
}

func (r *AdminRepository) DisableMFA(ctx context.Context, username string) error {
	if !r.caps.MFA {
		return fmt.Errorf("mfa columns not present in schema")
	}
	query := r.client.Prepared.DisableMFA.WithContext(ctx).Bind(time.Now().UTC(), username)
	if err := query.Exec(); err != nil {
		return fmt.Errorf("failed to disable mfa: %w", err)
	}
	util.Info("MFA disabled", util.String("username", username))
	return nil
}
