package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"admin-auth-service/internal/model"
	"admin-auth-service/internal/util"
)

// EnsureBootstrapAdmin creates the designated bootstrap principal, or
// repairs its missing password hash, before the server starts serving.
// It runs exactly once at startup and only ever touches the one
// configured username; the login path has no create-on-miss behavior.
func EnsureBootstrapAdmin(ctx context.Context, admins AdminStore, username, password string, bcryptCost int) error {
	if password == "" {
		return nil
	}

	admin, err := admins.GetAdminByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to check bootstrap admin: %w", err)
	}

	if admin != nil && admin.PasswordHash != "" {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap password: %w", err)
	}

	if admin == nil {
		err = admins.CreateAdmin(ctx, &model.Admin{
			Username:     username,
			PasswordHash: string(hash),
			Role:         model.RoleAdmin,
		})
		if err != nil {
			return fmt.Errorf("failed to create bootstrap admin: %w", err)
		}
		util.Info("Bootstrap admin created", util.String("username", username))
		return nil
	}

	if err := admins.UpdatePasswordHash(ctx, username, string(hash)); err != nil {
		return fmt.Errorf("failed to repair bootstrap admin password: %w", err)
	}
	util.Info("Bootstrap admin password repaired", util.String("username", username))
	return nil
}
