package model

import "time"

// Admin is the back-office principal. MFASecret holds the encrypted
// (v1:) form of the TOTP seed; the auth service decrypts it on demand
// and never stores the plaintext.
type Admin struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	MFAEnabled   bool       `json:"mfaEnabled"`
	MFASecret    string     `json:"-"`
	PartnerAPIID string     `json:"partnerApiId,omitempty"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	LastLoginIP  string     `json:"lastLoginIp,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Roles in ascending privilege order. RoleRank is used by the
// role-gating middleware; unknown roles rank below viewer.
const (
	RoleViewer     = "viewer"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

func RoleRank(role string) int {
	switch role {
	case RoleSuperadmin:
		return 3
	case RoleAdmin:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// Capabilities reports which optional parts of the backing schema are
// present. It is resolved once at startup and never changes while the
// process runs.
type Capabilities struct {
	MFA        bool
	PartnerAPI bool
	Devices    bool
}
