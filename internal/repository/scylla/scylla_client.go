package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"admin-auth-service/internal/config"
	"admin-auth-service/internal/util"
)

// PreparedStatements holds the statements the repositories actually run.
type PreparedStatements struct {
	GetAdminByUsername *gocql.Query
	CreateAdmin        *gocql.Query
	UpdatePasswordHash *gocql.Query
	UpdateLastLogin    *gocql.Query
	SetMFASecret       *gocql.Query
	EnableMFA          *gocql.Query
	DisableMFA         *gocql.Query

	FindBan   *gocql.Query
	InsertBan *gocql.Query
	DeleteBan *gocql.Query
	ListBans  *gocql.Query

	FindDevice   *gocql.Query
	UpsertDevice *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.GetAdminByUsername = s.Session.Query(`
        SELECT id, username, password_hash, role, created_at, updated_at,
            last_login_at, last_login_ip
        FROM admin_users WHERE username = ?`)

	prepared.CreateAdmin = s.Session.Query(`
        INSERT INTO admin_users (
            username, id, password_hash, role, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?) IF NOT EXISTS`)

	prepared.UpdatePasswordHash = s.Session.Query(`
        UPDATE admin_users SET password_hash = ?, updated_at = ?
        WHERE username = ?`)

	prepared.UpdateLastLogin = s.Session.Query(`
        UPDATE admin_users SET last_login_at = ?, last_login_ip = ?
        WHERE username = ?`)

	prepared.SetMFASecret = s.Session.Query(`
        UPDATE admin_users SET mfa_secret = ?, updated_at = ?
        WHERE username = ?`)

	prepared.EnableMFA = s.Session.Query(`
        UPDATE admin_users SET mfa_enabled = true, updated_at = ?
        WHERE username = ?`)

	prepared.DisableMFA = s.Session.Query(`
        UPDATE admin_users SET mfa_enabled = false, mfa_secret = null, updated_at = ?
        WHERE username = ?`)

	prepared.FindBan = s.Session.Query(`
        SELECT ip_address, reason, created_by, created_at
        FROM admin_ip_blacklist WHERE ip_address = ?`)

	prepared.InsertBan = s.Session.Query(`
        INSERT INTO admin_ip_blacklist (ip_address, reason, created_by, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.DeleteBan = s.Session.Query(`
        DELETE FROM admin_ip_blacklist WHERE ip_address = ?`)

	prepared.ListBans = s.Session.Query(`
        SELECT ip_address, reason, created_by, created_at FROM admin_ip_blacklist`)

	prepared.FindDevice = s.Session.Query(`
        SELECT admin_id, fingerprint, device_name, last_seen_at
        FROM admin_devices WHERE admin_id = ? AND fingerprint = ?`)

	prepared.UpsertDevice = s.Session.Query(`
        INSERT INTO admin_devices (admin_id, fingerprint, device_name, last_seen_at)
        VALUES (?, ?, ?, ?)`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if err == gocql.ErrNotFound {
				return err
			}
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
