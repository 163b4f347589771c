package scylla

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"admin-auth-service/internal/ledger"
	"admin-auth-service/internal/util"
)

// BanRepository persists the IP blacklist in admin_ip_blacklist.
type BanRepository struct {
	client *ScyllaClient
}

func NewBanRepository(client *ScyllaClient) *BanRepository {
	return &BanRepository{client: client}
}

func (r *BanRepository) FindBan(ctx context.Context, ip string) (*ledger.BanRecord, error) {
	rec := &ledger.BanRecord{}
	query := r.client.Prepared.FindBan.WithContext(ctx).Bind(ip)
	err := r.client.ScanWithRetry(query,
		&rec.IPAddress, &rec.Reason, &rec.CreatedBy, &rec.CreatedAt)
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find ban: %w", err)
	}
	return rec, nil
}

func (r *BanRepository) InsertBan(ctx context.Context, rec ledger.BanRecord) error {
	query := r.client.Prepared.InsertBan.WithContext(ctx).Bind(
		rec.IPAddress, rec.Reason, rec.CreatedBy, rec.CreatedAt)
	if err := query.Exec(); err != nil {
		util.Error("Failed to insert ban",
			util.String("ip", rec.IPAddress), zap.Error(err))
		return fmt.Errorf("failed to insert ban: %w", err)
	}
	return nil
}

func (r *BanRepository) DeleteBan(ctx context.Context, ip string) error {
	query := r.client.Prepared.DeleteBan.WithContext(ctx).Bind(ip)
	if err := query.Exec(); err != nil {
		return fmt.Errorf("failed to delete ban: %w", err)
	}
	return nil
}

func (r *BanRepository) ListBans(ctx context.Context) ([]ledger.BanRecord, error) {
	iter := r.client.Prepared.ListBans.WithContext(ctx).Iter()

	var out []ledger.BanRecord
	var rec ledger.BanRecord
	for iter.Scan(&rec.IPAddress, &rec.Reason, &rec.CreatedBy, &rec.CreatedAt) {
		out = append(out, rec)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list bans: %w", err)
	}
	return out, nil
}
