package scylla

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"admin-auth-service/internal/device"
)

// DeviceRepository persists known admin devices in admin_devices,
// keyed by (admin_id, fingerprint).
type DeviceRepository struct {
	client *ScyllaClient
}

func NewDeviceRepository(client *ScyllaClient) *DeviceRepository {
	return &DeviceRepository{client: client}
}

func (r *DeviceRepository) FindDevice(ctx context.Context, adminID int64, fingerprint string) (*device.Record, error) {
	rec := &device.Record{}
	query := r.client.Prepared.FindDevice.WithContext(ctx).Bind(adminID, fingerprint)
	err := r.client.ScanWithRetry(query,
		&rec.AdminID, &rec.Fingerprint, &rec.DeviceName, &rec.LastSeenAt)
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find device: %w", err)
	}
	return rec, nil
}

func (r *DeviceRepository) UpsertDevice(ctx context.Context, rec device.Record) error {
	query := r.client.Prepared.UpsertDevice.WithContext(ctx).Bind(
		rec.AdminID, rec.Fingerprint, rec.DeviceName, rec.LastSeenAt)
	if err := query.Exec(); err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}
