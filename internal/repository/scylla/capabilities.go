package scylla

import (
	"context"
	"fmt"

	"admin-auth-service/internal/model"
	"admin-auth-service/internal/util"
)

// ProbeCapabilities inspects the schema once at startup and reports
// which optional features the deployment supports. The result is
// immutable for the process lifetime; migrations require a restart.
func ProbeCapabilities(ctx context.Context, client *ScyllaClient, keyspace string) (model.Capabilities, error) {
	caps := model.Capabilities{}

	columns := make(map[string]struct{})
	iter := client.Session.Query(`
        SELECT column_name FROM system_schema.columns
        WHERE keyspace_name = ? AND table_name = ?`,
		keyspace, "admin_users").WithContext(ctx).Iter()

	var name string
	for iter.Scan(&name) {
		columns[name] = struct{}{}
	}
	if err := iter.Close(); err != nil {
		return caps, fmt.Errorf("failed to probe admin_users columns: %w", err)
	}

	_, hasMFASecret := columns["mfa_secret"]
	_, hasMFAEnabled := columns["mfa_enabled"]
	caps.MFA = hasMFASecret && hasMFAEnabled
	_, caps.PartnerAPI = columns["partner_api_id"]

	var table string
	err := client.Session.Query(`
        SELECT table_name FROM system_schema.tables
        WHERE keyspace_name = ? AND table_name = ?`,
		keyspace, "admin_devices").WithContext(ctx).Scan(&table)
	caps.Devices = err == nil

	util.Info("Schema capabilities resolved",
		util.Bool("mfa", caps.MFA),
		util.Bool("partnerApi", caps.PartnerAPI),
		util.Bool("devices", caps.Devices))
	return caps, nil
}
