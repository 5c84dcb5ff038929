package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/md-rashed-zaman/tenantbook/libs/db"
)

// PostgresProvider reads the tables the tenant-configuration service writes.
type PostgresProvider struct {
	pool *db.Pool
}

func NewPostgresProvider(pool *db.Pool) *PostgresProvider {
	return &PostgresProvider{pool: pool}
}

func (p *PostgresProvider) GetPolicy(ctx context.Context, tenantID string) (TenantPolicy, error) {
	var pol TenantPolicy
	var hours []byte
	err := p.pool.QueryRow(ctx, `
		SELECT tenant_id, timezone, working_hours, slot_duration_minutes, buffer_minutes,
			min_advance_notice_minutes, max_advance_days, require_approval
		FROM tenant_policies
		WHERE tenant_id = $1
	`, tenantID).Scan(
		&pol.TenantID,
		&pol.Timezone,
		&hours,
		&pol.SlotDurationMinutes,
		&pol.BufferMinutes,
		&pol.MinAdvanceNoticeMinutes,
		&pol.MaxAdvanceDays,
		&pol.RequireApproval,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return TenantPolicy{}, ErrTenantNotFound
		}
		return TenantPolicy{}, err
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &pol.WorkingHours); err != nil {
			return TenantPolicy{}, fmt.Errorf("%w: working_hours: %v", ErrInvalidPolicy, err)
		}
	}

	rows, err := p.pool.Query(ctx, `
		SELECT resource_id, capacity
		FROM tenant_resources
		WHERE tenant_id = $1
		ORDER BY position ASC, resource_id ASC
	`, tenantID)
	if err != nil {
		return TenantPolicy{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var r Resource
		if err := rows.Scan(&r.ID, &r.Capacity); err != nil {
			return TenantPolicy{}, err
		}
		pol.Resources = append(pol.Resources, r)
	}
	if rows.Err() != nil {
		return TenantPolicy{}, rows.Err()
	}
	return pol, nil
}

// FeatureEnabled treats a missing feature row as disabled: the plan evaluator writes a
// row for every feature a tenant is entitled to.
func (p *PostgresProvider) FeatureEnabled(ctx context.Context, tenantID, feature string) (bool, error) {
	var tenantExists, enabled bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tenant_policies WHERE tenant_id = $1),
			COALESCE((SELECT enabled FROM tenant_features WHERE tenant_id = $1 AND feature = $2), false)
	`, tenantID, feature).Scan(&tenantExists, &enabled)
	if err != nil {
		return false, err
	}
	if !tenantExists {
		return false, ErrTenantNotFound
	}
	return enabled, nil
}
