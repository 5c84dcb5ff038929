package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"
)

const EventTenantPolicyUpdated = "tenant.policy.updated.v1"

// Invalidator drops cached tenant configuration.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

type policyUpdated struct {
	TenantID string `json:"tenant_id"`
}

// PolicyUpdatedHandler evicts the tenant's cached policy and feature flags.
func PolicyUpdatedHandler(inv Invalidator, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt policyUpdated
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Topic, err)
		}
		tenantID := strings.TrimSpace(evt.TenantID)
		if tenantID == "" {
			return fmt.Errorf("decode %s: tenant_id is empty", msg.Topic)
		}
		if err := inv.Invalidate(ctx, tenantID); err != nil {
			return err
		}
		logger.Info("tenant policy cache invalidated", "tenant_id", tenantID)
		return nil
	}
}
