package migrations

import (
	"strings"
	"testing"
)

func TestFilesEmbedded(t *testing.T) {
	names, err := Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}
	body, err := files.ReadFile(names[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, table := range []string{"bookings", "slot_counters", "outbox_events", "inbox_events", "tenant_policies", "tenant_resources", "tenant_features"} {
		if !strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("schema is missing table %s", table)
		}
	}
}

func TestIdempotencyMigration(t *testing.T) {
	names, err := Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(names) < 2 || names[1] != "002_idempotency.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}
	body, err := files.ReadFile(names[1])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), "PRIMARY KEY (tenant_id, idempotency_key)") {
		t.Fatalf("idempotency keys must be unique per tenant:\n%s", body)
	}
}
