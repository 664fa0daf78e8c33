package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpCoversEveryTable(t *testing.T) {
	scripts, err := Up()
	require.NoError(t, err)
	require.NotEmpty(t, scripts)
	all := strings.Join(scripts, "\n")
	for _, table := range []string{
		"products", "product_price_tiers", "orders", "order_lines", "order_status_history",
		"production_batches", "batch_allocations", "workflow_steps", "sequences", "audit_logs",
		"idempotency_keys", "approvals", "notification_outbox", "invoice_requests",
	} {
		require.Contains(t, all, "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
}
