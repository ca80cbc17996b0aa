package subscription

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/utils/tests"
)

// dryRunDB builds statements without executing them so the SQL a store
// emits can be checked directly.
func dryRunDB(t *testing.T) (*gorm.DB, *[]string) {
	t.Helper()

	db, err := gorm.Open(tests.DummyDialector{}, &gorm.Config{
		DryRun:                 true,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	stmts := &[]string{}
	capture := func(tx *gorm.DB) {
		*stmts = append(*stmts, tx.Statement.SQL.String())
	}
	require.NoError(t, db.Callback().Update().After("gorm:update").Register("capture_update_sql", capture))
	require.NoError(t, db.Callback().Delete().After("gorm:delete").Register("capture_delete_sql", capture))
	return db, stmts
}

func TestClaimChecksPaymentWindow(t *testing.T) {
	db, stmts := dryRunDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	claimed, err := NewGormUpgradeStore(db).Claim(context.Background(), uuid.New(), "pay_123", now)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.Len(t, *stmts, 1)
	sql := (*stmts)[0]
	assert.Contains(t, sql, "expires_at >")
	assert.Contains(t, sql, "status")
}

func TestPurgeTerminalDeletesRowsOutright(t *testing.T) {
	db, stmts := dryRunDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := NewGormUpgradeStore(db).PurgeTerminal(context.Background(), now, 500)
	require.NoError(t, err)

	require.Len(t, *stmts, 1)
	sql := (*stmts)[0]
	assert.True(t, strings.HasPrefix(sql, "DELETE FROM"),
		"retention must reclaim rows, got: %s", sql)
}
