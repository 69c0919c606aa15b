//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestEngineDB_MigrationsApplied(t *testing.T) {
	engineDB := GetEngineDB(t)

	ctx := context.Background()

	var tableCount int
	err := engineDB.DB.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = 'public'
		AND table_name IN ('model_status', 'token_usage', 'selection_decisions')`).
		Scan(&tableCount)
	if err != nil {
		t.Fatalf("failed to count tables: %v", err)
	}

	if tableCount != 3 {
		t.Errorf("expected 3 telemetry tables, got %d", tableCount)
	}
}

func TestOracleDB_SeedData(t *testing.T) {
	oracleDB := GetOracleDB(t)

	ctx := context.Background()

	tests := []struct {
		table    string
		expected int64
	}{
		{"T_FLOOR", 2},
		{"T_PROD", 4},
		{"EMP", 2},
	}

	for _, tt := range tests {
		count, err := oracleDB.Adapter.Count(ctx, "SELECT COUNT(*) FROM "+tt.table)
		if err != nil {
			t.Errorf("failed to count %s: %v", tt.table, err)
			continue
		}
		if count != tt.expected {
			t.Errorf("%s: expected %d rows, got %d", tt.table, tt.expected, count)
		}
	}
}
