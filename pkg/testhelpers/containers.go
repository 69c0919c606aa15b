// Package testhelpers starts shared database containers for integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/adapters/datasource/oracle"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/database"
)

const (
	// EngineImage runs the telemetry database.
	EngineImage = "postgres:16-alpine"
	// OracleImage is Oracle Database Free with a fast-start seed.
	OracleImage = "gvenzl/oracle-free:23-slim-faststart"

	oracleUser     = "erp"
	oraclePassword = "test_password"
	oracleService  = "FREEPDB1"
)

// EngineDB holds the engine database connection with migrations applied.
type EngineDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared PostgreSQL container with migrations applied.
// The container is created once and reused across all tests in the run.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB()
	})

	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to setup engine database: %v", sharedEngineDBErr)
	}

	return sharedEngineDB
}

func setupEngineDB() (*EngineDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        EngineImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "erp_assistant_test",
			"POSTGRES_USER":     "ekaya",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start engine container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://ekaya:test_password@%s:%s/erp_assistant_test?sslmode=disable",
		host, port.Port())

	var db *database.DB
	for i := 0; i < 10; i++ {
		db, err = database.Connect(ctx, connStr, 5, 0)
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine database: %w", err)
	}

	if err := db.Migrate(zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &EngineDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// OracleDB holds a shared Oracle Free container seeded with a small ERP schema.
type OracleDB struct {
	Container testcontainers.Container
	Adapter   *oracle.Adapter
	Config    *oracle.Config
}

var (
	sharedOracleDB     *OracleDB
	sharedOracleDBOnce sync.Once
	sharedOracleDBErr  error
)

// GetOracleDB returns a shared Oracle container with the ERP fixture tables
// from SeedStatements loaded into the "erp" schema.
func GetOracleDB(t *testing.T) *OracleDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedOracleDBOnce.Do(func() {
		sharedOracleDB, sharedOracleDBErr = setupOracleDB()
	})

	if sharedOracleDBErr != nil {
		t.Fatalf("Failed to setup Oracle database: %v", sharedOracleDBErr)
	}

	return sharedOracleDB
}

func setupOracleDB() (*OracleDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        OracleImage,
		ExposedPorts: []string{"1521/tcp"},
		Env: map[string]string{
			"ORACLE_PASSWORD":   oraclePassword,
			"APP_USER":          oracleUser,
			"APP_USER_PASSWORD": oraclePassword,
		},
		WaitingFor: wait.ForLog("DATABASE IS READY TO USE!").
			WithStartupTimeout(5 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start oracle container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "1521")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}
	portNum, err := strconv.Atoi(port.Port())
	if err != nil {
		return nil, fmt.Errorf("invalid mapped port %q: %w", port.Port(), err)
	}

	cfg := &oracle.Config{
		Host:              host,
		Port:              portNum,
		Service:           oracleService,
		Username:          oracleUser,
		Password:          oraclePassword,
		ConnectionTimeout: 30,
		PoolSize:          4,
	}

	adapter, err := oracle.NewAdapter(ctx, cfg, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to oracle: %w", err)
	}

	for _, stmt := range SeedStatements {
		if _, err := adapter.DB().ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to seed oracle schema: %w", err)
		}
	}

	return &OracleDB{
		Container: container,
		Adapter:   adapter,
		Config:    cfg,
	}, nil
}

// SeedStatements create the fixture tables used by integration tests: a
// production fact table, its floor dimension and an employee table.
var SeedStatements = []string{
	`CREATE TABLE T_FLOOR (
		FLOOR_ID     NUMBER(10) PRIMARY KEY,
		FLOOR_NAME   VARCHAR2(100) NOT NULL,
		COMPANY_CODE CHAR(3),
		OPENED_ON    TIMESTAMP(6))`,
	`CREATE TABLE T_PROD (
		PROD_ID        NUMBER(10) PRIMARY KEY,
		PROD_DATE      DATE NOT NULL,
		FLOOR_ID       NUMBER(10) REFERENCES T_FLOOR (FLOOR_ID),
		FLOOR_NAME     VARCHAR2(100),
		PRODUCTION_QTY NUMBER(12),
		DEFECT_QTY     NUMBER(12),
		DHU            NUMBER(10,2))`,
	`CREATE TABLE EMP (
		EMP_ID      NUMBER(10) PRIMARY KEY,
		NAME        VARCHAR2(100),
		DESIGNATION VARCHAR2(60),
		JOIN_DATE   DATE,
		SALARY      NUMBER(12,2))`,
	`INSERT INTO T_FLOOR VALUES (1, 'CAL-Sewing Floor 1', 'CAL', TIMESTAMP '2019-01-01 00:00:00')`,
	`INSERT INTO T_FLOOR VALUES (2, 'Winner-Knit Floor', 'WIN', TIMESTAMP '2020-06-01 00:00:00')`,
	`INSERT INTO T_PROD VALUES (1, DATE '2024-05-02', 1, 'CAL-Sewing Floor 1', 1200, 30, 2.5)`,
	`INSERT INTO T_PROD VALUES (2, DATE '2024-05-15', 1, 'CAL-Sewing Floor 1', 1100, 22, 2.0)`,
	`INSERT INTO T_PROD VALUES (3, DATE '2024-05-20', 2, 'Winner-Knit Floor', 900, 40, 4.4)`,
	`INSERT INTO T_PROD VALUES (4, DATE '2024-06-03', 2, 'Winner-Knit Floor', 950, 35, 3.7)`,
	`INSERT INTO EMP VALUES (7, 'Rahim Uddin', 'Line Chief', DATE '2021-03-14', 42000)`,
	`INSERT INTO EMP VALUES (8, 'Karim Ahmed', 'Operator', DATE '2023-08-01', 18000)`,
	`COMMIT`,
}
