//go:build integration

package formulas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/formulas/migrations"
)

// setupTestDB starts PostgreSQL, applies the migrations and returns a connection
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "formulas_test",
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
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	databaseURL := fmt.Sprintf("postgres://test:test@%s:%s/formulas_test?sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", databaseURL)
		if err == nil {
			if err = db.Ping(); err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.Up(databaseURL); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func TestPostgresConfigStore(t *testing.T) {
	db := setupTestDB(t)

	runConfigStoreTests(t, func(t *testing.T) ConfigStore {
		if _, err := db.Exec(`TRUNCATE formula_configs`); err != nil {
			t.Fatalf("Failed to truncate: %v", err)
		}
		return NewPostgresConfigStore(db)
	})
}

func TestPostgresPartialIndexRejectsSecondActive(t *testing.T) {
	db := setupTestDB(t)
	store := NewPostgresConfigStore(db)
	ctx := context.Background()
	scope := ReportScope("r1", FieldNetBenefit)

	mustCreate(t, store, newFormula(scope, "1", true))
	draft := mustCreate(t, store, newFormula(scope, "2", false))

	// bypass the store to prove the index is the last line of enforcement
	_, err := db.ExecContext(ctx, `UPDATE formula_configs SET is_active = true WHERE id = $1`, draft.ID)
	if err == nil {
		t.Fatal("second active version was accepted by the database")
	}
	if mapped := mapStoreError("activate", err); !errors.Is(mapped, ErrActivationConflict) {
		t.Errorf("unique violation mapped to %v, want ErrActivationConflict", mapped)
	}
}

func TestPostgresRoundTripsConstantsAndNulls(t *testing.T) {
	db := setupTestDB(t)
	store := NewPostgresConfigStore(db)
	ctx := context.Background()

	req := newFormula(GlobalScope(FieldAnnualTokenCost), "a * rate", true)
	req.Constants = nil
	global := mustCreate(t, store, req)

	got, err := store.Get(ctx, global.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Scope != GlobalScope(FieldAnnualTokenCost) {
		t.Errorf("scope = %s, want global", got.Scope)
	}
	if got.Constants == nil || len(got.Constants) != 0 {
		t.Errorf("Constants = %#v, want empty slice", got.Constants)
	}
	if got.Notes != "" {
		t.Errorf("Notes = %q, want empty", got.Notes)
	}
}
