//go:build integration

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/formulas/internal/config"
)

// startPostgres runs a PostgreSQL testcontainer and returns its URL
func startPostgres(t *testing.T) string {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { postgres.Terminate(ctx) })

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())
}

// TestEndToEndPostgres boots the server against PostgreSQL with migrations on start,
// seeds a report and resolves a use-case override
func TestEndToEndPostgres(t *testing.T) {
	cfg := config.Default()
	cfg.DatabaseURL = startPostgres(t)
	cfg.MigrateOnStart = true

	server, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { server.db.Close() })

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	base := ts.URL + "/api/v1"

	var health HealthResponse
	require.Equal(t, http.StatusOK, makeRequest(t, http.MethodGet, base+"/health", nil, &health))
	assert.Equal(t, "postgres", health.Store)

	var seeded FormulasListResponse
	require.Equal(t, http.StatusOK, makeRequest(t, http.MethodPost, base+"/reports/r1/formulas/seed", nil, &seeded))
	assert.Equal(t, 7, seeded.Count)

	var override map[string]any
	status := makeRequest(t, http.MethodPost, base+"/formulas", map[string]any{
		"reportId":   "r1",
		"useCaseId":  "u1",
		"fieldKey":   "ttvScore",
		"label":      "Slower decay",
		"expression": "max(0, 100 - timeToValueMonths * 5)",
	}, &override)
	require.Equal(t, http.StatusCreated, status, "%v", override)

	var active map[string]any
	require.Equal(t, http.StatusOK, makeRequest(t, http.MethodGet, base+"/formulas/active?reportId=r1&useCaseId=u1&fieldKey=ttvScore", nil, &active))
	assert.Equal(t, override["id"], active["id"])

	require.Equal(t, http.StatusOK, makeRequest(t, http.MethodGet, base+"/formulas/active?reportId=r1&useCaseId=u2&fieldKey=ttvScore", nil, &active))
	assert.NotEqual(t, override["id"], active["id"])

	var evalResp map[string]any
	require.Equal(t, http.StatusOK, makeRequest(t, http.MethodPost, base+"/formulas/evaluate", map[string]any{
		"formulaId": override["id"],
		"context":   map[string]float64{"timeToValueMonths": 4},
	}, &evalResp))
	assert.Equal(t, float64(80), evalResp["value"])
}
