package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"facility-risk/internal/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DBDriver:      "sqlite",
		DBDSN:         fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		SessionSecret: "secret",
		NotifyRate:    5,
		NotifyBurst:   1,
		AdminUsername: "admin",
		AdminEmail:    "admin@facility.local",
		AdminPassword: "Admin123!",
	}
}

func TestRunReturnsStartupErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig(t)
	cfg.DBDriver = "mysql"
	err := run(cfg, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database")

	cfg = testConfig(t)
	cfg.ProtocolSeedFile = filepath.Join(t.TempDir(), "missing.yaml")
	err = run(cfg, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed protocols")
}
