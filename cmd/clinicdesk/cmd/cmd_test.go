package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/clinicdesk/config"
	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/typegen"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Storage.Driver = driver
	cfg.Artifacts.Dirs = []string{filepath.Join(dir, "out")}
	cfg.Artifacts.TypesFile = typegen.DeclarationFile
	require.NoError(t, cfg.Validate())
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8765/ipc/ws", wsURL("http://127.0.0.1:8765"))
	assert.Equal(t, "wss://desk.local/ipc/ws", wsURL("https://desk.local"))
}

func TestWriteArtifacts(t *testing.T) {
	cfg := testConfig(t, config.DriverMemory)
	a, err := newApp(cfg, discardLogger(), nil)
	require.NoError(t, err)
	require.NoError(t, a.writeArtifacts())

	out := cfg.Artifacts.Dirs[0]
	data, err := os.ReadFile(filepath.Join(out, ipc.TreeFile))
	require.NoError(t, err)
	var tree ipc.Tree
	require.NoError(t, json.Unmarshal(data, &tree))
	assert.Contains(t, tree.Leaves(), "query:patient:list")
	assert.Contains(t, tree.Leaves(), "query:diagnostic:getById")

	decls, err := os.ReadFile(filepath.Join(out, typegen.DeclarationFile))
	require.NoError(t, err)
	assert.Contains(t, string(decls), "Mod_query_patient")
}

func TestBackendDisabledOmitsDiagnostics(t *testing.T) {
	cfg := testConfig(t, config.DriverMemory)
	cfg.Backend.Disabled = true
	a, err := newApp(cfg, discardLogger(), nil)
	require.NoError(t, err)
	assert.False(t, a.router.Has("query:diagnostic:list"))
	assert.False(t, a.router.Has("auth:backendLogin"))
	assert.True(t, a.router.Has("auth:login"))
}

func TestOpenClinic(t *testing.T) {
	for _, driver := range []string{config.DriverMemory, config.DriverBolt, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(t, driver)
			clinic, closeRepo, err := openClinic(context.Background(), cfg)
			require.NoError(t, err)
			defer closeRepo()

			n, err := clinic.Patients.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.FileExists(t, cfg.KeyPath())
		})
	}
}

func TestOpenRepositoryUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "mongo"
	_, _, err := openRepository(context.Background(), cfg)
	assert.ErrorContains(t, err, `unknown storage driver "mongo"`)
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())
	assert.NotEmpty(t, bytes.TrimSpace(buf.Bytes()))
}
