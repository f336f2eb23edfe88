package common

import (
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/hft-trading-engine/internal/monitoring"
)

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()

	loaded, err := LoadEnvFile(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.False(t, loaded)

	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("HFT_COMMON_TEST=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("HFT_COMMON_TEST") })

	loaded, err = LoadEnvFile(path)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, "from-file", os.Getenv("HFT_COMMON_TEST"))
}

// TestBootstrap tests flags override the loaded configuration
func TestBootstrap(t *testing.T) {
	dir := t.TempDir()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := RegisterCommonFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"-env", filepath.Join(dir, "none.env"),
		"-log-level", "debug",
		"-log-file", filepath.Join(dir, "engine.log"),
	}))

	cfg, log, err := Bootstrap(flags)
	require.NoError(t, err)
	defer log.Close()
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, filepath.Join(dir, "engine.log"), cfg.Logger.OutputFile)
}

func TestBootstrap_BadConfig(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := RegisterCommonFlags(fs)
	require.NoError(t, fs.Parse([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}))

	_, _, err := Bootstrap(flags)
	assert.Error(t, err)
}

func TestMonitoringMux(t *testing.T) {
	health := monitoring.NewHealthChecker(time.Minute)
	health.MarkTick(time.Now())
	health.SetTrading(true, "")
	mux := NewMonitoringMux(health)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"trading_enabled":true`)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
