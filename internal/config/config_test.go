package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("BUS_URL", "redis://example:6380/1")
	t.Setenv("ROUTER_STRATEGY", "affinity")
	t.Setenv("BACKPRESSURE_THRESHOLDS_HIGH", "0.85")

	cfg := LoadEnv(Defaults())
	require.Equal(t, "redis://example:6380/1", cfg.Bus.URL)
	require.Equal(t, "affinity", cfg.Router.Strategy)
	require.Equal(t, 0.85, cfg.Backpressure.High)
	// untouched fields keep their defaults
	require.Equal(t, "frames:metadata", cfg.Bus.IngressStream)
}

func TestLoadYAMLOverlayMissingFileIsNotError(t *testing.T) {
	cfg, err := LoadYAMLOverlay(Defaults(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("router:\n  strategy: round_robin\nhttp:\n  listen_addr: \":9090\"\n"), 0o644))

	cfg, err := LoadYAMLOverlay(Defaults(), path)
	require.NoError(t, err)
	require.Equal(t, "round_robin", cfg.Router.Strategy)
	require.Equal(t, ":9090", cfg.HTTP.ListenAddr)
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	cfg := Defaults()
	cfg.Router.Strategy = "bogus"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := Defaults()
	cfg.Backpressure.High = 0.5
	cfg.Backpressure.Low = 0.6
	require.Error(t, cfg.Validate())
}
