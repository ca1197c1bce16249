package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 60, cfg.HTTP.RateLimit)
	assert.Equal(t, time.Minute, cfg.HTTP.RateWindow)
	assert.Equal(t, "hostclick.am", cfg.Domain.Suffix)
	assert.Equal(t, 30*time.Second, cfg.Kube.Timeout)
	assert.EqualValues(t, 20, cfg.Kube.QPS)
	assert.Equal(t, 80, cfg.Templates.BackendPort)
	assert.Equal(t, "wordpress", cfg.Templates.Chart)
	assert.False(t, cfg.Reconcile.StrictManifests)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kapi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
  rate_window: 30s
kube:
  namespace: wp-tenants
  timeout: 5s
reconcile:
  strict_manifests: true
templates:
  backend: from-file
`), 0o600))

	t.Setenv("KAPI_HTTP_RATE_LIMIT", "5")
	t.Setenv("SERVICE_NAME", "suspended-page")
	t.Setenv("DATABASE_URL", "postgres://kapi@db/kapi")
	t.Setenv("KAPI_TELEMETRY_INTERVAL", "2s")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 5, cfg.HTTP.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.HTTP.RateWindow)
	assert.Equal(t, 5*time.Second, cfg.Kube.Timeout)
	assert.True(t, cfg.Reconcile.StrictManifests)
	assert.Equal(t, "suspended-page", cfg.Templates.Backend, "environment wins over the file")
	assert.Equal(t, "postgres://kapi@db/kapi", cfg.Store.DatabaseURL)
	assert.Equal(t, 2*time.Second, cfg.Telemetry.Interval)
	assert.Equal(t, "wp-tenants", cfg.Namespace())

	ro := cfg.RenderOptions(cfg.Namespace())
	assert.Equal(t, "suspended-page", ro.Backend)
	assert.Equal(t, "wp-tenants", ro.Namespace)
	co := cfg.ClusterOptions("kapi/test")
	assert.Equal(t, 5*time.Second, co.Timeout)
	assert.Equal(t, "kapi/test", co.UserAgent)
}

func TestPrefixedEnvBeatsLegacyName(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("KAPI_TEMPLATES_BACKEND", "prefixed")
	t.Setenv("SERVICE_NAME", "legacy")
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Templates.Backend)
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	bad := *cfg
	bad.Auth.Require = true
	bad.Templates.BackendPort = 0
	bad.HTTP.RateLimit = -1
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_key")
	assert.Contains(t, err.Error(), "backend_port")
	assert.Contains(t, err.Error(), "rate_limit")
}

func TestNamespaceFallsBackToServiceAccountFile(t *testing.T) {
	dir := t.TempDir()
	nsFile := filepath.Join(dir, "namespace")
	require.NoError(t, os.WriteFile(nsFile, []byte("pod-ns\n"), 0o600))
	cfg := &Config{Kube: Kube{NamespaceFile: nsFile}}
	assert.Equal(t, "pod-ns", cfg.Namespace())

	cfg.Kube.NamespaceFile = filepath.Join(dir, "missing")
	assert.Equal(t, "default", cfg.Namespace())
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
