package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWhenFilesMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, ".env"), filepath.Join(dir, "platecore.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadTOMLThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "platecore.toml", `
[storage]
driver = "memory"

[blob]
driver = "s3"
s3_bucket = "reports"
s3_path_style = true

[log]
level = "debug"
format = "json"

[sbol]
timeout = "5s"
`)
	t.Setenv("PLATECORE_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("PLATECORE_BLOB_S3_REGION", "eu-west-1")

	cfg, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "reports", cfg.Blob.S3Bucket)
	assert.True(t, cfg.Blob.S3PathStyle)
	assert.Equal(t, "eu-west-1", cfg.Blob.S3Region)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.SBOL.Timeout)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := writeFile(t, dir, ".env", "PLATECORE_STORAGE_DRIVER=memory\nPLATECORE_SBOL_TIMEOUT=2s\n")
	t.Setenv("PLATECORE_STORAGE_DRIVER", "")
	t.Setenv("PLATECORE_SBOL_TIMEOUT", "")
	require.NoError(t, os.Unsetenv("PLATECORE_STORAGE_DRIVER"))
	require.NoError(t, os.Unsetenv("PLATECORE_SBOL_TIMEOUT"))

	cfg, err := Load(env, "")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 2*time.Second, cfg.SBOL.Timeout)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), "platecore.toml", "[storage]\ndriverr = \"memory\"\n")
	_, err := Load("", path)
	assert.ErrorContains(t, err, "unknown config keys")
}

func TestApplyEnvParseErrors(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "PLATECORE_BLOB_S3_PATH_STYLE" {
			return "sometimes", true
		}
		return "", false
	})
	assert.Error(t, err)

	cfg = Default()
	err = cfg.applyEnv(func(k string) (string, bool) {
		if k == "PLATECORE_SBOL_TIMEOUT" {
			return "soon", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"storage driver": func(c *Config) { c.Storage.Driver = "mongo" },
		"postgres dsn":   func(c *Config) { c.Storage.Driver = "postgres" },
		"blob driver":    func(c *Config) { c.Blob.Driver = "gcs" },
		"s3 bucket":      func(c *Config) { c.Blob.Driver = "s3" },
		"log format":     func(c *Config) { c.Log.Format = "xml" },
		"sbol timeout":   func(c *Config) { c.SBOL.Timeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}
