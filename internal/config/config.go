// Package config loads platecore settings from an optional .env file, an
// optional TOML file and PLATECORE_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Storage selects and configures the plate state store.
type Storage struct {
	Driver      string `toml:"driver"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// Blob configures the run report archive.
type Blob struct {
	Driver      string `toml:"driver"`
	FSRoot      string `toml:"fs_root"`
	S3Bucket    string `toml:"s3_bucket"`
	S3Region    string `toml:"s3_region"`
	S3Endpoint  string `toml:"s3_endpoint"`
	S3PathStyle bool   `toml:"s3_path_style"`
	S3AccessKey string `toml:"s3_access_key"`
	S3SecretKey string `toml:"s3_secret_key"`
}

// Log configures the zerolog output.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// HTTP configures the API listener.
type HTTP struct {
	Addr string `toml:"addr"`
}

// SBOL configures the remote validator used for sequence conversion.
type SBOL struct {
	URL       string        `toml:"url"`
	URIPrefix string        `toml:"uri_prefix"`
	Timeout   time.Duration `toml:"timeout"`
}

// Config is the full process configuration.
type Config struct {
	Storage Storage `toml:"storage"`
	Blob    Blob    `toml:"blob"`
	Log     Log     `toml:"log"`
	HTTP    HTTP    `toml:"http"`
	SBOL    SBOL    `toml:"sbol"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage: Storage{Driver: "sqlite", SQLitePath: "platecore.db"},
		Blob:    Blob{Driver: "fs", FSRoot: "./blobdata", S3Region: "us-east-1"},
		Log:     Log{Level: "info", Format: "console"},
		HTTP:    HTTP{Addr: ":8080"},
		SBOL: SBOL{
			URL:       "https://validator.sbolstandard.org",
			URIPrefix: "http://synbiopython.org/",
			Timeout:   30 * time.Second,
		},
	}
}

// Load builds a Config. dotenv and path are both optional; a missing file is
// not an error, a malformed one is.
func Load(dotenv, path string) (Config, error) {
	cfg := Default()
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("PLATECORE_STORAGE_DRIVER", &c.Storage.Driver)
	str("PLATECORE_SQLITE_PATH", &c.Storage.SQLitePath)
	str("PLATECORE_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("PLATECORE_BLOB_DRIVER", &c.Blob.Driver)
	str("PLATECORE_BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("PLATECORE_BLOB_S3_BUCKET", &c.Blob.S3Bucket)
	str("PLATECORE_BLOB_S3_REGION", &c.Blob.S3Region)
	str("PLATECORE_BLOB_S3_ENDPOINT", &c.Blob.S3Endpoint)
	str("PLATECORE_BLOB_S3_ACCESS_KEY", &c.Blob.S3AccessKey)
	str("PLATECORE_BLOB_S3_SECRET_KEY", &c.Blob.S3SecretKey)
	str("PLATECORE_LOG_LEVEL", &c.Log.Level)
	str("PLATECORE_LOG_FORMAT", &c.Log.Format)
	str("PLATECORE_HTTP_ADDR", &c.HTTP.Addr)
	str("PLATECORE_SBOL_URL", &c.SBOL.URL)
	str("PLATECORE_SBOL_URI_PREFIX", &c.SBOL.URIPrefix)

	if v, ok := lookup("PLATECORE_BLOB_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse PLATECORE_BLOB_S3_PATH_STYLE: %w", err)
		}
		c.Blob.S3PathStyle = b
	}
	if v, ok := lookup("PLATECORE_SBOL_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse PLATECORE_SBOL_TIMEOUT: %w", err)
		}
		c.SBOL.Timeout = d
	}
	return nil
}

// Validate checks driver names and required fields.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3Bucket == "" {
			return errors.New("blob.s3_bucket required for s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.SBOL.Timeout <= 0 {
		return errors.New("sbol.timeout must be positive")
	}
	return nil
}
