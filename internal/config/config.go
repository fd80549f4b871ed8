// Package config загружает настройки smoke-клиента: YAML файл,
// затем переменные окружения WSSMOKE_*, затем флаги командной строки.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LLIEPJIOK/service-mesh/wssmoke/pkg/ws"
)

const EnvPrefix = "WSSMOKE"

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	URL              string        `yaml:"url"`
	Payload          string        `yaml:"payload"`
	BaseDir          string        `yaml:"base_dir"`
	TLS              TLSConfig     `yaml:"tls"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	Deadline         time.Duration `yaml:"deadline"`
	MetricsFile      string        `yaml:"metrics_file"`
	Logging          LoggingConfig `yaml:"logging"`
}

type TLSConfig struct {
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	ServerName         string `yaml:"server_name"`
	ExpectedServerName string `yaml:"expected_server_name"`
	// префикс переменных <prefix>_TLS_CERT/_KEY/_CA, пути к файлам тогда не нужны
	FromEnv string `yaml:"from_env"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		URL:              ws.DefaultURL,
		Payload:          ws.DefaultPayload,
		HandshakeTimeout: ws.DefaultHandshakeTimeout,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load читает файл (если path не пуст) и применяет переменные окружения.
// Относительный base_dir считается от директории файла, пустой - равен ей.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // путь к конфигу задаёт оператор
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		dir, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config dir: %w", err)
		}

		switch {
		case cfg.BaseDir == "":
			cfg.BaseDir = dir
		case !filepath.IsAbs(cfg.BaseDir):
			cfg.BaseDir = filepath.Join(dir, cfg.BaseDir)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		name   string
		target *string
	}{
		{"URL", &cfg.URL},
		{"CERT_FILE", &cfg.TLS.CertFile},
		{"KEY_FILE", &cfg.TLS.KeyFile},
		{"CA_FILE", &cfg.TLS.CAFile},
		{"BASE_DIR", &cfg.BaseDir},
		{"PAYLOAD", &cfg.Payload},
		{"LOG_LEVEL", &cfg.Logging.Level},
	}

	for _, o := range overrides {
		if val := os.Getenv(EnvPrefix + "_" + o.name); val != "" {
			*o.target = val
		}
	}
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %w", ErrInvalidConfig, err)
	}

	if u.Scheme != "wss" || u.Host == "" {
		return fmt.Errorf("%w: url must be wss://host[:port], got %q", ErrInvalidConfig, c.URL)
	}

	if c.TLS.FromEnv == "" {
		var missing []string

		if c.TLS.CertFile == "" {
			missing = append(missing, "cert_file")
		}

		if c.TLS.KeyFile == "" {
			missing = append(missing, "key_file")
		}

		if c.TLS.CAFile == "" {
			missing = append(missing, "ca_file")
		}

		if len(missing) > 0 {
			return fmt.Errorf("%w: missing tls %s", ErrInvalidConfig, strings.Join(missing, ", "))
		}
	}

	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: handshake_timeout must be positive", ErrInvalidConfig)
	}

	if c.Deadline < 0 {
		return fmt.Errorf("%w: deadline must not be negative", ErrInvalidConfig)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}

	return nil
}

func (c *Config) CredentialPaths() ws.CredentialPaths {
	return ws.CredentialPaths{
		BaseDir:  c.BaseDir,
		CertFile: c.TLS.CertFile,
		KeyFile:  c.TLS.KeyFile,
		CAFile:   c.TLS.CAFile,
	}
}

// LoadBundle загружает учётные данные из окружения или с диска.
func (c *Config) LoadBundle() (*ws.Bundle, error) {
	if c.TLS.FromEnv != "" {
		return ws.BundleFromEnv(c.TLS.FromEnv)
	}

	return ws.LoadBundle(c.CredentialPaths())
}
