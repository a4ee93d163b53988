// Package config loads node settings from YAML and builds the logger.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/TheusHen/dimp/dimp/crypto"
	"github.com/TheusHen/dimp/dimp/identity"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	// DataDir holds the badger database with metas, private keys and
	// conversation keys.
	DataDir string `yaml:"dataDir"`
	// Listen is a QUIC multiaddr, e.g. /ip6/::1/udp/4242/quic-v1.
	Listen           string          `yaml:"listen"`
	MetaVersion      string          `yaml:"metaVersion"`
	CipherAlgorithm  string          `yaml:"cipherAlgorithm"`
	Compression      bool            `yaml:"compression"`
	AttachMeta       bool            `yaml:"attachMeta"`
	HandshakeTimeout time.Duration   `yaml:"handshakeTimeout"`
	Log              LogConfig       `yaml:"log"`
	RateLimit        RateLimitConfig `yaml:"rateLimit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// RateLimitConfig bounds inbound messages per sender. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	IdleTTL time.Duration `yaml:"idleTTL"`
}

func Default() Config {
	dir := ".dimp"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".dimp")
	}
	return Config{
		DataDir:          dir,
		Listen:           "/ip6/::1/udp/4242/quic-v1",
		MetaVersion:      identity.MKM.String(),
		CipherAlgorithm:  crypto.ChaCha20Poly1305,
		Compression:      true,
		AttachMeta:       true,
		HandshakeTimeout: 10 * time.Second,
		Log:              LogConfig{Level: "info", Format: "text"},
		RateLimit:        RateLimitConfig{RPS: 20, Burst: 40, IdleTTL: 10 * time.Minute},
	}
}

// Load reads path over the defaults and applies DIMP_* environment overrides.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	ApplyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DIMP_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("DIMP_LISTEN")); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("DIMP_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("DIMP_LOG_FORMAT")); v != "" {
		cfg.Log.Format = v
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("DIMP_COMPRESSION"))); err == nil {
		cfg.Compression = v
	}
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: dataDir is empty", ErrInvalid)
	}
	if _, err := ma.NewMultiaddr(c.Listen); err != nil {
		return fmt.Errorf("%w: listen %q: %v", ErrInvalid, c.Listen, err)
	}
	if _, err := c.Version(); err != nil {
		return fmt.Errorf("%w: metaVersion %q", ErrInvalid, c.MetaVersion)
	}
	if _, err := crypto.GenerateSymmetricKey(c.CipherAlgorithm); err != nil || c.CipherAlgorithm == crypto.Plain {
		return fmt.Errorf("%w: cipherAlgorithm %q", ErrInvalid, c.CipherAlgorithm)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalid, c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format)
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("%w: rateLimit burst must be positive", ErrInvalid)
	}
	return nil
}

// Version is MetaVersion parsed.
func (c Config) Version() (identity.MetaVersion, error) {
	return identity.ParseMetaVersion(c.MetaVersion)
}

// NewLogger builds a logger writing to out.
func NewLogger(c LogConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
