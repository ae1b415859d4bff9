package main

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/internal/logging"
	storeredis "github.com/MrEthical07/goAccount/store/redis"
	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const envPrefix = "GOACCOUNT_"

// fileConfig is the YAML document read by every subcommand. The engine
// sections sit at the top level next to the deployment-only ones.
type fileConfig struct {
	goAccount.Config `yaml:",inline"`

	Log      logConfig      `yaml:"log"`
	Keys     keysConfig     `yaml:"keys"`
	Store    storeConfig    `yaml:"store"`
	Postgres postgresConfig `yaml:"postgres"`
	Redis    redisConfig    `yaml:"redis"`
	Metrics  metricsConfig  `yaml:"metrics"`
}

type logConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// keysConfig names where the JWT keys come from. Secret is the hs256 shared
// key; the files hold PEM encoded Ed25519 keys.
type keysConfig struct {
	Secret         string `yaml:"secret"`
	PrivateKeyFile string `yaml:"private_key_file"`
	PublicKeyFile  string `yaml:"public_key_file"`
}

type storeConfig struct {
	// Tokens is "postgres" (default) or "redis".
	Tokens string `yaml:"tokens"`
}

type postgresConfig struct {
	URL string `yaml:"url"`
}

type redisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Grace    time.Duration `yaml:"expiry_grace"`
}

type metricsConfig struct {
	Addr string `yaml:"addr"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Config:  goAccount.DefaultConfig(),
		Log:     logConfig{Env: "prod", Level: "info"},
		Store:   storeConfig{Tokens: "postgres"},
		Redis:   redisConfig{Addr: "localhost:6379", Prefix: "goaccount", Grace: storeredis.DefaultExpiryGrace},
		Metrics: metricsConfig{Addr: ":9090"},
	}
}

// loadConfig reads path (optional), then the dotenv file (optional), then
// applies GOACCOUNT_* overrides and loads the signing keys.
func loadConfig(path, dotenv string) (fileConfig, error) {
	cfg := defaultFileConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "parse config")
		}
	}

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, oops.Code("CONFIG_INVALID").With("path", dotenv).Wrapf(err, "load env file")
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.loadKeys(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *fileConfig) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	str("APP_NAME", &cfg.App.Name)
	str("JWT_SIGNING_METHOD", &cfg.JWT.SigningMethod)
	str("JWT_ISSUER", &cfg.JWT.Issuer)
	str("JWT_SECRET", &cfg.Keys.Secret)
	str("JWT_PRIVATE_KEY_FILE", &cfg.Keys.PrivateKeyFile)
	str("JWT_PUBLIC_KEY_FILE", &cfg.Keys.PublicKeyFile)
	str("LOG_ENV", &cfg.Log.Env)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("STORE_TOKENS", &cfg.Store.Tokens)
	str("POSTGRES_URL", &cfg.Postgres.URL)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("REDIS_PREFIX", &cfg.Redis.Prefix)
	str("METRICS_ADDR", &cfg.Metrics.Addr)
	str("MAIL_FROM", &cfg.Mail.From)

	if v, ok := os.LookupEnv(envPrefix + "REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return oops.Code("CONFIG_INVALID").With("variable", envPrefix+"REDIS_DB").Wrap(err)
		}
		cfg.Redis.DB = n
	}
	if v, ok := os.LookupEnv(envPrefix + "SWEEP_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return oops.Code("CONFIG_INVALID").With("variable", envPrefix+"SWEEP_INTERVAL").Wrap(err)
		}
		cfg.Sweep.Interval = d
	}
	return nil
}

func (c *fileConfig) loadKeys() error {
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "", "hs256":
		if c.Keys.Secret != "" {
			c.JWT.PrivateKey = []byte(c.Keys.Secret)
		}
	case "ed25519":
		if c.Keys.PrivateKeyFile != "" {
			key, err := os.ReadFile(c.Keys.PrivateKeyFile)
			if err != nil {
				return oops.Code("CONFIG_INVALID").With("path", c.Keys.PrivateKeyFile).Wrapf(err, "read private key")
			}
			c.JWT.PrivateKey = key
		}
		if c.Keys.PublicKeyFile != "" {
			key, err := os.ReadFile(c.Keys.PublicKeyFile)
			if err != nil {
				return oops.Code("CONFIG_INVALID").With("path", c.Keys.PublicKeyFile).Wrapf(err, "read public key")
			}
			c.JWT.PublicKey = key
		}
	}
	return nil
}

func (c fileConfig) logger() *zap.Logger {
	return logging.New(logging.Config{
		Env:         c.Log.Env,
		Level:       c.Log.Level,
		ServiceName: "goaccount",
		Version:     version,
	})
}
