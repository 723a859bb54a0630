package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	PublicURL  string `mapstructure:"PUBLIC_URL"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Session struct {
		Name   string        `mapstructure:"NAME"`
		Secret string        `mapstructure:"SECRET"`
		TTL    time.Duration `mapstructure:"TTL"`
	} `mapstructure:"SESSION"`
	Token struct {
		Secret string        `mapstructure:"SECRET"`
		TTL    time.Duration `mapstructure:"TTL"`
	} `mapstructure:"TOKEN"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Path           string `mapstructure:"PATH"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	License struct {
		KeyPrefix string `mapstructure:"KEY_PREFIX"`
	} `mapstructure:"LICENSE"`
	Mail struct {
		Host          string        `mapstructure:"HOST"`
		Port          int           `mapstructure:"PORT"`
		Username      string        `mapstructure:"USERNAME"`
		Password      string        `mapstructure:"PASSWORD"`
		From          string        `mapstructure:"FROM"`
		AdminEmail    string        `mapstructure:"ADMIN_EMAIL"`
		RatePerSecond float64       `mapstructure:"RATE_PER_SECOND"`
		Timeout       time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"MAIL"`
	Throttle struct {
		Window time.Duration `mapstructure:"WINDOW"`
		Limit  int           `mapstructure:"LIMIT"`
	} `mapstructure:"THROTTLE"`
	Scheduler struct {
		Enabled     bool   `mapstructure:"ENABLED"`
		Spec        string `mapstructure:"SPEC"`
		Timezone    string `mapstructure:"TIMEZONE"`
		DripEnabled bool   `mapstructure:"DRIP_ENABLED"`
	} `mapstructure:"SCHEDULER"`
	Worker struct {
		Concurrency int `mapstructure:"CONCURRENCY"`
	} `mapstructure:"WORKER"`
	Log struct {
		Level string `mapstructure:"LEVEL"`
	} `mapstructure:"LOG"`
	Admin struct {
		Email string `mapstructure:"EMAIL"`
	} `mapstructure:"ADMIN"`
	Seed struct {
		AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
		Licenses      int    `mapstructure:"LICENSES"`
		ExpiryMonths  int    `mapstructure:"EXPIRY_MONTHS"`
	} `mapstructure:"SEED"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "ristosmart-license")
	v.SetDefault("PUBLIC_URL", "http://127.0.0.1:5000")
	v.SetDefault("HTTP_SERVER.ADDR", "5000")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("OTEL.PROTOCOL", "http")
	v.SetDefault("SESSION.NAME", "ristosmart_session")
	v.SetDefault("SESSION.TTL", 12*time.Hour)
	v.SetDefault("TOKEN.TTL", 48*time.Hour)
	v.SetDefault("DATABASE.TYPE", "sqlite")
	v.SetDefault("DATABASE.PATH", "ristosmart.db")
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 10)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("LICENSE.KEY_PREFIX", "RSFM")
	v.SetDefault("MAIL.PORT", 587)
	v.SetDefault("MAIL.RATE_PER_SECOND", 5)
	v.SetDefault("MAIL.TIMEOUT", 20*time.Second)
	v.SetDefault("THROTTLE.WINDOW", 600*time.Second)
	v.SetDefault("THROTTLE.LIMIT", 5)
	v.SetDefault("SCHEDULER.ENABLED", true)
	v.SetDefault("SCHEDULER.SPEC", "@hourly")
	v.SetDefault("SCHEDULER.TIMEZONE", "Europe/Rome")
	v.SetDefault("SCHEDULER.DRIP_ENABLED", false)
	v.SetDefault("WORKER.CONCURRENCY", 4)
	v.SetDefault("LOG.LEVEL", "info")
	v.SetDefault("SEED.LICENSES", 3)
	v.SetDefault("SEED.EXPIRY_MONTHS", 12)

	// AutomaticEnv only fills keys viper already knows about
	for _, key := range []string{
		"APP_VERSION", "TLS.CERT_PATH", "TLS.KEY_PATH", "OTEL.ADDR", "PYROSCOPE.ADDR",
		"SESSION.SECRET", "TOKEN.SECRET",
		"DATABASE.HOST", "DATABASE.PORT", "DATABASE.DBNAME", "DATABASE.USER", "DATABASE.PASSWORD",
		"DATABASE.SSLMODE", "DATABASE.TIMEZONE", "REDIS.PASSWORD",
		"MAIL.HOST", "MAIL.USERNAME", "MAIL.PASSWORD", "MAIL.FROM", "MAIL.ADMIN_EMAIL", "ADMIN.EMAIL", "SEED.ADMIN_PASSWORD",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("TLS.ENABLE", false)
	v.SetDefault("DATABASE.METRICS", false)
}

// Load reads config.yaml from path (or the working directory when empty)
// and applies environment overrides such as MAIL_HOST or TOKEN_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func LoadConfig(p Params) *Config {
	cfg, err := Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		if err := applyVaultSecrets(context.Background(), p.Vault, cfg); err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
	}

	return cfg
}

func applyVaultSecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		return err
	}
	zap.L().Info("Success Get Secret")

	override := func(key string, dst *string) {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			*dst = val
		}
	}

	override("token_secret", &cfg.Token.Secret)
	override("session_secret", &cfg.Session.Secret)
	override("smtp_password", &cfg.Mail.Password)
	override("db_password", &cfg.Database.Password)
	override("redis_password", &cfg.Redis.Password)

	return nil
}
