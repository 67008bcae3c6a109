package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

const EnvProduction = "production"

type StoreMode string

const (
	StoreModePostgres StoreMode = "postgres"
	StoreModeMemory   StoreMode = "memory"
	// StoreModeAuto probes postgres on every auth call and falls back to memory.
	// Development and demo only.
	StoreModeAuto StoreMode = "auto"
)

type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	BucketAudit string
	UseSSL      bool
	Region      string
}

type SecurityConfig struct {
	JWTAccessSecret  string
	JWTRefreshSecret string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	RememberMeTTL    time.Duration
	BcryptCost       int
	AccessCookie     string
	SecureCookies    bool
	DemoMode         bool
}

type StoreConfig struct {
	Mode         StoreMode
	ProbeTimeout time.Duration
}

type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
	Backend   string
}

type QueueConfig struct {
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
	CleanupSpec   string
}

type LoggingConfig struct {
	Level string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	TLS              TLSConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Store            StoreConfig
	Lockout          LockoutConfig
	Queue            QueueConfig
	Logging          LoggingConfig
	AllowCORSOrigins []string
}

func (c *AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("PORTALAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would be unsafe or unusable. Demo shortcuts
// and the in-memory credential store are refused in production.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Security.JWTAccessSecret == "" {
		errs = append(errs, errors.New("security.jwtaccesssecret is required"))
	}
	if c.Security.JWTRefreshSecret == "" {
		errs = append(errs, errors.New("security.jwtrefreshsecret is required"))
	}
	if c.Security.BcryptCost < bcrypt.MinCost || c.Security.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("security.bcryptcost must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.Lockout.Threshold <= 0 {
		errs = append(errs, errors.New("lockout.threshold must be positive"))
	}
	if c.Lockout.Duration <= 0 {
		errs = append(errs, errors.New("lockout.duration must be positive"))
	}

	switch c.Store.Mode {
	case StoreModePostgres, StoreModeMemory, StoreModeAuto:
	default:
		errs = append(errs, fmt.Errorf("store.mode %q is not one of postgres, memory, auto", c.Store.Mode))
	}

	switch c.Lockout.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("lockout.backend %q is not one of redis, memory", c.Lockout.Backend))
	}

	if c.IsProduction() {
		if c.Security.DemoMode {
			errs = append(errs, errors.New("security.demomode cannot be enabled in production"))
		}
		if c.Store.Mode != StoreModePostgres {
			errs = append(errs, errors.New("store.mode must be postgres in production"))
		}
		if c.Lockout.Backend != "redis" {
			errs = append(errs, errors.New("lockout.backend must be redis in production"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucketaudit", "portalauth-audit")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	// Secrets have no usable default; the empty entries let env vars bind.
	v.SetDefault("security.jwtaccesssecret", "")
	v.SetDefault("security.jwtrefreshsecret", "")
	v.SetDefault("security.accessttl", "15m")
	v.SetDefault("security.refreshttl", "168h")    // 7 days
	v.SetDefault("security.remembermettl", "720h") // 30 days
	v.SetDefault("security.bcryptcost", 12)
	v.SetDefault("security.accesscookie", "access_token")
	v.SetDefault("security.securecookies", true)
	v.SetDefault("security.demomode", false)

	v.SetDefault("store.mode", string(StoreModePostgres))
	v.SetDefault("store.probetimeout", "500ms")

	v.SetDefault("lockout.threshold", 5)
	v.SetDefault("lockout.duration", "15m")
	v.SetDefault("lockout.backend", "redis")

	v.SetDefault("queue.stream", "portalauth:tasks")
	v.SetDefault("queue.group", "portalauth-workers")
	v.SetDefault("queue.consumer", "worker-1")
	v.SetDefault("queue.claiminterval", "30s")
	v.SetDefault("queue.cleanupspec", "0 0 * * * *") // hourly

	v.SetDefault("logging.level", "")
}
