package core

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Storage drivers
const (
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

type (
	Config struct {
		Env     string
		Debug   bool
		AppName string
		Build   string

		Identity IdentityConfig
		API      APIConfig
		Storage  StorageConfig
		Redis    RedisConfig

		QRRefreshInterval time.Duration
		AvatarSize        int
		RollbarToken      string
	}

	IdentityConfig struct {
		URL           string `json:"supabase_url" validate:"required,url"`
		AnonKey       string `json:"supabase_anon_key" validate:"required"`
		AutoRefresh   bool
		RefreshMargin time.Duration
	}

	APIConfig struct {
		BaseURL string `json:"klas_api_url" validate:"required,url"`
	}

	StorageConfig struct {
		Driver string `json:"storage_driver" validate:"oneof=file redis memory"`
		Path   string
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
		Prefix   string
	}
)

// LoadConfig reads the configuration from the environment (and optional dotenv files).
// A missing identity provider URL, public key or API base URL is reported as a *ValidationError.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", false)
	v.SetDefault("appName", "Klas")
	v.SetDefault("build", "develop")
	v.SetDefault("storage.driver", StorageFile)
	v.SetDefault("storage.path", defaultStoragePath())
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "klas:")
	v.SetDefault("identity.autoRefresh", true)
	v.SetDefault("identity.refreshMargin", 60*time.Second)
	v.SetDefault("qr.refreshInterval", 55*time.Second)
	v.SetDefault("avatar.size", 512)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}

	// load .env files if they exist (ignore if they do not)
	for _, path := range []string{".env", filepath.Join("config", ".env."+strings.ToLower(env))} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return nil, errors.Wrapf(err, "loading %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "stat %s", path)
		}
	}

	v.SetEnvPrefix("KLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// names used by the web build, when the KLAS_ ones are not set
	for key, env := range map[string]string{
		"supabase.url":     "VITE_SUPABASE_URL",
		"supabase.anonKey": "VITE_SUPABASE_ANON_KEY",
		"api.url":          "VITE_KLAS_API_URL",
	} {
		if val := os.Getenv(env); val != "" && v.GetString(key) == "" {
			v.Set(key, val)
		}
	}

	conf := &Config{
		Env:     env,
		Debug:   v.GetBool("debug"),
		AppName: v.GetString("appName"),
		Build:   v.GetString("build"),
		Identity: IdentityConfig{
			URL:           strings.TrimRight(v.GetString("supabase.url"), "/"),
			AnonKey:       v.GetString("supabase.anonKey"),
			AutoRefresh:   v.GetBool("identity.autoRefresh"),
			RefreshMargin: v.GetDuration("identity.refreshMargin"),
		},
		API: APIConfig{
			BaseURL: strings.TrimRight(v.GetString("api.url"), "/"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("storage.driver")),
			Path:   v.GetString("storage.path"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		QRRefreshInterval: v.GetDuration("qr.refreshInterval"),
		AvatarSize:        v.GetInt("avatar.size"),
		RollbarToken:      v.GetString("rollbar.token"),
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks that every required setting is present.
func (c *Config) Validate() error {
	if err := Validate.Struct(c); err != nil {
		return TranslateValidation(err, "invalid configuration")
	}
	if c.Storage.Driver == StorageRedis && c.Redis.Addr == "" {
		return NewValidationError(
			errors.New("invalid configuration"),
			FieldError{Field: "redis_addr", Error: requiredText},
		)
	}
	return nil
}

func defaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "klas", "storage.json")
}
