package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	cartonhttp "github.com/mbrennan/carton/http"
	"github.com/mbrennan/carton/metadata"
)

// configKey is the context key for storing the loaded configuration.
type configKey struct{}

// WithContext returns a new context with the config stored.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from context.
// Returns an error if config is not found.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}

// Config is the root configuration struct for carton.
type Config struct {
	Server    ServerConfig          `mapstructure:"server"`
	Storage   StorageConfig         `mapstructure:"storage"`
	Multipart MultipartConfig       `mapstructure:"multipart"`
	Presign   PresignConfig         `mapstructure:"presign"`
	Metadata  MetadataConfig        `mapstructure:"metadata"`
	CORS      cartonhttp.CORSConfig `mapstructure:"cors"`
	Log       LogConfig             `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port          int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	BaseURL       string `mapstructure:"base_url" validate:"required,url"`
	MaxUploadSize int64  `mapstructure:"max_upload_size" validate:"min=0"`
}

// StorageConfig holds object and staging storage configuration.
type StorageConfig struct {
	Path        string `mapstructure:"path" validate:"required"`
	StagingPath string `mapstructure:"staging_path" validate:"required"`
}

// MultipartConfig holds multipart upload session configuration.
type MultipartConfig struct {
	TTL           time.Duration `mapstructure:"ttl" validate:"min=1m"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"min=1m"`
}

// PresignConfig holds pre-signed URL configuration. Secret has no default;
// the daemon refuses to start without one.
type PresignConfig struct {
	Secret string `mapstructure:"secret" validate:"omitempty,min=16"`
}

// MetadataConfig wraps the registry config with an enable switch.
type MetadataConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Registry metadata.Config `mapstructure:"registry"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// flagToViperKey maps CLI flag names to viper configuration keys.
var flagToViperKey = map[string]string{
	"port":           "server.port",
	"base-url":       "server.base_url",
	"storage-path":   "storage.path",
	"staging-path":   "storage.staging_path",
	"presign-secret": "presign.secret",
	"metadata-type":  "metadata.registry.type",
	"metadata-dsn":   "metadata.registry.dsn",
}

// bindFlags binds CLI flags to viper keys with custom name mapping.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		viperKey := f.Name
		if mapped, ok := flagToViperKey[viperKey]; ok {
			viperKey = mapped
		}

		// Only bind if the flag was explicitly set
		if f.Changed {
			_ = v.BindPFlag(viperKey, f)
		}
	})
}

// setDefaults configures default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5710)
	v.SetDefault("server.base_url", "http://localhost:5710")
	v.SetDefault("server.max_upload_size", 0) // 0 means no limit

	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.staging_path", "./staging")

	v.SetDefault("multipart.ttl", "24h")
	v.SetDefault("multipart.sweep_interval", "1h")

	v.SetDefault("metadata.enabled", true)
	v.SetDefault("metadata.registry.type", "sqlite")
	v.SetDefault("metadata.registry.dsn", "carton.db")
	v.SetDefault("metadata.registry.table", "carton_objects")

	v.SetDefault("log.level", "info")
}

// Load reads configuration and returns a validated Config struct.
// Order of precedence (highest to lowest): flags > env > config files > defaults
//
// Parameters:
//   - configFiles: list of config file paths (later files override earlier ones)
//   - flags: cobra flag set for flag binding (can be nil)
func Load(configFiles []string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Read config files
	if len(configFiles) > 0 {
		v.SetConfigFile(configFiles[0])
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("error reading config file", "file", configFiles[0], "err", err)
		}

		for _, cf := range configFiles[1:] {
			v.SetConfigFile(cf)
			if err := v.MergeInConfig(); err != nil {
				slog.Warn("error merging config file", "file", cf, "err", err)
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				slog.Warn("error reading config file", "err", err)
			}
		}
	}

	// 3. Bind environment variables
	v.SetEnvPrefix("CARTON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Bind flags (if provided)
	if flags != nil {
		bindFlags(v, flags)
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 6. Validate using go-playground/validator
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
