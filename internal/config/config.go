// Package config loads and validates the OnceFS configuration. The
// resulting struct is constructed once at startup and handed to each
// component by injection; there is no global configuration state.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the complete OnceFS mount configuration.
//
// Sources, in order of precedence: CLI flags (applied by the caller on
// top of the loaded struct), ONCEFS_* environment variables, the
// configuration file, and defaults.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Mount      MountConfig      `mapstructure:"mount"`
	Generation GenerationConfig `mapstructure:"generation"`
	Caches     CachesConfig     `mapstructure:"caches"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum level to emit: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// MountConfig describes what to mount and where cached and real files
// live.
type MountConfig struct {
	// Mountpoint is the directory the filesystem is mounted on.
	Mountpoint string `mapstructure:"mountpoint" validate:"required"`

	// CacheDir is the cache root. Required; created if absent.
	// Generated files for this mount are published under
	// <cache_dir>/<canonical mountpoint>/.
	CacheDir string `mapstructure:"cache_dir" validate:"required"`

	// RealDir optionally roots the tree of real files. Real files
	// always take precedence over generated ones of the same name.
	RealDir string `mapstructure:"real_dir"`

	// Manifest is the path of the YAML manifest describing generated
	// files. Empty mounts a pass-through view of RealDir alone.
	Manifest string `mapstructure:"manifest"`

	// DisableMetadata hides the whole .metadata subtree.
	DisableMetadata bool `mapstructure:"disable_metadata"`

	// AllowOther permits other users to access the mount.
	AllowOther bool `mapstructure:"allow_other"`

	// ClearCache wipes this mount's cache subtree at startup.
	ClearCache bool `mapstructure:"clear_cache"`
}

// GenerationConfig tunes producer execution and the polling reads over
// still-generating files.
type GenerationConfig struct {
	// Shell executes producer command lines.
	Shell string `mapstructure:"shell" validate:"required"`

	// MinBytes is how much of a growing temp file must exist before
	// reads are served from it.
	MinBytes int64 `mapstructure:"min_bytes" validate:"gte=0"`

	// ReadDelay and ReadAttempts bound the retry loop over a file
	// that is still being generated.
	ReadDelay    time.Duration `mapstructure:"read_delay" validate:"gt=0"`
	ReadAttempts int           `mapstructure:"read_attempts" validate:"gt=0"`

	// UnknownSize is the size reported for files not yet generated.
	UnknownSize uint64 `mapstructure:"unknown_size" validate:"gt=0"`
}

// CachesConfig sets the watermarks of the in-memory caches.
type CachesConfig struct {
	// DirLow/DirHigh bound the directory listing cache; listings
	// below MinListing entries are not cached at all.
	DirLow     int `mapstructure:"dir_low" validate:"gt=0"`
	DirHigh    int `mapstructure:"dir_high" validate:"gt=0"`
	MinListing int `mapstructure:"min_listing" validate:"gte=0"`

	// InflightLow/InflightHigh bound the being-generated handle cache.
	InflightLow  int `mapstructure:"inflight_low" validate:"gt=0"`
	InflightHigh int `mapstructure:"inflight_high" validate:"gt=0"`

	// MetadataLow/MetadataHigh bound the synthesized metadata cache.
	MetadataLow  int `mapstructure:"metadata_low" validate:"gt=0"`
	MetadataHigh int `mapstructure:"metadata_high" validate:"gt=0"`
}

// Load reads configuration from the given file (optional), ONCEFS_*
// environment variables, and defaults. The result is not yet
// validated: callers apply CLI flag overrides first, then Validate.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("ONCEFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")

	v.SetDefault("generation.shell", "/bin/sh")
	v.SetDefault("generation.min_bytes", 4096)
	v.SetDefault("generation.read_delay", 100*time.Millisecond)
	v.SetDefault("generation.read_attempts", 150)
	v.SetDefault("generation.unknown_size", uint64(1<<30))

	v.SetDefault("caches.dir_low", 128)
	v.SetDefault("caches.dir_high", 256)
	v.SetDefault("caches.min_listing", 64)
	v.SetDefault("caches.inflight_low", 64)
	v.SetDefault("caches.inflight_high", 128)
	v.SetDefault("caches.metadata_low", 256)
	v.SetDefault("caches.metadata_high", 512)
}

var validate = validator.New()

// Validate checks the configuration. Validation failures are
// configuration errors and fatal at mount time.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("%s: validation failed on %q (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
		return err
	}

	for _, w := range []struct {
		name      string
		low, high int
	}{
		{"caches.dir", cfg.Caches.DirLow, cfg.Caches.DirHigh},
		{"caches.inflight", cfg.Caches.InflightLow, cfg.Caches.InflightHigh},
		{"caches.metadata", cfg.Caches.MetadataLow, cfg.Caches.MetadataHigh},
	} {
		if w.low > w.high {
			return fmt.Errorf("%s: low watermark %d exceeds high watermark %d",
				w.name, w.low, w.high)
		}
	}
	return nil
}
