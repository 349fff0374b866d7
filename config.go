package hotpatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the ambient, environment-driven knobs the watcher reads
// at startup. Every field has a TARGET_DIR-style environment variable,
// following the convention viper.AutomaticEnv gives a CLI for free.
type Config struct {
	// TargetDir is the directory the watcher polls for a newer copy of
	// its own module — normally the directory the running binary (or
	// its c-shared library) lives in.
	TargetDir string `mapstructure:"target_dir"`

	// PollInterval is the minimum spacing between on-disk checks.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Checked, when true, is the default every new Site[F] is
	// constructed with — individual sites may still override their own
	// Checked field afterward.
	Checked bool `mapstructure:"checked"`
}

// LoadConfig reads HOTPATCH_* environment variables (and, if present, a
// hotpatch.yaml/json/toml in one of the given search paths) into a
// Config, applying defaults for anything unset.
func LoadConfig(searchPaths ...string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HOTPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("target_dir", "")
	v.SetDefault("poll_interval", 125*time.Millisecond)
	v.SetDefault("checked", false)

	v.SetConfigName("hotpatch")
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("hotpatch: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("hotpatch: unmarshal config: %w", err)
	}
	return cfg, nil
}

// Apply installs cfg's poll interval and default checked-mode setting
// into the process watcher. Call it once at startup, after LoadConfig.
func (cfg Config) Apply() {
	if w := Get(); w != nil {
		if cfg.PollInterval > 0 {
			w.SetPollInterval(cfg.PollInterval)
		}
		if cfg.TargetDir != "" {
			w.SetTargetDir(cfg.TargetDir)
		}
	}
	defaultChecked.Store(cfg.Checked)
}
