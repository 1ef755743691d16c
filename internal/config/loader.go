package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultFile is the config file looked up when --config is not given.
const DefaultFile = "keel.yaml"

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", "1")
	v.SetDefault("supervisor.runtime", "docker")
	v.SetDefault("supervisor.listen", "127.0.0.1:8700")
	v.SetDefault("supervisor.poll_interval", time.Second)
	v.SetDefault("supervisor.stop_timeout", 10*time.Second)
	v.SetDefault("supervisor.state_dir", ".keel")
	v.SetDefault("backup.prefix", "keel")
}

// Load reads the configuration from the given filename (e.g., "keel.yaml").
// Settings with defaults can be overridden with KEEL_* environment variables,
// e.g. KEEL_SUPERVISOR_RUNTIME=process.
func Load(filename string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("KEEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(filename)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found. Run 'keel init' to create one", filename)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.baseDir = filepath.Dir(abs)

	return &cfg, nil
}

// StateDir returns the absolute supervisor state directory.
func (c *Config) StateDir() string {
	dir := c.Supervisor.StateDir
	if dir == "" {
		dir = ".keel"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.baseDir, dir)
	}
	return dir
}
