package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns the two-service stack: a backend API on 8000 with a
// persistent ./data directory, and a frontend on 3000 that reaches the
// backend through NEXT_PUBLIC_API_URL. Both restart unless stopped.
func Default(name string) *Config {
	apiURL := "NEXT_PUBLIC_API_URL=http://localhost:8000"

	return &Config{
		Name:    name,
		Version: "1",
		Services: map[string]Service{
			"backend": {
				Build:       &Build{Context: "./backend"},
				Ports:       []string{"8000:8000"},
				Environment: []string{"PYTHONUNBUFFERED=1"},
				Volumes:     []string{"./data:/app/data"},
				Restart:     "unless-stopped",
				Readiness: &Probe{
					TCP:      "localhost:8000",
					Interval: time.Second,
					Timeout:  time.Minute,
				},
			},
			"frontend": {
				Build: &Build{
					Context: "./frontend",
					Args:    []string{apiURL},
				},
				Ports:       []string{"3000:3000"},
				Environment: []string{apiURL},
				Restart:     "unless-stopped",
				DependsOn:   []string{"backend"},
				WaitFor:     "started",
			},
		},
		Supervisor: Supervisor{
			Runtime:      "docker",
			Listen:       "127.0.0.1:8700",
			PollInterval: time.Second,
			StopTimeout:  10 * time.Second,
			StateDir:     ".keel",
		},
	}
}

// Write serializes cfg as YAML. An existing file is only replaced when
// overwrite is set.
func Write(path string, cfg *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}

	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
