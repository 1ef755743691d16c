package config

import "time"

// Config represents the root of keel.yaml
type Config struct {
	Name       string             `mapstructure:"name" yaml:"name"`
	Version    string             `mapstructure:"version" yaml:"version"`
	Network    string             `mapstructure:"network" yaml:"network,omitempty"` // defaults to keel-<name>
	Services   map[string]Service `mapstructure:"services" yaml:"services"`         // Map keys are service names (e.g., "backend")
	Supervisor Supervisor         `mapstructure:"supervisor" yaml:"supervisor"`
	Backup     Backup             `mapstructure:"backup" yaml:"backup,omitempty"`
	AWS        AWS                `mapstructure:"aws" yaml:"aws,omitempty"`

	// baseDir is the directory of the loaded file. Relative paths in the
	// file resolve against it.
	baseDir string
}

// Service represents a single service definition.
//
// Environment and build args are KEY=VALUE lists rather than maps: viper
// lower-cases map keys, which would mangle variable names.
type Service struct {
	Image       string   `mapstructure:"image" yaml:"image,omitempty"`             // e.g., "postgres:14"
	Build       *Build   `mapstructure:"build" yaml:"build,omitempty"`             // build from source instead of pulling
	Command     []string `mapstructure:"command" yaml:"command,omitempty"`         // process runtime only
	Ports       []string `mapstructure:"ports" yaml:"ports,omitempty"`             // e.g., ["8000:8000"]
	Environment []string `mapstructure:"environment" yaml:"environment,omitempty"` // e.g., ["PYTHONUNBUFFERED=1"]
	Volumes     []string `mapstructure:"volumes" yaml:"volumes,omitempty"`         // e.g., ["./data:/app/data"]
	Restart     string   `mapstructure:"restart" yaml:"restart,omitempty"`         // no | always | on-failure | unless-stopped
	DependsOn   []string `mapstructure:"depends_on" yaml:"depends_on,omitempty"`
	WaitFor     string   `mapstructure:"wait_for" yaml:"wait_for,omitempty"` // started | ready
	Readiness   *Probe   `mapstructure:"readiness" yaml:"readiness,omitempty"`
	Backoff     *Backoff `mapstructure:"backoff" yaml:"backoff,omitempty"`
}

type Build struct {
	Context    string   `mapstructure:"context" yaml:"context"`
	Dockerfile string   `mapstructure:"dockerfile" yaml:"dockerfile,omitempty"`
	Args       []string `mapstructure:"args" yaml:"args,omitempty"` // e.g., ["NEXT_PUBLIC_API_URL=http://localhost:8000"]
}

type Probe struct {
	TCP      string        `mapstructure:"tcp" yaml:"tcp,omitempty"`
	HTTP     string        `mapstructure:"http" yaml:"http,omitempty"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

type Backoff struct {
	Initial    time.Duration `mapstructure:"initial" yaml:"initial,omitempty"`
	Max        time.Duration `mapstructure:"max" yaml:"max,omitempty"`
	ResetAfter time.Duration `mapstructure:"reset_after" yaml:"reset_after,omitempty"`
}

// Supervisor configures the process that owns service lifecycles.
type Supervisor struct {
	Runtime      string        `mapstructure:"runtime" yaml:"runtime"` // docker | process
	Listen       string        `mapstructure:"listen" yaml:"listen"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	StateDir     string        `mapstructure:"state_dir" yaml:"state_dir"`
}

// Backup points at the S3 bucket that holds volume snapshots.
type Backup struct {
	Bucket   string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Region   string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"` // S3-compatible stores (minio, localstack)
}

// AWS holds settings for resolving ${rds:...} and ${elasticache:...}
// placeholders. Credentials come from the default chain.
type AWS struct {
	Region string `mapstructure:"region" yaml:"region,omitempty"`
}

// BaseDir returns the directory relative paths resolve against.
func (c *Config) BaseDir() string { return c.baseDir }
