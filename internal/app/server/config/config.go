package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
)

const (
	TransportPusher    = "pusher"
	TransportWebsocket = "websocket"
	TransportBoth      = "both"
)

// Duration wraps time.Duration for TOML parsing.
type Duration struct {
	time.Duration
}

// UnmarshalText parses Go duration strings such as "60s" or "3m".
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}
	d.Duration = parsed
	return nil
}

// PusherConfig holds channel-provider credentials.
type PusherConfig struct {
	AppID   string `toml:"app_id"`
	Key     string `toml:"key"`
	Secret  string `toml:"secret"`
	Cluster string `toml:"cluster"`
	UseTLS  bool   `toml:"use_tls"`
	Host    string `toml:"host"`
}

// Config is read once at startup and passed down explicitly.
type Config struct {
	Port     string       `toml:"port"`
	ClientID string       `toml:"cid"`
	LogDir   string       `toml:"log_dir"`
	Pusher   PusherConfig `toml:"pusher"`

	Transport        string   `toml:"transport"`
	HeadOfLine       bool     `toml:"head_of_line"`
	MetricsInterval  Duration `toml:"metrics_interval"`
	PingInterval     Duration `toml:"ping_interval"`
	TailRetryDelay   Duration `toml:"tail_retry_delay"`
	TailPollInterval Duration `toml:"tail_poll_interval"`
	OutageDuration   Duration `toml:"outage_duration"`
	ShutdownTimeout  Duration `toml:"shutdown_timeout"`
	DiskPath         string   `toml:"disk_path"`

	CPUIterations   int     `toml:"cpu_iterations"`
	MemoryFraction  float64 `toml:"memory_fraction"`
	MemoryCeilingMB int     `toml:"memory_ceiling_mb"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogToFile bool   `toml:"log_to_file"`
}

// Default returns the built-in defaults. Port, client id and credentials
// have none.
func Default() *Config {
	return &Config{
		LogDir:           filepath.Join(".pm2", "logs"),
		Pusher:           PusherConfig{UseTLS: true},
		Transport:        TransportPusher,
		HeadOfLine:       true,
		MetricsInterval:  Duration{60 * time.Second},
		PingInterval:     Duration{60 * time.Second},
		TailRetryDelay:   Duration{10 * time.Second},
		TailPollInterval: Duration{5 * time.Second},
		OutageDuration:   Duration{180 * time.Second},
		ShutdownTimeout:  Duration{5 * time.Second},
		DiskPath:         "/",
		CPUIterations:    10_000,
		MemoryFraction:   0.8,
		MemoryCeilingMB:  512,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LogFilePath is the file the tailer follows for this client id.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.LogDir, "server-"+c.ClientID+".log")
}

// Address is the listen address for the HTTP server.
func (c *Config) Address() string {
	return ":" + c.Port
}

// UsesPusher reports whether the Pusher transport is enabled.
func (c *Config) UsesPusher() bool {
	return c.Transport == TransportPusher || c.Transport == TransportBoth
}

// UsesWebsocket reports whether the local websocket hub is enabled.
func (c *Config) UsesWebsocket() bool {
	return c.Transport == TransportWebsocket || c.Transport == TransportBoth
}

// LoadFile merges a TOML file over the current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Error lists every configuration problem found.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *Error) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *Error) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// Validate reports missing or inconsistent settings as *Error.
func (c *Config) Validate() error {
	errs := &Error{}

	if c.Port == "" {
		errs.add("port is required")
	} else if p, err := strconv.Atoi(c.Port); err != nil || p < 0 || p > 65535 {
		errs.add("port %q is not a valid TCP port", c.Port)
	}
	if c.ClientID == "" {
		errs.add("cid is required")
	}

	switch c.Transport {
	case TransportPusher, TransportWebsocket, TransportBoth:
	default:
		errs.add("unknown transport %q", c.Transport)
	}
	if c.UsesPusher() {
		if c.Pusher.AppID == "" {
			errs.add("appId is required")
		}
		if c.Pusher.Key == "" {
			errs.add("key is required")
		}
		if c.Pusher.Secret == "" {
			errs.add("secret is required")
		}
		if c.Pusher.Cluster == "" {
			errs.add("cluster is required")
		}
	}

	for name, d := range map[string]Duration{
		"metrics_interval":   c.MetricsInterval,
		"ping_interval":      c.PingInterval,
		"tail_retry_delay":   c.TailRetryDelay,
		"tail_poll_interval": c.TailPollInterval,
		"outage_duration":    c.OutageDuration,
	} {
		if d.Duration <= 0 {
			errs.add("%s must be positive", name)
		}
	}

	if !(c.MemoryFraction > 0 && c.MemoryFraction < 1) {
		errs.add("memory_fraction must be in (0, 1)")
	}
	if c.MemoryCeilingMB < 0 {
		errs.add("memory_ceiling_mb must not be negative")
	}

	return errs.orNil()
}

// Load builds the configuration: defaults, then the TOML file named by
// --config or CONFIG, then environment variables, then explicitly set flags.
func Load(fs *pflag.FlagSet, lookupEnv func(string) (string, bool)) (*Config, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	cfg := Default()

	path, _ := fs.GetString("config")
	if path == "" {
		path, _ = lookupEnv("CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(lookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.applyFlags(fs); err != nil {
		return nil, err
	}
	return cfg, nil
}
