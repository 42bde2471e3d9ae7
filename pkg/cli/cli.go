package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmdmdm-nz/pathmond/internal/netmon"
	"github.com/dmdmdm-nz/pathmond/pkg/version"
)

// Config holds the application configuration from CLI flags and the
// optional config file
type Config struct {
	Port         int           `yaml:"port"`
	Host         string        `yaml:"host"`
	LogLevel     string        `yaml:"log_level"`
	Watcher      string        `yaml:"watcher"`
	PollInterval time.Duration `yaml:"poll_interval"`
	LogChanges   bool          `yaml:"log_changes"`
	Advertise    bool          `yaml:"advertise"`

	ConfigFile  string `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
}

var logLevels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "error": {},
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:         60106,
		Host:         "127.0.0.1",
		LogLevel:     "info",
		Watcher:      netmon.ModeAuto,
		PollInterval: netmon.DefaultPollInterval,
		LogChanges:   true,
	}
}

// ParseFlags parses command line arguments and returns a Config
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.ShowVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	return cfg
}

// Parse builds the configuration from args. Values come from the defaults,
// then the -config file, then flags given explicitly on the command line.
func Parse(args []string, output io.Writer) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("pathmond", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port to listen on")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host to bind to")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&cfg.Watcher, "watcher", cfg.Watcher, "Path watcher (auto, poll)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Sampling interval for the poll watcher")
	fs.BoolVar(&cfg.LogChanges, "log-changes", cfg.LogChanges, "Log every network path change")
	fs.BoolVar(&cfg.Advertise, "advertise", cfg.Advertise, "Advertise the API over mDNS")
	fs.StringVar(&cfg.ConfigFile, "config", "", "Path to a YAML config file")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if cfg.ConfigFile != "" {
		fileCfg, err := Load(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		fs.Visit(func(f *flag.Flag) {
			fileCfg.override(f.Name, &cfg)
		})
		fileCfg.ConfigFile = cfg.ConfigFile
		fileCfg.ShowVersion = cfg.ShowVersion
		cfg = *fileCfg
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// override copies the value of one command line flag from src.
func (c *Config) override(name string, src *Config) {
	switch name {
	case "port":
		c.Port = src.Port
	case "host":
		c.Host = src.Host
	case "log-level":
		c.LogLevel = src.LogLevel
	case "watcher":
		c.Watcher = src.Watcher
	case "poll-interval":
		c.PollInterval = src.PollInterval
	case "log-changes":
		c.LogChanges = src.LogChanges
	case "advertise":
		c.Advertise = src.Advertise
	}
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, ok := logLevels[c.LogLevel]; !ok {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	switch c.Watcher {
	case netmon.ModeAuto, netmon.ModePoll:
	default:
		return fmt.Errorf("invalid watcher %q", c.Watcher)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid poll interval %s", c.PollInterval)
	}
	return nil
}

// String returns a string representation of the Config
func (c *Config) String() string {
	return fmt.Sprintf("Host: %s, Port: %d, LogLevel: %s, Watcher: %s, PollInterval: %s, LogChanges: %t, Advertise: %t",
		c.Host, c.Port, c.LogLevel, c.Watcher, c.PollInterval, c.LogChanges, c.Advertise)
}
