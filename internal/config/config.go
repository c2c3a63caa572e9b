// Package config loads livepoll's runtime settings.
//
// Values are layered, later sources winning: built-in defaults, an optional
// YAML file (-config or LIVEPOLL_CONFIG), the environment (optionally seeded
// from a .env file) and finally command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 8080
	DefaultTimeLimitSec    = 60
	MaxTimeLimitSec        = 24 * 60 * 60
	DefaultShutdownTimeout = 10 * time.Second
	DefaultWriteWait       = 10 * time.Second
	DefaultPongWait        = 60 * time.Second
	DefaultMaxMessageSize  = 4096
	DefaultSendBuffer      = 64
	defaultEnvFile         = ".env"
	configPathEnv          = "LIVEPOLL_CONFIG"
)

// WebSocket tunes the real-time channel.
type WebSocket struct {
	WriteWait      time.Duration `yaml:"write_wait"`
	PongWait       time.Duration `yaml:"pong_wait"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendBuffer     int           `yaml:"send_buffer"`
}

// Config holds every runtime setting.
type Config struct {
	Port             int           `yaml:"port"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	DefaultTimeLimit int           `yaml:"default_time_limit_sec"`
	LogFile          string        `yaml:"log_file"`
	Verbose          bool          `yaml:"verbose"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	WebSocket        WebSocket     `yaml:"websocket"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:             DefaultPort,
		AllowedOrigins:   []string{"*"},
		DefaultTimeLimit: DefaultTimeLimitSec,
		ShutdownTimeout:  DefaultShutdownTimeout,
		WebSocket: WebSocket{
			WriteWait:      DefaultWriteWait,
			PongWait:       DefaultPongWait,
			MaxMessageSize: DefaultMaxMessageSize,
			SendBuffer:     DefaultSendBuffer,
		},
	}
}

type flagValues struct {
	configPath string
	envFile    string
	port       int
	origins    string
	timeLimit  int
	logFile    string
	verbose    bool
}

// Load builds the configuration from args and the environment.
func Load(args []string) (Config, error) {
	var fv flagValues
	fset := flag.NewFlagSet("livepoll", flag.ContinueOnError)
	fset.StringVar(&fv.configPath, "config", "", "Path to a YAML config file")
	fset.StringVar(&fv.envFile, "env-file", defaultEnvFile, "Path to a .env file (ignored when missing)")
	fset.IntVar(&fv.port, "p", 0, "Server port")
	fset.StringVar(&fv.origins, "origins", "", "Comma-separated allowed CORS origins")
	fset.IntVar(&fv.timeLimit, "time-limit", 0, "Default question time limit in seconds")
	fset.StringVar(&fv.logFile, "log-file", "", "Append logs to this file")
	fset.BoolVar(&fv.verbose, "v", false, "Verbose logging")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}
	set := map[string]bool{}
	fset.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if fv.envFile != "" {
		if err := godotenv.Load(fv.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", fv.envFile, err)
		}
	}

	cfg := Default()

	path := fv.configPath
	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if set["p"] {
		cfg.Port = fv.port
	}
	if set["origins"] {
		cfg.AllowedOrigins = splitList(fv.origins)
	}
	if set["time-limit"] {
		cfg.DefaultTimeLimit = fv.timeLimit
	}
	if set["log-file"] {
		cfg.LogFile = fv.logFile
	}
	if set["v"] {
		cfg.Verbose = fv.verbose
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("config: invalid PORT env variable")
		}
		c.Port = port
	}
	if v := strings.TrimSpace(os.Getenv("LIVEPOLL_ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("LIVEPOLL_DEFAULT_TIME_LIMIT")); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("config: invalid LIVEPOLL_DEFAULT_TIME_LIMIT env variable")
		}
		c.DefaultTimeLimit = sec
	}
	if v := strings.TrimSpace(os.Getenv("LIVEPOLL_LOG_FILE")); v != "" {
		c.LogFile = v
	}
	if v := strings.TrimSpace(os.Getenv("LIVEPOLL_VERBOSE")); v != "" {
		verbose, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New("config: invalid LIVEPOLL_VERBOSE env variable")
		}
		c.Verbose = verbose
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: port %d out of range", c.Port)
	case len(c.AllowedOrigins) == 0:
		return errors.New("config: at least one allowed origin is required")
	case c.DefaultTimeLimit <= 0:
		return errors.New("config: default time limit must be positive")
	case c.DefaultTimeLimit > MaxTimeLimitSec:
		return fmt.Errorf("config: default time limit must be at most %d seconds", MaxTimeLimitSec)
	case c.ShutdownTimeout <= 0:
		return errors.New("config: shutdown timeout must be positive")
	case c.WebSocket.WriteWait <= 0 || c.WebSocket.PongWait <= 0:
		return errors.New("config: websocket timeouts must be positive")
	case c.WebSocket.MaxMessageSize <= 0 || c.WebSocket.SendBuffer <= 0:
		return errors.New("config: websocket limits must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
