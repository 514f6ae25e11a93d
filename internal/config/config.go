package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/remoto/internal/logger"
)

// EnvPrefix is the prefix of environment overrides, e.g. REMOTO_RELAY_HLS_PORT.
const EnvPrefix = "REMOTO"

// Stack strategies.
const (
	StrategyAuto       = "auto"       // script on darwin when configured, individual otherwise
	StrategyIndividual = "individual" // relay, encoder and stream tunnel spawned one by one
	StrategyScript     = "script"     // relay, encoder and stream tunnel delegated to a startup script
)

// Config is the complete controller configuration.
type Config struct {
	Home        string   `mapstructure:"home"`
	DataDir     string   `mapstructure:"data_dir"`
	LogsDir     string   `mapstructure:"logs_dir"`
	Password    string   `mapstructure:"password"`
	SearchPaths []string `mapstructure:"search_paths"`
	// StopSettle is waited after each service that was actually stopped.
	StopSettle time.Duration `mapstructure:"stop_settle"`

	Log     LogConfig     `mapstructure:"log"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Encoder EncoderConfig `mapstructure:"encoder"`
	Tunnel  TunnelConfig  `mapstructure:"tunnel"`
	Backend BackendConfig `mapstructure:"backend"`
	Stack   StackConfig   `mapstructure:"stack"`
	History HistoryConfig `mapstructure:"history"`
	API     APIConfig     `mapstructure:"api"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Color      bool   `mapstructure:"color"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type RelayConfig struct {
	Binary   string        `mapstructure:"binary"`
	Config   string        `mapstructure:"config"` // explicit config path; empty searches cwd then home
	RTSPPort int           `mapstructure:"rtsp_port"`
	HLSPort  int           `mapstructure:"hls_port"`
	Path     string        `mapstructure:"path"` // stream path name
	Settle   time.Duration `mapstructure:"settle"`
}

type EncoderConfig struct {
	Binary string        `mapstructure:"binary"`
	Args   []string      `mapstructure:"args"` // replaces the per-OS default capture command
	Settle time.Duration `mapstructure:"settle"`
}

type TunnelConfig struct {
	Binary         string        `mapstructure:"binary"`
	CaptureTimeout time.Duration `mapstructure:"capture_timeout"` // 0 waits forever
	Pattern        string        `mapstructure:"pattern"`
}

type BackendConfig struct {
	Binary     string        `mapstructure:"binary"`
	Args       []string      `mapstructure:"args"` // replaces "-m uvicorn <app> --host <host> --port <port>"
	App        string        `mapstructure:"app"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Dir        string        `mapstructure:"dir"` // working directory; empty is the current directory
	EnvFile    string        `mapstructure:"env_file"`
	HealthPath string        `mapstructure:"health_path"` // empty disables the HTTP probe
	Settle     time.Duration `mapstructure:"settle"`
}

type StackConfig struct {
	Strategy string `mapstructure:"strategy"`
	Script   string `mapstructure:"script"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"` // sqlite path/URL, postgres://, clickhouse:// or "none"
}

type APIConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the control API
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("home", "")
	v.SetDefault("data_dir", "")
	v.SetDefault("logs_dir", "")
	v.SetDefault("password", "")
	v.SetDefault("search_paths", []string{})
	v.SetDefault("stop_settle", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.color", true)
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("relay.binary", "mediamtx")
	v.SetDefault("relay.config", "")
	v.SetDefault("relay.rtsp_port", 8554)
	v.SetDefault("relay.hls_port", 8888)
	v.SetDefault("relay.path", "screen")
	v.SetDefault("relay.settle", 2*time.Second)

	v.SetDefault("encoder.binary", "ffmpeg")
	v.SetDefault("encoder.args", []string{})
	v.SetDefault("encoder.settle", 3*time.Second)

	v.SetDefault("tunnel.binary", "cloudflared")
	v.SetDefault("tunnel.capture_timeout", 60*time.Second)
	v.SetDefault("tunnel.pattern", `https://[a-z0-9-]+\.trycloudflare\.com`)

	v.SetDefault("backend.binary", "python3")
	v.SetDefault("backend.args", []string{})
	v.SetDefault("backend.app", "server.main:app")
	v.SetDefault("backend.host", "0.0.0.0")
	v.SetDefault("backend.port", 8000)
	v.SetDefault("backend.dir", "")
	v.SetDefault("backend.env_file", "")
	v.SetDefault("backend.health_path", "/health")
	v.SetDefault("backend.settle", 3*time.Second)

	v.SetDefault("stack.strategy", StrategyAuto)
	v.SetDefault("stack.script", "")

	v.SetDefault("history.dsn", "")
	v.SetDefault("api.listen", "")
	v.SetDefault("metrics.enabled", true)
}

// Load reads configuration from an optional TOML file, REMOTO_* environment
// variables and defaults, in that order of precedence (env wins over file).
// An empty path looks for <home>/config.toml and silently skips it when absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the backend's historical variable name still overrides the password
	if err := v.BindEnv("password", EnvPrefix+"_PASSWORD", "REMOTE_AI_PASSWORD"); err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		home, err := resolveHome(v.GetString("home"))
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, "config.toml")
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		if explicit || !isNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.finish(); err != nil {
		return nil, err
	}
	return &c, nil
}

func isNotExist(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
}

func resolveHome(h string) (string, error) {
	if h != "" {
		return expandTilde(h)
	}
	uh, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(uh, ".remoto"), nil
}

func expandTilde(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		uh, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(uh, strings.TrimPrefix(p, "~")), nil
	}
	return p, nil
}

// finish fills derived paths and validates values.
func (c *Config) finish() error {
	home, err := resolveHome(c.Home)
	if err != nil {
		return err
	}
	c.Home = home
	if c.DataDir == "" {
		c.DataDir = filepath.Join(home, "data")
	}
	if c.LogsDir == "" {
		c.LogsDir = filepath.Join(home, "logs")
	}
	if c.Backend.Dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		c.Backend.Dir = wd
	}
	if c.Backend.EnvFile == "" {
		c.Backend.EnvFile = filepath.Join(c.Backend.Dir, "server", ".env")
	}
	if c.History.DSN == "" {
		c.History.DSN = filepath.Join(c.DataDir, "history.db")
	}
	return c.Validate()
}

// Validate checks ports, durations and the stack strategy.
func (c *Config) Validate() error {
	for name, p := range map[string]int{
		"relay.rtsp_port": c.Relay.RTSPPort,
		"relay.hls_port":  c.Relay.HLSPort,
		"backend.port":    c.Backend.Port,
	} {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%s out of range: %d", name, p)
		}
	}
	if c.StopSettle < 0 {
		return fmt.Errorf("stop_settle must not be negative")
	}
	if c.Tunnel.CaptureTimeout < 0 {
		return fmt.Errorf("tunnel.capture_timeout must not be negative")
	}
	switch c.Stack.Strategy {
	case StrategyAuto, StrategyIndividual:
	case StrategyScript:
		if c.Stack.Script == "" {
			return fmt.Errorf("stack.strategy %q requires stack.script", StrategyScript)
		}
	default:
		return fmt.Errorf("unknown stack.strategy %q", c.Stack.Strategy)
	}
	return nil
}

// Logger returns the service log sink configuration.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Dir:        c.LogsDir,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// PIDFile, URLFile and SecretFile name the state files under DataDir.
func (c *Config) PIDFile(service string) string {
	return filepath.Join(c.DataDir, service+".pid")
}

func (c *Config) URLFile(service string) string {
	return filepath.Join(c.DataDir, service+"_url.txt")
}

func (c *Config) SecretFile() string { return filepath.Join(c.DataDir, "session_password.txt") }

func (c *Config) LockFile() string { return filepath.Join(c.DataDir, "remoto.lock") }
