package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the full harness configuration, merged from flags, the optional
// YAML file and SHAPEBENCH_* environment variables.
type Config struct {
	Host       string           `mapstructure:"host"`
	Port       int              `mapstructure:"port"`
	Cert       string           `mapstructure:"cert"`
	Key        string           `mapstructure:"key"`
	Output     string           `mapstructure:"output"`
	Bandwidths []int            `mapstructure:"bandwidths"`
	Settle     time.Duration    `mapstructure:"settle"`
	TUI        bool             `mapstructure:"tui"`
	Shaping    ShapingConfig    `mapstructure:"shaping"`
	Client     ClientConfig     `mapstructure:"client"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Results    ResultsConfig    `mapstructure:"results"`
	History    HistoryConfig    `mapstructure:"history"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ShapingConfig struct {
	Iface   string `mapstructure:"iface"`
	IFB     string `mapstructure:"ifb"`
	Burst   string `mapstructure:"burst"`
	Latency string `mapstructure:"latency"`
	Sudo    bool   `mapstructure:"sudo"`
}

// ClientConfig describes how the transfer client is launched.
type ClientConfig struct {
	Command   string   `mapstructure:"command"`
	ExtraArgs []string `mapstructure:"extra_args"`
	Sentinel  string   `mapstructure:"sentinel"`
	NoVerify  bool     `mapstructure:"no_verify"`
	Dir       string   `mapstructure:"dir"` // working directory, empty for ours
	Env       []string `mapstructure:"env"` // KEY=VALUE, added to our environment
}

type SupervisorConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Grace       time.Duration `mapstructure:"grace"`
	WatchStderr bool          `mapstructure:"watch_stderr"`
	ProcPath    string        `mapstructure:"proc_path"`
}

type ResultsConfig struct {
	Dir          string `mapstructure:"dir"`
	Prefix       string `mapstructure:"prefix"`
	CPUFile      string `mapstructure:"cpu_file"`
	DurationFile string `mapstructure:"duration_file"`
	ChartFile    string `mapstructure:"chart_file"`
}

type HistoryConfig struct {
	Path     string `mapstructure:"path"`
	Disabled bool   `mapstructure:"disabled"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DefaultSentinel is the log line the transfer client prints once the file is
// fully written.
const DefaultSentinel = "INFO:quic.client:Video transfer completed, closing connection..."

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 4433)
	v.SetDefault("output", "downloaded_video.mp4")
	v.SetDefault("bandwidths", []int{10, 20, 30, 40, 50})
	v.SetDefault("settle", time.Duration(0))

	v.SetDefault("shaping.iface", "enp0s3")
	v.SetDefault("shaping.ifb", "ifb0")
	v.SetDefault("shaping.burst", "10k")
	v.SetDefault("shaping.latency", "1000ms")
	v.SetDefault("shaping.sudo", true)

	v.SetDefault("client.command", "python3 new_opt_client.py")
	v.SetDefault("client.sentinel", DefaultSentinel)

	v.SetDefault("supervisor.interval", time.Second)
	v.SetDefault("supervisor.grace", 5*time.Second)
	v.SetDefault("supervisor.watch_stderr", true)
	v.SetDefault("supervisor.proc_path", "/proc")

	v.SetDefault("results.dir", ".")
	v.SetDefault("results.prefix", "shapebench")
	v.SetDefault("results.cpu_file", "cpu_opt.npy")
	v.SetDefault("results.duration_file", "dur_opt.npy")
	v.SetDefault("results.chart_file", "graph.png")

	v.SetDefault("history.path", defaultHistoryPath())
	v.SetDefault("logging.level", "info")
}

// InitConfig points v at the config file (explicit path or $HOME/.shapebench.yaml)
// and enables environment overrides. A missing default file is not an error.
func InitConfig(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigType("yaml")
		v.SetConfigName(".shapebench")
	}
	v.SetEnvPrefix("SHAPEBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "read config")
	}
	return nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode unmarshals v without validation, for commands that only need a
// subset of the configuration.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if len(c.Bandwidths) == 0 {
		return errors.New("at least one bandwidth limit is required")
	}
	for _, bw := range c.Bandwidths {
		if bw <= 0 {
			return fmt.Errorf("bandwidth limit must be positive, got %d", bw)
		}
	}
	if strings.TrimSpace(c.Client.Command) == "" {
		return errors.New("client command is required")
	}
	if c.Client.Sentinel == "" {
		return errors.New("client sentinel is required")
	}
	if c.Supervisor.Interval <= 0 {
		return fmt.Errorf("sampling interval must be positive, got %s", c.Supervisor.Interval)
	}
	if c.Shaping.Iface == "" || c.Shaping.IFB == "" {
		return errors.New("shaping iface and ifb device names are required")
	}
	return nil
}

// Argv splits the configured client command into argv form.
func (c ClientConfig) Argv() []string {
	return strings.Fields(c.Command)
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "shapebench-history.db")
	}
	return filepath.Join(home, ".shapebench", "history.db")
}
