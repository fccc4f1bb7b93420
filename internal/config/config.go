package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "~/.config/astrored/config.json"
	defaultParallel   = 2
	envPrefix         = "ASTRORED"
)

// Config holds user-editable settings for the orbit pipeline.
type Config struct {
	Solver     Solver     `mapstructure:"solver" json:"solver" yaml:"solver"`
	Codec      Codec      `mapstructure:"codec" json:"codec" yaml:"codec"`
	Processing Processing `mapstructure:"processing" json:"processing" yaml:"processing"`
	Logging    Logging    `mapstructure:"logging" json:"logging" yaml:"logging"`
	Paths      Paths      `mapstructure:"paths" json:"paths" yaml:"paths"`
	Server     Server     `mapstructure:"server" json:"server" yaml:"server"`
}

// Solver describes the external orbit fitting binary and its workspace.
type Solver struct {
	Binary        string        `mapstructure:"binary" json:"binary" yaml:"binary"`
	Args          []string      `mapstructure:"args" json:"args" yaml:"args"`
	WorkspaceRoot string        `mapstructure:"workspace_root" json:"workspace_root" yaml:"workspace_root"`
	TemplateDir   string        `mapstructure:"template_dir" json:"template_dir" yaml:"template_dir"`
	InputFile     string        `mapstructure:"input_file" json:"input_file" yaml:"input_file"`
	ResultFile    string        `mapstructure:"result_file" json:"result_file" yaml:"result_file"`
	ErrorFile     string        `mapstructure:"error_file" json:"error_file" yaml:"error_file"`
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"` // per invocation, 0 = none
}

// Codec controls how observation files are decoded.
type Codec struct {
	Strict bool `mapstructure:"strict" json:"strict" yaml:"strict"` // report malformed lines instead of dropping them
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int `mapstructure:"parallel_jobs" json:"parallel_jobs" yaml:"parallel_jobs"`
	QueueSize    int `mapstructure:"queue_size" json:"queue_size" yaml:"queue_size"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `mapstructure:"level" json:"level" yaml:"level"`    // debug, info, warn, error
	Format     string `mapstructure:"format" json:"format" yaml:"format"` // text, json
	FileOutput bool   `mapstructure:"file_output" json:"file_output" yaml:"file_output"`
	LogDir     string `mapstructure:"log_dir" json:"log_dir" yaml:"log_dir"`
}

// Paths configures default locations.
type Paths struct {
	DatabasePath string `mapstructure:"database_path" json:"database_path" yaml:"database_path"`
	Inbox        string `mapstructure:"inbox" json:"inbox" yaml:"inbox"`
	Processed    string `mapstructure:"processed" json:"processed" yaml:"processed"`
	ArchivePath  string `mapstructure:"archive_path" json:"archive_path" yaml:"archive_path"`
}

// Server holds listen addresses.
type Server struct {
	HTTPAddr string `mapstructure:"http_addr" json:"http_addr" yaml:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr" json:"grpc_addr" yaml:"grpc_addr"`
}

// Load reads configuration from ASTRORED_CONFIG or the default path,
// falling back to defaults when the file does not exist.
func Load() (*Config, error) {
	configPath := os.Getenv(envPrefix + "_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return LoadFile(configPath)
}

// LoadFile reads the JSON config at path. ASTRORED_* environment
// variables override file values, e.g. ASTRORED_SOLVER_BINARY.
func LoadFile(path string) (*Config, error) {
	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, defaultConfig())
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(expanded); err == nil {
		v.SetConfigFile(expanded)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", expanded, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	for _, p := range []*string{
		&cfg.Solver.WorkspaceRoot, &cfg.Solver.TemplateDir,
		&cfg.Logging.LogDir, &cfg.Paths.DatabasePath,
		&cfg.Paths.Inbox, &cfg.Paths.Processed, &cfg.Paths.ArchivePath,
	} {
		if *p, err = expandUser(*p); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Processing.ParallelJobs < 1 {
		return fmt.Errorf("processing.parallel_jobs must be at least 1, got %d", c.Processing.ParallelJobs)
	}
	if c.Solver.Timeout < 0 {
		return fmt.Errorf("solver.timeout must not be negative")
	}
	if c.Solver.WorkspaceRoot == "" {
		return errors.New("solver.workspace_root is required")
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("solver.binary", d.Solver.Binary)
	v.SetDefault("solver.args", d.Solver.Args)
	v.SetDefault("solver.workspace_root", d.Solver.WorkspaceRoot)
	v.SetDefault("solver.template_dir", d.Solver.TemplateDir)
	v.SetDefault("solver.input_file", d.Solver.InputFile)
	v.SetDefault("solver.result_file", d.Solver.ResultFile)
	v.SetDefault("solver.error_file", d.Solver.ErrorFile)
	v.SetDefault("solver.timeout", d.Solver.Timeout)
	v.SetDefault("codec.strict", d.Codec.Strict)
	v.SetDefault("processing.parallel_jobs", d.Processing.ParallelJobs)
	v.SetDefault("processing.queue_size", d.Processing.QueueSize)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file_output", d.Logging.FileOutput)
	v.SetDefault("logging.log_dir", d.Logging.LogDir)
	v.SetDefault("paths.database_path", d.Paths.DatabasePath)
	v.SetDefault("paths.inbox", d.Paths.Inbox)
	v.SetDefault("paths.processed", d.Paths.Processed)
	v.SetDefault("paths.archive_path", d.Paths.ArchivePath)
	v.SetDefault("server.http_addr", d.Server.HTTPAddr)
	v.SetDefault("server.grpc_addr", d.Server.GRPCAddr)
}

func defaultConfig() *Config {
	return &Config{
		Solver: Solver{
			Binary:        "find_orb",
			Args:          []string{"{input}"},
			WorkspaceRoot: filepath.Join(os.TempDir(), "astrored-work"),
			InputFile:     "astrored.obs",
			ResultFile:    "astrored.res",
			ErrorFile:     "astrored.err",
			Timeout:       5 * time.Minute,
		},
		Processing: Processing{
			ParallelJobs: defaultParallel,
			QueueSize:    64,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			LogDir: "./logs",
		},
		Paths: Paths{
			DatabasePath: filepath.Join(os.TempDir(), "astrored.db"),
			Inbox:        "./inbox",
			Processed:    "./inbox/done",
		},
		Server: Server{
			HTTPAddr: "127.0.0.1:8080",
			GRPCAddr: "127.0.0.1:9090",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
