package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DirName is the per-installation state directory, relative to the working directory.
const DirName = ".buildgate"

// EnvPrefix prefixes environment overrides, e.g. BUILDGATE_REPO_URL.
const EnvPrefix = "BUILDGATE"

// Config represents the complete gateway configuration
type Config struct {
	Version int `json:"version" mapstructure:"version" yaml:"version" toml:"version"`

	Repo    RepoConfig    `json:"repo" mapstructure:"repo" yaml:"repo" toml:"repo"`
	Cache   CacheConfig   `json:"cache" mapstructure:"cache" yaml:"cache" toml:"cache"`
	Queue   QueueConfig   `json:"queue" mapstructure:"queue" yaml:"queue" toml:"queue"`
	Sync    SyncConfig    `json:"sync" mapstructure:"sync" yaml:"sync" toml:"sync"`
	Output  OutputConfig  `json:"output" mapstructure:"output" yaml:"output" toml:"output"`
	Build   BuildConfig   `json:"build" mapstructure:"build" yaml:"build" toml:"build"`
	Server  ServerConfig  `json:"server" mapstructure:"server" yaml:"server" toml:"server"`
	Storage StorageConfig `json:"storage" mapstructure:"storage" yaml:"storage" toml:"storage"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging" yaml:"logging" toml:"logging"`
}

// RepoConfig describes the upstream repository and the local clone
type RepoConfig struct {
	URL                     string   `json:"url" mapstructure:"url" yaml:"url" toml:"url"`
	Token                   string   `json:"token,omitempty" mapstructure:"token" yaml:"token,omitempty" toml:"token,omitempty"`
	Dir                     string   `json:"dir" mapstructure:"dir" yaml:"dir" toml:"dir"`
	RequiredPaths           []string `json:"requiredPaths" mapstructure:"requiredPaths" yaml:"requiredPaths" toml:"requiredPaths"`
	DefaultBranchCandidates []string `json:"defaultBranchCandidates" mapstructure:"defaultBranchCandidates" yaml:"defaultBranchCandidates" toml:"defaultBranchCandidates"`
}

// CacheConfig contains ref resolution cache TTLs
type CacheConfig struct {
	PositiveTtlSeconds int `json:"positiveTtlSeconds" mapstructure:"positiveTtlSeconds" yaml:"positiveTtlSeconds" toml:"positiveTtlSeconds"`
	NegativeTtlSeconds int `json:"negativeTtlSeconds" mapstructure:"negativeTtlSeconds" yaml:"negativeTtlSeconds" toml:"negativeTtlSeconds"`
}

// QueueConfig contains job queue admission settings
type QueueConfig struct {
	MaxQueueSize     int `json:"maxQueueSize" mapstructure:"maxQueueSize" yaml:"maxQueueSize" toml:"maxQueueSize"`
	BuildWaitSeconds int `json:"buildWaitSeconds" mapstructure:"buildWaitSeconds" yaml:"buildWaitSeconds" toml:"buildWaitSeconds"`
}

// SyncConfig contains default-branch maintenance settings
type SyncConfig struct {
	IntervalSeconds int `json:"intervalSeconds" mapstructure:"intervalSeconds" yaml:"intervalSeconds" toml:"intervalSeconds"`
}

// OutputConfig contains the root of the per-ref output trees
type OutputConfig struct {
	Dir string `json:"dir" mapstructure:"dir" yaml:"dir" toml:"dir"`
}

// BuildConfig contains the compile and assemble command templates.
// Templates may use {source}, {output}, {ref} and {file}.
type BuildConfig struct {
	CompileCommand       []string `json:"compileCommand" mapstructure:"compileCommand" yaml:"compileCommand" toml:"compileCommand"`
	AssembleCommand      []string `json:"assembleCommand" mapstructure:"assembleCommand" yaml:"assembleCommand" toml:"assembleCommand"`
	PlaceholderOnFailure bool     `json:"placeholderOnFailure" mapstructure:"placeholderOnFailure" yaml:"placeholderOnFailure" toml:"placeholderOnFailure"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Host           string `json:"host" mapstructure:"host" yaml:"host" toml:"host"`
	Port           int    `json:"port" mapstructure:"port" yaml:"port" toml:"port"`
	AdminTokenHash string `json:"adminTokenHash,omitempty" mapstructure:"adminTokenHash" yaml:"adminTokenHash,omitempty" toml:"adminTokenHash,omitempty"`
}

// StorageConfig contains the build history database location and retention
type StorageConfig struct {
	DBPath        string `json:"dbPath" mapstructure:"dbPath" yaml:"dbPath" toml:"dbPath"`
	RetentionDays int    `json:"retentionDays" mapstructure:"retentionDays" yaml:"retentionDays" toml:"retentionDays"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format" yaml:"format" toml:"format"`
	Level  string `json:"level" mapstructure:"level" yaml:"level" toml:"level"`
	File   string `json:"file,omitempty" mapstructure:"file" yaml:"file,omitempty" toml:"file,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Repo: RepoConfig{
			URL: "https://github.com/highcharts/highcharts.git",
			Dir: filepath.Join(DirName, "repo"),
			RequiredPaths: []string{
				"css",
				"js",
				"ts",
				"tools",
				"gulpfile.js",
				"package.json",
				"tsconfig.json",
			},
			DefaultBranchCandidates: []string{"main", "master", "develop"},
		},
		Cache: CacheConfig{
			PositiveTtlSeconds: 60,
			NegativeTtlSeconds: 10,
		},
		Queue: QueueConfig{
			MaxQueueSize:     10,
			BuildWaitSeconds: 120,
		},
		Sync: SyncConfig{
			IntervalSeconds: 600,
		},
		Output: OutputConfig{
			Dir: filepath.Join(DirName, "output"),
		},
		Build: BuildConfig{
			CompileCommand:  []string{"npx", "tsc", "-p", "{source}/ts", "--outDir", "{output}"},
			AssembleCommand: []string{"npx", "gulp", "scripts", "--file", "{file}", "--output", "{output}"},
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Storage: StorageConfig{
			DBPath:        filepath.Join(DirName, "history.db"),
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// PositiveTTL returns the TTL for successful ref resolutions
func (c *Config) PositiveTTL() time.Duration {
	return time.Duration(c.Cache.PositiveTtlSeconds) * time.Second
}

// NegativeTTL returns the TTL for not-found ref resolutions
func (c *Config) NegativeTTL() time.Duration {
	return time.Duration(c.Cache.NegativeTtlSeconds) * time.Second
}

// BuildWait returns how long a request waits for its build before answering in-progress
func (c *Config) BuildWait() time.Duration {
	return time.Duration(c.Queue.BuildWaitSeconds) * time.Second
}

// SyncInterval returns the default-branch sync period
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// DefaultPath returns .buildgate/config.json under dir
func DefaultPath(dir string) string {
	return filepath.Join(dir, DirName, "config.json")
}

// LoadConfig loads configuration from path, or from .buildgate/config.json
// under the working directory when path is empty. A missing file yields the
// defaults. Environment variables override both.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(DirName)
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && os.IsNotExist(err)) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every key so env overrides are visible to Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)

	v.SetDefault("repo.url", d.Repo.URL)
	v.SetDefault("repo.token", d.Repo.Token)
	v.SetDefault("repo.dir", d.Repo.Dir)
	v.SetDefault("repo.requiredPaths", d.Repo.RequiredPaths)
	v.SetDefault("repo.defaultBranchCandidates", d.Repo.DefaultBranchCandidates)

	v.SetDefault("cache.positiveTtlSeconds", d.Cache.PositiveTtlSeconds)
	v.SetDefault("cache.negativeTtlSeconds", d.Cache.NegativeTtlSeconds)

	v.SetDefault("queue.maxQueueSize", d.Queue.MaxQueueSize)
	v.SetDefault("queue.buildWaitSeconds", d.Queue.BuildWaitSeconds)

	v.SetDefault("sync.intervalSeconds", d.Sync.IntervalSeconds)

	v.SetDefault("output.dir", d.Output.Dir)

	v.SetDefault("build.compileCommand", d.Build.CompileCommand)
	v.SetDefault("build.assembleCommand", d.Build.AssembleCommand)
	v.SetDefault("build.placeholderOnFailure", d.Build.PlaceholderOnFailure)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.adminTokenHash", d.Server.AdminTokenHash)

	v.SetDefault("storage.dbPath", d.Storage.DBPath)
	v.SetDefault("storage.retentionDays", d.Storage.RetentionDays)

	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
}

// Save writes the configuration as indented JSON to path
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Repo.URL == "" {
		return &ConfigError{Field: "repo.url", Message: "must not be empty"}
	}
	if c.Repo.Dir == "" {
		return &ConfigError{Field: "repo.dir", Message: "must not be empty"}
	}
	if len(c.Repo.RequiredPaths) == 0 {
		return &ConfigError{Field: "repo.requiredPaths", Message: "at least one path is required"}
	}
	for _, p := range c.Repo.RequiredPaths {
		if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "..") {
			return &ConfigError{Field: "repo.requiredPaths", Message: "invalid path '" + p + "'"}
		}
	}
	if c.Cache.PositiveTtlSeconds <= 0 {
		return &ConfigError{Field: "cache.positiveTtlSeconds", Message: "must be positive"}
	}
	if c.Cache.NegativeTtlSeconds <= 0 {
		return &ConfigError{Field: "cache.negativeTtlSeconds", Message: "must be positive"}
	}
	if c.Cache.NegativeTtlSeconds >= c.Cache.PositiveTtlSeconds {
		return &ConfigError{Field: "cache.negativeTtlSeconds", Message: "must be shorter than the positive TTL"}
	}
	if c.Queue.MaxQueueSize < 1 {
		return &ConfigError{Field: "queue.maxQueueSize", Message: "must be at least 1"}
	}
	if c.Queue.BuildWaitSeconds < 0 {
		return &ConfigError{Field: "queue.buildWaitSeconds", Message: "must not be negative"}
	}
	if c.Sync.IntervalSeconds < 0 {
		return &ConfigError{Field: "sync.intervalSeconds", Message: "must not be negative"}
	}
	if c.Output.Dir == "" {
		return &ConfigError{Field: "output.dir", Message: "must not be empty"}
	}
	if len(c.Build.CompileCommand) == 0 {
		return &ConfigError{Field: "build.compileCommand", Message: "must not be empty"}
	}
	if len(c.Build.AssembleCommand) == 0 {
		return &ConfigError{Field: "build.assembleCommand", Message: "must not be empty"}
	}
	if c.Storage.RetentionDays < 0 {
		return &ConfigError{Field: "storage.retentionDays", Message: "must not be negative"}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: "out of range"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
