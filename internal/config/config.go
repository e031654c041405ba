// Package config loads application configuration from config.yaml and
// CLASSYFIRE_* environment variables, and initialises the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	ClassyFire ClassyFireConfig `yaml:"classyfire" mapstructure:"classyfire"`
	CTS        CTSConfig        `yaml:"cts" mapstructure:"cts"`
	Folders    FoldersConfig    `yaml:"folders" mapstructure:"folders"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Publish    PublishConfig    `yaml:"publish" mapstructure:"publish"`
	Watch      WatchConfig      `yaml:"watch" mapstructure:"watch"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ClassyFireConfig configures the classification client and the classifier
// stage's call spacing.
type ClassyFireConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	Format           string `yaml:"format" mapstructure:"format"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries          int    `yaml:"retries" mapstructure:"retries"`
	BackoffMs        int    `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	DelayMs          int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	CircuitThreshold int    `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs int    `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// Timeout returns the per-request timeout.
func (c ClassyFireConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Delay returns the pause between consecutive classification calls.
func (c ClassyFireConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// CTSConfig configures the identifier conversion client.
type CTSConfig struct {
	BaseURL     string   `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries     int      `yaml:"retries" mapstructure:"retries"`
	BackoffMs   int      `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	Source      string   `yaml:"source" mapstructure:"source"`
	Targets     []string `yaml:"targets" mapstructure:"targets"`
}

// Timeout returns the per-request timeout.
func (c CTSConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// FoldersConfig names the stage folders.
type FoldersConfig struct {
	Source        string `yaml:"source" mapstructure:"source"`
	Grouping      string `yaml:"grouping" mapstructure:"grouping"`
	FinalResult   string `yaml:"final_result" mapstructure:"final_result"`
	ConvertResult string `yaml:"convert_result" mapstructure:"convert_result"`
	MetaboAnalyst string `yaml:"metaboanalyst" mapstructure:"metaboanalyst"`
}

// All returns every stage folder in pipeline order.
func (f FoldersConfig) All() []string {
	return []string{f.Source, f.Grouping, f.FinalResult, f.ConvertResult, f.MetaboAnalyst}
}

// PipelineConfig configures orchestration.
type PipelineConfig struct {
	TimeoutMins   int    `yaml:"timeout_mins" mapstructure:"timeout_mins"`
	OutputFile    string `yaml:"output_file" mapstructure:"output_file"`
	SourceCharset string `yaml:"source_charset" mapstructure:"source_charset"`
	CacheTTLHours int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	Progress      bool   `yaml:"progress" mapstructure:"progress"`
}

// Timeout returns the overall wall-clock bound of one pipeline run.
func (c PipelineConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMins) * time.Minute
}

// CacheTTL returns how long classifications stay cached.
func (c PipelineConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// PublishConfig configures upload of the aggregated table to S3.
type PublishConfig struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	Region          string `yaml:"region" mapstructure:"region"`
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style" mapstructure:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
}

// WatchConfig configures the source-folder watcher.
type WatchConfig struct {
	DebounceMs int  `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	Publish    bool `yaml:"publish" mapstructure:"publish"`
}

// Debounce returns the quiet period required before a run is triggered.
func (c WatchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// MetricsConfig configures metric export for CLI runs.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("classyfire.base_url", "http://classyfire.wishartlab.com")
	v.SetDefault("classyfire.format", "json")
	v.SetDefault("classyfire.timeout_secs", 10)
	v.SetDefault("classyfire.retries", 3)
	v.SetDefault("classyfire.backoff_ms", 300)
	v.SetDefault("classyfire.delay_ms", 6000)
	v.SetDefault("classyfire.circuit_threshold", 0)
	v.SetDefault("classyfire.circuit_reset_secs", 60)
	v.SetDefault("cts.base_url", "https://cts.fiehnlab.ucdavis.edu")
	v.SetDefault("cts.timeout_secs", 30)
	v.SetDefault("cts.retries", 3)
	v.SetDefault("cts.backoff_ms", 300)
	v.SetDefault("cts.source", "InChIKey")
	v.SetDefault("cts.targets", []string{"Human Metabolome Database", "KEGG", "PubChem CID", "ChEBI"})
	v.SetDefault("folders.source", "data/clean_result")
	v.SetDefault("folders.grouping", "data/grouping_result")
	v.SetDefault("folders.final_result", "data/final_result")
	v.SetDefault("folders.convert_result", "data/convert_result")
	v.SetDefault("folders.metaboanalyst", "data/metaboanalyst_pubchem")
	v.SetDefault("pipeline.timeout_mins", 60)
	v.SetDefault("pipeline.output_file", "merge_result.csv")
	v.SetDefault("pipeline.source_charset", "")
	v.SetDefault("pipeline.cache_ttl_hours", 720)
	v.SetDefault("pipeline.progress", true)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/classyfire.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("publish.bucket", "")
	v.SetDefault("publish.prefix", "metaboanalyst/")
	v.SetDefault("publish.region", "us-east-1")
	v.SetDefault("publish.endpoint", "")
	v.SetDefault("publish.use_path_style", false)
	v.SetDefault("publish.access_key_id", "")
	v.SetDefault("publish.secret_access_key", "")
	v.SetDefault("watch.debounce_ms", 2000)
	v.SetDefault("watch.publish", false)
	v.SetDefault("metrics.textfile_path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLASSYFIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Default returns the built-in defaults, ignoring any file or environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
