package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/leahtara/mispCacheExporter/internal/mispcache/ioc"
)

type DatabaseCfg struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type ExtractionCfg struct {
	HoursLookback int           `mapstructure:"hours_lookback"`
	IOCTypes      []string      `mapstructure:"ioc_types"`
	TypesFile     string        `mapstructure:"types_file"`
	QueryTimeout  time.Duration `mapstructure:"query_timeout"`
}

type OutputCfg struct {
	JSONFile string `mapstructure:"json_file"`
	CacheDB  string `mapstructure:"cache_db"`
	BackupDB string `mapstructure:"backup_db"`
	Backup   bool   `mapstructure:"backup"`
}

type LoggingCfg struct {
	Level  string `mapstructure:"level"`
	RunLog string `mapstructure:"run_log"`
}

type Config struct {
	Database   DatabaseCfg   `mapstructure:"database"`
	Extraction ExtractionCfg `mapstructure:"extraction"`
	Output     OutputCfg     `mapstructure:"output"`
	Logging    LoggingCfg    `mapstructure:"logging"`
}

// Lookback converts the configured hours_lookback into a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Extraction.HoursLookback) * time.Hour
}

var cfg *Config

// Load populates global config from a viper instance
func Load(v *viper.Viper) error {
	// set defaults
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.name", "misp")
	v.SetDefault("extraction.hours_lookback", 24)
	v.SetDefault("extraction.ioc_types", ioc.DefaultTypes)
	v.SetDefault("extraction.query_timeout", "2m")
	v.SetDefault("output.json_file", "misp_recent_iocs.json")
	v.SetDefault("output.cache_db", "ioc_cache.db")
	v.SetDefault("output.backup_db", "ioc_cache_yesterday.db")
	v.SetDefault("output.backup", true)
	v.SetDefault("logging.level", "info")

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	// A standalone allowlist file takes precedence over inline ioc_types.
	if c.Extraction.TypesFile != "" {
		types, err := LoadTypesFile(c.Extraction.TypesFile)
		if err != nil {
			return fmt.Errorf("load types file: %w", err)
		}
		c.Extraction.IOCTypes = types
	}

	cfg = &c
	return nil
}

func Get() *Config {
	if cfg == nil {
		cfg = &Config{}
	}
	return cfg
}
