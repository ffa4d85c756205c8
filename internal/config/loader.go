package config

import (
	"log"

	"github.com/mytaifex/taifex-pipeline/internal/db"
	"github.com/spf13/viper"
)

// Pipeline holds the non-database settings of a deployment.
type Pipeline struct {
	// SourceDirs are the directories the ingestion stage scans.
	SourceDirs []string
	// CatalogPath locates the format catalog JSON document.
	CatalogPath string
	// MaxWorkers bounds transformation parallelism; 0 means core count.
	MaxWorkers int
	// HeaderScanLines bounds the fingerprint header search region.
	HeaderScanLines int
}

// Config is the full pipeline configuration.
type Config struct {
	Database db.Config
	Pipeline Pipeline
}

// DefaultPipeline returns pipeline defaults for a bare deployment.
func DefaultPipeline() Pipeline {
	return Pipeline{
		SourceDirs:      []string{"./data/source"},
		CatalogPath:     "./format_catalog.json",
		MaxWorkers:      0,
		HeaderScanLines: 20,
	}
}

// Load reads config.yaml from configPath with environment overrides
// (TAIFEX_DATABASE_HOST, TAIFEX_PIPELINE_MAX_WORKERS, ...). A missing file is
// not an error; defaults plus environment apply.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Database: db.DefaultConfig(),
		Pipeline: DefaultPipeline(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("TAIFEX")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("pipeline.catalog_path")
	v.BindEnv("pipeline.max_workers")

	if err := v.ReadInConfig(); err != nil {
		log.Printf("[CONFIG] no config.yaml found, using defaults and env vars")
	} else {
		log.Printf("[CONFIG] loaded %s", v.ConfigFileUsed())
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("pipeline.source_dirs") {
		cfg.Pipeline.SourceDirs = v.GetStringSlice("pipeline.source_dirs")
	}
	if v.IsSet("pipeline.catalog_path") {
		cfg.Pipeline.CatalogPath = v.GetString("pipeline.catalog_path")
	}
	if v.IsSet("pipeline.max_workers") {
		cfg.Pipeline.MaxWorkers = v.GetInt("pipeline.max_workers")
	}
	if v.IsSet("pipeline.header_scan_lines") {
		cfg.Pipeline.HeaderScanLines = v.GetInt("pipeline.header_scan_lines")
	}

	return cfg, nil
}
