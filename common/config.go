package common

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pannadata/consolidator/consolidator/policy"
	"gopkg.in/ini.v1"
)

const tableSectionPrefix = "table."

// PathsConfig holds the on-disk layout
type PathsConfig struct {
	DataDir         string
	PartitionsDir   string
	ConsolidatedDir string
	ManifestPath    string
	RawDir          string
	CatalogPath     string
	SummaryPath     string
	MetricsPath     string
}

// RunConfig holds consolidation settings
type RunConfig struct {
	PrimaryCategory string
	Categories      []string
	EntityField     string
	GroupField      string
	SubGroupField   string
	MinRetainRatio  float64
	Freshness       time.Duration
	Workers         int
}

// RabbitmqConfig holds RabbitMQ configuration
type RabbitmqConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	Exchange string
}

// Config represents the configuration manager of a run
type Config struct {
	configPath string
	cfg        *ini.File
}

// NewConfig loads the ini file at configPath. A missing file is not an
// error: every key has a default.
func NewConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.ini"
	}
	config := &Config{configPath: configPath}
	if err := config.loadConfig(); err != nil {
		return nil, err
	}
	return config, nil
}

// loadConfig loads configuration from file
func (c *Config) loadConfig() error {
	if _, err := os.Stat(c.configPath); errors.Is(err, fs.ErrNotExist) {
		log.Printf("action: config_load | result: skipped | file: %s | msg: file not found, using defaults", c.configPath)
		c.cfg = ini.Empty()
		return nil
	}

	cfg, err := ini.Load(c.configPath)
	if err != nil {
		log.Printf("action: config_load | result: fail | error: %v", err)
		return fmt.Errorf("load config %s: %w", c.configPath, err)
	}

	c.cfg = cfg
	log.Printf("action: config_loaded | result: success | file: %s", c.configPath)
	return nil
}

func (c *Config) Path() string {
	return c.configPath
}

// GetPathsConfig returns the on-disk layout, relative to DATA_DIR by default
func (c *Config) GetPathsConfig() *PathsConfig {
	section := c.cfg.Section(ini.DefaultSection)
	dataDir := section.Key("DATA_DIR").MustString("data")

	return &PathsConfig{
		DataDir:         dataDir,
		PartitionsDir:   section.Key("PARTITIONS_DIR").MustString(filepath.Join(dataDir, "partitions")),
		ConsolidatedDir: section.Key("CONSOLIDATED_DIR").MustString(filepath.Join(dataDir, "consolidated")),
		ManifestPath:    section.Key("MANIFEST_PATH").MustString(filepath.Join(dataDir, "manifest.parquet")),
		RawDir:          section.Key("RAW_DIR").MustString(filepath.Join(dataDir, "raw")),
		CatalogPath:     section.Key("CATALOG_PATH").MustString("catalog.yaml"),
		SummaryPath:     section.Key("SUMMARY_PATH").MustString(filepath.Join(dataDir, "run_summary.json")),
		MetricsPath:     section.Key("METRICS_PATH").MustString(""),
	}
}

// GetRunConfig returns the consolidation settings
func (c *Config) GetRunConfig() *RunConfig {
	section := c.cfg.Section(ini.DefaultSection)

	categories := section.Key("CATEGORIES").Strings(",")
	if len(categories) == 0 {
		categories = []string{"player_stats", "shots", "shot_events", "match_events", "events", "lineups"}
	}

	return &RunConfig{
		PrimaryCategory: section.Key("PRIMARY_CATEGORY").MustString("match_events"),
		Categories:      categories,
		EntityField:     section.Key("ENTITY_FIELD").MustString(policy.DefaultFields.Entity),
		GroupField:      section.Key("GROUP_FIELD").MustString("competition"),
		SubGroupField:   section.Key("SUB_GROUP_FIELD").MustString("season"),
		MinRetainRatio:  section.Key("MIN_RETAIN_RATIO").MustFloat64(0.5),
		Freshness:       time.Duration(section.Key("FRESHNESS_DAYS").MustInt(7)) * 24 * time.Hour,
		Workers:         section.Key("WORKERS").MustInt(1),
	}
}

// GetRabbitmqConfig returns RabbitMQ configuration
func (c *Config) GetRabbitmqConfig() *RabbitmqConfig {
	section := c.cfg.Section("RABBITMQ")

	return &RabbitmqConfig{
		Enabled:  section.Key("ENABLED").MustBool(false),
		Host:     section.Key("HOST").MustString("rabbitmq"),
		Port:     section.Key("PORT").MustInt(5672),
		Username: section.Key("USER").MustString("admin"),
		Password: section.Key("PASSWORD").MustString("admin"),
		Exchange: section.Key("EXCHANGE").MustString("consolidation_events"),
	}
}

// GetLoggingLevel returns the logging level as a string
func (c *Config) GetLoggingLevel() string {
	section := c.cfg.Section(ini.DefaultSection)
	return section.Key("LOGGING_LEVEL").MustString("INFO")
}

// BuildRegistry returns the default identity policies overridden by every
// [table.<name>] section:
//
//	[table.lineups]
//	KEY = match_id,team_id,player_id
//	GRANULARITY = sub_group
//	TIE_BREAK = last
func (c *Config) BuildRegistry() (*policy.Registry, error) {
	run := c.GetRunConfig()
	fields := policy.DefaultFields
	fields.Entity = run.EntityField
	registry := policy.DefaultRegistry(fields)

	for _, section := range c.cfg.Sections() {
		name, ok := strings.CutPrefix(section.Name(), tableSectionPrefix)
		if !ok || name == "" {
			continue
		}

		p := registry.Lookup(name)
		if key := section.Key("KEY").Strings(","); len(key) > 0 {
			p.Key = key
		}
		if section.HasKey("GRANULARITY") {
			g, err := policy.ParseGranularity(section.Key("GRANULARITY").String())
			if err != nil {
				return nil, fmt.Errorf("section %s: %w", section.Name(), err)
			}
			p.Granularity = g
		}
		if section.HasKey("TIE_BREAK") {
			tb, err := policy.ParseTieBreak(section.Key("TIE_BREAK").String())
			if err != nil {
				return nil, fmt.Errorf("section %s: %w", section.Name(), err)
			}
			p.TieBreak = tb
		}
		registry.Register(p)
		log.Printf("action: policy_configured | table: %s | key: %v | granularity: %s | tie_break: %s",
			name, p.Key, p.Granularity, p.TieBreak)
	}
	return registry, nil
}
