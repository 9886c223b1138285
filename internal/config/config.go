package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all service settings, merged from an optional YAML file and
// environment overrides. Environment wins. With STRICT_CONFIG set, load and
// validation failures are fatal instead of logged.
type Config struct {
	IntakeDir  string
	OutputDir  string
	ArchiveDir string
	DBPath     string
	RulesPath  string
	HTTPPort   string
	Site       string

	WorkerCount   int
	QueueSize     int
	JobTimeoutSec int

	EnableWatcher bool
	ProcessCron   string
	FetchCron     string

	FusionMode string // "combine" or "inject"

	Fetch  FetchConfig
	Upload UploadConfig

	StrictConfig bool
	Environment  string
}

// FetchConfig configures the ColiMinder endpoint poller.
type FetchConfig struct {
	BaseURL           string
	TimestampFilename string
	CSVFilename       string
	Username          string
	Password          string
	StabilityDelaySec int
	RequestTimeoutSec int
}

// UploadConfig configures blob storage uploads. Empty account disables them.
type UploadConfig struct {
	AccountName string
	Container   string
	SASToken    string
	Endpoint    string
}

type fileConfig struct {
	IntakeDir   string `yaml:"intake_dir"`
	OutputDir   string `yaml:"output_dir"`
	ArchiveDir  string `yaml:"archive_dir"`
	DBPath      string `yaml:"db_path"`
	RulesPath   string `yaml:"rules_path"`
	HTTPPort    string `yaml:"http_port"`
	Site        string `yaml:"site"`
	FusionMode  string `yaml:"fusion_mode"`
	ProcessCron string `yaml:"process_cron"`
	FetchCron   string `yaml:"fetch_cron"`
	Fetch       struct {
		BaseURL           string `yaml:"base_url"`
		TimestampFilename string `yaml:"timestamp_filename"`
		CSVFilename       string `yaml:"csv_filename"`
	} `yaml:"fetch"`
	Upload struct {
		AccountName string `yaml:"account_name"`
		Container   string `yaml:"container"`
	} `yaml:"upload"`
}

const (
	defaultPort          = ":8080"
	defaultIntakeDir     = "runtime/raw_input"
	defaultOutputDir     = "runtime/output"
	defaultArchiveDir    = "runtime/archive"
	defaultDBFile        = "hydroqc.db"
	defaultRulesPath     = "config/dq_master.yaml"
	minQueueSize         = 1
	defaultQueueSize     = 64
	maxQueueSize         = 1024
	// One worker keeps the combined-output rewrites single-writer.
	defaultWorkerCount   = 1
	defaultJobTimeoutSec = 600
)

// Load reads configuration from the optional .env file, the YAML config
// file, and environment overrides.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		WorkerCount:   defaultWorkerCount,
		QueueSize:     defaultQueueSize,
		JobTimeoutSec: defaultJobTimeoutSec,
		StrictConfig:  parseBoolEnv("STRICT_CONFIG"),
		Environment:   getenv("ENVIRONMENT", "local"),
		EnableWatcher: parseBoolEnvDefault("ENABLE_WATCHER", true),
	}

	configPath := getenv("CONFIG_PATH", filepath.Join("config", "config.yaml"))
	fileCfg, fileErr := loadFileConfig(configPath)
	if fileErr != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", configPath, fileErr)
		}
		log.Printf("config load failed (%s): %v (using defaults)", configPath, fileErr)
	}

	cfg.IntakeDir = firstNonEmpty(os.Getenv("INTAKE_DIR"), fileCfg.IntakeDir, defaultIntakeDir)
	cfg.OutputDir = firstNonEmpty(os.Getenv("OUTPUT_DIR"), fileCfg.OutputDir, defaultOutputDir)
	cfg.ArchiveDir = firstNonEmpty(os.Getenv("ARCHIVE_DIR"), fileCfg.ArchiveDir, defaultArchiveDir)
	cfg.RulesPath = firstNonEmpty(os.Getenv("RULES_PATH"), fileCfg.RulesPath, defaultRulesPath)
	cfg.Site = firstNonEmpty(os.Getenv("SITE"), fileCfg.Site, "")
	cfg.FusionMode = strings.ToLower(firstNonEmpty(os.Getenv("FUSION_MODE"), fileCfg.FusionMode, "combine"))
	cfg.ProcessCron = firstNonEmpty(os.Getenv("PROCESS_CRON"), fileCfg.ProcessCron, "")
	cfg.FetchCron = firstNonEmpty(os.Getenv("FETCH_CRON"), fileCfg.FetchCron, "")

	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	} else if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	} else {
		cfg.DBPath = filepath.Join(cfg.OutputDir, defaultDBFile)
	}

	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), os.Getenv("PORT"), fileCfg.HTTPPort, defaultPort)
	if !strings.HasPrefix(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	if v := os.Getenv("WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Printf("invalid WORKER_COUNT=%q, using default %d", v, defaultWorkerCount)
			n = defaultWorkerCount
		}
		cfg.WorkerCount = n
	}
	if v := os.Getenv("QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("invalid QUEUE_SIZE=%q, using default %d", v, defaultQueueSize)
			n = defaultQueueSize
		}
		cfg.QueueSize = clampInt(n, minQueueSize, maxQueueSize)
	}
	if v := os.Getenv("JOB_TIMEOUT_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid JOB_TIMEOUT_SEC: %q", v)
		}
		cfg.JobTimeoutSec = n
	}

	cfg.Fetch = FetchConfig{
		BaseURL:           firstNonEmpty(os.Getenv("COLIMINDER_BASE_URL"), fileCfg.Fetch.BaseURL, ""),
		TimestampFilename: firstNonEmpty(os.Getenv("COLIMINDER_TIMESTAMP_FILENAME"), fileCfg.Fetch.TimestampFilename, "timestamp.txt"),
		CSVFilename:       firstNonEmpty(os.Getenv("COLIMINDER_CSV_FILENAME"), fileCfg.Fetch.CSVFilename, "results.csv"),
		Username:          os.Getenv("COLIMINDER_BASIC_AUTH_USERNAME"),
		Password:          os.Getenv("COLIMINDER_BASIC_AUTH_PASSWORD"),
		StabilityDelaySec: getenvInt("COLIMINDER_PARTIAL_DOWNLOAD_DELAY_SECONDS", 5),
		RequestTimeoutSec: getenvInt("COLIMINDER_REQUEST_TIMEOUT_SECONDS", 60),
	}

	cfg.Upload = UploadConfig{
		AccountName: firstNonEmpty(os.Getenv("STORAGE_ACCOUNT_NAME"), fileCfg.Upload.AccountName, ""),
		Container:   firstNonEmpty(os.Getenv("CONTAINER_NAME"), fileCfg.Upload.Container, "data"),
		SASToken:    os.Getenv("SAS_TOKEN"),
		Endpoint:    os.Getenv("STORAGE_ENDPOINT"),
	}

	if err := validate(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		log.Printf("config validation failed: %v (continuing)", err)
	}

	log.Printf("config intake=%s output=%s db=%s rules=%s mode=%s env=%s",
		cfg.IntakeDir, cfg.OutputDir, cfg.DBPath, cfg.RulesPath, cfg.FusionMode, cfg.Environment)
	return cfg, nil
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.IntakeDir) == "" {
		return errors.New("INTAKE_DIR is required")
	}
	if strings.TrimSpace(cfg.RulesPath) == "" {
		return errors.New("RULES_PATH is required")
	}
	if cfg.FusionMode != "combine" && cfg.FusionMode != "inject" {
		return fmt.Errorf("FUSION_MODE must be combine or inject (got %q)", cfg.FusionMode)
	}
	if cfg.QueueSize < cfg.WorkerCount {
		return fmt.Errorf("QUEUE_SIZE (%d) must be >= WORKER_COUNT (%d)", cfg.QueueSize, cfg.WorkerCount)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseBoolEnvDefault(key string, def bool) bool {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def
	}
	return parseBoolEnv(key)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Now returns UTC time truncated to seconds for stable store timestamps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
