// Package config provides configuration management for the repair engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Inventory sources
const (
	InventorySourceFile      = "file"
	InventorySourceConfigMap = "configmap"
)

// Diagnosis stores
const (
	DiagnosisStoreMemory = "memory"
	DiagnosisStoreSQLite = "sqlite"
)

// Config holds all application configuration. It is loaded once at startup
// and must not be modified afterwards.
type Config struct {
	// Server configuration
	Port        int    `json:"port"`
	MetricsPort int    `json:"metrics_port"`
	LogLevel    string `json:"log_level"`

	// Kubernetes configuration
	Kubeconfig      string  `json:"kubeconfig,omitempty"`
	Namespace       string  `json:"namespace"`
	KubernetesQPS   float32 `json:"kubernetes_qps"`
	KubernetesBurst int     `json:"kubernetes_burst"`

	// Inventory
	InventorySource string `json:"inventory_source"`
	InventoryFile   string `json:"inventory_file,omitempty"`

	// External services
	PowerServiceURL string        `json:"power_service_url,omitempty"`
	HTTPTimeout     time.Duration `json:"http_timeout"`

	// Host access
	SSHUser           string        `json:"ssh_user"`
	SSHPort           int           `json:"ssh_port"`
	SSHKeyFile        string        `json:"ssh_key_file,omitempty"`
	SSHKnownHosts     string        `json:"ssh_known_hosts,omitempty"`
	SSHInsecure       bool          `json:"ssh_insecure"`
	SSHConnectTimeout time.Duration `json:"ssh_connect_timeout"`
	LocalHosts        bool          `json:"local_hosts"`

	// Runs
	RunTimeout        time.Duration `json:"run_timeout"`
	MaxConcurrentRuns int           `json:"max_concurrent_runs"`
	SweepInterval     time.Duration `json:"sweep_interval"`
	SweepRate         float64       `json:"sweep_rate"`

	// Diagnosis history
	DiagnosisStore string `json:"diagnosis_store"`
	SQLitePath     string `json:"sqlite_path,omitempty"`

	// Labstation policy
	InLab                 bool          `json:"in_lab"`
	UpdateExemptPools     []string      `json:"update_exempt_pools"`
	RebootUptimeThreshold time.Duration `json:"reboot_uptime_threshold"`
	InUseFileExpiry       time.Duration `json:"in_use_file_expiry"`
	RebootFileDir         string        `json:"reboot_file_dir"`
	UpdateCommand         string        `json:"update_command"`
	PowerCycleWait        time.Duration `json:"power_cycle_wait"`
}

// Default configuration values
const (
	DefaultPort                  = 8080
	DefaultMetricsPort           = 9090
	DefaultLogLevel              = "info"
	DefaultNamespace             = "lab-fleet"
	DefaultKubernetesQPS         = 50.0
	DefaultKubernetesBurst       = 100
	DefaultInventorySource       = InventorySourceFile
	DefaultInventoryFile         = "inventory.yaml"
	DefaultHTTPTimeout           = 30 * time.Second
	DefaultSSHUser               = "root"
	DefaultSSHPort               = 22
	DefaultSSHKnownHosts         = "/etc/ssh/ssh_known_hosts"
	DefaultSSHConnectTimeout     = 10 * time.Second
	DefaultRunTimeout            = 30 * time.Minute
	DefaultMaxConcurrentRuns     = 8
	DefaultSweepInterval         = time.Duration(0)
	DefaultSweepRate             = 2.0
	DefaultDiagnosisStore        = DiagnosisStoreMemory
	DefaultSQLitePath            = "diagnoses.db"
	DefaultInLab                 = true
	DefaultRebootUptimeThreshold = 24 * time.Hour
	DefaultInUseFileExpiry       = 120 * time.Minute
	DefaultRebootFileDir         = "/var/lib/servod"
	DefaultUpdateCommand         = "update_engine_client --update --omaha_url={version}"
	DefaultPowerCycleWait        = 5 * time.Minute
)

// DefaultUpdateExemptPools are pools whose labstations are never auto-updated
var DefaultUpdateExemptPools = []string{"servo_verification", "labstation_tryjob"}

// Valid log levels
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
	"fatal": true,
	"panic": true,
}

// Load loads configuration from an optional .env file and environment
// variables with defaults. Variables already set in the environment win
// over the .env file.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnv("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                  getEnvAsInt("PORT", DefaultPort),
		MetricsPort:           getEnvAsInt("METRICS_PORT", DefaultMetricsPort),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		Kubeconfig:            getEnv("KUBECONFIG", ""),
		Namespace:             getEnv("NAMESPACE", DefaultNamespace),
		KubernetesQPS:         getEnvAsFloat32("KUBERNETES_QPS", DefaultKubernetesQPS),
		KubernetesBurst:       getEnvAsInt("KUBERNETES_BURST", DefaultKubernetesBurst),
		InventorySource:       strings.ToLower(getEnv("INVENTORY_SOURCE", DefaultInventorySource)),
		InventoryFile:         getEnv("INVENTORY_FILE", DefaultInventoryFile),
		PowerServiceURL:       getEnv("POWER_SERVICE_URL", ""),
		HTTPTimeout:           getEnvAsDuration("HTTP_TIMEOUT", DefaultHTTPTimeout),
		SSHUser:               getEnv("SSH_USER", DefaultSSHUser),
		SSHPort:               getEnvAsInt("SSH_PORT", DefaultSSHPort),
		SSHKeyFile:            getEnv("SSH_KEY_FILE", ""),
		SSHKnownHosts:         getEnv("SSH_KNOWN_HOSTS", DefaultSSHKnownHosts),
		SSHInsecure:           getEnvAsBool("SSH_INSECURE", false),
		SSHConnectTimeout:     getEnvAsDuration("SSH_CONNECT_TIMEOUT", DefaultSSHConnectTimeout),
		LocalHosts:            getEnvAsBool("LOCAL_HOSTS", false),
		RunTimeout:            getEnvAsDuration("RUN_TIMEOUT", DefaultRunTimeout),
		MaxConcurrentRuns:     getEnvAsInt("MAX_CONCURRENT_RUNS", DefaultMaxConcurrentRuns),
		SweepInterval:         getEnvAsDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		SweepRate:             getEnvAsFloat64("SWEEP_RATE", DefaultSweepRate),
		DiagnosisStore:        strings.ToLower(getEnv("DIAGNOSIS_STORE", DefaultDiagnosisStore)),
		SQLitePath:            getEnv("SQLITE_PATH", DefaultSQLitePath),
		InLab:                 getEnvAsBool("IN_LAB", DefaultInLab),
		UpdateExemptPools:     getEnvAsSlice("UPDATE_EXEMPT_POOLS", DefaultUpdateExemptPools),
		RebootUptimeThreshold: getEnvAsDuration("REBOOT_UPTIME_THRESHOLD", DefaultRebootUptimeThreshold),
		InUseFileExpiry:       getEnvAsDuration("IN_USE_FILE_EXPIRY", DefaultInUseFileExpiry),
		RebootFileDir:         getEnv("REBOOT_FILE_DIR", DefaultRebootFileDir),
		UpdateCommand:         getEnv("UPDATE_COMMAND", DefaultUpdateCommand),
		PowerCycleWait:        getEnvAsDuration("POWER_CYCLE_WAIT", DefaultPowerCycleWait),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads path into the environment when it exists
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Validate validates the configuration
//
//nolint:gocyclo // complexity acceptable for comprehensive config validation
func (c *Config) Validate() error {
	var errors []string

	// Validate port numbers
	if c.Port < 1 || c.Port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port: %d (must be 1-65535)", c.Port))
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		errors = append(errors, fmt.Sprintf("invalid metrics_port: %d (must be 1-65535)", c.MetricsPort))
	}
	if c.Port == c.MetricsPort {
		errors = append(errors, "port and metrics_port cannot be the same")
	}

	// Validate log level
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errors = append(errors, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, error, fatal, or panic)", c.LogLevel))
	}

	// Validate inventory
	switch c.InventorySource {
	case InventorySourceFile:
		if c.InventoryFile == "" {
			errors = append(errors, "inventory_file cannot be empty when inventory_source is file")
		}
	case InventorySourceConfigMap:
		if c.Namespace == "" {
			errors = append(errors, "namespace cannot be empty when inventory_source is configmap")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid inventory_source: %s (must be file or configmap)", c.InventorySource))
	}

	// Validate power service URL if provided
	if c.PowerServiceURL != "" {
		if !strings.HasPrefix(c.PowerServiceURL, "http://") && !strings.HasPrefix(c.PowerServiceURL, "https://") {
			errors = append(errors, fmt.Sprintf("power_service_url must start with http:// or https://: %s", c.PowerServiceURL))
		}
	}

	// Validate HTTP timeout
	if c.HTTPTimeout < 1*time.Second {
		errors = append(errors, fmt.Sprintf("http_timeout too short: %s (must be >= 1s)", c.HTTPTimeout))
	}
	if c.HTTPTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("http_timeout too long: %s (must be <= 5m)", c.HTTPTimeout))
	}

	// Validate host access
	if !c.LocalHosts {
		if c.SSHUser == "" {
			errors = append(errors, "ssh_user cannot be empty")
		}
		if c.SSHPort < 1 || c.SSHPort > 65535 {
			errors = append(errors, fmt.Sprintf("invalid ssh_port: %d (must be 1-65535)", c.SSHPort))
		}
		if c.SSHKnownHosts == "" && !c.SSHInsecure {
			errors = append(errors, "ssh_known_hosts is required unless ssh_insecure is set")
		}
	}
	if c.SSHConnectTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("ssh_connect_timeout must be positive: %s", c.SSHConnectTimeout))
	}

	// Validate run settings
	if c.RunTimeout < 1*time.Minute {
		errors = append(errors, fmt.Sprintf("run_timeout too short: %s (must be >= 1m)", c.RunTimeout))
	}
	if c.MaxConcurrentRuns <= 0 {
		errors = append(errors, fmt.Sprintf("max_concurrent_runs must be positive: %d", c.MaxConcurrentRuns))
	}
	if c.SweepInterval < 0 {
		errors = append(errors, fmt.Sprintf("sweep_interval cannot be negative: %s", c.SweepInterval))
	}
	if c.SweepRate <= 0 {
		errors = append(errors, fmt.Sprintf("sweep_rate must be positive: %f", c.SweepRate))
	}

	// Validate diagnosis store
	switch c.DiagnosisStore {
	case DiagnosisStoreMemory:
	case DiagnosisStoreSQLite:
		if c.SQLitePath == "" {
			errors = append(errors, "sqlite_path cannot be empty when diagnosis_store is sqlite")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid diagnosis_store: %s (must be memory or sqlite)", c.DiagnosisStore))
	}

	// Validate labstation policy
	if c.RebootUptimeThreshold < 0 {
		errors = append(errors, fmt.Sprintf("reboot_uptime_threshold cannot be negative: %s", c.RebootUptimeThreshold))
	}
	if c.InUseFileExpiry <= 0 {
		errors = append(errors, fmt.Sprintf("in_use_file_expiry must be positive: %s", c.InUseFileExpiry))
	}
	if c.RebootFileDir == "" {
		errors = append(errors, "reboot_file_dir cannot be empty")
	}
	if !strings.Contains(c.UpdateCommand, "{version}") {
		errors = append(errors, fmt.Sprintf("update_command must contain {version}: %s", c.UpdateCommand))
	}
	if c.PowerCycleWait <= 0 {
		errors = append(errors, fmt.Sprintf("power_cycle_wait must be positive: %s", c.PowerCycleWait))
	}

	// Validate Kubernetes client settings
	if c.KubernetesQPS <= 0 {
		errors = append(errors, fmt.Sprintf("kubernetes_qps must be positive: %f", c.KubernetesQPS))
	}
	if c.KubernetesBurst <= 0 {
		errors = append(errors, fmt.Sprintf("kubernetes_burst must be positive: %d", c.KubernetesBurst))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultVal int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return value
}

func getEnvAsFloat64(key string, defaultVal float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultVal
	}
	return value
}

func getEnvAsFloat32(key string, defaultVal float32) float32 {
	return float32(getEnvAsFloat64(key, float64(defaultVal)))
}

// getEnvAsBool gets an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultVal bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration or returns a default value
func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return value
}

// getEnvAsSlice gets an environment variable as a comma-separated slice or returns a default value
func getEnvAsSlice(key string, defaultVal []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return append([]string(nil), defaultVal...)
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return append([]string(nil), defaultVal...)
	}
	return result
}
