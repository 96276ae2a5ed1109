// config.go: settings struct and functions to load and save the ParkWatch configuration.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// LogRotationType represents the log rotation strategy for file loggers.
type LogRotationType string

const (
	RotationDaily  LogRotationType = "daily"
	RotationWeekly LogRotationType = "weekly"
	RotationSize   LogRotationType = "size"
)

// LogConfig contains settings for a rotating log file.
type LogConfig struct {
	Enabled  bool            // true to enable this log
	Path     string          // path to log file
	Rotation LogRotationType // rotation type
	MaxSize  int64           // max size in bytes for size rotation
}

// MainSettings contains main application settings.
type MainSettings struct {
	Name string    // name of the facility, used to identify the node
	Log  LogConfig // main log file settings
}

// StoreSettings contains paths for the append-only activity logs that form
// the source of truth for the facility.
type StoreSettings struct {
	Path           string // directory holding all log files
	SessionLog     string // CSV file with one row per vehicle entry
	ExitLog        string // CSV file with one row per exit evaluation
	SecurityLog    string // CSV file with one row per security alert
	TransactionLog string // plain text payment transaction log
}

// PricingSettings contains the charging policy for parking sessions.
type PricingSettings struct {
	HourlyRate    int // charge per started hour, in whole currency units
	MinimumCharge int // flat minimum for any session, no free grace period
}

// MonitorSettings contains settings for the log change detector.
type MonitorSettings struct {
	PollInterval int // log polling interval in seconds
}

// EntrySettings contains settings for entry detection handling.
type EntrySettings struct {
	Cooldown int // seconds before the same plate may be logged again
}

// ExitSettings contains settings for exit evaluation and escalation.
type ExitSettings struct {
	Cooldown          int // seconds before the same plate may be re-evaluated
	AlarmDuration     int // alarm pulse length in seconds, identical for all tiers
	GateOpenDuration  int // gate open pulse length in seconds
	LockdownThreshold int // unauthorized attempts before lockdown
}

// RealtimeSettings contains settings for realtime facility monitoring.
type RealtimeSettings struct {
	Monitor            MonitorSettings
	Entry              EntrySettings
	Exit               ExitSettings
	ActivityBufferSize int // capacity of the in-memory activity ring
}

// WebServerSettings contains settings for the HTTP API and SSE stream.
type WebServerSettings struct {
	Enabled bool   // true to enable the web server
	Port    string // port to listen on
}

// TerminalSettings contains settings for the payment terminal listener.
type TerminalSettings struct {
	Enabled bool   // true to enable the payment terminal protocol listener
	Listen  string // address to listen on, e.g. ":4040"
}

// Settings contains all runtime settings for the application.
type Settings struct {
	Debug bool // true to enable debug level logging

	Main      MainSettings
	Store     StoreSettings
	Pricing   PricingSettings
	Realtime  RealtimeSettings
	WebServer WebServerSettings
	Terminal  TerminalSettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings struct.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter,
	// function defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPaths returns the list of directories searched for config.yaml,
// in priority order.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}

	return []string{
		".",
		filepath.Join(homeDir, ".config", "parkwatch"),
		"/etc/parkwatch",
	}, nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			_, err := Load()
			if err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SaveYAMLConfig writes the given settings to the YAML configuration file.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write to a temporary file first so an interrupted save never leaves a
	// truncated config behind.
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary config file: %w", err)
	}
	tempName := tempFile.Name()

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return fmt.Errorf("error writing temporary config file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("error closing temporary config file: %w", err)
	}

	if err := os.Rename(tempName, configPath); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}
