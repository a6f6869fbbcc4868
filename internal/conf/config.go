// config.go: settings struct for the occurrence harvest/import pipeline and
// functions to load them from config file and environment.
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
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// Log rotation types
const (
	RotationDaily  = "daily"
	RotationWeekly = "weekly"
	RotationSize   = "size"
)

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled  bool   // true to enable this log
	Path     string // path to log file
	Rotation string // rotation type: "daily", "weekly" or "size"
	MaxSize  int64  // max size in bytes for size rotation
}

// MainSettings contains general application settings
type MainSettings struct {
	Name string    // name of this node, used for identification
	Log  LogConfig // main log file settings
}

// RegistrySettings holds settings for the registry API client
type RegistrySettings struct {
	BaseURL     string        // base URL of the registry API
	Timeout     time.Duration // per request timeout
	RateLimitMS int           // milliseconds between requests
	CacheTTL    time.Duration // TTL for cached dataset detail lookups
}

// HarvestQuery is one search query used for dataset discovery.
// Q is matched case-insensitively against dataset title and description.
type HarvestQuery struct {
	Q       string // free text search term, may be empty
	Keyword string // registry keyword filter, may be empty
}

// HarvestSettings controls dataset discovery from the registry
type HarvestSettings struct {
	Queries           []HarvestQuery // search queries to page through
	InstallationKey   string         // installation whose datasets are enumerated without the term filter
	DeniedHostingOrgs []string       // hosting organization keys excluded from the catalog
	PageSize          int            // results per page
}

// ImportSettings controls archive import
type ImportSettings struct {
	DownloadsDir     string // directory of downloaded archives, one zip per dataset key
	RegionFile       string // GeoJSON file with the region-of-interest polygon
	Workers          int    // worker pool size, 0 means GOMAXPROCS
	BatchSize        int    // occurrence rows per bulk insert
	MaintenanceEvery int    // run storage maintenance every N batches
}

// HexbinSettings controls spatial binning
type HexbinSettings struct {
	GridsDir string // parent directory of grid sources, one subdirectory per size
}

// OutputSettings contains database output settings
type OutputSettings struct {
	SQLite struct {
		Enabled bool   // true to enable SQLite output
		Path    string // path to SQLite database file
	}
	MySQL struct {
		Enabled  bool   // true to enable MySQL output
		Username string // MySQL username
		Password string // MySQL password
		Database string // MySQL database name
		Host     string // MySQL host
		Port     string // MySQL port
	}
}

// Settings is the top level configuration struct
type Settings struct {
	Debug bool // true to enable debug level logging

	Main     MainSettings
	Registry RegistrySettings
	Harvest  HarvestSettings
	Import   ImportSettings
	Hexbin   HexbinSettings
	Output   OutputSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings
// instance and stores it as the package singleton.
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

	// defaults defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create one with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first default
// config path and reads it back.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading embedded config file: %v", err)
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
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// GetBasePath expands a possibly relative directory to an absolute path and
// creates it if it does not exist.
func GetBasePath(path string) string {
	if path == "" {
		path = "."
	}
	basePath := viper.GetString("basepath")
	if basePath != "" && !filepath.IsAbs(path) {
		path = filepath.Join(basePath, path)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		log.Printf("Error creating directory %s: %v", absPath, err)
	}
	return absPath
}

// GetDefaultConfigPaths returns the list of paths where the config file is
// searched for: current directory first, then the user config directory.
func GetDefaultConfigPaths() ([]string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return []string{"."}, nil
	}
	return []string{".", filepath.Join(configDir, "occurharvest")}, nil
}
