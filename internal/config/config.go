// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig                       `mapstructure:"app"`
	Chain     ChainConfig                     `mapstructure:"chain"`
	ABI       ABIConfig                       `mapstructure:"abi"`
	Tracker   TrackerConfig                   `mapstructure:"tracker"`
	Overrides map[string]map[string]Overrides `mapstructure:"overrides"`
	Server    ServerConfig                    `mapstructure:"server"`
	Logging   LoggingConfig                   `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ChainConfig contains blockchain connection configuration
type ChainConfig struct {
	NodeURL        string        `mapstructure:"node_url"`
	NetworkID      int           `mapstructure:"network_id"`
	BackupNodes    []string      `mapstructure:"backup_nodes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	PrivateKey     string        `mapstructure:"private_key"`
}

// ABIConfig contains ABI lookup service configuration
type ABIConfig struct {
	LookupURL     string        `mapstructure:"lookup_url"`
	APIKey        string        `mapstructure:"api_key"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
}

// TrackerConfig contains tracking scheduler configuration
type TrackerConfig struct {
	BlockThreshold uint64        `mapstructure:"block_threshold"`
	Debounce       time.Duration `mapstructure:"debounce"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
}

// Overrides is a partial set of call parameters applied to contract calls.
// All fields are optional; numeric fields are decimal strings so large
// values survive YAML round-trips.
type Overrides struct {
	From        string `mapstructure:"from" yaml:"from"`
	GasLimit    uint64 `mapstructure:"gas_limit" yaml:"gas_limit"`
	GasPrice    string `mapstructure:"gas_price" yaml:"gas_price"`
	GasFeeCap   string `mapstructure:"gas_fee_cap" yaml:"gas_fee_cap"`
	GasTipCap   string `mapstructure:"gas_tip_cap" yaml:"gas_tip_cap"`
	Value       string `mapstructure:"value" yaml:"value"`
	BlockNumber int64  `mapstructure:"block_number" yaml:"block_number"`
	Pending     bool   `mapstructure:"pending" yaml:"pending"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("OBSERVER")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// viper lowercases map keys, which corrupts case-sensitive function
	// names like balanceOf. Re-read the overrides section straight from
	// the file to preserve key case.
	if used := viper.ConfigFileUsed(); used != "" {
		overrides, err := loadOverrides(used)
		if err != nil {
			return nil, err
		}
		config.Overrides = overrides
	}

	// Override with environment variables if present
	if nodeURL := os.Getenv("CHAIN_NODE_URL"); nodeURL != "" {
		config.Chain.NodeURL = nodeURL
	}
	if apiKey := os.Getenv("ABI_LOOKUP_API_KEY"); apiKey != "" {
		config.ABI.APIKey = apiKey
	}

	return &config, nil
}

// loadOverrides parses the overrides section directly from the config
// file, bypassing viper's key lowercasing
func loadOverrides(path string) (map[string]map[string]Overrides, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var doc struct {
		Overrides map[string]map[string]Overrides `yaml:"overrides"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("error parsing overrides section: %w", err)
	}

	return doc.Overrides, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "contract-observer")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Chain defaults
	viper.SetDefault("chain.node_url", "https://ethereum-rpc.publicnode.com")
	viper.SetDefault("chain.network_id", 1)
	viper.SetDefault("chain.request_timeout", "30s")
	viper.SetDefault("chain.retry_attempts", 3)
	viper.SetDefault("chain.retry_delay", "5s")

	// ABI lookup defaults
	viper.SetDefault("abi.lookup_url", "https://api.etherscan.io/api")
	viper.SetDefault("abi.lookup_timeout", "15s")

	// Tracker defaults
	viper.SetDefault("tracker.block_threshold", 4)
	viper.SetDefault("tracker.debounce", "500ms")
	viper.SetDefault("tracker.poll_interval", "12s")
	viper.SetDefault("tracker.refresh_timeout", "30s")

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.NodeURL == "" {
		return fmt.Errorf("chain node URL is required")
	}
	if c.Tracker.Debounce <= 0 {
		return fmt.Errorf("tracker debounce must be positive")
	}
	if c.Tracker.PollInterval <= 0 {
		return fmt.Errorf("tracker poll interval must be positive")
	}
	return nil
}
