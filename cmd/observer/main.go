// File: cmd/observer/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/asaskevich/EventBus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/contract-observer/internal/abiresolver"
	"github.com/smartdevs17/contract-observer/internal/blockfeed"
	"github.com/smartdevs17/contract-observer/internal/config"
	"github.com/smartdevs17/contract-observer/internal/connection"
	"github.com/smartdevs17/contract-observer/internal/contract"
	"github.com/smartdevs17/contract-observer/internal/metrics"
	"github.com/smartdevs17/contract-observer/internal/server"
	"github.com/smartdevs17/contract-observer/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config         *config.Config
	logger         *logrus.Logger
	connection     *connection.ConnectionManager
	resolver       abiresolver.Resolver
	registry       *contract.OverrideRegistry
	directory      *contract.Directory
	metricsManager *metrics.Manager
	service        *contract.Service
	tracker        *contract.Tracker
	feed           *blockfeed.Feed
	server         *server.HTTPServer
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	// Initialize logger
	if err := app.initializeLogger(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize components
	if err := app.initializeComponents(); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	// Initialize connection manager
	if err := app.initializeConnection(); err != nil {
		return fmt.Errorf("failed to initialize connection: %w", err)
	}

	// Initialize ABI resolver and override registry
	if err := app.initializeResolution(); err != nil {
		return fmt.Errorf("failed to initialize resolution: %w", err)
	}

	// Initialize contract service and tracking scheduler
	if err := app.initializeObservation(); err != nil {
		return fmt.Errorf("failed to initialize observation: %w", err)
	}

	// Initialize block feed
	if err := app.initializeFeed(); err != nil {
		return fmt.Errorf("failed to initialize block feed: %w", err)
	}

	// Initialize HTTP server
	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeConnection initializes the chain connection manager
func (app *Application) initializeConnection() error {
	app.logger.Info("Initializing connection manager")

	conn, err := connection.NewConnectionManager(&app.config.Chain)
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}

	app.connection = conn
	app.logger.WithFields(logrus.Fields{
		"node_url":   app.config.Chain.NodeURL,
		"network_id": app.config.Chain.NetworkID,
	}).Info("Connection manager initialized")

	return nil
}

// initializeResolution initializes the ABI resolver and the static
// call override rules
func (app *Application) initializeResolution() error {
	app.logger.Info("Initializing ABI resolver")

	app.resolver = abiresolver.NewHTTPResolver(&app.config.ABI)

	registry, err := contract.NewOverrideRegistry(app.config.Overrides)
	if err != nil {
		return fmt.Errorf("failed to build override registry: %w", err)
	}
	app.registry = registry

	app.logger.WithFields(logrus.Fields{
		"lookup_url":     app.config.ABI.LookupURL,
		"override_rules": registry.Len(),
	}).Info("ABI resolver initialized")

	return nil
}

// initializeObservation initializes the contract service and the
// block-driven tracking scheduler
func (app *Application) initializeObservation() error {
	app.logger.Info("Initializing contract service")

	app.directory = contract.NewDirectory()
	app.metricsManager = metrics.NewManager()

	app.service = contract.NewService(
		app.connection,
		app.resolver,
		app.registry,
		app.directory,
		app.metricsManager,
	)

	app.tracker = contract.NewTracker(
		&app.config.Tracker,
		app.service,
		app.directory,
		app.metricsManager,
	)
	app.service.BindTracker(app.tracker)

	app.logger.WithFields(logrus.Fields{
		"block_threshold": app.config.Tracker.BlockThreshold,
		"debounce":        app.config.Tracker.Debounce,
	}).Info("Contract service initialized")

	return nil
}

// initializeFeed initializes the block feed and wires it to the
// tracking scheduler
func (app *Application) initializeFeed() error {
	app.logger.Info("Initializing block feed")

	bus := EventBus.New()
	app.feed = blockfeed.NewFeed(app.connection, bus, app.config.Tracker.PollInterval)

	if err := app.feed.Subscribe(app.tracker.OnBlock); err != nil {
		return fmt.Errorf("failed to subscribe tracker to block feed: %w", err)
	}
	if err := app.feed.SubscribeBump(app.tracker.Bump); err != nil {
		return fmt.Errorf("failed to subscribe tracker to bump feed: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"poll_interval": app.config.Tracker.PollInterval,
	}).Info("Block feed initialized")

	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	app.logger.Info("Initializing HTTP server")

	srv, err := server.NewHTTPServer(
		&app.config.Server,
		app.service,
		app.tracker,
		app.feed,
		app.connection,
		app.metricsManager,
		AppVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	app.server = srv
	app.logger.WithFields(logrus.Fields{
		"host": app.config.Server.Host,
		"port": app.config.Server.Port,
	}).Info("HTTP server initialized")

	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting contract observer")

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := app.feed.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start block feed: %w", err)
	}

	app.logger.Info("Contract observer started successfully")
	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping contract observer")

	app.cancel()

	// Stop components in reverse order
	app.feed.Stop()
	app.tracker.Stop()

	if err := app.server.Stop(); err != nil {
		app.logger.WithError(err).Error("Failed to stop HTTP server")
	}

	if err := app.connection.Close(); err != nil {
		app.logger.WithError(err).Error("Failed to close connection manager")
	}

	app.logger.Info("Contract observer stopped")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "contract-observer",
	Short:   "Smart Contract Observation Service",
	Long:    `A caching and observation layer over smart-contract reads: cached contract handles, call override injection, and block-driven tracked value refresh.`,
	Version: AppVersion,
	RunE:    runObserver,
}

// runObserver is the main command to run the observer
func runObserver(cmd *cobra.Command, args []string) error {
	// Load configuration
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create application
	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Set up signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	// Start application
	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	// Wait for shutdown signal
	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	// Stop application
	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Contract Observer %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Chain Node: %s\n", cfg.Chain.NodeURL)
		fmt.Printf("ABI Lookup: %s\n", cfg.ABI.LookupURL)
		fmt.Printf("Override Rules: %d contracts\n", len(cfg.Overrides))

		return nil
	},
}

// testCmd tests connectivity against the configured node
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, "stdout", ""); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		conn, err := connection.NewConnectionManager(&cfg.Chain)
		if err != nil {
			return fmt.Errorf("failed to create connection manager: %w", err)
		}
		defer conn.Close()

		if err := conn.HealthCheck(); err != nil {
			return fmt.Errorf("node health check failed: %w", err)
		}

		networkID, err := conn.GetNetworkID()
		if err != nil {
			return fmt.Errorf("failed to read network id: %w", err)
		}

		blockNumber, err := conn.GetLatestBlockNumber()
		if err != nil {
			return fmt.Errorf("failed to read latest block: %w", err)
		}

		fmt.Printf("Connectivity OK\n")
		fmt.Printf("Network ID: %d\n", networkID)
		fmt.Printf("Latest Block: %d\n", blockNumber)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	configCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
