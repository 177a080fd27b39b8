package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	bbolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/catalog"
	"github.com/mcp-integration/core/internal/config"
	"github.com/mcp-integration/core/internal/engine"
	"github.com/mcp-integration/core/internal/events"
	"github.com/mcp-integration/core/internal/health"
	"github.com/mcp-integration/core/internal/logs"
	"github.com/mcp-integration/core/internal/metrics"
	"github.com/mcp-integration/core/internal/pool"
	"github.com/mcp-integration/core/internal/registry"
	"github.com/mcp-integration/core/internal/store"
)

var (
	configFile string
	dataDir    string
	listen     string
	logLevel   string
	logToFile  bool
	logDir     string

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "mcpcore",
		Short:   "MCP integration core - brokers access to MCP servers over stdio, SSH, Docker, and HTTP",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.mcp-integration-core)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Enable logging to a rotated file in addition to console")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for rotated log files")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP integration core",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address for the metrics endpoint")

	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = runServe

	if err := rootCmd.Execute(); err != nil {
		exitCode := classifyError(err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen = listen
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-to-file") {
		cfg.Log.EnableFile = logToFile
	}
	if logDir != "" {
		cfg.Log.LogDir = logDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logs.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting mcp integration core", zap.String("version", version), zap.String("dataDir", cfg.DataDir))

	dataDir, err := expandHome(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %q: %w", dataDir, err)
	}

	st, err := store.Open(filepath.Join(dataDir, "core.db"), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	sink := events.NewBufferedSink(events.Noop{}, cfg.EventSinkBuffer, logger)
	defer sink.Close()

	reg := registry.New(st, sink)
	cat := catalog.New(st)

	connPool := pool.New(pool.Options{
		MaxConnections: cfg.MaxConnections,
		HealthInterval: cfg.HealthInterval,
		IdleEvict:      cfg.IdleEvict,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
	}, reg, reg, logger)
	defer connPool.Close()
	reg.AttachCascade(cat, connPool)

	metricsManager := metrics.New()
	metricsManager.SetConnectionsMax(cfg.MaxConnections)

	execEngine := engine.New(st, reg, connPool, sink, metricsManager, cfg.ExecutionStuckInterval, logger)
	defer execEngine.Close()

	healthLoop := health.New(health.Options{
		HealthInterval:    cfg.HealthInterval,
		DiscoveryInterval: cfg.DiscoveryInterval,
	}, reg, cat, connPool, sink, logger)
	defer healthLoop.Close()

	var metricsServer *http.Server
	if cfg.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsManager.Handler())
		metricsServer = &http.Server{Addr: cfg.Listen, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", zap.String("addr", cfg.Listen))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()

		forceQuit := time.NewTimer(10 * time.Second)
		defer forceQuit.Stop()
		select {
		case sig2 := <-sigChan:
			logger.Warn("received second signal, forcing immediate exit", zap.String("signal", sig2.String()))
			os.Exit(ExitCodeGeneralError)
		case <-forceQuit.C:
			logger.Warn("shutdown grace window elapsed, forcing exit")
			os.Exit(ExitCodeGeneralError)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error shutting down metrics server", zap.Error(err))
		}
	}

	return nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func classifyError(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	if errors.Is(err, bbolterrors.ErrTimeout) {
		return ExitCodeDBLocked
	}
	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "database is locked") || strings.Contains(errMsg, "bolt") && strings.Contains(errMsg, "timeout") {
		return ExitCodeDBLocked
	}
	if strings.Contains(errMsg, "invalid configuration") || strings.Contains(errMsg, "load configuration") {
		return ExitCodeConfigError
	}
	return ExitCodeGeneralError
}
