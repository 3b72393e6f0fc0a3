package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jmcleod/panelgate/api"
	"github.com/jmcleod/panelgate/config"
	"github.com/jmcleod/panelgate/crypto"
	"github.com/jmcleod/panelgate/internal/logging"
	"github.com/jmcleod/panelgate/panel"
	"github.com/jmcleod/panelgate/proxy"
	"github.com/jmcleod/panelgate/session"
)

var (
	listenAddr     string
	storageBackend string
	storagePath    string
	masterKeyFile  string
	logLevel       string
	noBanner       bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the panelgate server",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Address to listen on (overrides server.listen)")
	serverCmd.Flags().StringVar(&storageBackend, "storage", "", "Storage backend: bbolt, sqlite, leveldb, postgres or memory")
	serverCmd.Flags().StringVar(&storagePath, "storage-path", "", "Database file or directory for the storage backend")
	serverCmd.Flags().StringVar(&masterKeyFile, "master-key-file", "", "File holding the master key")
	serverCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	serverCmd.Flags().BoolVar(&noBanner, "no-banner", false, "Do not print the startup banner")
}

// loadServerConfig loads the configuration and applies flags that were
// set explicitly, which take precedence over the file and environment.
func loadServerConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Server.Listen = listenAddr
	}
	if flags.Changed("storage") {
		cfg.Storage.Backend = storageBackend
		if storageBackend == "memory" || storageBackend == "postgres" {
			cfg.Storage.Path = ""
		}
	}
	if flags.Changed("storage-path") {
		cfg.Storage.Path = storagePath
	}
	if flags.Changed("master-key-file") {
		cfg.Security.MasterKeyFile = masterKeyFile
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	masterKey, err := cfg.ResolveMasterKey()
	if err != nil {
		return err
	}
	cs, err := crypto.New(masterKey, cfg.CryptoOptions()...)
	if err != nil {
		return fmt.Errorf("failed to initialise crypto: %w", err)
	}
	defer cs.Destroy()

	repo, err := openRepository(cmd.Context(), cfg.Storage)
	if err != nil {
		return err
	}
	defer repo.Close()

	registry := panel.DefaultRegistry()
	if err := config.ApplyPanels(registry, cfg.Panels); err != nil {
		return fmt.Errorf("invalid panel path overrides: %w", err)
	}

	fwdOpts := []proxy.ForwarderOption{
		proxy.WithMaxResponseBytes(cfg.Proxy.MaxResponseBytes),
		proxy.WithLogger(logger),
	}
	if cfg.Proxy.CAFile != "" {
		pool, err := loadCAPool(cfg.Proxy.CAFile)
		if err != nil {
			return err
		}
		fwdOpts = append(fwdOpts, proxy.WithTLSConfig(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}))
	}
	fwd := proxy.NewForwarder(fwdOpts...)
	defer fwd.Close()

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := proxy.NewService(registry, fwd,
		proxy.WithDefaults(cfg.ProxyOptions()),
		proxy.WithMetrics(proxy.NewMetrics(metricsReg)),
		proxy.WithServiceLogger(logger),
	)

	trusted, err := api.WithTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	a := api.New(cs, session.NewMemoryStore(), repo, svc,
		api.WithLogger(logger),
		api.WithSessionTTL(cfg.Session.TTL),
		api.WithBindTTL(cfg.Session.BindTTL),
		api.WithIssuer(cfg.Session.Issuer),
		api.WithSecureCookies(cfg.Server.SecureCookies),
		api.WithVerifyLimits(cfg.Session.VerifyMaxAttempts, cfg.Session.VerifyWindow, cfg.Session.VerifyLockout),
		api.WithMetrics(metricsReg, metricsReg),
		api.WithAuditWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookHeader),
		trusted,
	)
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := newScheduler(logger)
	if err := sched.add(ctx, "session-sweep", cfg.Session.SweepSchedule, func(context.Context) {
		if n := a.SweepSessions(); n > 0 {
			logger.Debug("expired sessions swept", "removed", n)
		}
	}); err != nil {
		return err
	}
	if err := sched.add(ctx, "panel-health", cfg.Proxy.HealthCheckSchedule, func(ctx context.Context) {
		checked, unhealthy, err := a.CheckAllPanels(ctx)
		if err != nil {
			logger.Warn("panel health sweep aborted", "error", err)
			return
		}
		logger.Info("panel health sweep finished", "checked", checked, "unhealthy", unhealthy)
	}); err != nil {
		return err
	}
	sched.start()
	defer sched.stop()

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, logger)
		if err != nil {
			return err
		}
		go func() {
			err := watcher.Run(ctx, func(c *config.Config) error {
				return config.ApplyPanels(registry, c.Panels)
			})
			if err != nil {
				logger.Error("configuration watcher stopped", "error", err)
			}
		}()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(logger.With("component", "http").Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(api.SecurityHeaders)
	r.Mount("/", a.Router())

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	useTLS := cfg.Server.TLSCert != "" && cfg.Server.TLSKey != ""
	if useTLS {
		cert, err := loadServerCertificate(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return err
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if useTLS {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	if !noBanner {
		printBanner(cmd.OutOrStdout())
	}
	logger.Info("server started",
		"listen", cfg.Server.Listen,
		"tls", useTLS,
		"storage", cfg.Storage.Backend,
		"version", Version,
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}
