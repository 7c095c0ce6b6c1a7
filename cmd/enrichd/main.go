// Package main is the enrichment daemon: the operator HTTP API plus the TCP
// store protocol used by enrichctl and other remote tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-enrich/internal/api"
	"github.com/celerix-dev/celerix-enrich/internal/app"
	"github.com/celerix-dev/celerix-enrich/internal/config"
	"github.com/celerix-dev/celerix-enrich/internal/review"
	"github.com/celerix-dev/celerix-enrich/internal/server"
	"github.com/celerix-dev/celerix-enrich/internal/vault"
)

var version = "dev"

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "enrichd",
		Short: "Enrichment review daemon",
		Long: `enrichd serves the triage, review and insights API over HTTP and
exposes the record store over a TCP line protocol for remote tools.

Settings come from defaults, an optional YAML file (--config), ENRICH_*
environment variables and flags, in increasing priority.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "Path to a YAML config file")
	flags.String("http-addr", ":8080", "HTTP API listen address")
	flags.String("tcp-addr", ":7001", "TCP store protocol listen address")
	flags.Bool("tls-enabled", false, "Serve the TCP protocol over TLS with a self-signed certificate")
	flags.String("store-driver", config.DriverMemory, "Store backend: memory, sqlite or postgres")
	flags.String("store-dsn", "", "Database DSN for sqlite or postgres")
	flags.String("store-data-dir", "./data", "Snapshot directory for the memory store")
	flags.String("store-seed", "", "JSON snapshot imported into an empty store at startup")
	flags.String("cache-driver", "memory", "View cache: memory, redis or none")
	flags.String("log-level", "info", "Log level")
	flags.String("log-format", "console", "Log format: console or json")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(parent context.Context, cfg *config.Config) error {
	if cfg.Store.Driver == config.DriverRemote {
		return fmt.Errorf("enrichd serves a local store; store.driver %q is for clients", cfg.Store.Driver)
	}

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("store ready", zap.String("driver", cfg.Store.Driver), zap.String("cache", cfg.Cache.Driver))

	router := server.NewRouter(a.Store, logger.Named("tcp"))
	if cfg.TLS.Enabled {
		host, _, _ := net.SplitHostPort(cfg.TCP.Addr)
		cert, err := vault.GenerateSelfSignedCert(host)
		if err != nil {
			a.Close()
			return fmt.Errorf("generate TLS certificate: %w", err)
		}
		router.SetCertificate(cert)
		logger.Info("TLS enabled for the TCP protocol")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newEngine(a, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info("TCP store protocol listening", zap.String("addr", cfg.TCP.Addr))
		if err := router.Listen(cfg.TCP.Addr); err != nil {
			errCh <- fmt.Errorf("tcp server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, finalizing writes")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	router.Stop()
	if err := a.Close(); err != nil {
		logger.Warn("close", zap.Error(err))
	}
	logger.Info("persistence complete, exiting")
	return runErr
}

func newEngine(a *app.App, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestLogger(logger.Named("http")))

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, "+api.OperatorHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	h := &api.Handler{
		Triage:   a.Triage,
		Sessions: review.NewRegistry(a.Config.Review.SessionIdle),
		Review:   a.Review,
		Insights: a.Insights,
		Records:  a.Records,
		Logger:   logger.Named("api"),
	}
	h.Register(r.Group("/api"))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}
