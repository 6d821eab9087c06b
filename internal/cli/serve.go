package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hupe1980/chunkcache"
	"github.com/hupe1980/chunkcache/internal/server"
	"github.com/hupe1980/chunkcache/prommetrics"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a cache behind the admin HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:7070", "admin API listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := chunkcache.New(cfg,
		chunkcache.WithLogger(logger),
		chunkcache.WithMetricsCollector(prommetrics.New(reg)),
	)
	if err != nil {
		return err
	}
	reg.MustRegister(prommetrics.NewStatsCollector(c.Stats))

	var reload server.ConfigLoader
	if configPath != "" {
		reload = func() (chunkcache.Config, error) { return chunkcache.LoadConfig(configPath) }
	}
	srv := server.New(c, server.Options{
		Version:  VersionString(),
		Logger:   logger.WithComponent("admin").Logger,
		Gatherer: reg,
		Reload:   reload,
	})

	httpServer := &http.Server{
		Addr:              serveAddr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "addr", serveAddr, "codec", c.Config().Codec)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		_ = c.Close()
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return errors.Join(httpServer.Shutdown(shutdownCtx), c.Shutdown(shutdownCtx))
}
