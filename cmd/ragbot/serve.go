package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/propakistanidev/WA-RAG-BOT/internal/channel"
	"github.com/propakistanidev/WA-RAG-BOT/internal/inbox"
	"github.com/propakistanidev/WA-RAG-BOT/internal/metrics"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the WhatsApp webhook, admin API and inbox watcher",
		Long:  "Serves the WhatsApp webhook, the admin API and the metrics endpoint on one listener. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Health(ctx); err != nil {
		logger.Warn("knowledge base unhealthy at startup", "err", err)
	}

	srv := channel.NewServer(channel.ServerConfig{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ReadTimeoutSeconds: cfg.Server.ReadTimeoutSeconds,
		Logger:             logger,
	})

	if cfg.Channels.WhatsApp.Enabled {
		wa := channel.NewWhatsApp(channel.WhatsAppChannelConfig{Config: cfg.Channels.WhatsApp, Logger: logger})
		handler, err := a.newHandler(wa.Sender())
		if err != nil {
			return err
		}
		wa.SetHandler(handler)
		srv.MountWhatsApp(wa)
		logger.Info("whatsapp channel enabled", "path", wa.WebhookPath())
	} else {
		logger.Info("whatsapp channel disabled")
	}

	if cfg.Admin.Enabled {
		channel.NewAdmin(channel.AdminConfig{
			Knowledge:   a.engine,
			Token:       cfg.Admin.Token,
			MaxUploadMB: cfg.Ingest.MaxUploadMB,
			Version:     version,
			Config:      cfg,
			Logger:      logger,
		}).Register(srv.Mux())
		if cfg.Admin.Token == "" {
			logger.Warn("admin API has no token; anyone who can reach the port can upload documents")
		}
	}

	if cfg.Metrics.Enabled {
		srv.Mux().HandleFunc("GET "+cfg.Metrics.Endpoint, metrics.Collector.Handler())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })

	if cfg.Ingest.InboxDir != "" {
		if err := os.MkdirAll(cfg.Ingest.InboxDir, 0o755); err != nil {
			return fmt.Errorf("inbox dir: %w", err)
		}
		w := inbox.NewWatcher(inbox.WatcherConfig{
			Dir:          cfg.Ingest.InboxDir,
			Ingester:     a.engine,
			ScanExisting: true,
			Logger:       logger,
		})
		g.Go(func() error { return w.Run(gctx) })
	}

	logger.Info("ragbot running", "version", version, "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	err = g.Wait()
	logger.Info("ragbot stopped")
	return err
}
