package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"porter/internal/config"
	"porter/internal/domain"
	"porter/internal/metrics"
	"porter/internal/relay"
	"porter/internal/sink"
	"porter/internal/store"
	"porter/internal/vk"

	"github.com/spf13/cobra"
)

var (
	version    = "1.0.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "porter",
		Short: "porter: VK wall to Telegram channel mirror",
		Long:  "porter mirrors a VK community wall into a Telegram channel and keeps its comments in sync with the linked discussion group.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to porter.yaml (default: ~/.porter/porter.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(dbCmd())
	root.AddCommand(flushLogsCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("config written, fill in the tokens and ids", "path", cfgPath)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the porter version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("porter " + version)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start mirroring (long-poll listener + sink listener)",
		Long:  "Connects to the VK long-poll server and the Telegram bot API and mirrors events until interrupted.",
		RunE:  runDaemon,
	}
}

// buildLogger applies the configured level and optional log file.
func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("cannot create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), nil
}

// eventFilter gates the router behind the crossposting/crosscommenting
// switches so a disabled direction drops events before any lookup.
type eventFilter struct {
	router          *relay.Router
	crossposting    bool
	crosscommenting bool
	logger          *slog.Logger
}

func (f *eventFilter) HandlePost(ctx context.Context, ev domain.PostEvent) {
	if !f.crossposting {
		f.logger.Debug("crossposting disabled, post dropped", "post_id", ev.SourceID)
		return
	}
	f.router.HandlePost(ctx, ev)
}

func (f *eventFilter) HandleReply(ctx context.Context, ev domain.ReplyEvent) {
	if !f.crosscommenting {
		f.logger.Debug("crosscommenting disabled, reply dropped", "reply_id", ev.SourceID)
		return
	}
	f.router.HandleReply(ctx, ev)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err = buildLogger(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	idStore, err := store.New(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("identity store: %w", err)
	}
	defer idStore.Close()

	vkClient := vk.NewClient(vk.ClientConfig{
		Token:   cfg.Source.Token,
		BaseURL: cfg.Source.BaseURL,
		Logger:  logger,
	})

	tg, err := sink.New(sink.Config{Token: cfg.Sink.Token, Logger: logger})
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}

	poster := relay.NewPoster(relay.PosterConfig{
		Store:         idStore,
		Sink:          tg,
		ChannelID:     cfg.Sink.ChannelID,
		IgnoreReposts: cfg.Crossposting.IgnoreReposts,
		IgnorePolls:   cfg.Crossposting.IgnorePolls,
		Logger:        logger,
	})
	replies := relay.NewReplyRelay(relay.ReplyRelayConfig{
		Store:  idStore,
		Sink:   tg,
		Users:  vkClient,
		ChatID: cfg.Sink.ChatID,
		Logger: logger,
	})
	correlator := relay.NewCorrelator(idStore, cfg.Sink.ChannelID, logger)
	router := relay.NewRouter(poster, replies, correlator, logger)

	filter := &eventFilter{
		router:          router,
		crossposting:    cfg.Crossposting.Enabled,
		crosscommenting: cfg.Crosscommenting.Enabled,
		logger:          logger,
	}

	poller := vk.NewLongPoller(vk.LongPollerConfig{
		Client:  vkClient,
		GroupID: cfg.Source.GroupID,
		Wait:    cfg.Source.LongPollWait,
		Logger:  logger,
	})
	// Event loops are joined on shutdown so the store outlives every
	// in-flight delivery.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := poller.Run(ctx, filter); err != nil && ctx.Err() == nil {
			logger.Error("long poller stopped", "err", err)
			stop()
		}
	}()

	// The sink listener observes the discussion group: automatic forwards
	// anchor the comment threads.
	if cfg.Crosscommenting.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tg.Listen(ctx, func(ev domain.SinkEvent) {
				router.HandleSinkEvent(ctx, ev)
			}); err != nil && ctx.Err() == nil {
				logger.Error("sink listener stopped", "err", err)
				stop()
			}
		}()
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Collector.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	var resync *relay.Resync
	if cfg.Resync.Enabled {
		resync = relay.NewResync(idStore, vkClient, cfg.Resync.Depth, logger)
		if err := resync.Start(cfg.Resync.Schedule); err != nil {
			return fmt.Errorf("resync: %w", err)
		}
	}

	logger.Info("porter started",
		"group", cfg.Source.GroupID,
		"channel", cfg.Sink.ChannelID,
		"chat", cfg.Sink.ChatID,
		"crossposting", cfg.Crossposting.Enabled,
		"crosscommenting", cfg.Crosscommenting.Enabled,
	)

	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
		if resync != nil {
			resync.Stop()
		}
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}
