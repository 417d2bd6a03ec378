package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/snarg/voicenote/internal/api"
	"github.com/snarg/voicenote/internal/config"
	"github.com/snarg/voicenote/internal/delivery"
	"github.com/snarg/voicenote/internal/ledger"
	"github.com/snarg/voicenote/internal/media"
	"github.com/snarg/voicenote/internal/metrics"
	"github.com/snarg/voicenote/internal/pipeline"
	"github.com/snarg/voicenote/internal/quota"
	"github.com/snarg/voicenote/internal/rewrite"
	"github.com/snarg/voicenote/internal/session"
	"github.com/snarg/voicenote/internal/storage"
	"github.com/snarg/voicenote/internal/transcribe"
)

var version = "dev"

// liveStats feeds the scrape-time collector.
type liveStats struct {
	*pipeline.Orchestrator
	bus *delivery.EventBus
}

func (s liveStats) SSESubscriberCount() int { return s.bus.SubscriberCount() }

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug|info|warn|error (LOG_LEVEL)")
	flag.StringVar(&overrides.LedgerDriver, "ledger-driver", "", "Ledger backend: sqlite|postgres (LEDGER_DRIVER)")
	flag.StringVar(&overrides.LedgerDSN, "ledger-dsn", "", "Ledger DSN (LEDGER_DSN)")
	flag.StringVar(&overrides.MediaDir, "media-dir", "", "Local media directory (MEDIA_DIR)")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("voicenote starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ledger
	ledgerLog := log.With().Str("component", "ledger").Logger()
	led, err := ledger.Open(ctx, cfg.LedgerDriver, cfg.LedgerDSN, cfg.LedgerConnectTimeout, ledgerLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open usage ledger")
	}
	defer led.Close()

	// Media storage
	storeLog := log.With().Str("component", "storage").Logger()
	store, err := storage.New(cfg.S3, cfg.MediaDir, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize media store")
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.WorkDir).Msg("failed to create work dir")
	}
	fetcher := storage.NewFetcher(store, cfg.WorkDir)
	workSweeper := storage.NewWorkdirSweeper(cfg.WorkDir, cfg.WorkdirRetention, storeLog)
	var mediaSweeper *storage.FileSweeper
	if local, ok := store.(*storage.LocalStore); ok && cfg.SessionTTL > 0 {
		// A clip is needed until a worker fetches it: at most the session TTL
		// plus one run timeout of queueing.
		mediaSweeper = storage.NewMediaSweeper(local.Dir(), cfg.SessionTTL+cfg.PipelineRunTimeout, storeLog)
	}

	// Media conversion
	normalizer := media.NewFFmpegNormalizer(cfg.FFmpegPath, cfg.FFprobePath, log.With().Str("component", "media").Logger())
	if !normalizer.Available() {
		log.Warn().Str("ffmpeg", cfg.FFmpegPath).Msg("ffmpeg not found, video clips will fail normalization")
	}

	// Providers
	transcriber, err := transcribe.FromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure transcription")
	}
	gen, err := rewrite.FromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure rewrite")
	}
	log.Info().
		Str("transcriber", transcriber.Name()).
		Str("rewriter", gen.Name()).
		Msg("providers configured")

	// Delivery
	bus := delivery.NewEventBus(512)
	var sink delivery.Sink = bus
	var mqttSink *delivery.MQTTSink
	if cfg.MQTT.Enabled() {
		mqttSink, err = delivery.ConnectMQTT(delivery.MQTTOptions{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqttSink.Close()
		sink = delivery.Multi(bus, mqttSink)
	}

	// Pipeline
	sessions := session.NewStore()
	orch := pipeline.New(pipeline.Options{
		Sessions:       sessions,
		Guard:          quota.NewGuard(cfg.QuotaThresholdSeconds, cfg.QuotaCostPerSecond),
		Fetcher:        fetcher,
		Normalizer:     normalizer,
		Transcriber:    transcriber,
		Rewriter:       rewrite.New(gen),
		Ledger:         led,
		Sink:           sink,
		IsPrivileged:   cfg.IsPrivileged,
		HasAuthorVoice: cfg.HasAuthorVoice,
		ChunkMaxLength: cfg.ChunkMaxLength,
		RunTimeout:     cfg.PipelineRunTimeout,
		Workers:        cfg.PipelineWorkers,
		QueueSize:      cfg.PipelineQueueSize,
		Log:            log.With().Str("component", "pipeline").Logger(),
	})
	orch.Start()

	sessionSweeper := session.NewSweeper(sessions, cfg.SessionTTL, cfg.SessionSweepInterval, orch.Evict, log)
	sessionSweeper.Start()
	workSweeper.Start()
	if mediaSweeper != nil {
		mediaSweeper.Start()
	}

	prometheus.MustRegister(metrics.NewCollector(liveStats{Orchestrator: orch, bus: bus}))

	// HTTP Server
	health := api.HealthSource{
		PingLedger:  led.Ping,
		Transcriber: transcriber.Name(),
		Normalizer:  normalizer.Available,
		Queue: func() (int, int) {
			s := orch.Stats()
			return s.Pending, s.InFlight
		},
	}
	if mqttSink != nil {
		health.MQTTConnected = mqttSink.IsConnected
	}
	srv := api.NewServer(api.ServerOptions{
		Config:    cfg,
		Clips:     orch,
		Media:     store,
		Usage:     led,
		Live:      bus,
		Health:    health,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	sessionSweeper.Stop()
	workSweeper.Stop()
	if mediaSweeper != nil {
		mediaSweeper.Stop()
	}
	orch.Stop()

	log.Info().Msg("voicenote stopped")
}
