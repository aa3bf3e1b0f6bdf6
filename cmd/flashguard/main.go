package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"flashguard-go/internal/config"
	"flashguard-go/internal/diagnostics"
	"flashguard-go/internal/emitter"
	"flashguard-go/internal/history"
	"flashguard-go/internal/ingest"
	"flashguard-go/internal/output"
	"flashguard-go/internal/pipeline"
	"flashguard-go/internal/processing"
	"flashguard-go/internal/remote"
	"flashguard-go/internal/server"
	"flashguard-go/internal/suppression"
	"flashguard-go/internal/types"
)

type metrics struct {
	messages       atomic.Uint64
	frameMessages  atomic.Uint64
	lifecycleMsgs  atomic.Uint64
	settingsOK     atomic.Uint64
	settingsReject atomic.Uint64
	dispatchCount  atomic.Uint64
	dispatchNanos  atomic.Uint64
}

func (m *metrics) snapshot() map[string]any {
	decodeCount, decodeNanos := ingest.DecodeTiming()
	return map[string]any{
		"messages_total":               m.messages.Load(),
		"frame_messages_total":         m.frameMessages.Load(),
		"lifecycle_messages_total":     m.lifecycleMsgs.Load(),
		"settings_applied_total":       m.settingsOK.Load(),
		"settings_rejected_total":      m.settingsReject.Load(),
		"dispatch_total":               m.dispatchCount.Load(),
		"dispatch_nanos_total":         m.dispatchNanos.Load(),
		"ingest_decode_failures_total": ingest.DecodeFailures(),
		"ingest_decode_total":          decodeCount,
		"ingest_decode_nanos_total":    decodeNanos,
	}
}

func main() {
	var (
		port              = flag.Int("port", 8888, "HTTP port for the overlay renderer and API")
		endpoint          = flag.String("endpoint", "tcp://localhost:31001", "ZMQ endpoint frames are pulled from")
		codec             = flag.String("codec", "cbor", "Ingest message codec (cbor or msgpack)")
		settingsPath      = flag.String("settings", "", "Settings file (.yaml, .toml, .ini or .json), reloaded on change")
		settingsURL       = flag.String("settings-url", "", "URL of a JSON settings document to poll")
		settingsInterval  = flag.Duration("settings-interval", 30*time.Second, "Polling interval for -settings-url")
		cooldownTick      = flag.Duration("cooldown-tick", pipeline.DefaultTick, "Cooldown timer period per playing source")
		debug             = flag.Bool("debug", false, "Run with simulated sources")
		debugSources      = flag.Int("debug-sources", 2, "Number of simulated sources")
		debugFPS          = flag.Float64("debug-fps", 30, "Simulated frame rate per source")
		rawLogEnabled     = flag.Bool("raw-log", false, "Write raw ingest messages to disk")
		rawLogDir         = flag.String("raw-log-dir", "rawlog", "Directory for raw ingest logs")
		outputDir         = flag.String("output-dir", "output", "Directory for CSV series")
		seriesEnabled     = flag.Bool("series", false, "Write frame and transition series as CSV")
		ingestLogEvery    = flag.Int("ingest-log-every", 100, "Log every Nth ingest error")
		ingestFallback    = flag.Bool("ingest-fallback", true, "Fall back to simulator when ingest fails")
		mqttBroker        = flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
		mqttTopic         = flag.String("mqtt-topic", "flashguard", "MQTT topic prefix")
		historyDB         = flag.String("history-db", "", "SQLite file for transition history")
		historyRetainDays = flag.Int("history-retain-days", 30, "Days of transition history to keep")
		logLevel          = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	cfg := config.AppConfig{
		Port:              *port,
		Endpoint:          *endpoint,
		Codec:             *codec,
		SettingsPath:      *settingsPath,
		SettingsURL:       *settingsURL,
		SettingsInterval:  *settingsInterval,
		CooldownTick:      *cooldownTick,
		Debug:             *debug,
		DebugSources:      *debugSources,
		DebugFPS:          *debugFPS,
		RawLogEnabled:     *rawLogEnabled,
		RawLogDir:         *rawLogDir,
		OutputDir:         *outputDir,
		SeriesEnabled:     *seriesEnabled,
		IngestLogEvery:    *ingestLogEvery,
		IngestFallback:    *ingestFallback,
		MQTTBroker:        *mqttBroker,
		MQTTTopic:         *mqttTopic,
		HistoryDB:         *historyDB,
		HistoryRetainDays: *historyRetainDays,
		LogLevel:          *logLevel,
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	codecValue, err := ingest.ParseCodec(cfg.Codec)
	if err != nil {
		fatal(log, "invalid codec", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics metrics
	var workers sync.WaitGroup
	// Sink workers outlive ctx so the final releases of Registry.Close
	// still reach them.
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()

	initial := config.Defaults()
	var startupErr error
	if cfg.SettingsPath != "" {
		initial, startupErr = config.LoadSettings(cfg.SettingsPath)
		if startupErr != nil {
			initial = config.Defaults()
		}
	}
	provider, err := config.NewProvider(initial)
	if err == nil {
		err = startupErr
	}

	sinks := diagnostics.NewFanout(log,
		diagnostics.NewLogger(log, func() bool { return provider.Settings().EnableDebugLogging }),
	)
	if err != nil {
		sinks.Warn("settings rejected at startup, using defaults", err)
	}

	var status statusBoard

	srv := server.New(cfg, server.Handlers{
		Settings: provider,
		Warn:     sinks.Warn,
	}, log)
	sinks.Add(srv)
	overlays := suppression.Fanout{srv}

	var series *output.SeriesWriter
	if cfg.SeriesEnabled {
		series, err = output.NewSeriesWriter(cfg.OutputDir, output.Timestamp(), log)
		if err != nil {
			fatal(log, "failed to start series output", err)
		}
		sinks.Add(series)
	}

	var mqttEmitter *emitter.MQTTEmitter
	if cfg.MQTTBroker != "" {
		clientID := "flashguard-" + uuid.NewString()[:8]
		mqttEmitter = emitter.NewMQTTEmitter(cfg.MQTTBroker, clientID, cfg.MQTTTopic, log)
		if err := mqttEmitter.Connect(); err != nil {
			log.Warn("mqtt unavailable, continuing without it", "err", err)
			mqttEmitter = nil
		} else {
			sinks.Add(mqttEmitter)
			overlays = append(overlays, mqttEmitter)
			workers.Add(1)
			go func() {
				defer workers.Done()
				mqttEmitter.Run(sinkCtx)
			}()
		}
	}

	var store *history.Store
	if cfg.HistoryDB != "" {
		store, err = history.Open(cfg.HistoryDB, log)
		if err != nil {
			fatal(log, "failed to open history", err)
		}
		sinks.Add(store)
		workers.Add(2)
		go func() {
			defer workers.Done()
			store.Run(sinkCtx)
		}()
		go func() {
			defer workers.Done()
			store.StartCleanupWorker(ctx, cfg.HistoryRetainDays)
		}()
	}

	coordinator := suppression.NewCoordinator(overlays, provider.Settings().Appearance())
	provider.OnChange(func(s config.Settings) {
		coordinator.UpdateAppearance(s.Appearance())
	})

	applySettings := func(origin string) func(config.Settings, error) {
		return func(s config.Settings, err error) {
			if err == nil {
				err = provider.Update(s)
			}
			if err != nil {
				metrics.settingsReject.Add(1)
				sinks.Warn(origin+" settings rejected, keeping last known good", err)
				return
			}
			metrics.settingsOK.Add(1)
			log.Info("settings applied", "origin", origin)
		}
	}
	if cfg.SettingsPath != "" {
		if err := config.Watch(ctx, cfg.SettingsPath, applySettings("file")); err != nil {
			log.Warn("settings watch unavailable", "path", cfg.SettingsPath, "err", err)
		}
	}
	if cfg.SettingsURL != "" {
		go remote.Poll(ctx, cfg.SettingsURL, cfg.SettingsInterval, provider.Settings, applySettings("remote"))
	}

	stats := processing.NewAggregator()
	registry := pipeline.NewRegistry(pipeline.Deps{
		Provider: provider,
		Signal:   coordinator,
		Sink:     sinks,
		Stats:    stats,
	}, pipeline.RegistryOptions{
		Tick:   cfg.CooldownTick,
		Logger: log,
	})

	var recorder ingest.RawRecorder
	var rawLog *output.RawLogWriter
	if cfg.RawLogEnabled {
		rawLog, err = output.NewRawLogWriter(cfg.RawLogDir, "raw_"+string(codecValue))
		if err != nil {
			fatal(log, "failed to start raw log", err)
		}
		recorder = rawLog
		log.Info("raw log enabled", "path", rawLog.Path())
	}

	messages := startSource(ctx, cfg, codecValue, recorder, &status, log)

	workers.Add(1)
	go func() {
		defer workers.Done()
		for msg := range messages {
			metrics.messages.Add(1)
			status.set("last_ingest", time.Now().Format(time.RFC3339))
			switch msg.Type {
			case types.MessageFrame:
				metrics.frameMessages.Add(1)
			case types.MessageLifecycle:
				metrics.lifecycleMsgs.Add(1)
			}
			start := time.Now()
			registry.Dispatch(msg)
			metrics.dispatchCount.Add(1)
			metrics.dispatchNanos.Add(uint64(time.Since(start).Nanoseconds()))
		}
	}()

	workers.Add(1)
	go func() {
		defer workers.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snapshot := metrics.snapshot()
				log.Info("ingest stats",
					"messages", snapshot["messages_total"],
					"frames", snapshot["frame_messages_total"],
					"lifecycle", snapshot["lifecycle_messages_total"],
					"decode_failures", snapshot["ingest_decode_failures_total"],
					"sources", len(registry.Sources()),
					"overlay_visible", coordinator.Visible(),
				)
				if series != nil {
					if err := series.Flush(); err != nil {
						log.Warn("series flush failed", "err", err)
					}
				}
			}
		}
	}()

	srvHandlers := server.Handlers{
		Settings: provider,
		Warn:     sinks.Warn,
		Status: func() map[string]any {
			payload := status.copy()
			payload["overlay_visible"] = coordinator.Visible()
			payload["active_sources"] = coordinator.Active()
			payload["sources"] = registry.Sources()
			payload["source_stats"] = registry.Stats()
			payload["metrics"] = metrics.snapshot()
			payload["process"] = processStats()
			if mqttEmitter != nil {
				payload["mqtt"] = mqttEmitter.Stats()
			}
			return payload
		},
	}
	if store != nil {
		srvHandlers.Events = func(ctx context.Context, limit int) (any, error) {
			return store.Recent(ctx, limit)
		}
	}
	srv.SetHandlers(srvHandlers)

	log.Info("starting overlay server", "url", "http://localhost:"+strconv.Itoa(cfg.Port))
	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped", "err", err)
	}

	stop()
	registry.Close()
	stopSinks()
	workers.Wait()

	if mqttEmitter != nil {
		mqttEmitter.Disconnect()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn("history close failed", "err", err)
		}
	}
	if series != nil {
		if err := series.Close(); err != nil {
			log.Warn("series close failed", "err", err)
		}
	}
	if rawLog != nil {
		if err := rawLog.Close(); err != nil {
			log.Warn("raw log close failed", "err", err)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}
