package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	httpapi "github.com/i474232898/station-dashboard/internal/api/http"
	"github.com/i474232898/station-dashboard/internal/cache"
	"github.com/i474232898/station-dashboard/internal/config"
	"github.com/i474232898/station-dashboard/internal/jobs"
	"github.com/i474232898/station-dashboard/internal/lock"
	"github.com/i474232898/station-dashboard/internal/logging"
	"github.com/i474232898/station-dashboard/internal/publish"
	"github.com/i474232898/station-dashboard/internal/scheduler"
	"github.com/i474232898/station-dashboard/internal/station"
	"github.com/i474232898/station-dashboard/internal/store"
	"github.com/i474232898/station-dashboard/internal/weather"
	"github.com/i474232898/station-dashboard/internal/weather/providers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("failed to open database")
	}
	defer db.Close()

	settings, closeSettings, err := openSettings(ctx, cfg, db)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Settings.Backend).Msg("failed to open settings store")
	}
	defer closeSettings()

	locker, err := lock.New(cfg.LockDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare lock directory")
	}

	// Shared HTTP client for outbound provider calls; each provider applies
	// its own per-call timeout on top.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var geocoder station.Geocoder
	if cfg.GeocoderAPIKey != "" {
		geocoder = station.NewGoogleGeocoder(cfg.GeocoderAPIKey)
	}
	tracker := station.NewTracker(settings, geocoder, logging.Channel("station"))

	forecast := providers.NewOpenMeteoProvider(httpClient, "")
	marine := providers.NewMarineProvider(httpClient, "")
	metar := providers.NewMetarProvider(httpClient, providers.MetarConfig{
		BaseURL:     cfg.Metar.BaseURL,
		DefaultICAO: cfg.Metar.DefaultICAO,
		RadiusKm:    cfg.Metar.RadiusKm,
	})
	vigilance := providers.NewVigilanceProvider(httpClient, cfg.Vigilance.URL, func(ctx context.Context) (string, error) {
		zip, err := tracker.Zipcode(ctx)
		if err != nil {
			return "", err
		}
		return providers.DepartmentFromZipcode(zip), nil
	}, cfg.Location)
	netatmo := providers.NewNetatmoProvider(httpClient, providers.NetatmoConfig{
		BaseURL:      cfg.Netatmo.BaseURL,
		ClientID:     cfg.Netatmo.ClientID,
		ClientSecret: cfg.Netatmo.ClientSecret,
		DeviceID:     cfg.Netatmo.DeviceID,
	}, settings)

	families := cache.NewFamilies(cache.Fetchers{
		Forecast:  forecast.Forecast,
		SeaTemp:   marine.SeaTemperature,
		Metar:     metar.Nearest,
		Vigilance: vigilance.Vigilance,
	}, settings, logging.Channel("cache"))

	var publisher weather.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := publish.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Netatmo.DeviceID)
		defer kp.Close()
		publisher = kp
	}

	service := weather.NewService(
		netatmo,
		store.NewSQLReadings(db, cfg.Location),
		tracker,
		publisher,
		cfg.Location,
		logging.Channel("ingest"),
	)

	runner := jobs.NewRunner(cfg.CronKey, locker, service, families.SeaTemp, tracker, logging.Channel("cron"))
	if cfg.CronKey == "" {
		log.Warn().Msg("CRON_KEY is empty; /cron endpoints reject every request")
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Schedule{
			Fetch:    cfg.Scheduler.Fetch,
			Daily:    cfg.Scheduler.Daily,
			External: cfg.Scheduler.External,
		}, runner, cfg.Location, logging.Channel("scheduler"))
		if err := sched.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start scheduler")
		}
		defer sched.Stop()
	}

	app := httpapi.NewApp(httpapi.Deps{
		Runner:        runner,
		Caches:        families,
		Readings:      service,
		Position:      tracker,
		Settings:      settings,
		Locker:        locker,
		RefreshSecret: cfg.RefreshSecret,
		SeaTempActive: cfg.Dashboard.SeaTempActive,
		Logger:        logging.Channel("http"),
	})

	go func() {
		log.Info().Str("port", cfg.Port).Msg("listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}

func openSettings(ctx context.Context, cfg *config.AppConfig, db *store.DB) (store.SettingsStore, func(), error) {
	switch cfg.Settings.Backend {
	case "redis":
		rs, err := store.NewRedisSettings(ctx, cfg.Settings.RedisAddr, cfg.Settings.RedisPassword, cfg.Settings.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { rs.Close() }, nil
	case "memory":
		return store.NewMemorySettings(), func() {}, nil
	default:
		return store.NewSQLSettings(db), func() {}, nil
	}
}
