package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

type AppConfig struct {
	Port      string
	LogLevel  string
	LogPretty bool

	// Location is the station's wall-clock timezone; readings are keyed in it.
	Location *time.Location

	DB       DBConfig
	Settings SettingsConfig

	// LockDir holds the <name>.lock files used for cross-process exclusion.
	LockDir string

	// CronKey authenticates the /cron endpoints.
	CronKey string
	// RefreshSecret signs the session-bound cache refresh tokens.
	RefreshSecret string

	HTTPTimeout time.Duration

	Netatmo   NetatmoConfig
	Metar     MetarConfig
	Vigilance VigilanceConfig
	Kafka     KafkaConfig
	Scheduler SchedulerConfig
	Dashboard DashboardConfig

	GeocoderAPIKey string
}

type DBConfig struct {
	Driver string // sqlite | pgx
	DSN    string
}

type SettingsConfig struct {
	Backend       string // sql | redis | memory
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type NetatmoConfig struct {
	ClientID     string
	ClientSecret string
	DeviceID     string
	BaseURL      string
}

type MetarConfig struct {
	BaseURL     string
	DefaultICAO string
	RadiusKm    float64
}

type VigilanceConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type SchedulerConfig struct {
	Enabled  bool
	Fetch    string
	Daily    string
	External string
}

type DashboardConfig struct {
	// SeaTempActive lets ordinary dashboard views refresh the sea temperature
	// remotely. Off by default: the external job keeps it current.
	SeaTempActive bool
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Err(err).Msg("no .env file loaded")
	}
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogPretty = getenvBool("LOG_PRETTY", false)

	tzName := getenvDefault("TZ_NAME", "Europe/Paris")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TZ_NAME: %w", err)
	}
	cfg.Location = loc

	cfg.DB = DBConfig{
		Driver: getenvDefault("DB_DRIVER", "sqlite"),
		DSN:    getenvDefault("DB_DSN", "data/station.db"),
	}
	switch cfg.DB.Driver {
	case "sqlite", "pgx":
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER %q: want sqlite or pgx", cfg.DB.Driver)
	}

	cfg.Settings = SettingsConfig{
		Backend:       getenvDefault("SETTINGS_BACKEND", "sql"),
		RedisAddr:     getenvDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),
	}
	switch cfg.Settings.Backend {
	case "sql", "redis", "memory":
	default:
		return nil, fmt.Errorf("invalid SETTINGS_BACKEND %q", cfg.Settings.Backend)
	}

	cfg.LockDir = getenvDefault("LOCK_DIR", os.TempDir())
	cfg.CronKey = os.Getenv("CRON_KEY")
	cfg.RefreshSecret = os.Getenv("REFRESH_SECRET")

	cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.Netatmo = NetatmoConfig{
		ClientID:     os.Getenv("NETATMO_CLIENT_ID"),
		ClientSecret: os.Getenv("NETATMO_CLIENT_SECRET"),
		DeviceID:     os.Getenv("NETATMO_DEVICE_ID"),
		BaseURL:      getenvDefault("NETATMO_BASE_URL", "https://api.netatmo.com"),
	}

	cfg.Metar = MetarConfig{
		BaseURL:     getenvDefault("METAR_BASE_URL", "https://aviationweather.gov"),
		DefaultICAO: strings.ToUpper(getenvDefault("METAR_DEFAULT_ICAO", "LFML")),
		RadiusKm:    getenvFloat("METAR_RADIUS_KM", 80),
	}

	cfg.Vigilance = VigilanceConfig{
		URL: getenvDefault("VIGILANCE_URL", "https://vigilance.meteofrance.fr/fr/bulletin-vigilance"),
	}

	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.Topic = getenvDefault("KAFKA_TOPIC_READINGS", "station.readings")

	cfg.Scheduler = SchedulerConfig{
		Enabled:  getenvBool("SCHEDULER_ENABLED", false),
		Fetch:    getenvDefault("SCHEDULE_FETCH", "*/5 * * * *"),
		Daily:    getenvDefault("SCHEDULE_DAILY", "55 23 * * *"),
		External: getenvDefault("SCHEDULE_EXTERNAL", "*/30 * * * *"),
	}
	for key, expr := range map[string]string{
		"SCHEDULE_FETCH":    cfg.Scheduler.Fetch,
		"SCHEDULE_DAILY":    cfg.Scheduler.Daily,
		"SCHEDULE_EXTERNAL": cfg.Scheduler.External,
	} {
		if _, err := cron.ParseStandard(expr); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	cfg.Dashboard.SeaTempActive = getenvBool("SEA_TEMP_ACTIVE_ON_VIEW", false)
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
