package config

import (
	"delivery-navigation-service/internal/ports"
	"delivery-navigation-service/internal/services"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Tuning holds the thresholds and cadences of the tracking engine. It can
// be loaded from the YAML file named by TRACKING_CONFIG.
type Tuning struct {
	OffRouteThresholdMeters float64       `yaml:"off_route_threshold_meters" validate:"gt=0"`
	ManeuverTriggerMeters   float64       `yaml:"maneuver_trigger_meters" validate:"gt=0"`
	GeofenceRadiusMeters    float64       `yaml:"geofence_radius_meters" validate:"gt=0"`
	AcceptRadiusMeters      float64       `yaml:"accept_radius_meters" validate:"gt=0"`
	RerouteWarnAfter        int           `yaml:"reroute_warn_after" validate:"gte=1"`
	RerouteTimeout          time.Duration `yaml:"reroute_timeout" validate:"gt=0"`
	MergeByTimestamp        bool          `yaml:"merge_by_timestamp"`

	ForegroundInterval        time.Duration `yaml:"foreground_interval" validate:"gt=0"`
	ForegroundMinDisplacement float64       `yaml:"foreground_min_displacement_meters" validate:"gte=0"`
	BackgroundInterval        time.Duration `yaml:"background_interval" validate:"gt=0"`
	BackgroundMinDisplacement float64       `yaml:"background_min_displacement_meters" validate:"gte=0"`

	BackgroundTaskName string        `yaml:"background_task_name" validate:"required"`
	PublishQueueSize   int           `yaml:"publish_queue_size" validate:"gt=0"`
	GeocodeCacheMaxAge time.Duration `yaml:"geocode_cache_max_age" validate:"gte=0"`
	// Stopped sessions older than this are purged from the session store at start.
	SessionRetention time.Duration `yaml:"session_retention" validate:"gte=0"`
}

func DefaultTuning() Tuning {
	return Tuning{
		OffRouteThresholdMeters:   services.DefaultOffRouteThresholdMeters,
		ManeuverTriggerMeters:     services.DefaultManeuverTriggerMeters,
		GeofenceRadiusMeters:      50,
		AcceptRadiusMeters:        services.DefaultAcceptRadiusMeters,
		RerouteWarnAfter:          2,
		RerouteTimeout:            15 * time.Second,
		MergeByTimestamp:          true,
		ForegroundInterval:        5 * time.Second,
		ForegroundMinDisplacement: 10,
		BackgroundInterval:        30 * time.Second,
		BackgroundMinDisplacement: 50,
		BackgroundTaskName:        services.DefaultBackgroundTaskName,
		PublishQueueSize:          services.DefaultPublishQueueSize,
		GeocodeCacheMaxAge:        30 * 24 * time.Hour,
		SessionRetention:          7 * 24 * time.Hour,
	}
}

type Config struct {
	Port        string `validate:"required,numeric"`
	AppEnv      string `validate:"oneof=development production test"`
	DatabaseURL string
	SQLitePath  string `validate:"required"`

	ORSAPIKey   string `validate:"required"`
	ORSBaseURL  string `validate:"omitempty,url"`
	ORSCountry  string
	OSRMBaseURL string `validate:"omitempty,url"`

	MQTTBroker   string `validate:"required"`
	MQTTClientID string `validate:"required"`
	RabbitMQURL  string

	Tuning Tuning
}

// Development reports whether malformed routes should panic instead of degrading.
func (c Config) Development() bool { return c.AppEnv == "development" }

// SessionConfig converts the tuning into the engine's session settings.
func (c Config) SessionConfig() services.SessionConfig {
	t := c.Tuning
	return services.SessionConfig{
		OffRouteThresholdMeters: t.OffRouteThresholdMeters,
		ManeuverTriggerMeters:   t.ManeuverTriggerMeters,
		RerouteWarnAfter:        t.RerouteWarnAfter,
		RerouteTimeout:          t.RerouteTimeout,
		MergeByTimestamp:        t.MergeByTimestamp,
		StrictRoutes:            c.Development(),
		Foreground:              ports.WatchOptions{Interval: t.ForegroundInterval, MinDisplacementMeters: t.ForegroundMinDisplacement},
		Background:              ports.WatchOptions{Interval: t.BackgroundInterval, MinDisplacementMeters: t.BackgroundMinDisplacement},
	}
}

// Get returns the environment value for key, or fallback when unset or blank.
func Get(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Load reads .env (if present) and then builds the configuration from the
// environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}
	return FromEnv()
}

// FromEnv builds and validates the configuration. Tuning starts from the
// defaults, then the TRACKING_CONFIG file, then individual env overrides.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:         Get("PORT", "8080"),
		AppEnv:       Get("APP_ENV", "production"),
		DatabaseURL:  Get("DATABASE_URL", ""),
		SQLitePath:   Get("SQLITE_PATH", "data/tracking.db"),
		ORSAPIKey:    Get("ORS_API_KEY", ""),
		ORSBaseURL:   Get("ORS_BASE_URL", ""),
		ORSCountry:   Get("ORS_COUNTRY", ""),
		OSRMBaseURL:  Get("OSRM_BASE_URL", ""),
		MQTTBroker:   Get("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: Get("MQTT_CLIENT_ID", "delivery-navigation-service"),
		RabbitMQURL:  Get("RABBITMQ_URL", ""),
		Tuning:       DefaultTuning(),
	}

	if path := Get("TRACKING_CONFIG", ""); path != "" {
		if err := loadTuning(path, &cfg.Tuning); err != nil {
			return Config{}, err
		}
	}
	if err := applyOverrides(&cfg.Tuning); err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// loadTuning overlays the YAML file onto t; keys absent from the file keep
// their current values.
func loadTuning(path string, t *Tuning) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read tuning file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return fmt.Errorf("config: parse tuning file %q: %w", path, err)
	}
	return nil
}

func applyOverrides(t *Tuning) error {
	floats := map[string]*float64{
		"OFF_ROUTE_THRESHOLD_METERS": &t.OffRouteThresholdMeters,
		"MANEUVER_TRIGGER_METERS":    &t.ManeuverTriggerMeters,
		"GEOFENCE_RADIUS_METERS":     &t.GeofenceRadiusMeters,
		"ACCEPT_RADIUS_METERS":       &t.AcceptRadiusMeters,
	}
	for key, dst := range floats {
		v := Get(key, "")
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = f
	}

	if v := Get("BACKGROUND_TASK_NAME", ""); v != "" {
		t.BackgroundTaskName = v
	}
	if v := Get("MERGE_BY_TIMESTAMP", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: MERGE_BY_TIMESTAMP: %w", err)
		}
		t.MergeByTimestamp = b
	}
	return nil
}
