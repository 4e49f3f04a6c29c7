package main

import (
	"context"
	"database/sql"
	"delivery-navigation-service/internal/adapters/cache"
	"delivery-navigation-service/internal/adapters/directions"
	"delivery-navigation-service/internal/adapters/events"
	"delivery-navigation-service/internal/adapters/location"
	"delivery-navigation-service/internal/adapters/locationstore"
	"delivery-navigation-service/internal/adapters/notify"
	"delivery-navigation-service/internal/adapters/repositories"
	"delivery-navigation-service/internal/api"
	"delivery-navigation-service/internal/config"
	"delivery-navigation-service/internal/platform/db"
	"delivery-navigation-service/internal/ports"
	"delivery-navigation-service/internal/services"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"
)

// main is the application composition root.
// It wires concrete adapters (SQLite, Postgres, ORS, OSRM, MQTT, RabbitMQ)
// behind ports and starts the HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqliteDB, err := openSQLite(cfg.SQLitePath)
	if err != nil {
		log.Fatal(err)
	}
	defer sqliteDB.Close()

	if err := repositories.InitSchema(sqliteDB); err != nil {
		log.Fatal(err)
	}

	sessionStore := repositories.NewSqliteSessionStore(sqliteDB)
	if cfg.Tuning.SessionRetention > 0 {
		n, err := sessionStore.PurgeStopped(ctx, time.Now().Add(-cfg.Tuning.SessionRetention))
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("purged stopped sessions count=%d", n)
	}

	// Postgres carries the shared location store and geocode cache when
	// configured; otherwise everything stays local.
	var (
		locationStore ports.LocationStore
		geocodeCache  directions.GeocodeCache
	)
	if cfg.DatabaseURL != "" {
		pg, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal(err)
		}
		defer pg.Close()

		locationStore = locationstore.NewPostgresLocationStore(pg)
		geocodeCache = cache.NewSQLGeocodeCache(pg, cfg.Tuning.GeocodeCacheMaxAge)
	} else {
		log.Println("DATABASE_URL not set, using in-memory location store")
		locationStore = locationstore.NewMemoryLocationStore()
		geocodeCache = cache.NewSqliteGeocodeCache(sqliteDB, cfg.Tuning.GeocodeCacheMaxAge)
	}

	publisher := services.NewTrackingPublisher(locationStore, cfg.Tuning.PublishQueueSize)
	publisher.Start(ctx)
	defer publisher.Close()

	provider, err := directions.NewORSDirectionsProvider(cfg.ORSAPIKey, cfg.ORSBaseURL, cfg.ORSCountry, geocodeCache)
	if err != nil {
		log.Fatal(err)
	}

	var snapper ports.RoadSnapper
	if cfg.OSRMBaseURL != "" {
		s, err := directions.NewOSRMRoadSnapper(cfg.OSRMBaseURL)
		if err != nil {
			log.Fatal(err)
		}
		snapper = s
	}

	orderEvents, closeEvents, err := openOrderEvents(cfg.RabbitMQURL)
	if err != nil {
		log.Fatal(err)
	}
	defer closeEvents()

	notifier := notify.NewWebSocketNotifier()
	registry := services.NewSessionRegistry()

	// The background task is defined once at start so deliveries after a
	// restart find it registered.
	tasks := services.NewTaskManager()
	if err := tasks.DefineTask(cfg.Tuning.BackgroundTaskName, services.BackgroundLocationTask(sessionStore, registry)); err != nil {
		log.Fatal(err)
	}

	mqttClient, err := location.Connect(cfg.MQTTBroker, cfg.MQTTClientID)
	if err != nil {
		log.Fatal(err)
	}
	defer mqttClient.Disconnect(250)

	gateway := location.NewMQTTGateway(mqttClient, tasks, cfg.Tuning.BackgroundTaskName)
	if err := gateway.Start(); err != nil {
		log.Fatal(err)
	}

	svc := services.NewTrackingService(
		cfg.SessionConfig(),
		cfg.Tuning.BackgroundTaskName,
		cfg.Tuning.GeofenceRadiusMeters,
		registry,
		services.TrackingServiceDeps{
			Providers:  gateway.Provider,
			Directions: provider,
			Snapper:    snapper,
			Geocoder:   provider,
			Publisher:  publisher,
			Events:     orderEvents,
			Observer:   notifier,
			Store:      sessionStore,
		},
	)

	router := api.NewRouter(svc, http.HandlerFunc(notifier.ServeWS), cfg.Tuning.AcceptRadiusMeters, sqliteDB.PingContext)

	// Timeouts are tuned for cold-cache target resolution (external API latency).
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown failed err=%v", err)
		}
	}()

	log.Printf("Server listening addr=:%s env=%s", cfg.Port, cfg.AppEnv)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func openSQLite(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("openSQLite: create directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("openSQLite: open sqlite database %q: %w", dbPath, err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("openSQLite: verify sqlite connection to %q: %w", dbPath, err)
	}

	return db, nil
}

// openOrderEvents selects RabbitMQ when a URL is configured and falls back
// to logging the events.
func openOrderEvents(url string) (ports.OrderEventPublisher, func(), error) {
	if url == "" {
		log.Println("RABBITMQ_URL not set, order status events are logged only")
		return events.LogOrderEvents{}, func() {}, nil
	}

	conn, err := events.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	pub, err := events.NewRabbitMQOrderEvents(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	return pub, func() {
		if err := pub.Close(); err != nil {
			log.Printf("order events close failed err=%v", err)
		}
		_ = conn.Close()
	}, nil
}
