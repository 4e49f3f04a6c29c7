package main

import (
	"context"
	"delivery-navigation-service/internal/adapters/repositories"
	"delivery-navigation-service/internal/config"
	"delivery-navigation-service/internal/platform/db"
	"log"

	"github.com/joho/godotenv"
)

// dbtool creates the Postgres schema backing the shared location store and
// geocode cache.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	databaseURL := config.Get("DATABASE_URL", "")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := db.Open(context.Background(), databaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	log.Println("Initializing database schema...")
	if err := repositories.InitPostgresSchema(db); err != nil {
		log.Fatalf("schema initialization failed: %v", err)
	}
	log.Println("Schema ready.")
}
