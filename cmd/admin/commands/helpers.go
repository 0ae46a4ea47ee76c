package commands

import (
	"fmt"
	"os"

	"github.com/taggov/engine/internal/database"
)

// openDatabase connects using DATABASE_URL. The admin tool talks only to
// Postgres, so it does not load the full server configuration.
func openDatabase() (*database.DB, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := database.New(url)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}
