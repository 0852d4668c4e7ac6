package commands

import (
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/database"
	"github.com/authd-dev/authd/internal/logger"
)

// openDatabase loads the server configuration and opens its database.
// The returned function closes the connection.
func openDatabase() (*gorm.DB, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Logs go to stderr so command output stays parseable
	zlog := logger.New(os.Stderr, cfg.Logging.Level, "console")

	db, err := database.Open(cfg, zlog)
	if err != nil {
		return nil, nil, nil, err
	}

	return db, cfg, func() { database.Close(db) }, nil
}
