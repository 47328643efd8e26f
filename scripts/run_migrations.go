package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/nurulloasawear/megasavdo/internal/config"
	"github.com/nurulloasawear/megasavdo/internal/database"
	"github.com/nurulloasawear/megasavdo/internal/logging"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.New("info", "console")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if len(os.Args) < 3 {
		logger.Fatal("Usage: go run scripts/run_migrations.go [inventory|orders] [up|down]")
	}

	store, direction := os.Args[1], os.Args[2]
	if direction != "up" && direction != "down" {
		logger.Fatal("Direction must be 'up' or 'down'", zap.String("direction", direction))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Load config", zap.Error(err))
	}

	var dbConfig *config.DatabaseConfig
	switch store {
	case "inventory":
		dbConfig = &cfg.Inventory
	case "orders":
		dbConfig = &cfg.Orders
	default:
		logger.Fatal("Store must be 'inventory' or 'orders'", zap.String("store", store))
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, dbConfig)
	if err != nil {
		logger.Fatal("Connect to database", zap.String("store", store), zap.Error(err))
	}
	defer db.Close()

	count := 0
	err = database.Migrate(ctx, db, filepath.Join("migrations", store), direction, func(filename string) {
		count++
		logger.Info("Ran migration", zap.String("file", filename))
	})
	if err != nil {
		logger.Fatal("Migration failed", zap.String("store", store), zap.Error(err))
	}

	logger.Info("Migrations complete",
		zap.String("store", store),
		zap.String("direction", direction),
		zap.Int("count", count),
	)
}
