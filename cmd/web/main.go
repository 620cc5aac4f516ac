package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"examforge/internal/app"
	"examforge/internal/db"
)

func main() {
	cfg := app.LoadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	pg, err := db.OpenPostgresPool(context.Background(), cfg.DBDSN, db.PoolLimits{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
	})
	if err != nil {
		logger.Printf("database error: %v", err)
		os.Exit(1)
	}
	defer pg.Close()

	local, err := db.OpenSQLite(context.Background(), cfg.SQLitePath)
	if err != nil {
		logger.Printf("local database error: %v", err)
		os.Exit(1)
	}
	defer local.Close()

	router, err := app.NewRouter(cfg, pg, local, logger)
	if err != nil {
		logger.Printf("router error: %v", err)
		os.Exit(1)
	}

	logger.Printf("examforge web listening on %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, router); err != nil {
		logger.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
