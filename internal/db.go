package database

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// DB holds the shared connection pool.
var DB *sqlx.DB

// Connect opens the pool for dsn, pings it and stores it in DB.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	DB = db
	log.Info("connected to the database")
	return db, nil
}

// Close releases the pool if one is open.
func Close() {
	if DB == nil {
		return
	}
	if err := DB.Close(); err != nil {
		log.WithError(err).Warn("closing database connection")
		return
	}
	log.Info("database connection closed")
}
