package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

// NewPostgres opens the pool and pings it, retrying while the database comes up.
func NewPostgres(cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	// ten pings, two seconds apart
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 9)
	if err := ping(db, b); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func ping(db pinger, b backoff.BackOff) error {
	return backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}, b)
}
