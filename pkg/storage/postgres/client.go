package postgres

import (
	"context"
	"fmt"

	"eddnlistener/config"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Client struct {
	DB *gorm.DB
}

func NewClient(dsn string) (*Client, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &Client{DB: db}, nil
}

// InitializeAndMigrate connects to Postgres, optionally creates the DB,
// and migrates the market tables.
func InitializeAndMigrate(cfg config.PostgresConfig, env string, createDB bool) (*Client, error) {
	if createDB {
		if err := CreateDatabase(cfg, env); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	client, err := NewClient(cfg.DSN(env))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

func (c *Client) AutoMigrate() error {
	if err := c.DB.AutoMigrate(&Item{}, &System{}, &Station{}, &StationItem{}); err != nil {
		return fmt.Errorf("auto-migrate market tables: %w", err)
	}
	return nil
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	db, err := c.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (c *Client) Close() error {
	db, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
