package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// PostgresConfig defines the configuration for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds a connection string. In the "prod" environment the host and
// credentials come from the SSM parameter store instead of the config file.
func (cfg *PostgresConfig) DSN(env string) string {
	host, user, password := cfg.Host, cfg.User, cfg.Password
	if env == "prod" {
		host = getParameterStoreValue("EDDN_LISTENER_DB_HOST", true)
		user = getParameterStoreValue("EDDN_LISTENER_DB_USER", true)
		password = getParameterStoreValue("EDDN_LISTENER_DB_PASSWORD", true)
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, cfg.Port, user, password, cfg.DBName, cfg.SSLMode,
	)
	if cfg.TimeZone != "" {
		dsn += fmt.Sprintf(" TimeZone=%s", cfg.TimeZone)
	}
	return dsn
}

func getParameterStoreValue(parameterName string, decrypt bool) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return ""
	}

	client := ssm.NewFromConfig(cfg)

	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &parameterName,
		WithDecryption: &decrypt,
	})
	if err != nil || result.Parameter == nil || result.Parameter.Value == nil {
		return ""
	}

	return *result.Parameter.Value
}
