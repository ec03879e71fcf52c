package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"accesswatch"`
	Password string `env:"PASSWORD" envDefault:"accesswatch"`
	Name     string `env:"NAME"     envDefault:"accesswatch"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"`
	// RunMigrationsOnStart controls whether migrations apply during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis connection configuration for the fast cache
// tier and the queue summary cache.
type RedisConfig struct {
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`

	// MetricsTTL is the fast-tier TTL for metrics cache entries.
	MetricsTTL time.Duration `env:"METRICS_TTL" envDefault:"5m"`
	// SummaryTTL is the TTL for the queue summary cache.
	SummaryTTL time.Duration `env:"SUMMARY_TTL" envDefault:"5s"`
}
