// Package config defines the environment-driven application configuration.
// Values are loaded with github.com/caarlos0/env and clamped by Sanitize
// after loading.
package config

import (
	"os"
	"strings"
)

// AppConfig composes the per-domain configuration sections.
type AppConfig struct {
	// IsDev controls development mode behavior (text logs, dev defaults).
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Services is the comma-delimited list of enabled service modes.
	Services string `env:"SERVICES" envDefault:"worker,scheduler"`

	// Domain configuration
	Queue     QueueConfig
	Wave      WaveConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
func (c *AppConfig) Sanitize() {
	c.Queue.Sanitize()
	c.Wave.Sanitize()
	c.Worker.Sanitize()
	c.Scheduler.Sanitize()
	c.Observability.Sanitize()
	c.detectDevMode()
}

func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsWorkerEnabled returns true if the background worker service is enabled.
func (c *AppConfig) IsWorkerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeWorker]
}

// IsSchedulerEnabled returns true if the scheduler service is enabled.
func (c *AppConfig) IsSchedulerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeScheduler]
}
