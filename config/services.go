package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeWorker runs the background scan worker.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeScheduler runs the tick scheduler.
	ServiceModeScheduler ServiceMode = "scheduler"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeWorker, ServiceModeScheduler}
}

// ParseServices parses a comma-delimited string of service names and
// returns the enabled services, rejecting unknown names.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		switch mode := ServiceMode(name); mode {
		case ServiceModeWorker, ServiceModeScheduler:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: worker, scheduler)", name)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}
	return services, nil
}

// QueueConfig contains job queue configuration.
type QueueConfig struct {
	// ConcurrencyCap is the global cap on simultaneously running scan jobs.
	ConcurrencyCap int `env:"QUEUE_CONCURRENCY_CAP" envDefault:"4"`
}

// Sanitize applies guardrails to queue configuration values. The service
// layer additionally hard-bounds the cap.
func (c *QueueConfig) Sanitize() {
	if c.ConcurrencyCap < 1 {
		c.ConcurrencyCap = 1
	}
}

// WaveConfig contains external scoring API configuration.
type WaveConfig struct {
	// BaseURL is the scoring API endpoint.
	BaseURL string `env:"WAVE_BASE_URL" envDefault:"https://wave.webaim.org/api/request"`
	// DocsURL is the item documentation endpoint; derived from BaseURL
	// when empty.
	DocsURL string `env:"WAVE_DOCS_URL"`
	// Timeout bounds one analyze request.
	Timeout time.Duration `env:"WAVE_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to scoring API configuration values.
func (c *WaveConfig) Sanitize() {
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	c.DocsURL = strings.TrimSpace(c.DocsURL)
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// WorkerConfig contains background worker configuration.
type WorkerConfig struct {
	// TickBatch is how many jobs one queue tick claims per project.
	TickBatch int `env:"WORKER_TICK_BATCH" envDefault:"3"`
	// BackfillBatch is how many element rows one backfill pass updates.
	BackfillBatch int `env:"WORKER_BACKFILL_BATCH" envDefault:"500"`
}

// Sanitize applies guardrails to worker configuration values.
func (c *WorkerConfig) Sanitize() {
	if c.TickBatch < 1 {
		c.TickBatch = 1
	}
	if c.BackfillBatch < 1 {
		c.BackfillBatch = 1
	}
}

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// Interval is the scheduler tick interval.
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"5s"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (c *SchedulerConfig) Sanitize() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
}
