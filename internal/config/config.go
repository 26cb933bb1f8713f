// Package config loads the worker's configuration, per spec.md §6.4. The
// teacher's agent decodes a handful of flags manually with envOrDefault;
// this worker's option set is large enough (15+ fields) that hand-rolling
// the same pattern would be pure repetition, so struct fields are decoded
// with github.com/caarlos0/env/v11 instead, with cobra flags layered on
// top the same way cmd/agent/main.go layers flags over envOrDefault
// defaults.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every option spec.md §6.4 recognizes.
type Config struct {
	APIBaseURL string `env:"API_BASE_URL,required"`
	APIKey     string `env:"API_KEY,required"`
	Secret     string `env:"SECRET,required"`

	WorkerResourceURI      string `env:"WORKER_RESOURCE_URI" envDefault:"/api/v1/worker/"`
	RunResourceURI         string `env:"RUN_RESOURCE_URI" envDefault:"/api/v1/run/"`
	RunLogResourceURI      string `env:"RUN_LOG_RESOURCE_URI" envDefault:"/api/v1/run_log/"`
	KillRequestResourceURI string `env:"KILL_REQUEST_RESOURCE_URI" envDefault:"/api/v1/kill_request/"`

	BroadcasterServerHostname string `env:"BROADCASTER_SERVER_HOSTNAME,required"`
	BroadcasterServerPort     int    `env:"BROADCASTER_SERVER_PORT" envDefault:"443"`
	WSServerHostname          string `env:"WS_SERVER_HOSTNAME,required"`
	WSServerPort              int    `env:"WS_SERVER_PORT" envDefault:"443"`

	ConcurrentJobs            int           `env:"CONCURRENT_JOBS" envDefault:"4"`
	ReconnectAfterInactivity  time.Duration `env:"RECONNECT_AFTER_INACTIVITY" envDefault:"600s"`
	ScriptTempPath            string        `env:"SCRIPT_TEMP_PATH" envDefault:"/tmp"`
	MaxLogBytes               int           `env:"MAX_LOG_BYTES" envDefault:"819200"`
	LogLevel                  string        `env:"LOG_LEVEL" envDefault:"info"`

	// MetricsAddr is the ambient addition for the Prometheus /metrics
	// endpoint (SPEC_FULL.md §6.6); empty disables it.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9095"`

	WorkerVersion string `env:"WORKER_VERSION" envDefault:"dev"`
}

// Load decodes a Config from the process environment, applying every
// envDefault and enforcing the required fields.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// BroadcasterURL returns the websocket dial URL for the subscriber socket.
func (c Config) BroadcasterURL() string {
	return fmt.Sprintf("wss://%s:%d/broadcast", c.BroadcasterServerHostname, c.BroadcasterServerPort)
}

// EventsURL returns the websocket dial URL for the publisher socket.
func (c Config) EventsURL() string {
	return fmt.Sprintf("wss://%s:%d/events", c.WSServerHostname, c.WSServerPort)
}
