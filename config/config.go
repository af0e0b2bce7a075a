// Package config manages the server configuration. Defaults come from an
// embedded YAML file; UPSRS_* environment variables override individual
// keys at load time.
package config

import (
	_ "embed"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config.default.yaml
var defaultYAML []byte

// Data holds the serialisable configuration.
type Data struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	// ExternalPrefix is prepended to the push-channel path when the service
	// sits behind a path-rewriting proxy; forwarded headers win over it.
	ExternalPrefix string `json:"external_prefix" yaml:"external_prefix"`
	// ServiceName names this origin server in Warning headers.
	ServiceName string `json:"service_name" yaml:"service_name"`
	LogLevel    string `json:"log_level" yaml:"log_level"`
	LogJSON     bool   `json:"log_json"  yaml:"log_json"`

	AuthEnabled bool   `json:"auth_enabled" yaml:"auth_enabled"`
	AuthSecret  string `json:"-" yaml:"-"`

	// PendingQueueCap bounds queued events per offline subscriber; oldest
	// entries are dropped under overflow. Zero means unbounded.
	PendingQueueCap int `json:"pending_queue_cap" yaml:"pending_queue_cap"`

	ReadTimeout string `json:"read_timeout" yaml:"read_timeout"`
	IdleTimeout string `json:"idle_timeout" yaml:"idle_timeout"`
}

// Global is a thread-safe wrapper around Data.
type Global struct {
	mu   sync.RWMutex
	data Data
}

// Load parses the embedded defaults and applies environment overrides.
func Load() (*Global, error) {
	var d Data
	if err := yaml.Unmarshal(defaultYAML, &d); err != nil {
		return nil, err
	}

	envString("UPSRS_LISTEN_ADDR", &d.ListenAddr)
	envString("UPSRS_EXTERNAL_PREFIX", &d.ExternalPrefix)
	envString("UPSRS_SERVICE_NAME", &d.ServiceName)
	envString("UPSRS_LOG_LEVEL", &d.LogLevel)
	envBool("UPSRS_LOG_JSON", &d.LogJSON)
	envBool("UPSRS_AUTH_ENABLED", &d.AuthEnabled)
	envString("UPSRS_AUTH_SECRET", &d.AuthSecret)
	envInt("UPSRS_PENDING_QUEUE_CAP", &d.PendingQueueCap)
	envString("UPSRS_READ_TIMEOUT", &d.ReadTimeout)
	envString("UPSRS_IDLE_TIMEOUT", &d.IdleTimeout)

	return &Global{data: d}, nil
}

// Get returns a copy of the current configuration.
func (g *Global) Get() Data {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data
}

// Set replaces the configuration.
func (g *Global) Set(d Data) {
	g.mu.Lock()
	g.data = d
	g.mu.Unlock()
}

// Duration parses one of the timeout fields, falling back to def.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
