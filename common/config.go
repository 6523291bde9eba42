// Copyright 2021-2022 The adstudio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"time"

	"github.com/spf13/viper"
)

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
//
// NATS is only used to relay realtime events between server instances.
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
	// EventSubject is the NATS subject realtime events are relayed on
	EventSubject string `mapstructure:"event_subject" json:"event_subject" validate:"required"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	//
	// The event stream is long lived, so this should stay at zero.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPCORSConfig defines the CORS policy
type HTTPCORSConfig struct {
	// AllowedOrigins is the list of origins allowed to call the API
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins" validate:"required,min=1"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
	// CORS defines the cross origin policy
	CORS HTTPCORSConfig `mapstructure:"cors" json:"cors" validate:"required,dive"`
}

// APIEndpointConfig defines API endpoint config
type APIEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// APIServerConfig defines configuration for the API server
type APIServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters
	Endpoints APIEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
}

// ===============================================================================
// Storage Related Config

// StorageConfig defines the document store parameters
type StorageConfig struct {
	// SQLitePath is the database file. ":memory:" keeps everything in process.
	SQLitePath string `mapstructure:"sqlite_path" json:"sqlite_path" validate:"required"`
	// BusyTimeout is the SQLite busy wait in milliseconds
	BusyTimeout int `mapstructure:"busy_timeout_ms" json:"busy_timeout_ms" validate:"gte=0"`
	// DefaultListLimit is the max number of documents returned by a list call
	DefaultListLimit int `mapstructure:"default_list_limit" json:"default_list_limit" validate:"gte=1"`
}

// ===============================================================================
// Realtime Related Config

// RealtimeConfig defines the event stream parameters
type RealtimeConfig struct {
	// HeartbeatInterval is the idle duration before a ping frame is sent, in seconds
	HeartbeatInterval int `mapstructure:"heartbeat_interval_sec" json:"heartbeat_interval_sec" validate:"gte=1"`
	// EventBuffer is the size of the broadcaster's intake queue
	EventBuffer int `mapstructure:"event_buffer" json:"event_buffer" validate:"gte=1"`
	// MaxSubscribers caps the concurrent stream connections. 0 is unlimited.
	MaxSubscribers int `mapstructure:"max_subscribers" json:"max_subscribers" validate:"gte=0"`
	// IdleEviction is how long a subscriber may go without draining its queue before it
	// is evicted, in seconds. 0 disables eviction.
	IdleEviction int `mapstructure:"idle_eviction_sec" json:"idle_eviction_sec" validate:"gte=0"`
	// ConnectRate is the sustained number of new stream connections accepted per second
	ConnectRate float64 `mapstructure:"connect_rate_per_sec" json:"connect_rate_per_sec" validate:"gt=0"`
	// ConnectBurst is the connect limiter burst size
	ConnectBurst int `mapstructure:"connect_burst" json:"connect_burst" validate:"gte=1"`
	// TypingTTL is how long a typing indicator stays valid, in seconds
	TypingTTL int `mapstructure:"typing_ttl_sec" json:"typing_ttl_sec" validate:"gte=1"`
}

// HeartbeatDuration helper to get the heartbeat interval as time.Duration
func (c RealtimeConfig) HeartbeatDuration() time.Duration {
	return time.Second * time.Duration(c.HeartbeatInterval)
}

// IdleEvictionDuration helper to get the idle eviction window as time.Duration
func (c RealtimeConfig) IdleEvictionDuration() time.Duration {
	return time.Second * time.Duration(c.IdleEviction)
}

// TypingTTLDuration helper to get the typing TTL as time.Duration
func (c RealtimeConfig) TypingTTLDuration() time.Duration {
	return time.Second * time.Duration(c.TypingTTL)
}

// ===============================================================================
// Metrics Related Config

// MetricsConfig defines the Prometheus metrics parameters
type MetricsConfig struct {
	// Enabled whether to expose the metrics end-point
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Path is the metrics end-point path
	Path string `mapstructure:"path" json:"path" validate:"required"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config
type SystemConfig struct {
	// NATS are the NATS related config parameters. Leave unset to run a single instance.
	NATS *NATSConfig `mapstructure:"nats,omitempty" json:"nats,omitempty" validate:"omitempty,dive"`
	// Storage are the document store configs
	Storage StorageConfig `mapstructure:"storage" json:"storage" validate:"required,dive"`
	// Realtime are the event stream configs
	Realtime RealtimeConfig `mapstructure:"realtime" json:"realtime" validate:"required,dive"`
	// Metrics are the metrics configs
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics" validate:"required,dive"`
	// API are the API server configs
	API APIServerConfig `mapstructure:"api" json:"api" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default storage settings
	viper.SetDefault("storage.sqlite_path", "adstudio.db")
	viper.SetDefault("storage.busy_timeout_ms", 5000)
	viper.SetDefault("storage.default_list_limit", 100)

	// Default realtime settings
	viper.SetDefault("realtime.heartbeat_interval_sec", 15)
	viper.SetDefault("realtime.event_buffer", 1024)
	viper.SetDefault("realtime.max_subscribers", 1000)
	viper.SetDefault("realtime.idle_eviction_sec", 120)
	viper.SetDefault("realtime.connect_rate_per_sec", 20)
	viper.SetDefault("realtime.connect_burst", 40)
	viper.SetDefault("realtime.typing_ttl_sec", 6)

	// Default metrics settings
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Default API server settings
	viper.SetDefault("api.endpoint_config.path_prefix", "/")
	viper.SetDefault("api.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api.api_server.server_config.listen_port", 8000)
	viper.SetDefault("api.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("api.api_server.server_config.write_timeout_sec", 0)
	viper.SetDefault("api.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"api.api_server.logging_config.request_id_header", "Adstudio-Request-ID",
	)
	viper.SetDefault(
		"api.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
	viper.SetDefault("api.api_server.cors.allowed_origins", []string{"*"})
}

// InstallDefaultNATSConfigValues installs default NATS relay parameters in viper
//
// Only called when the relay is requested, since the NATS section being present is what
// enables the relay.
func InstallDefaultNATSConfigValues() {
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)
	viper.SetDefault("nats.event_subject", "adstudio.events")
}
