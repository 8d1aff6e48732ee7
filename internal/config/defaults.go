package config

import "time"

// Default agent settings applied when the config file leaves a field unset.
const (
	DefaultPath            = "/etc/speculare/client.yaml"
	DefaultHarvestInterval = 1  // seconds between samples
	DefaultSyncingInterval = 1  // harvest ticks between flush attempts
	DefaultLoadavgInterval = 5  // harvest ticks between load average refreshes
	DefaultCacheSize       = 16 // minimum cache capacity
	DefaultSendTimeout     = 5 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
)

// HTTP client timeouts for the delivery transport.
const (
	HTTPConnectTimeout        = 5 * time.Second
	HTTPTLSHandshakeTimeout   = 5 * time.Second
	HTTPResponseHeaderTimeout = 5 * time.Second
	HTTPIdleConnTimeout       = 90 * time.Second
	HTTPKeepAlive             = 30 * time.Second
)

// Environment variables that override values from the config file.
const (
	EnvAPIURL   = "SPECULARE_API_URL"
	EnvAPIToken = "SPECULARE_API_TOKEN"
	EnvSSOURL   = "SPECULARE_SSO_URL"
)
