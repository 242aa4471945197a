// Package config handles client configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/tlcp-client/internal/tlcplog"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from a -config flag) is checked first by FindConfig. Then:
// ./tlcpcli.yaml, ~/.config/tlcpcli/tlcpcli.yaml, /config/tlcpcli.yaml,
// /etc/tlcpcli/tlcpcli.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"tlcpcli.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tlcpcli", "tlcpcli.yaml"))
	}

	paths = append(paths, "/config/tlcpcli.yaml") // container convention
	paths = append(paths, "/etc/tlcpcli/tlcpcli.yaml")
	return paths
}

// searchPathsFunc is DefaultSearchPaths by default; tests override it
// to avoid picking up real config files on the developer's machine.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches searchPathsFunc() and returns the first
// that exists. Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all client configuration.
type Config struct {
	Server     ServerEndpoint     `yaml:"server"`
	Connection ConnectionOptions  `yaml:"connection"`
	MQTT       MQTTMirrorConfig   `yaml:"mqtt_status_mirror"`
	DataDir    string             `yaml:"data_dir"`
	LogLevel   string             `yaml:"log_level"`
}

// ServerEndpoint identifies the TLCP server and, optionally, a second
// endpoint for the control/binding requests when they must not share a
// connection with the streaming transport (§4.5/§6.1).
type ServerEndpoint struct {
	// Address is the push-server URL (e.g. "https://push.example.com").
	Address string `yaml:"address"`
	// ControlAddress overrides the address used for control requests,
	// if the deployment fronts the two with different hostnames.
	ControlAddress string `yaml:"control_address"`
	// AdapterSet selects the server-side adapter set (LS_adapter_set).
	AdapterSet string `yaml:"adapter_set"`
	// User/Password are credentials forwarded on session creation.
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Configured reports whether an Address is present.
func (e ServerEndpoint) Configured() bool {
	return e.Address != ""
}

// ConnectionOptions mirrors the §4.1/§5 client-tunable knobs. The
// client facade reads ForcedTransport, StalledTimeoutMs,
// ReconnectTimeoutMs, SlowingEnabled, HTTPExtraHeaders and
// EnqueueWhileDisconnected; the other fields are loaded (and some
// defaulted) here, but no other package reads them.
type ConnectionOptions struct {
	// ForcedTransport restricts the session to one transport kind
	// ("WS", "HTTP", "WS-STREAMING", "WS-POLLING", "HTTP-STREAMING",
	// "HTTP-POLLING", or "" for no restriction).
	ForcedTransport string `yaml:"forced_transport"`
	// ContentLength caps the HTTP streaming response size before a
	// forced rebind (§4.7).
	ContentLength int64 `yaml:"content_length"`
	// FirstRetryMaxDelayMs bounds the first reconnect delay.
	FirstRetryMaxDelayMs int `yaml:"first_retry_max_delay_ms"`
	// RetryDelayMs is the fixed delay for the first nine retry
	// attempts (§5 default: 4000ms).
	RetryDelayMs int `yaml:"retry_delay_ms"`
	// MaxRetryDelayMs caps exponential growth after the ninth attempt
	// (§5 default: 60000ms).
	MaxRetryDelayMs int `yaml:"max_retry_delay_ms"`
	// SessionRecoveryTimeoutMs bounds how long a recovery attempt may
	// run before falling back to a fresh session (§4.8 default: 15000ms).
	SessionRecoveryTimeoutMs int `yaml:"session_recovery_timeout_ms"`
	// KeepaliveIntervalMs is the requested LS_keepalive_millis.
	KeepaliveIntervalMs int `yaml:"keepalive_interval_ms"`
	// StalledTimeoutMs/ReconnectTimeoutMs tune the stream-session
	// staleness detector (§4.7 defaults: 2000ms/3000ms).
	StalledTimeoutMs    int `yaml:"stalled_timeout_ms"`
	ReconnectTimeoutMs  int `yaml:"reconnect_timeout_ms"`
	// SlowingEnabled turns on the slowing-to-polling heuristic (§4.7).
	SlowingEnabled bool `yaml:"slowing_enabled"`
	// HTTPExtraHeaders/CookieHandlingRequired map directly onto the
	// corresponding ConnectionOptions fields from §4.1.
	HTTPExtraHeaders       map[string]string `yaml:"http_extra_headers"`
	CookieHandlingRequired bool              `yaml:"cookie_handling_required"`
	// ReverseHeartbeatIntervalMs requests a client-initiated reverse
	// heartbeat (§4.1); 0 disables it.
	ReverseHeartbeatIntervalMs int `yaml:"reverse_heartbeat_interval_ms"`
	// RequestLimitBytes caps outgoing control-request batch size
	// (§4.4 "request length limit").
	RequestLimitBytes int `yaml:"request_limit_bytes"`
	// EnqueueWhileDisconnected controls the message manager's offline
	// behavior (§4.10): queue until reconnect, or abort immediately.
	EnqueueWhileDisconnected bool `yaml:"enqueue_while_disconnected"`
}

// MQTTMirrorConfig optionally mirrors connection status to an MQTT
// broker via internal/transport.StatusMirror; entirely optional and
// outside the core session/subscription engine.
type MQTTMirrorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

// RetryDelay returns the configured fixed retry delay, or the §5
// default of 4000ms if unset.
func (o ConnectionOptions) RetryDelay() time.Duration {
	if o.RetryDelayMs <= 0 {
		return 4000 * time.Millisecond
	}
	return time.Duration(o.RetryDelayMs) * time.Millisecond
}

// MaxRetryDelay returns the configured retry ceiling, or the §5
// default of 60000ms if unset.
func (o ConnectionOptions) MaxRetryDelay() time.Duration {
	if o.MaxRetryDelayMs <= 0 {
		return 60000 * time.Millisecond
	}
	return time.Duration(o.MaxRetryDelayMs) * time.Millisecond
}

// SessionRecoveryTimeout returns the configured recovery window, or
// the §4.8 default of 15000ms if unset.
func (o ConnectionOptions) SessionRecoveryTimeout() time.Duration {
	if o.SessionRecoveryTimeoutMs <= 0 {
		return 15000 * time.Millisecond
	}
	return time.Duration(o.SessionRecoveryTimeoutMs) * time.Millisecond
}

// StalledTimeout returns the configured stall detector timeout, or the
// §4.7 default of 2000ms if unset.
func (o ConnectionOptions) StalledTimeout() time.Duration {
	if o.StalledTimeoutMs <= 0 {
		return 2000 * time.Millisecond
	}
	return time.Duration(o.StalledTimeoutMs) * time.Millisecond
}

// ReconnectTimeout returns the configured post-stall reconnect timeout,
// or the §4.7 default of 3000ms if unset.
func (o ConnectionOptions) ReconnectTimeout() time.Duration {
	if o.ReconnectTimeoutMs <= 0 {
		return 3000 * time.Millisecond
	}
	return time.Duration(o.ReconnectTimeoutMs) * time.Millisecond
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${TLCP_PASSWORD}). A
	// convenience for container deployments; putting values directly
	// in the config file remains the recommended approach.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Connection.RetryDelayMs == 0 {
		c.Connection.RetryDelayMs = 4000
	}
	if c.Connection.MaxRetryDelayMs == 0 {
		c.Connection.MaxRetryDelayMs = 60000
	}
	if c.Connection.SessionRecoveryTimeoutMs == 0 {
		c.Connection.SessionRecoveryTimeoutMs = 15000
	}
	if c.Connection.StalledTimeoutMs == 0 {
		c.Connection.StalledTimeoutMs = 2000
	}
	if c.Connection.ReconnectTimeoutMs == 0 {
		c.Connection.ReconnectTimeoutMs = 3000
	}
	if c.Connection.RequestLimitBytes == 0 {
		c.Connection.RequestLimitBytes = 4 * 1024 * 1024
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "tlcp-client"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if !c.Server.Configured() {
		return fmt.Errorf("server.address must be set")
	}
	switch c.Connection.ForcedTransport {
	case "", "WS", "HTTP", "WS-STREAMING", "WS-POLLING", "HTTP-STREAMING", "HTTP-POLLING":
	default:
		return fmt.Errorf("connection.forced_transport %q is not a recognized transport", c.Connection.ForcedTransport)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt_status_mirror.broker must be set when enabled")
	}
	if c.LogLevel != "" {
		if _, err := tlcplog.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for pointing at a
// local development TLCP server. All defaults are already applied.
func Default() *Config {
	cfg := &Config{
		Server: ServerEndpoint{
			Address: "http://localhost:8080",
		},
		Connection: ConnectionOptions{
			SlowingEnabled: true,
		},
	}
	cfg.applyDefaults()
	return cfg
}
