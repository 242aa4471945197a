package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindConfigExplicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("server:\n  address: https://push.example.com\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/tlcpcli.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfigSearchPathNotFound(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "tlcpcli.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfigCWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tlcpcli.yaml")
	os.WriteFile(path, []byte("server:\n  address: https://push.example.com\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "tlcpcli.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "tlcpcli.yaml")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tlcpcli.yaml")
	os.WriteFile(path, []byte("server:\n  address: https://push.example.com\n  password: ${TLCP_TEST_PASSWORD}\n"), 0600)
	os.Setenv("TLCP_TEST_PASSWORD", "secret123")
	defer os.Unsetenv("TLCP_TEST_PASSWORD")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Password != "secret123" {
		t.Errorf("password = %q, want %q", cfg.Server.Password, "secret123")
	}
}

func TestLoadRequiresServerAddress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tlcpcli.yaml")
	os.WriteFile(path, []byte("log_level: info\n"), 0600)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for missing server.address")
	}
}

func TestApplyDefaultsConnectionTimeouts(t *testing.T) {
	cfg := Default()
	if cfg.Connection.RetryDelay() != 4*time.Second {
		t.Errorf("RetryDelay = %v, want 4s", cfg.Connection.RetryDelay())
	}
	if cfg.Connection.MaxRetryDelay() != 60*time.Second {
		t.Errorf("MaxRetryDelay = %v, want 60s", cfg.Connection.MaxRetryDelay())
	}
	if cfg.Connection.SessionRecoveryTimeout() != 15*time.Second {
		t.Errorf("SessionRecoveryTimeout = %v, want 15s", cfg.Connection.SessionRecoveryTimeout())
	}
	if cfg.Connection.StalledTimeout() != 2*time.Second {
		t.Errorf("StalledTimeout = %v, want 2s", cfg.Connection.StalledTimeout())
	}
	if cfg.Connection.ReconnectTimeout() != 3*time.Second {
		t.Errorf("ReconnectTimeout = %v, want 3s", cfg.Connection.ReconnectTimeout())
	}
}

func TestValidateRejectsUnknownForcedTransport(t *testing.T) {
	cfg := Default()
	cfg.Connection.ForcedTransport = "CARRIER-PIGEON"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unrecognized forced_transport")
	}
}

func TestValidateAcceptsKnownForcedTransports(t *testing.T) {
	for _, tr := range []string{"", "WS", "HTTP", "WS-STREAMING", "WS-POLLING", "HTTP-STREAMING", "HTTP-POLLING"} {
		cfg := Default()
		cfg.Connection.ForcedTransport = tr
		if err := cfg.Validate(); err != nil {
			t.Errorf("forced_transport %q: unexpected validation error: %v", tr, err)
		}
	}
}

func TestValidateMQTTMirrorRequiresBrokerWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.MQTT = MQTTMirrorConfig{Enabled: true}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for enabled mirror with no broker")
	}
}

func TestServerEndpointConfigured(t *testing.T) {
	if (ServerEndpoint{}).Configured() {
		t.Error("empty endpoint should not be configured")
	}
	if !(ServerEndpoint{Address: "https://push.example.com"}).Configured() {
		t.Error("endpoint with an address should be configured")
	}
}
