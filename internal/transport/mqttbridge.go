package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// StatusMirrorConfig configures an optional outbound MQTT status
// mirror: it publishes client.Client connection-status transitions
// (the §6.3 status taxonomy strings) to a broker so external dashboards
// can watch session health without polling the client directly. This
// is never imported by the core packages — it's a separately
// constructed, optional piece of internal/transport.
type StatusMirrorConfig struct {
	Broker      string // e.g. "mqtt://localhost:1883"
	Username    string
	Password    string
	ClientID    string
	StatusTopic string // defaults to "tlcp-client/<ClientID>/status"
}

// StatusMirror publishes status strings to an MQTT broker, reconnecting
// with the teacher's autopaho.ConnectionManager backoff idiom.
type StatusMirror struct {
	cfg    StatusMirrorConfig
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// NewStatusMirror builds a StatusMirror. Call Start to connect.
func NewStatusMirror(cfg StatusMirrorConfig, logger *slog.Logger) *StatusMirror {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StatusTopic == "" {
		cfg.StatusTopic = "tlcp-client/" + cfg.ClientID + "/status"
	}
	return &StatusMirror{cfg: cfg, logger: logger}
}

// Start connects to the broker and blocks until ctx is cancelled,
// retrying the connection in the background on loss.
func (m *StatusMirror) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(m.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker url: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: m.cfg.Username,
		ConnectPassword: []byte(m.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   m.cfg.StatusTopic,
			Payload: []byte("DISCONNECTED"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			m.logger.Info("status mirror connected", "broker", m.cfg.Broker)
		},
		OnConnectError: func(err error) {
			m.logger.Warn("status mirror connect error", "error", err)
		},
		ClientConfig: paho.ClientConfig{ClientID: m.cfg.ClientID},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		m.logger.Warn("status mirror initial connection timed out, retrying in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

// Publish mirrors one status-taxonomy string (§6.3) to the broker.
// A no-op until Start has created the connection manager.
func (m *StatusMirror) Publish(status string) {
	if m.cm == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.cm.Publish(ctx, &paho.Publish{
		Topic:   m.cfg.StatusTopic,
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		m.logger.Debug("status mirror publish failed", "status", status, "error", err)
	}
}

// Stop disconnects from the broker.
func (m *StatusMirror) Stop(ctx context.Context) error {
	if m.cm == nil {
		return nil
	}
	return m.cm.Disconnect(ctx)
}
