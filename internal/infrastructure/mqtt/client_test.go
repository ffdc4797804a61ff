package mqtt

import (
	"context"
	"errors"
	"net"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/nerrad567/fluxquery/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "fluxquery-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
			MaxAttempts:  1,
		},
	}
}

// disconnectedClient returns a client whose paho client never connected.
func disconnectedClient() *Client {
	return &Client{
		client:        pahomqtt.NewClient(pahomqtt.NewClientOptions()),
		cfg:           testConfig(),
		topics:        NewTopics(""),
		subscriptions: make(map[string]subscription),
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := Connect(context.Background(), cfg, NewTopics("")); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := testConfig()
	cfg.Broker.Port = port

	_, err = Connect(context.Background(), cfg, NewTopics(""))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := disconnectedClient()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestPublish_Validation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 0, ErrInvalidTopic},
		{"bad qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"too large", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "a/b", []byte("x"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := disconnectedClient()
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{"empty topic", "", 0, noop, ErrInvalidTopic},
		{"bad qos", "a/#", 5, noop, ErrInvalidQoS},
		{"nil handler", "a/#", 1, nil, ErrSubscribeFailed},
		{"not connected", "a/#", 1, noop, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Subscribe(tt.topic, tt.qos, tt.handler); !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
		})
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	cfg.Auth.Username = "relay"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:8883", opts.Servers)
	}
	if opts.ClientID != "fluxquery-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "relay" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("AutoReconnect and CleanSession should be enabled")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()
	configureLWT(opts, NewTopics("lab"), "fq-1")

	if !opts.WillEnabled || opts.WillTopic != "lab/system/status" || !opts.WillRetained {
		t.Fatalf("will = enabled %v topic %q retained %v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var msg StatusMessage
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if msg.Status != StatusOffline || msg.ClientID != "fq-1" || msg.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", msg)
	}
}
