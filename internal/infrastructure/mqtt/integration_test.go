//go:build integration

package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_PublishSubscribe(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "fluxquery-integration-test"

	client, err := Connect(context.Background(), cfg, NewTopics("fluxquery-test"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var (
		mu       sync.Mutex
		received []string
		done     = make(chan struct{})
	)
	topics := client.Topics()
	err = client.Subscribe(topics.AllRecords(), 1, func(topic string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, topic+"="+string(payload))
		if len(received) == 2 {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for i := range 2 {
		if err := client.Publish(topics.Records(i), []byte(`{"_value":1}`), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("received %d messages, want 2", len(received))
	}
}
