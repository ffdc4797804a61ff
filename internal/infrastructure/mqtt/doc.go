// Package mqtt provides the MQTT client used to relay Flux query results.
//
// This package manages:
//   - Connection to the broker with bounded retries and auto-reconnect
//   - Publishing with QoS and payload size checks
//   - Subscriptions restored after reconnect
//   - Last Will and Testament on {prefix}/system/status
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.Relay.TopicPrefix)
//	client, err := mqtt.Connect(ctx, cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(topics.Records(0), payload, client.QoS(), false)
//
// # Security Considerations
//
//   - Use TLS outside local development (cfg.Broker.TLS=true)
//   - Payloads are not encrypted beyond TLS transport
package mqtt
