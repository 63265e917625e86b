// Package mqtt provides the bridge's broker session.
//
// This package manages:
//   - Broker resolution before every attempt (static, default gateway, mDNS)
//   - A single reconnect loop with a fixed backoff; paho auto-reconnect is off
//   - The QoS 2 control subscription, re-established on every connect
//   - Publishing with validation and a bounded wait for the broker ack
//   - Last Will and Testament for offline detection
//
// # Connection Loop
//
//	DISCONNECTED -> CONNECTING -> CONNECTED
//	      ^              |             |
//	      +-- backoff ---+-- lost -----+
//
// A failed or timed-out attempt tears down the half-open client with
// Disconnect(0) before sleeping. Cancelling the Run context disconnects
// gracefully.
//
// # Inbound Messages
//
// Paho reads every inbound PUBLISH in full and acknowledges it after the
// handler returns. Payloads larger than the control buffer are discarded
// before the handler sees them.
//
// # Usage
//
//	s, err := mqtt.NewSession(mqtt.SessionOptions{
//	    Config:        cfg.MQTT,
//	    ControlFilter: topics.ControlFilter(),
//	    OnControl:     bridge.Control,
//	    OnConnected:   bridge.PublishStatuses,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go s.Run(ctx)
package mqtt
