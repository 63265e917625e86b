package mqtt

// Maximum payload size for outbound MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// PublishRetained publishes a retained message with the configured default QoS.
//
// Use for state updates where new subscribers should receive the current state.
func (s *Session) PublishRetained(topic string, payload []byte) error {
	return s.Publish(topic, payload, byte(s.cfg.QoS), true)
}
