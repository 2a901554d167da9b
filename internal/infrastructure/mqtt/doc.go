// Package mqtt provides the bridge's MQTT connectivity.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with payload and topic validation
//   - Subscriptions that are restored after a reconnect
//   - Availability via Last Will ("offline") and an "online" publish on connect
//   - Topic builders for the Home Assistant discovery tree
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllLightCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return bridge.HandleCommand(topic, payload)
//	    })
package mqtt
