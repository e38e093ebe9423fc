// Package mqtt connects hwsim to an MQTT broker.
//
// It wraps paho.mqtt.golang with the pieces the simulator's MQTT transport
// needs: a connect that honours a context, subscriptions that survive
// reconnects, handler panic recovery, and a retained status topic with a
// Last Will so subscribers see the simulator go offline when it crashes.
//
// # Topics
//
//	hwsim/request/{identity}   requests from a client
//	hwsim/reply/{identity}     replies to that client
//	hwsim/system/status        retained {"status":"online"|"offline",...}
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllRequests(), handler)
package mqtt
