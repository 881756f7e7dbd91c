package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mastergate/mastergate-go/pkg/config"
	"github.com/mastergate/mastergate-go/pkg/master"
)

// connectTimeout bounds the initial MQTT broker connection.
const connectTimeout = 10 * time.Second

// eventBridge republishes Master events on MQTT so home automation
// consumers see input and output changes without polling.
type eventBridge struct {
	client paho.Client
	prefix string
	comm   *master.Communicator
}

func newEventBridge(cfg config.MQTTConfig, comm *master.Communicator) (*eventBridge, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}

	return &eventBridge{
		client: client,
		prefix: cfg.TopicPrefix,
		comm:   comm,
	}, nil
}

// Run forwards events until ctx is done or the subscription closes.
func (b *eventBridge) Run(ctx context.Context) {
	sub := b.comm.Subscribe()
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			b.publish(ev)
		}
	}
}

// Close disconnects from the broker.
func (b *eventBridge) Close() {
	b.client.Disconnect(250)
}

func (b *eventBridge) publish(ev master.Event) {
	topic, payload := b.render(ev)
	token := b.client.Publish(topic, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			slog.Warn("mqtt publish failed", "topic", topic, "error", err)
		}
	}()
}

// render maps an event to its topic and JSON payload.
func (b *eventBridge) render(ev master.Event) (string, []byte) {
	switch ev.Opcode {
	case master.OpInputChange:
		if len(ev.Payload) >= 2 {
			return b.topic("input"), mustJSON(map[string]any{
				"input":  ev.Payload[0],
				"status": ev.Payload[1],
				"time":   ev.Time.Format(time.RFC3339),
			})
		}
	case master.OpOutputChange:
		if len(ev.Payload) >= 3 {
			return b.topic("output"), mustJSON(map[string]any{
				"output": ev.Payload[0],
				"status": ev.Payload[1],
				"dimmer": ev.Payload[2],
				"time":   ev.Time.Format(time.RFC3339),
			})
		}
	case master.OpModuleInit:
		return b.topic("module"), mustJSON(map[string]any{
			"payload": hex.EncodeToString(ev.Payload),
			"time":    ev.Time.Format(time.RFC3339),
		})
	}
	return b.topic("raw"), mustJSON(map[string]any{
		"opcode":  ev.Opcode,
		"payload": hex.EncodeToString(ev.Payload),
		"time":    ev.Time.Format(time.RFC3339),
	})
}

func (b *eventBridge) topic(kind string) string {
	return b.prefix + "/events/" + kind
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
