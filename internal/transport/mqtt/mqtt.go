// Package mqtt implements the MQTT transport for homenlu.
//
// Wall panels and voice satellites publish utterances to the command topic
// (default homenlu/command/<source>). Each payload is either a JSON message
// or the bare utterance. Results are published to the message's reply_to
// topic, or to homenlu/reply/<source> when none is given.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nadzzz/homenlu/internal/config"
	"github.com/nadzzz/homenlu/internal/message"
	"github.com/nadzzz/homenlu/internal/transport"
)

// ReplyTopicPrefix is where results go when a message names no reply topic.
const ReplyTopicPrefix = "homenlu/reply"

const (
	qos            = 1
	publishTimeout = 5 * time.Second
)

// ErrNotConnected is returned by Send before Listen has connected.
var ErrNotConnected = errors.New("mqtt: not connected")

// Transport implements transport.Transport over MQTT.
type Transport struct {
	broker   string
	topic    string
	clientID string

	mu     sync.RWMutex
	client paho.Client
}

// New creates a new MQTT transport.
func New(cfg config.MQTTConfig) *Transport {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "homenlu"
	}
	return &Transport{broker: cfg.Broker, topic: cfg.Topic, clientID: clientID}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "mqtt" }

// Listen connects to the MQTT broker and subscribes to the configured topic.
// The subscription is renewed on every reconnect. It blocks until ctx is done.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(t.broker)
	opts.SetClientID(t.clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(t.topic, qos, func(c paho.Client, m paho.Message) {
			go t.onMessage(ctx, c, handler, m.Topic(), m.Payload())
		})
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			slog.Error("mqtt subscribe failed", "topic", t.topic, "error", token.Error())
			return
		}
		slog.Info("mqtt subscribed", "topic", t.topic)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	slog.Info("mqtt transport listening", "broker", t.broker, "topic", t.topic)
	<-ctx.Done()
	return nil
}

func (t *Transport) onMessage(ctx context.Context, c paho.Client, handler transport.Handler, topic string, payload []byte) {
	replyTopic, reply, err := Process(ctx, handler, topic, payload)
	if err != nil {
		slog.Warn("mqtt message dropped", "topic", topic, "error", err)
		return
	}
	token := c.Publish(replyTopic, qos, false, reply)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		slog.Error("mqtt reply failed", "topic", replyTopic, "error", token.Error())
	}
}

// Process decodes one inbound payload, runs handler and returns the reply
// topic and encoded result.
func Process(ctx context.Context, handler transport.Handler, topic string, payload []byte) (string, []byte, error) {
	var msg message.Message
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return "", nil, fmt.Errorf("decoding message: %w", err)
		}
	} else {
		msg.Text = string(trimmed)
	}
	if msg.Source == "" {
		msg.Source = sourceFromTopic(topic)
	}

	result, err := handler(ctx, &msg)
	if err != nil {
		return "", nil, err
	}
	reply, err := json.Marshal(result)
	if err != nil {
		return "", nil, fmt.Errorf("encoding result: %w", err)
	}
	return ReplyTopic(&msg), reply, nil
}

// ReplyTopic is msg.ReplyTo, or the per-source default.
func ReplyTopic(msg *message.Message) string {
	if msg.ReplyTo != "" {
		return msg.ReplyTo
	}
	if msg.Source == "" {
		return ReplyTopicPrefix
	}
	return ReplyTopicPrefix + "/" + msg.Source
}

// sourceFromTopic takes the last topic level, e.g. "panel-1" from
// "homenlu/command/panel-1".
func sourceFromTopic(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// Send publishes a payload to the topic named by target.Endpoint.
func (t *Transport) Send(ctx context.Context, target message.Target, payload []byte) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := client.Publish(target.Endpoint, qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt send: %w", err)
	}
	slog.Debug("mqtt send success", "topic", target.Endpoint, "bytes", len(payload))
	return nil
}

// Close disconnects from the MQTT broker.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Disconnect(250)
		t.client = nil
	}
	return nil
}
