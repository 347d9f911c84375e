package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/broker"
)

const (
	defaultTopic          = "agent/default"
	disconnectQuiesceMs   = 250
	defaultTokenTimeout   = 3 * time.Second
	defaultConnectTimeout = 30 * time.Second
)

var _ broker.Broker = (*MQTTBroker)(nil)

var (
	ErrNoConnection = errors.New("no connection to broker server")
	ErrTimeout      = errors.New("timed out waiting for broker")
)

// CommandTopics returns the topics an agent receives schedule commands on: the
// fleet wide topic and its own.
func CommandTopics(clientID string) []string {
	return []string{defaultTopic, "agent/" + clientID}
}

// EventsTopic is the topic an agent publishes its backup events on.
func EventsTopic(clientID string) string {
	return "agent/" + clientID + "/events"
}

// offlineStatus is published by the broker on the agent's behalf when its
// connection drops.
func offlineStatus(clientID string) string {
	buf, _ := json.Marshal(broker.Message{
		EventType: broker.BackupStatus,
		MachineID: clientID,
		State:     "offline",
	})
	return string(buf)
}

// MQTTBroker carries backup commands and events over MQTT.
type MQTTBroker struct {
	uri            *url.URL
	clientID       string
	qos            byte
	tokenTimeout   time.Duration
	connectTimeout time.Duration
	logger         *zap.Logger

	mu     sync.Mutex
	client mqtt.Client

	// resubscribed on every (re)connect
	subscribeTopics  []string
	subscribeHandler broker.Handler
}

// NewBroker creates new mqtt broker.
func NewBroker(opts ...Option) (*MQTTBroker, error) {
	m := &MQTTBroker{
		qos:            1,
		tokenTimeout:   defaultTokenTimeout,
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.uri == nil {
		return nil, errors.New("missing broker url")
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m, nil
}

func (m *MQTTBroker) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + m.uri.Host)
	if m.uri.User != nil {
		opts.SetUsername(m.uri.User.Username())
		if p, ok := m.uri.User.Password(); ok {
			opts.SetPassword(p)
		}
	}
	opts.SetClientID(m.clientID)
	opts.SetCleanSession(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(m.connectTimeout)

	opts.OnConnect = func(client mqtt.Client) {
		m.logger.Info("Connected to broker", zap.String("broker", m.uri.Host))
		topics, h := m.subscription()
		if h == nil || len(topics) == 0 {
			return
		}
		if err := m.subscribe(client, topics, h); err != nil {
			m.logger.Error("Resubscribe to command topics failed", zap.Error(err), zap.Strings("topics", topics))
			return
		}
		m.logger.Debug("Subscribed to command topics", zap.Strings("topics", topics))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		m.logger.Error("Connection lost with broker", zap.Error(err))
	}
	opts.OnReconnecting = func(client mqtt.Client, opts *mqtt.ClientOptions) {
		m.logger.Warn("Reconnecting to broker")
	}

	opts.SetWill(EventsTopic(m.clientID), offlineStatus(m.clientID), 0, false)
	return opts
}

func (m *MQTTBroker) subscription() ([]string, broker.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribeTopics, m.subscribeHandler
}

func (m *MQTTBroker) wait(t mqtt.Token, d time.Duration) error {
	if !t.WaitTimeout(d) {
		return ErrTimeout
	}
	return t.Error()
}

// ConnectAndSubscribe records the command subscription so it is restored on every
// reconnect, then connects.
func (m *MQTTBroker) ConnectAndSubscribe(subHandler broker.Handler, subTopics []string) error {
	m.mu.Lock()
	m.subscribeHandler = subHandler
	m.subscribeTopics = subTopics
	m.mu.Unlock()

	return m.Connect()
}

func (m *MQTTBroker) Connect() error {
	client := mqtt.NewClient(m.clientOptions())
	if err := m.wait(client.Connect(), m.connectTimeout); err != nil {
		return err
	}
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	return nil
}

func (m *MQTTBroker) Disconnect() error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()
	if client == nil {
		return ErrNoConnection
	}
	client.Disconnect(disconnectQuiesceMs)
	return nil
}

func (m *MQTTBroker) connected() (mqtt.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil, ErrNoConnection
	}
	return m.client, nil
}

// Publish sends payload to topic. Byte slices and strings are sent as is, any
// other value is encoded as JSON.
func (m *MQTTBroker) Publish(topic string, payload interface{}) error {
	client, err := m.connected()
	if err != nil {
		return err
	}
	switch payload.(type) {
	case []byte, string:
	default:
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload for %s: %w", topic, err)
		}
		payload = buf
	}
	return m.wait(client.Publish(topic, m.qos, false, payload), m.tokenTimeout)
}

func (m *MQTTBroker) Subscribe(topics []string, h broker.Handler) error {
	client, err := m.connected()
	if err != nil {
		return err
	}
	return m.subscribe(client, topics, h)
}

func (m *MQTTBroker) subscribe(client mqtt.Client, topics []string, h broker.Handler) error {
	if len(topics) == 0 {
		return errors.New("no topics provided")
	}
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = m.qos
	}

	token := client.SubscribeMultiple(filters, func(client mqtt.Client, msg mqtt.Message) {
		if err := h(broker.Event{
			Topic:     msg.Topic(),
			Payload:   msg.Payload(),
			Duplicate: msg.Duplicate(),
			Qos:       msg.Qos(),
			Retained:  msg.Retained(),
			Ack:       msg.Ack,
		}); err != nil {
			m.logger.Error("Handle broker event failed", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	return m.wait(token, m.tokenTimeout)
}

func (m *MQTTBroker) String() string {
	return fmt.Sprintf("Broker [%s]", m.clientID)
}
