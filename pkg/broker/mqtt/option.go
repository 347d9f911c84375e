package mqtt

import (
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Option configures an MQTTBroker.
type Option func(m *MQTTBroker) error

// WithURL returns an Option which set the broker url.
func WithURL(u string) Option {
	return func(m *MQTTBroker) error {
		if u == "" {
			return errors.New("empty broker url")
		}
		uri, err := url.Parse(u)
		if err != nil {
			return err
		}
		m.uri = uri
		return nil
	}
}

// WithClientID returns an Option which set the broker client id.
func WithClientID(id string) Option {
	return func(m *MQTTBroker) error {
		m.clientID = id
		return nil
	}
}

// WithLogger returns an Option which set the logger for the broker.
func WithLogger(logger *zap.Logger) Option {
	return func(m *MQTTBroker) error {
		m.logger = logger
		return nil
	}
}

// WithQoS returns an Option which set the quality of service for publish and
// subscribe.
func WithQoS(qos byte) Option {
	return func(m *MQTTBroker) error {
		if qos > 2 {
			return errors.New("qos must be 0, 1 or 2")
		}
		m.qos = qos
		return nil
	}
}

// WithTimeouts returns an Option which bounds how long Connect and every other
// broker round trip may take.
func WithTimeouts(connect, token time.Duration) Option {
	return func(m *MQTTBroker) error {
		if connect <= 0 || token <= 0 {
			return errors.New("broker timeouts must be positive")
		}
		m.connectTimeout = connect
		m.tokenTimeout = token
		return nil
	}
}
