package server

import (
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/broker"
)

type Option func(s *Server) error

// WithAddr returns an Option which set the server listening address.
func WithAddr(addr string) Option {
	return func(s *Server) error {
		s.Addr = addr
		return nil
	}
}

// WithBroker returns an Option which set the server broker for async messaging.
func WithBroker(b broker.Broker) Option {
	return func(s *Server) error {
		s.b = b
		return nil
	}
}

// WithSubscribeTopics returns an Option which set the subscribeTopics that server broker will subscribe to.
func WithSubscribeTopics(topics ...string) Option {
	return func(s *Server) error {
		s.subscribeTopics = topics
		return nil
	}
}

// WithPublishTopic returns an Option which set the topic that server broker will publish status events to.
func WithPublishTopic(topic string) Option {
	return func(s *Server) error {
		s.publishTopic = topic
		return nil
	}
}

// WithMachineID returns an Option which set the agent identity sent in published events.
func WithMachineID(id string) Option {
	return func(s *Server) error {
		s.machineID = id
		return nil
	}
}

// WithScheduler returns an Option which set the scheduler the server controls.
func WithScheduler(sched Scheduler) Option {
	return func(s *Server) error {
		s.scheduler = sched
		return nil
	}
}

// WithLogSource returns an Option which set where GET /logs reads recent lines from.
func WithLogSource(src LogSource) Option {
	return func(s *Server) error {
		s.logs = src
		return nil
	}
}

// WithLogger returns an Option which set the logger for Server.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}
