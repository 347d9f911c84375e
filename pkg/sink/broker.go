package sink

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/broker"
)

// Broker publishes sink events as broker messages on a single topic.
type Broker struct {
	b      broker.Broker
	topic  string
	source string
	logger *zap.Logger
}

// NewBroker creates a Broker sink. source identifies the agent in every message.
func NewBroker(b broker.Broker, topic, source string, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{b: b, topic: topic, source: source, logger: logger}
}

func (s *Broker) ReportProgress(percent float64, eta time.Duration) {
	s.publish(broker.Message{
		EventType: broker.BackupProgress,
		MachineID: s.source,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Percent:   percent,
		ETA:       eta.Round(time.Second).String(),
	})
}

func (s *Broker) AppendLog(line string) {
	s.publish(broker.Message{
		EventType: broker.BackupLog,
		MachineID: s.source,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Line:      line,
	})
}

func (s *Broker) publish(msg broker.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to encode broker message", zap.Error(err))
		return
	}
	if err := s.b.Publish(s.topic, payload); err != nil {
		s.logger.Warn("failed to publish backup event", zap.String("topic", s.topic), zap.Error(err))
	}
}
