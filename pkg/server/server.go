package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/valve"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/broker"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/schedule"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/scheduler"
)

const shutdownTimeout = 20 * time.Second

// Scheduler is the backup scheduler controlled by the server.
type Scheduler interface {
	StartBackup(source, destination string, frequency int, unit schedule.TimeUnit) (*schedule.BackupSchedule, error)
	StopBackup() error
	RunNow() (string, error)
	Status() scheduler.Status
}

// LogSource serves the most recent run log lines.
type LogSource interface {
	Lines(limit int) []string
}

// Server defines parameters for running BizFly Folder Backup HTTP server.
type Server struct {
	Addr            string
	router          *chi.Mux
	b               broker.Broker
	subscribeTopics []string
	publishTopic    string
	machineID       string
	useUnixSock     bool
	scheduler       Scheduler
	logs            LogSource

	// signal chan use for testing.
	testSignalCh chan os.Signal

	logger *zap.Logger
}

// New creates new server instance.
func New(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.scheduler == nil {
		return nil, errors.New("server: scheduler is required")
	}

	s.router = chi.NewRouter()

	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}

	s.setupRoutes()
	s.useUnixSock = strings.HasPrefix(s.Addr, "unix://")
	s.Addr = strings.TrimPrefix(s.Addr, "unix://")

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.lever)
	s.router.Get("/status", s.Status)
	s.router.Route("/schedule", func(r chi.Router) {
		r.Post("/", s.StartBackup)
		r.Delete("/", s.StopBackup)
	})
	s.router.Post("/run", s.RunNow)
	s.router.Get("/logs", s.Logs)
}

// Handler returns the HTTP handler of the agent API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleBrokerEvent(e broker.Event) error {
	msg, err := e.Message()
	if err != nil {
		return err
	}
	s.logger.Debug("Got broker event", zap.String("event_type", msg.EventType))
	switch msg.EventType {
	case broker.BackupStart:
		unit, err := schedule.ParseTimeUnit(msg.TimeUnit)
		if err != nil {
			return err
		}
		if _, err := s.scheduler.StartBackup(msg.SourcePath, msg.DestinationPath, msg.Frequency, unit); err != nil {
			return err
		}
	case broker.BackupStop:
		if err := s.scheduler.StopBackup(); err != nil {
			return err
		}
	case broker.BackupRunNow:
		if _, err := s.scheduler.RunNow(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("Event %s: %w", msg.EventType, broker.ErrUnknownEventType)
	}
	s.PublishStatus()
	return nil
}

// PublishStatus sends the scheduler status on the publish topic. It is a no-op
// without a broker.
func (s *Server) PublishStatus() {
	if s.b == nil || s.publishTopic == "" {
		return
	}
	st := s.scheduler.Status()
	msg := broker.Message{
		EventType: broker.BackupStatus,
		MachineID: s.machineID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		State:     string(st.State),
		Percent:   st.Percent,
	}
	if st.NextRunAt != nil {
		msg.NextRunAt = st.NextRunAt.UTC().Format(time.RFC3339)
	}
	if st.Schedule != nil {
		msg.SourcePath = st.Schedule.SourcePath
		msg.DestinationPath = st.Schedule.DestinationPath
		msg.Frequency = st.Schedule.Frequency
		msg.TimeUnit = string(st.Schedule.TimeUnit)
	}
	if st.LastRun != nil {
		msg.Error = st.LastRun.Error
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to encode status", zap.Error(err))
		return
	}
	if err := s.b.Publish(s.publishTopic, payload); err != nil {
		s.logger.Warn("failed to publish status", zap.Error(err))
	}
}

// subscribe connects the broker and subscribes to the control topics, retrying with
// jittered backoff until it succeeds or ctx is done.
func (s *Server) subscribe(ctx context.Context) {
	if s.b == nil || len(s.subscribeTopics) == 0 {
		return
	}
	b := &backoff.Backoff{Jitter: true, Max: time.Minute}
	for {
		err := s.b.ConnectAndSubscribe(s.handleBrokerEvent, s.subscribeTopics)
		if err == nil {
			s.logger.Info("subscribed to broker", zap.String("broker", s.b.String()), zap.Strings("topics", s.subscribeTopics))
			s.PublishStatus()
			return
		}
		d := b.Duration()
		s.logger.Error("Subscribe to subscribeTopics return error", zap.Error(err), zap.Strings("subscribeTopics", s.subscribeTopics), zap.Duration("retry_in", d))
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
}

// Run serves the agent API until a termination signal arrives or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	// Graceful valve shut-off package to manage code preemption and shutdown signaling.
	valv := valve.New()
	baseCtx := valv.Context()

	go s.subscribe(ctx)

	srv := http.Server{Handler: chi.ServerBaseContext(baseCtx, s.router)}

	c := make(chan os.Signal, 1)
	if s.testSignalCh != nil {
		c = s.testSignalCh
	}
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(c)

	go func() {
		select {
		case <-c:
		case <-ctx.Done():
		}
		s.logger.Info("shutting down...")

		// first valv
		if err := valv.Shutdown(shutdownTimeout); err != nil {
			s.logger.Error("failed to shutdown valv")
		}

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(sctx); err != nil {
			s.logger.Error("failed to shutdown http server")
		}
		if s.b != nil {
			if err := s.b.Disconnect(); err != nil {
				s.logger.Warn("failed to disconnect broker", zap.Error(err))
			}
		}
	}()

	if s.useUnixSock {
		// stale socket of a previous agent
		_ = os.Remove(s.Addr)
		unixListener, err := net.Listen("unix", s.Addr)
		if err != nil {
			return err
		}
		return srv.Serve(unixListener)
	}

	srv.Addr = s.Addr
	return srv.ListenAndServe()
}
