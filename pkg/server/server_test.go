package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/backup"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/broker"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/schedule"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/scheduler"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/sink"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/store"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/testlib"
)

const topic = "agent/agent1"

type stubScheduler struct {
	started  []schedule.BackupSchedule
	stopped  int
	runs     int
	startErr error
	stopErr  error
	runErr   error
	status   scheduler.Status
}

func (s *stubScheduler) StartBackup(source, destination string, frequency int, unit schedule.TimeUnit) (*schedule.BackupSchedule, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	rec := schedule.BackupSchedule{SourcePath: source, DestinationPath: destination, Frequency: frequency, TimeUnit: unit}
	s.started = append(s.started, rec)
	s.status.State = scheduler.Armed
	return &rec, nil
}

func (s *stubScheduler) StopBackup() error {
	s.stopped++
	return s.stopErr
}

func (s *stubScheduler) RunNow() (string, error) {
	if s.runErr != nil {
		return "", s.runErr
	}
	s.runs++
	return "run-1", nil
}

func (s *stubScheduler) Status() scheduler.Status {
	return s.status
}

func newTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	st := store.NewFileStore(filepath.Join(t.TempDir(), "schedule.json"))
	sched := scheduler.New(st, backup.NewRunner())
	t.Cleanup(sched.Close)
	return sched
}

func TestServerRun(t *testing.T) {
	tests := []struct {
		addr string
	}{
		{"unix://" + filepath.Join(t.TempDir(), "bizfly-folder-backup-test-server.sock")},
		{"127.0.0.1:0"},
	}
	for _, tc := range tests {
		s, err := New(WithAddr(tc.addr), WithBroker(testlib.NewMemoryBroker()), WithScheduler(&stubScheduler{}), WithLogger(zap.NewNop()))
		require.NoError(t, err)
		s.testSignalCh = make(chan os.Signal, 1)
		var serverError error
		done := make(chan struct{})
		go func() {
			serverError = s.Run(context.Background())
			close(done)
		}()
		time.Sleep(100 * time.Millisecond)
		s.testSignalCh <- syscall.SIGTERM
		<-done
		assert.Equal(t, http.ErrServerClosed, serverError)
	}
}

func TestServerRunContextCancel(t *testing.T) {
	s, err := New(WithAddr("127.0.0.1:0"), WithScheduler(&stubScheduler{}), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Equal(t, http.ErrServerClosed, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewRequiresScheduler(t *testing.T) {
	_, err := New(WithAddr(":0"))
	assert.Error(t, err)
}

func do(t *testing.T, ts *httptest.Server, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func TestAPI(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	ring := sink.NewRing(10)
	ring.AppendLog("one")
	ring.AppendLog("two")
	ring.AppendLog("three")

	s, err := New(WithScheduler(newTestScheduler(t)), WithLogSource(ring), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var st scheduler.Status
	resp, body := do(t, ts, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, scheduler.Idle, st.State)

	resp, _ = do(t, ts, http.MethodPost, "/run", nil)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp, body = do(t, ts, http.MethodPost, "/schedule", StartRequest{SourcePath: "", DestinationPath: dst, Frequency: 5, TimeUnit: "minutes"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "source_path")

	resp, _ = do(t, ts, http.MethodPost, "/schedule", StartRequest{SourcePath: src, DestinationPath: dst, Frequency: 5, TimeUnit: "fortnights"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var rec schedule.BackupSchedule
	resp, body = do(t, ts, http.MethodPost, "/schedule", StartRequest{SourcePath: src, DestinationPath: dst, Frequency: 5, TimeUnit: "min"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, schedule.Minutes, rec.TimeUnit)
	assert.False(t, rec.NextRunAt.IsZero())

	resp, body = do(t, ts, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, scheduler.Armed, st.State)
	require.NotNil(t, st.Schedule)
	assert.Equal(t, src, st.Schedule.SourcePath)

	resp, _ = do(t, ts, http.MethodDelete, "/schedule", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = do(t, ts, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, scheduler.Stopped, st.State)

	var logs LogsResponse
	resp, body = do(t, ts, http.MethodGet, "/logs?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &logs))
	assert.Equal(t, []string{"two", "three"}, logs.Lines)

	resp, _ = do(t, ts, http.MethodGet, "/logs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunNowStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"started", nil, http.StatusAccepted},
		{"in progress", scheduler.ErrBackupInProgress, http.StatusConflict},
		{"not scheduled", scheduler.ErrNotScheduled, http.StatusPreconditionFailed},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := New(WithScheduler(&stubScheduler{runErr: tc.err}), WithLogger(zap.NewNop()))
			require.NoError(t, err)
			ts := httptest.NewServer(s.Handler())
			defer ts.Close()

			resp, body := do(t, ts, http.MethodPost, "/run", nil)
			assert.Equal(t, tc.code, resp.StatusCode)
			if tc.err == nil {
				var rr RunResponse
				require.NoError(t, json.Unmarshal(body, &rr))
				assert.Equal(t, "run-1", rr.RunID)
			}
		})
	}
}

func TestServerEventHandler(t *testing.T) {
	b := testlib.NewMemoryBroker()
	stub := &stubScheduler{}
	events := "agent/agent1/events"
	s, err := New(
		WithBroker(b),
		WithScheduler(stub),
		WithSubscribeTopics("agent/default", topic),
		WithPublishTopic(events),
		WithMachineID("agent1"),
		WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)

	s.subscribe(context.Background())
	// status is announced once subscribed
	require.Len(t, b.Published(events), 1)

	publish := func(msg broker.Message) error {
		payload, err := json.Marshal(msg)
		require.NoError(t, err)
		return b.Publish(topic, payload)
	}

	require.NoError(t, publish(broker.Message{
		EventType:       broker.BackupStart,
		SourcePath:      "/data",
		DestinationPath: "/backup",
		Frequency:       2,
		TimeUnit:        "hours",
	}))
	require.Len(t, stub.started, 1)
	assert.Equal(t, schedule.Hours, stub.started[0].TimeUnit)
	assert.Equal(t, "/backup", stub.started[0].DestinationPath)

	published := b.Published(events)
	require.Len(t, published, 2)
	var status broker.Message
	require.NoError(t, json.Unmarshal(published[1], &status))
	assert.Equal(t, broker.BackupStatus, status.EventType)
	assert.Equal(t, "agent1", status.MachineID)
	assert.Equal(t, string(scheduler.Armed), status.State)

	require.NoError(t, publish(broker.Message{EventType: broker.BackupRunNow}))
	assert.Equal(t, 1, stub.runs)

	require.NoError(t, b.Publish("agent/default", []byte(`{"event_type": "backup_stop"}`)))
	assert.Equal(t, 1, stub.stopped)

	err = publish(broker.Message{EventType: "agent_upgrade"})
	assert.True(t, errors.Is(err, broker.ErrUnknownEventType))

	err = publish(broker.Message{EventType: broker.BackupStart, SourcePath: "/data", DestinationPath: "/backup", Frequency: 1, TimeUnit: "weeks"})
	var verr *schedule.ValidationError
	assert.True(t, errors.As(err, &verr))

	err = b.Publish(topic, []byte("not json"))
	assert.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "unknown event type"))
}
