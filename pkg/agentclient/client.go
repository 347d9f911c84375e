package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-folder-backup/pkg/schedule"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/scheduler"
	"github.com/bizflycloud/bizfly-folder-backup/pkg/server"
)

const (
	userAgent  = "bizfly-folder-backup-client"
	unixPrefix = "unix://"
	unixHost   = "http://unix"
)

// APIError is a non successful answer of the agent.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent returned %d: %s", e.StatusCode, e.Message)
}

// Client is the client for interacting with a running agent.
type Client struct {
	client    *http.Client
	ServerURL *url.URL
	userAgent string

	logger *zap.Logger
}

// NewClient creates a Client with given options. By default it talks to
// http://127.0.0.1:8080.
func NewClient(opts ...ClientOption) (*Client, error) {
	serverURL, _ := url.Parse("http://127.0.0.1:8080")
	c := &Client{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ResponseHeaderTimeout: 10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
			Timeout: 10 * time.Second,
		},
		ServerURL: serverURL,
		userAgent: userAgent,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	return c, nil
}

// ClientOption provides mechanism to configure Client.
type ClientOption func(c *Client) error

// WithHTTPClient sets the underlying HTTP client for Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) error {
		if client == nil {
			return errors.New("nil HTTP client")
		}
		c.client = client
		return nil
	}
}

// WithAddr points Client at the agent address, either "unix:///path/to.sock",
// "host:port" or a full http URL.
func WithAddr(addr string) ClientOption {
	return func(c *Client) error {
		if strings.HasPrefix(addr, unixPrefix) {
			sock := strings.TrimPrefix(addr, unixPrefix)
			c.client = &http.Client{
				Transport: &http.Transport{
					DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
						var d net.Dialer
						return d.DialContext(ctx, "unix", sock)
					},
				},
				Timeout: c.client.Timeout,
			}
			su, _ := url.Parse(unixHost)
			c.ServerURL = su
			return nil
		}
		if !strings.Contains(addr, "://") {
			if strings.HasPrefix(addr, ":") {
				addr = "127.0.0.1" + addr
			}
			addr = "http://" + addr
		}
		su, err := url.Parse(addr)
		if err != nil {
			return err
		}
		c.ServerURL = su
		return nil
	}
}

// WithLogger sets the logger for Client.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// NewRequest create new http request
func (c *Client) NewRequest(ctx context.Context, method, relPath string, body interface{}) (*http.Request, error) {
	buf := new(bytes.Buffer)
	if body != nil {
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, err
		}
	}

	rel, err := url.Parse(relPath)
	if err != nil {
		return nil, err
	}
	u := *c.ServerURL
	u.Path = strings.TrimSuffix(u.Path, "/") + rel.Path
	u.RawQuery = rel.RawQuery

	req, err := http.NewRequestWithContext(ctx, method, u.String(), buf)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Do makes an http request.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	req.Header.Add("User-Agent", c.userAgent)
	req.Header.Add("Content-Type", "application/json")
	c.logger.Debug("agent request", zap.String("method", req.Method), zap.String("url", req.URL.String()))
	return c.client.Do(req)
}

// call sends a request and decodes a successful JSON answer into out.
func (c *Client) call(ctx context.Context, method, relPath string, body, out interface{}) error {
	req, err := c.NewRequest(ctx, method, relPath, body)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		buf, _ := ioutil.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(buf))
		if json.Unmarshal(buf, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status returns the agent scheduler status.
func (c *Client) Status(ctx context.Context) (*scheduler.Status, error) {
	var st scheduler.Status
	if err := c.call(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// StartBackup replaces the agent backup schedule.
func (c *Client) StartBackup(ctx context.Context, source, destination string, frequency int, unit schedule.TimeUnit) (*schedule.BackupSchedule, error) {
	req := server.StartRequest{
		SourcePath:      source,
		DestinationPath: destination,
		Frequency:       frequency,
		TimeUnit:        string(unit),
	}
	var rec schedule.BackupSchedule
	if err := c.call(ctx, http.MethodPost, "/schedule", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// StopBackup clears the agent backup schedule.
func (c *Client) StopBackup(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/schedule", nil, nil)
}

// RunNow asks the agent to run the scheduled backup immediately.
func (c *Client) RunNow(ctx context.Context) (string, error) {
	var rr server.RunResponse
	if err := c.call(ctx, http.MethodPost, "/run", nil, &rr); err != nil {
		return "", err
	}
	return rr.RunID, nil
}

// Logs returns up to limit recent run log lines.
func (c *Client) Logs(ctx context.Context, limit int) ([]string, error) {
	path := "/logs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var lr server.LogsResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &lr); err != nil {
		return nil, err
	}
	return lr.Lines, nil
}
