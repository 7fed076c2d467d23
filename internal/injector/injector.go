// Package injector adapts internal ad-break intents into calls against the
// external stream control boundary. It owns the schedule-type to cue-marker
// normalization and the delivery-mode switch between live HTTP calls and
// simulated responses.
package injector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shihan84/SCTE-streamcontrol-sub003/internal/models"
)

// DeliveryMode selects how cues reach the boundary. Simulated mode is an
// explicit capability for environments without a reachable boundary, never a
// silent fallback.
type DeliveryMode string

const (
	ModeLive      DeliveryMode = "live"
	ModeSimulated DeliveryMode = "simulated"
)

// Boundary errors. DeliveryFailed covers timeouts and non-2xx responses;
// Unreachable covers transport-level failures.
var (
	ErrDeliveryFailed = errors.New("cue delivery failed")
	ErrUnreachable    = errors.New("stream control boundary unreachable")
)

const defaultTimeout = 10 * time.Second

// Config describes the boundary client.
type Config struct {
	BaseURL    string
	Token      string
	Mode       DeliveryMode
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client performs exactly one outbound call per invocation; retry policy
// belongs to the caller.
type Client struct {
	baseURL string
	token   string
	mode    DeliveryMode
	timeout time.Duration
	client  *http.Client
}

// New validates the configuration and constructs a boundary client.
func New(cfg Config) (*Client, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeLive
	}
	if mode != ModeLive && mode != ModeSimulated {
		return nil, fmt.Errorf("unknown delivery mode %q", cfg.Mode)
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if mode == ModeLive {
		if base == "" {
			return nil, fmt.Errorf("injector base URL is required in live mode")
		}
		if _, err := url.Parse(base); err != nil {
			return nil, fmt.Errorf("parse injector base URL: %w", err)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		mode:    mode,
		timeout: timeout,
		client:  httpClient,
	}, nil
}

// Mode reports the configured delivery mode so health endpoints and tests
// can assert which one is in effect.
func (c *Client) Mode() DeliveryMode {
	return c.mode
}

// CueRequest is a break-opening intent. Type carries the schedule semantics;
// the client normalizes it to a CUE-OUT marker at the boundary.
type CueRequest struct {
	Type     models.ScheduleType
	Duration int
	PreRoll  int
	Metadata map[string]string
}

type cuePayload struct {
	Stream    string            `json:"stream"`
	EventType models.CueType    `json:"eventType"`
	Duration  int               `json:"duration"`
	PreRoll   int               `json:"preRoll"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type cueResponse struct {
	EventID string `json:"eventId"`
	Status  string `json:"status"`
}

// Inject delivers the cue marker for a break-opening schedule type and
// returns the boundary's event identifier.
func (c *Client) Inject(ctx context.Context, stream string, req CueRequest) (string, error) {
	cue, ok := models.CueTypeFor(req.Type)
	if !ok {
		return "", fmt.Errorf("unknown schedule type %q", req.Type)
	}
	return c.send(ctx, stream, cuePayload{
		Stream:    stream,
		EventType: cue,
		Duration:  req.Duration,
		PreRoll:   req.PreRoll,
		Metadata:  req.Metadata,
	})
}

// InjectCueIn closes an ad break. It is invoked by the dispatcher's explicit
// follow-up timer, never implicitly by Inject.
func (c *Client) InjectCueIn(ctx context.Context, stream string, metadata map[string]string) (string, error) {
	return c.send(ctx, stream, cuePayload{
		Stream:    stream,
		EventType: models.CueIn,
		Metadata:  metadata,
	})
}

func (c *Client) send(ctx context.Context, stream string, payload cuePayload) (string, error) {
	if strings.TrimSpace(stream) == "" {
		return "", fmt.Errorf("stream name is required")
	}
	if c.mode == ModeSimulated {
		return "sim-" + uuid.NewString(), nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal cue payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/streams/%s/cues", c.baseURL, url.PathEscape(stream))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: %s: %s", ErrDeliveryFailed, resp.Status, strings.TrimSpace(string(data)))
	}

	var decoded cueResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrDeliveryFailed, err)
	}
	if decoded.EventID == "" {
		return "", fmt.Errorf("%w: response missing event id", ErrDeliveryFailed)
	}
	return decoded.EventID, nil
}

// StreamStatus is the boundary's view of a live output.
type StreamStatus struct {
	Alive   bool  `json:"alive"`
	Bitrate int   `json:"bitrate"`
	Viewers int   `json:"viewers"`
	Uptime  int64 `json:"uptime"`
}

// Status queries the boundary for the observed state of one stream.
func (c *Client) Status(ctx context.Context, stream string) (StreamStatus, error) {
	if c.mode == ModeSimulated {
		return StreamStatus{Alive: true}, nil
	}
	endpoint := fmt.Sprintf("%s/v1/streams/%s/status", c.baseURL, url.PathEscape(stream))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StreamStatus{}, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return StreamStatus{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return StreamStatus{}, fmt.Errorf("%w: %s: %s", ErrDeliveryFailed, resp.Status, strings.TrimSpace(string(data)))
	}
	var status StreamStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return StreamStatus{}, fmt.Errorf("%w: decode status: %v", ErrDeliveryFailed, err)
	}
	return status, nil
}

// Check verifies the boundary is reachable. Simulated mode always passes.
func (c *Client) Check(ctx context.Context) error {
	if c.mode == ModeSimulated {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, resp.Status)
	}
	return nil
}

func isTimeout(err error) bool {
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
