package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrPowerServiceUnavailable is returned while the circuit breaker is open
var ErrPowerServiceUnavailable = errors.New("power service unavailable")

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// OutletState is the power state reported for a host's outlet
type OutletState string

const (
	OutletOn      OutletState = "on"
	OutletOff     OutletState = "off"
	OutletCycling OutletState = "cycling"
	OutletUnknown OutletState = "unknown"
)

// CycleRequest asks the power service to power-cycle a host's outlet
type CycleRequest struct {
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// OutletStatus describes a host's outlet
type OutletStatus struct {
	Hostname  string      `json:"hostname"`
	Outlet    string      `json:"outlet,omitempty"`
	State     OutletState `json:"state"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// PowerClient is a client for the lab remote power management (RPM) service
type PowerClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        *logrus.Logger
}

// NewPowerClient creates a new power service client with connection pooling
// and a circuit breaker that opens after repeated server-side failures
func NewPowerClient(baseURL string, timeout time.Duration, log *logrus.Logger) *PowerClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &PowerClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		log: log,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "power-service",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.Code < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return c
}

// CycleOutlet power-cycles the outlet feeding hostname. It returns once the
// service has accepted the request; the host reboots asynchronously.
func (c *PowerClient) CycleOutlet(ctx context.Context, hostname string, req *CycleRequest) (*OutletStatus, error) {
	endpoint := fmt.Sprintf("%s/api/v1/outlets/%s/cycle", c.baseURL, url.PathEscape(hostname))

	var resp OutletStatus
	if err := c.doRequest(ctx, http.MethodPost, endpoint, req, &resp); err != nil {
		return nil, fmt.Errorf("power cycle of %s failed: %w", hostname, err)
	}

	c.log.WithFields(logrus.Fields{
		"host":   hostname,
		"outlet": resp.Outlet,
		"state":  resp.State,
	}).Info("Outlet power cycle accepted")

	return &resp, nil
}

// GetOutlet returns the current outlet state of hostname
func (c *PowerClient) GetOutlet(ctx context.Context, hostname string) (*OutletStatus, error) {
	endpoint := fmt.Sprintf("%s/api/v1/outlets/%s", c.baseURL, url.PathEscape(hostname))

	var resp OutletStatus
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("outlet lookup for %s failed: %w", hostname, err)
	}
	return &resp, nil
}

// HealthCheck checks if the power service is healthy
func (c *PowerClient) HealthCheck(ctx context.Context) error {
	if err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/health", nil, nil); err != nil {
		return fmt.Errorf("power service unhealthy: %w", err)
	}
	return nil
}

// BreakerState returns the circuit breaker state name
func (c *PowerClient) BreakerState() string {
	return c.breaker.State().String()
}

func (c *PowerClient) doRequest(ctx context.Context, method, endpoint string, reqBody, respBody interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, method, endpoint, reqBody, respBody)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrPowerServiceUnavailable, err)
	}
	return err
}

// do performs an HTTP request with JSON encoding/decoding
func (c *PowerClient) do(ctx context.Context, method, endpoint string, reqBody, respBody interface{}) error {
	var body io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		c.log.WithFields(logrus.Fields{
			"method":   method,
			"url":      endpoint,
			"duration": duration.Milliseconds(),
		}).WithError(err).Error("Power service request failed")
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.WithError(closeErr).Warn("Failed to close response body")
		}
	}()

	c.log.WithFields(logrus.Fields{
		"method":   method,
		"url":      endpoint,
		"status":   resp.StatusCode,
		"duration": duration.Milliseconds(),
	}).Debug("Power service request completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(bodyBytes))}
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// Close closes the HTTP client connections
func (c *PowerClient) Close() {
	c.httpClient.CloseIdleConnections()
}
