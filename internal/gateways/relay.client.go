// Package gateway delivers forwarded SMS to external relay endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/nimasrn/sms-forwarder/pkg/prom"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

var ErrNoAvailableEndpoints = errors.New("no available relay endpoints")

// RelayRequest is the JSON body POSTed to a relay endpoint.
type RelayRequest struct {
	MessageID string    `json:"messageId"`
	DeviceID  string    `json:"deviceId"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsOTP     bool      `json:"isOTP"`
	OTP       string    `json:"otp,omitempty"`
}

// RelayReceipt is the optional body a relay answers with.
type RelayReceipt struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type RelayResult struct {
	Endpoint   string
	StatusCode int
	LatencyMs  int64
	Receipt    RelayReceipt
}

type EndpointConfig struct {
	Name      string
	URL       string
	HealthURL string
	Weight    int
}

type Config struct {
	Endpoints               []EndpointConfig
	AuthToken               string
	Timeout                 time.Duration
	MaxConns                int
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

type Client struct {
	config    Config
	endpoints []*Endpoint
	log       logger.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewClient builds one fasthttp client per endpoint and starts the health
// checker when HealthCheckInterval is positive.
func NewClient(config Config, l logger.Logger) (*Client, error) {
	if len(config.Endpoints) == 0 {
		return nil, errors.New("at least one relay endpoint is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.MaxConns <= 0 {
		config.MaxConns = 64
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = 5
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = 30 * time.Second
	}

	c := &Client{
		config: config,
		log:    l,
		stopCh: make(chan struct{}),
	}
	for _, ec := range config.Endpoints {
		if ec.URL == "" {
			return nil, errors.Errorf("relay endpoint %q has no url", ec.Name)
		}
		hc := &fasthttp.Client{
			Name:                "sms-forwarder",
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: time.Minute,
		}
		c.endpoints = append(c.endpoints, NewEndpoint(ec.Name, ec.URL, ec.HealthURL, ec.Weight, hc))
		l.Info("[relay] endpoint registered", "name", ec.Name, "url", ec.URL, "weight", ec.Weight)
	}

	if config.HealthCheckInterval > 0 {
		c.wg.Add(1)
		go c.healthChecker()
	}
	return c, nil
}

// HealthURLFor maps a relay url onto /health on the same origin.
func HealthURLFor(relayURL string) string {
	u := fasthttp.AcquireURI()
	defer fasthttp.ReleaseURI(u)
	if err := u.Parse(nil, []byte(relayURL)); err != nil {
		return ""
	}
	u.SetPath("/health")
	u.SetQueryString("")
	return u.String()
}

// ranked returns the available endpoints, best score first.
func (c *Client) ranked() []*Endpoint {
	type scored struct {
		e     *Endpoint
		score float64
	}
	var list []scored
	for _, e := range c.endpoints {
		if !e.Available() {
			continue
		}
		list = append(list, scored{e, e.Score()})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })

	out := make([]*Endpoint, len(list))
	for i, s := range list {
		out[i] = s.e
	}
	return out
}

// Forward posts req to the best endpoint and fails over to the next on error.
// It fails only when every available endpoint failed.
func (c *Client) Forward(ctx context.Context, req *RelayRequest) (*RelayResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "relay.Forward")
	}

	candidates := c.ranked()
	if len(candidates) == 0 {
		return nil, ErrNoAvailableEndpoints
	}

	var lastErr error
	for _, e := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		status, respBody, err := c.do(ctx, e, fasthttp.MethodPost, e.url, body)
		elapsed := time.Since(start)
		prom.AddRelayDuration(elapsed.Seconds(), e.name)

		if err != nil {
			e.metrics.RecordFailure()
			c.tripIfNeeded(e)
			c.log.Warn("[relay] endpoint failed", "endpoint", e.name, "message_id", req.MessageID, "error", err)
			lastErr = err
			continue
		}
		e.metrics.RecordSuccess(elapsed.Milliseconds())

		res := &RelayResult{Endpoint: e.name, StatusCode: status, LatencyMs: elapsed.Milliseconds()}
		if len(respBody) > 0 {
			_ = json.Unmarshal(respBody, &res.Receipt)
		}
		c.log.Debug("[relay] forwarded", "endpoint", e.name, "message_id", req.MessageID, "latency_ms", res.LatencyMs)
		return res, nil
	}
	return nil, errors.Wrapf(lastErr, "all %d relay endpoints failed", len(candidates))
}

func (c *Client) do(ctx context.Context, e *Endpoint, method, url string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}
	if c.config.AuthToken != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.config.AuthToken)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}
	if err := e.client.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, errors.Wrap(err, "request failed")
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return status, nil, fmt.Errorf("unexpected status code %d: %s", status, resp.Body())
	}
	return status, append([]byte(nil), resp.Body()...), nil
}

func (c *Client) tripIfNeeded(e *Endpoint) {
	fails := e.metrics.ConsecutiveFails.Load()
	if fails < int32(c.config.CircuitBreakerThreshold) || e.State() == StateCircuitOpen {
		return
	}
	e.openCircuit(c.config.CircuitBreakerTimeout)
	c.log.Warn("[relay] circuit opened", "endpoint", e.name, "consecutive_fails", fails, "timeout", c.config.CircuitBreakerTimeout)
}

func (c *Client) healthChecker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CheckHealth(context.Background())
		case <-c.stopCh:
			return
		}
	}
}

// CheckHealth polls every endpoint with a HealthURL. An endpoint whose check
// fails becomes unhealthy; a passing check restores it. Open circuits are
// left alone.
func (c *Client) CheckHealth(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	for _, e := range c.endpoints {
		if e.healthURL == "" || e.State() == StateCircuitOpen {
			continue
		}

		old := e.State()
		next := StateUnhealthy
		if c.healthy(ctx, e) {
			next = StateHealthy
		}
		if next != old {
			e.SetState(next)
			c.log.Info("[relay] endpoint state changed", "endpoint", e.name, "from", old.String(), "to", next.String())
		}
	}
}

func (c *Client) healthy(ctx context.Context, e *Endpoint) bool {
	_, body, err := c.do(ctx, e, fasthttp.MethodGet, e.healthURL, nil)
	if err != nil {
		return false
	}
	var h struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &h); err != nil {
		return false
	}
	return h.Status == "healthy"
}

type EndpointStats struct {
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	State            string  `json:"state"`
	Score            float64 `json:"score"`
	Requests         int64   `json:"requests"`
	Failed           int64   `json:"failed"`
	SuccessRate      float64 `json:"successRate"`
	AvgLatencyMs     int64   `json:"avgLatencyMs"`
	P95LatencyMs     int64   `json:"p95LatencyMs"`
	ConsecutiveFails int32   `json:"consecutiveFails"`
}

// Stats snapshots every endpoint, best score first.
func (c *Client) Stats() []EndpointStats {
	stats := make([]EndpointStats, 0, len(c.endpoints))
	for _, e := range c.endpoints {
		stats = append(stats, EndpointStats{
			Name:             e.name,
			URL:              e.url,
			State:            e.State().String(),
			Score:            e.Score(),
			Requests:         e.metrics.Requests.Load(),
			Failed:           e.metrics.Failed.Load(),
			SuccessRate:      e.metrics.SuccessRate(),
			AvgLatencyMs:     e.metrics.AvgLatencyMs(),
			P95LatencyMs:     e.metrics.P95LatencyMs(),
			ConsecutiveFails: e.metrics.ConsecutiveFails.Load(),
		})
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })
	return stats
}

func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return nil
}
