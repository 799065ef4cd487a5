// Package notifier delivers user mails through HTTP mail relays.
//
// Relays are tried in priority order. A relay that keeps failing has its
// circuit opened for a while and is skipped, so a dead primary costs one
// timeout per CircuitBreakerTimeout instead of one per mail.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/transaction-guard/internal/model"
	"github.com/nimasrn/transaction-guard/pkg/logger"
	"github.com/nimasrn/transaction-guard/pkg/prom"
	"github.com/valyala/fasthttp"
)

const SendPath = "/api/v1/mail/send"
const HealthPath = "/health"

var (
	ErrNoAvailableProviders = errors.New("no available mail providers")
)

type SendResponse struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	AcceptedAt time.Time `json:"accepted_at"`
}

type ProviderMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64
	LastSuccessTime  atomic.Int64
}

func (m *ProviderMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())
}

func (m *ProviderMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *ProviderMetrics) AvgLatencyMs() int64 {
	ok := m.SuccessfulReqs.Load()
	if ok == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / ok
}

func (m *ProviderMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

type ProviderState int32

const (
	StateHealthy ProviderState = iota
	StateUnhealthy
	StateCircuitOpen
)

func (s ProviderState) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	default:
		return "UNKNOWN"
	}
}

type Provider struct {
	name             string
	url              string
	priority         int
	client           *fasthttp.Client
	metrics          ProviderMetrics
	state            atomic.Int32
	circuitOpenUntil atomic.Int64
}

func NewProvider(name, url string, priority int, client *fasthttp.Client) *Provider {
	return &Provider{
		name:     name,
		url:      url,
		priority: priority,
		client:   client,
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) GetState() ProviderState {
	return ProviderState(p.state.Load())
}

func (p *Provider) SetState(state ProviderState) {
	p.state.Store(int32(state))
}

// IsAvailable half-opens an expired circuit: the next mail is let through
// and a failure opens it again.
func (p *Provider) IsAvailable() bool {
	switch p.GetState() {
	case StateCircuitOpen:
		if time.Now().UnixMilli() >= p.circuitOpenUntil.Load() {
			p.SetState(StateHealthy)
			return true
		}
		return false
	case StateUnhealthy:
		return false
	default:
		return true
	}
}

type Config struct {
	Providers               []ProviderConfig
	Timeout                 time.Duration
	MaxConns                int
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

type ProviderConfig struct {
	Name string
	URL  string
	// Priority orders the failover, lower goes first.
	Priority int
}

func DefaultConfig() Config {
	return Config{
		Timeout:                 5 * time.Second,
		MaxConns:                64,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

type Client struct {
	config    Config
	providers []*Provider
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewClient(config Config) (*Client, error) {
	if len(config.Providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = 3
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = 30 * time.Second
	}

	client := &Client{
		config:    config,
		providers: make([]*Provider, 0, len(config.Providers)),
		stopCh:    make(chan struct{}),
	}

	for _, pc := range config.Providers {
		if pc.URL == "" {
			continue
		}
		httpClient := &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		}
		client.providers = append(client.providers, NewProvider(pc.Name, pc.URL, pc.Priority, httpClient))
		logger.Info("Mail provider initialized", "name", pc.Name, "url", pc.URL, "priority", pc.Priority)
	}
	if len(client.providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}

	sort.SliceStable(client.providers, func(i, j int) bool {
		return client.providers[i].priority < client.providers[j].priority
	})

	if config.HealthCheckInterval > 0 {
		client.wg.Add(1)
		go client.healthChecker()
	}

	return client, nil
}

// Send posts the mail to the first available relay and fails over to the
// next one on error.
func (c *Client) Send(ctx context.Context, mail model.Mail) error {
	body, err := json.Marshal(mail)
	if err != nil {
		return fmt.Errorf("failed to marshal mail: %w", err)
	}

	var lastErr error
	tried := 0
	for _, provider := range c.providers {
		if !provider.IsAvailable() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		tried++

		start := time.Now()
		response, err := c.doRequest(ctx, provider, fasthttp.MethodPost, SendPath, body)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			provider.metrics.RecordFailure()
			prom.IncMailSent(provider.name, "failed")
			c.checkCircuitBreaker(provider)
			logger.Warn("Mail provider failed, trying next", "provider", provider.name, "error", err)
			lastErr = err
			continue
		}
		provider.metrics.RecordSuccess(latency)
		prom.IncMailSent(provider.name, "sent")

		var resp SendResponse
		if err := json.Unmarshal(response, &resp); err != nil {
			// the relay accepted it, a bad receipt is not worth a resend
			logger.Warn("Unreadable mail receipt", "provider", provider.name, "error", err)
		}
		logger.Info("Mail handed to provider", "provider", provider.name, "to", mail.To, "subject", mail.Subject, "id", resp.ID, "latency_ms", latency)
		return nil
	}

	if tried == 0 {
		return ErrNoAvailableProviders
	}
	return fmt.Errorf("all %d mail providers failed: %w", tried, lastErr)
}

func (c *Client) doRequest(ctx context.Context, provider *Provider, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(provider.url + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := provider.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	status := resp.StatusCode()
	if status != fasthttp.StatusOK && status != fasthttp.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", status, resp.Body())
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}

func (c *Client) checkCircuitBreaker(provider *Provider) {
	fails := provider.metrics.ConsecutiveFails.Load()
	if fails < int32(c.config.CircuitBreakerThreshold) {
		return
	}
	provider.SetState(StateCircuitOpen)
	provider.circuitOpenUntil.Store(time.Now().Add(c.config.CircuitBreakerTimeout).UnixMilli())
	logger.Warn("Circuit breaker opened", "provider", provider.name, "consecutive_fails", fails, "timeout", c.config.CircuitBreakerTimeout)
}

func (c *Client) healthChecker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.performHealthChecks()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) performHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	for _, provider := range c.providers {
		old := provider.GetState()
		if old == StateCircuitOpen {
			continue
		}

		next := StateUnhealthy
		if c.checkProviderHealth(ctx, provider) {
			next = StateHealthy
		}
		if next != old {
			provider.SetState(next)
			logger.Info("Mail provider state changed", "provider", provider.name, "old_state", old.String(), "new_state", next.String())
		}
	}
}

func (c *Client) checkProviderHealth(ctx context.Context, provider *Provider) bool {
	response, err := c.doRequest(ctx, provider, fasthttp.MethodGet, HealthPath, nil)
	if err != nil {
		return false
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(response, &health); err != nil {
		return false
	}
	return health.Status == "healthy"
}

type ProviderStats struct {
	Name             string
	URL              string
	State            string
	TotalRequests    int64
	FailedReqs       int64
	SuccessRate      float64
	AvgLatencyMs     int64
	ConsecutiveFails int32
}

// GetProviderStats lists the relays in failover order.
func (c *Client) GetProviderStats() []ProviderStats {
	stats := make([]ProviderStats, 0, len(c.providers))
	for _, p := range c.providers {
		stats = append(stats, ProviderStats{
			Name:             p.name,
			URL:              p.url,
			State:            p.GetState().String(),
			TotalRequests:    p.metrics.TotalRequests.Load(),
			FailedReqs:       p.metrics.FailedReqs.Load(),
			SuccessRate:      p.metrics.SuccessRate(),
			AvgLatencyMs:     p.metrics.AvgLatencyMs(),
			ConsecutiveFails: p.metrics.ConsecutiveFails.Load(),
		})
	}
	return stats
}

func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	logger.Info("Mail client closed")
	return nil
}

// LogNotifier only logs mails. It stands in when no relay is configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, mail model.Mail) error {
	logger.Info("Mail (not delivered, no relay configured)", "to", mail.To, "subject", mail.Subject)
	return nil
}
