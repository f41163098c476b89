package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/log"
)

// Checker probes one external collaborator
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// HTTPChecker reports healthy when an endpoint answers with a non-5xx
// status
type HTTPChecker struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPChecker creates an HTTP endpoint checker
func NewHTTPChecker(name, url string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPChecker) Name() string { return c.name }

func (c *HTTPChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// TCPChecker reports healthy when a TCP dial succeeds
type TCPChecker struct {
	name    string
	addr    string
	timeout time.Duration
}

// NewTCPChecker creates a TCP dial checker
func NewTCPChecker(name, addr string, timeout time.Duration) *TCPChecker {
	return &TCPChecker{name: name, addr: addr, timeout: timeout}
}

func (c *TCPChecker) Name() string { return c.name }

func (c *TCPChecker) Check(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Monitor runs checkers on an interval and feeds the health registry served
// by the API
type Monitor struct {
	registry *Registry
	checkers []Checker
	interval time.Duration
	stopCh   chan struct{}
	logger   zerolog.Logger
}

// NewMonitor creates a health monitor feeding the given registry
func NewMonitor(registry *Registry, checkers []Checker, interval time.Duration) *Monitor {
	return &Monitor{
		registry: registry,
		checkers: checkers,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("health"),
	}
}

// Start begins periodic checking
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the monitor
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	for _, checker := range m.checkers {
		err := checker.Check(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Str("checker", checker.Name()).Msg("Health check failed")
			m.registry.SetComponent(checker.Name(), false, err.Error())
			continue
		}
		m.registry.SetComponent(checker.Name(), true, "")
	}
}
