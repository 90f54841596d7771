package chain

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokenscope/tokenscope/internal/config"
)

// DefaultProbeTimeout bounds the liveness probe on each candidate endpoint.
const DefaultProbeTimeout = 5 * time.Second

// Dialer opens a connection to one endpoint. Swappable for tests.
type Dialer func(ctx context.Context, endpoint string) (Client, error)

// Selector ranks and tries candidate endpoints for a network, remembering
// the last endpoint that worked so future connects try it first. The memory
// only biases ordering; every connect re-validates with a live probe.
type Selector struct {
	mu           sync.Mutex
	networks     map[string]config.NetworkConfig
	lastGood     map[string]string
	dial         Dialer
	probeTimeout time.Duration
	logger       *zap.Logger
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithDialer replaces the connection factory.
func WithDialer(dial Dialer) SelectorOption {
	return func(s *Selector) {
		s.dial = dial
	}
}

// WithProbeTimeout overrides the per-endpoint probe timeout.
func WithProbeTimeout(d time.Duration) SelectorOption {
	return func(s *Selector) {
		s.probeTimeout = d
	}
}

// NewSelector creates a selector over the configured network table.
func NewSelector(networks map[string]config.NetworkConfig, logger *zap.Logger, opts ...SelectorOption) *Selector {
	s := &Selector{
		networks:     networks,
		lastGood:     make(map[string]string),
		dial:         Dial,
		probeTimeout: DefaultProbeTimeout,
		logger:       logger.Named("selector"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect returns a validated client for the network, trying candidates in
// priority order: last-successful endpoint, primary, then fallbacks.
func (s *Selector) Connect(ctx context.Context, network string) (Client, error) {
	netCfg, ok := s.networks[network]
	if !ok {
		return nil, &ConfigurationError{Network: network, Reason: "unknown network"}
	}

	candidates := s.candidates(network, netCfg.Endpoints)

	var lastErr error
	attempted := make([]string, 0, len(candidates))
	for _, endpoint := range candidates {
		attempted = append(attempted, endpoint)

		client, err := s.probe(ctx, endpoint)
		if err != nil {
			s.logger.Warn("Endpoint probe failed",
				zap.String("network", network),
				zap.String("endpoint", endpoint),
				zap.Error(err))
			lastErr = err
			continue
		}

		s.mu.Lock()
		s.lastGood[network] = endpoint
		s.mu.Unlock()

		s.logger.Info("Connected to endpoint",
			zap.String("network", network),
			zap.String("endpoint", endpoint))
		return client, nil
	}

	return nil, &ConnectivityError{Network: network, Attempted: attempted, Err: lastErr}
}

// LastSuccessful reports the remembered endpoint for a network, if any.
func (s *Selector) LastSuccessful(network string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	endpoint, ok := s.lastGood[network]
	return endpoint, ok
}

// candidates builds the ordered, deduplicated endpoint list.
func (s *Selector) candidates(network string, endpoints []string) []string {
	s.mu.Lock()
	last := s.lastGood[network]
	s.mu.Unlock()

	ordered := make([]string, 0, len(endpoints)+1)
	seen := make(map[string]struct{}, len(endpoints)+1)

	add := func(endpoint string) {
		if endpoint == "" {
			return
		}
		if _, dup := seen[endpoint]; dup {
			return
		}
		seen[endpoint] = struct{}{}
		ordered = append(ordered, endpoint)
	}

	add(last)
	for _, endpoint := range endpoints {
		add(endpoint)
	}
	return ordered
}

// probe dials the endpoint and performs a lightweight liveness check.
func (s *Selector) probe(ctx context.Context, endpoint string) (Client, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	client, err := s.dial(probeCtx, endpoint)
	if err != nil {
		return nil, err
	}

	if _, err := client.BlockNumber(probeCtx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
