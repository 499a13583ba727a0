package caddy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/storage"
)

//go:generate mockgen -source=configurator.go -package=caddy -destination=configurator_mock.go

// controlPlane is the slice of the admin API the configurator needs.
type controlPlane interface {
	Load(ctx context.Context, cfg *Config) error
	Fetch(ctx context.Context) (json.RawMessage, error)
}

// Configurator applies domain routes to the control plane through
// all-or-nothing transactions and keeps the on-disk snapshot in sync
// with the last successfully loaded configuration.
type Configurator struct {
	client       controlPlane
	docs         storage.Documents
	logger       *zap.Logger
	httpsPort    int
	disableHTTPS bool

	// txMu serializes mutating transactions end to end; the network
	// calls inside are bounded by the client timeout.
	txMu sync.Mutex

	// mu guards current only, never held across a network call.
	mu      sync.Mutex
	current *Config
}

// NewConfigurator returns a Configurator. Call Init before use to push
// a configuration into the control plane.
func NewConfigurator(
	client controlPlane,
	docs storage.Documents,
	logger *zap.Logger,
	httpsPort int,
	disableHTTPS bool,
) *Configurator {
	return &Configurator{
		client:       client,
		docs:         docs,
		logger:       logger,
		httpsPort:    httpsPort,
		disableHTTPS: disableHTTPS,
	}
}

// Init restores the last-known-good snapshot into the control plane,
// falling back to a fresh default configuration when no snapshot exists
// or the control plane rejects it.
func (c *Configurator) Init(ctx context.Context) error {
	if cfg := c.restoreSnapshot(ctx); cfg != nil {
		c.setCurrent(cfg)
		c.logger.Info("restored config snapshot into control plane")
		return nil
	}

	cfg := Default(c.httpsPort, c.disableHTTPS)
	if err := c.client.Load(ctx, cfg); err != nil {
		return fmt.Errorf("failed to load initial config: %w", err)
	}
	c.setCurrent(cfg)

	if err := c.PersistSnapshot(ctx); err != nil {
		c.logger.Warn("failed to persist initial config snapshot", zap.Error(err))
	}
	c.logger.Info("loaded default config into control plane")
	return nil
}

func (c *Configurator) restoreSnapshot(ctx context.Context) *Config {
	raw, err := c.docs.LoadSnapshot()
	if err != nil {
		c.logger.Warn("failed to read config snapshot", zap.Error(err))
		return nil
	}
	if raw == nil {
		return nil
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		c.logger.Warn("failed to decode config snapshot", zap.Error(err))
		return nil
	}
	if err := c.client.Load(ctx, &cfg); err != nil {
		c.logger.Warn("control plane rejected config snapshot", zap.Error(err))
		return nil
	}
	return &cfg
}

// Apply runs one copy-modify-try-load transaction. On a rejected load
// the prior config is explicitly re-loaded so the control plane cannot
// be left in a partially applied state, then the error is surfaced.
func (c *Configurator) Apply(ctx context.Context, mutate func(cfg *Config) error) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	prior := c.snapshotCurrent()
	if prior == nil {
		return fmt.Errorf("configurator is not initialized")
	}

	next := prior.Clone()
	if err := mutate(next); err != nil {
		return err
	}

	if err := c.client.Load(ctx, next); err != nil {
		if rbErr := c.client.Load(ctx, prior); rbErr != nil {
			c.logger.Error("failed to roll back control plane config", zap.Error(rbErr))
		}
		return fmt.Errorf("failed to apply config: %w", err)
	}

	c.setCurrent(next)

	if err := c.PersistSnapshot(ctx); err != nil {
		c.logger.Warn("failed to persist config snapshot", zap.Error(err))
	}
	return nil
}

// AddDomain routes domain to upstream.
// ErrRouteConflict when it is already routed elsewhere.
func (c *Configurator) AddDomain(ctx context.Context, domain, upstream string) error {
	return c.Apply(ctx, func(cfg *Config) error {
		return cfg.AddDomain(domain, upstream, c.httpsPort)
	})
}

// DeleteDomain removes domain's route.
// ErrRouteNotFound when it is not configured.
func (c *Configurator) DeleteDomain(ctx context.Context, domain string) error {
	return c.Apply(ctx, func(cfg *Config) error {
		return cfg.DeleteDomain(domain, c.httpsPort)
	})
}

// ListDomains returns the hostnames configured in the control plane's
// authoritative current config, not the local cache.
func (c *Configurator) ListDomains(ctx context.Context) ([]string, error) {
	raw, err := c.client.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode current config: %w", err)
	}
	return cfg.Hosts(), nil
}

// Upstream returns the cached dial target for domain.
func (c *Configurator) Upstream(domain string) (string, bool) {
	cfg := c.snapshotCurrent()
	if cfg == nil {
		return "", false
	}
	return cfg.Upstream(domain)
}

// PersistSnapshot writes the control plane's authoritative current
// config to durable storage for recovery after restart.
func (c *Configurator) PersistSnapshot(ctx context.Context) error {
	raw, err := c.client.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch config for snapshot: %w", err)
	}
	if err := c.docs.SaveSnapshot(raw); err != nil {
		return fmt.Errorf("failed to save config snapshot: %w", err)
	}
	return nil
}

func (c *Configurator) snapshotCurrent() *Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.Clone()
}

func (c *Configurator) setCurrent(cfg *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = cfg
}
