// Package domain drives the lifecycle of customer custom domains:
// request -> pending queue -> DNS verification -> promotion into the
// live proxy config, plus the periodic audit demoting domains whose
// DNS drifted away.
package domain

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/caddy"
	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/entities"
	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/queue"
	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/storage"
	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/tlsinfo"
)

// QueueStatusLive is reported for domains already present in the live
// proxy config, alongside the queue-internal pending/failed statuses.
const QueueStatusLive = "verified"

var (
	// ErrInvalidDomain means the domain name is not a well-formed
	// hostname. Rejected before any state change.
	ErrInvalidDomain = errors.New("invalid domain name")
	// ErrServerIPUnknown means the server's public IP could not be
	// determined, so A record verification is impossible.
	ErrServerIPUnknown = errors.New("server IP is unknown")
)

// Hostname: dot-separated lowercase labels, alphabetic TLD.
var domainPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

//go:generate mockgen -source=manager.go -package=domain -destination=manager_mock.go

// Verifier resolves and checks DNS records for verification probes.
// All failures degrade to a negative result, never an error.
type Verifier interface {
	LookupA(ctx context.Context, domain string) []string
	LookupTXT(ctx context.Context, domain string) []string
	CheckA(ctx context.Context, domain, expectedIP string) bool
	CheckTXT(ctx context.Context, domain, expected string) bool
}

// Options carries the static settings of a Manager.
type Options struct {
	// ServerIP is the public address customer A records must resolve to.
	ServerIP string
	// DefaultUpstream is used when a request names no upstream.
	DefaultUpstream string
	// PendingTTL is how long a domain may stay pending unverified.
	PendingTTL time.Duration
}

// Manager owns the domain state machine. A domain is in exactly one of
// the pending queue or the live proxy config, never both.
type Manager struct {
	queue   *queue.Queue
	proxy   *caddy.Configurator
	checker Verifier
	tokens  storage.Tokens
	logger  *zap.Logger
	opts    Options

	// inspectCert is swappable in tests; defaults to tlsinfo.Inspect.
	inspectCert func(ip, domain string) (entities.CertInfo, error)

	certMu sync.Mutex
	certs  map[string]entities.CertInfo
}

// New returns a Manager ready to use.
func New(
	q *queue.Queue,
	proxy *caddy.Configurator,
	checker Verifier,
	tokens storage.Tokens,
	logger *zap.Logger,
	opts Options,
) *Manager {
	return &Manager{
		queue:       q,
		proxy:       proxy,
		checker:     checker,
		tokens:      tokens,
		logger:      logger,
		opts:        opts,
		inspectCert: tlsinfo.Inspect,
		certs:       map[string]entities.CertInfo{},
	}
}

// Add validates domain and enqueues it for background verification.
// The domain is not routed immediately; a scheduler sweep or an
// explicit verify call promotes it once DNS checks pass. Re-adding a
// live or already queued domain is a no-op.
func (m *Manager) Add(ctx context.Context, domain, upstream string) error {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return err
	}

	live, err := m.proxy.ListDomains(ctx)
	if err != nil {
		return fmt.Errorf("failed to list live domains: %w", err)
	}
	if contains(live, domain) {
		m.logger.Info("domain is already live, skipping enqueue", zap.String("domain", domain))
		return nil
	}

	m.queue.Add(domain, m.upstreamOrDefault(upstream))
	return nil
}

// Remove deletes domain from whichever store currently tracks it: the
// pending queue, the live proxy config, and its challenge token file.
// Idempotent: removing an untracked domain succeeds.
func (m *Manager) Remove(ctx context.Context, domain string) error {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return err
	}

	m.queue.Remove(domain)

	if err := m.proxy.DeleteDomain(ctx, domain); err != nil && !errors.Is(err, caddy.ErrRouteNotFound) {
		return fmt.Errorf("failed to remove live domain: %w", err)
	}

	m.forgetCert(domain)

	if err := m.tokens.Remove(domain); err != nil {
		m.logger.Warn("failed to remove challenge token", zap.String("domain", domain), zap.Error(err))
	}
	return nil
}

// List returns the full domain inventory: live domains from the
// control plane's authoritative config, queued ones split by status.
func (m *Manager) List(ctx context.Context) (entities.DomainList, error) {
	live, err := m.proxy.ListDomains(ctx)
	if err != nil {
		return entities.DomainList{}, fmt.Errorf("failed to list live domains: %w", err)
	}

	list := entities.DomainList{
		Live:    make([]entities.LiveDomain, 0, len(live)),
		Pending: []entities.QueuedDomain{},
		Failed:  []entities.QueuedDomain{},
	}
	for _, domain := range live {
		list.Live = append(list.Live, entities.LiveDomain{
			Domain: domain,
			Cert:   m.certFor(domain),
		})
	}

	for domain, entry := range m.queue.All() {
		queued := entities.QueuedDomain{
			Domain:   domain,
			Upstream: entry.Upstream,
			AddedAt:  entry.AddedAt,
			Status:   entry.Status,
		}
		if entry.Status == entities.StatusFailed {
			list.Failed = append(list.Failed, queued)
		} else {
			list.Pending = append(list.Pending, queued)
		}
	}

	sort.Slice(list.Pending, func(i, j int) bool { return list.Pending[i].Domain < list.Pending[j].Domain })
	sort.Slice(list.Failed, func(i, j int) bool { return list.Failed[i].Domain < list.Failed[j].Domain })
	return list, nil
}

// Verify checks domain's A and TXT records and reports the outcome.
// Side effects: an untracked domain is enqueued, a failed one is reset
// to pending with a fresh TTL, and a fully verified pending one is
// promoted immediately. A negative check is a normal result, not an
// error.
func (m *Manager) Verify(ctx context.Context, domain, upstream string) (entities.VerificationResult, error) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return entities.VerificationResult{}, err
	}
	if m.opts.ServerIP == "" {
		return entities.VerificationResult{}, ErrServerIPUnknown
	}

	live, err := m.proxy.ListDomains(ctx)
	if err != nil {
		return entities.VerificationResult{}, fmt.Errorf("failed to list live domains: %w", err)
	}
	alreadyLive := contains(live, domain)

	status, tracked := m.queue.Status(domain)
	if !alreadyLive && !tracked {
		m.queue.Add(domain, m.upstreamOrDefault(upstream))
		status, _ = m.queue.Status(domain)
	}
	if status == entities.StatusFailed {
		m.queue.MarkPending(domain)
		status = entities.StatusPending
	}

	token, err := m.tokens.GetOrCreate(domain)
	if err != nil {
		return entities.VerificationResult{}, fmt.Errorf("failed to load challenge token: %w", err)
	}

	aOK := m.checker.CheckA(ctx, domain, m.opts.ServerIP)
	txtOK := m.checker.CheckTXT(ctx, domain, token)

	if aOK && txtOK && !alreadyLive && status == entities.StatusPending {
		entry, ok := m.queue.All()[domain]
		promoteUpstream := m.upstreamOrDefault(upstream)
		if ok && upstream == "" {
			promoteUpstream = entry.Upstream
		}
		if err := m.promote(ctx, domain, promoteUpstream); err != nil {
			return entities.VerificationResult{}, err
		}
		alreadyLive = true
	}

	queueStatus := ""
	if current, ok := m.queue.Status(domain); ok {
		queueStatus = string(current)
	}
	if alreadyLive {
		queueStatus = QueueStatusLive
	}

	return entities.VerificationResult{
		Domain:      domain,
		ServerIP:    m.opts.ServerIP,
		QueueStatus: queueStatus,
		Records: []entities.RecordCheck{
			{
				Type:     "A",
				Expected: m.opts.ServerIP,
				Resolved: m.checker.LookupA(ctx, domain),
				Verified: aOK,
			},
			{
				Type:     "TXT",
				Expected: token,
				Resolved: m.checker.LookupTXT(ctx, domain),
				Verified: txtOK,
			},
		},
		AVerified:   aOK,
		TXTVerified: txtOK,
	}, nil
}

// CheckPending is the short-interval scheduler entry point: it sweeps
// expired entries to failed, then tries to verify and promote every
// currently pending domain.
func (m *Manager) CheckPending(ctx context.Context) {
	if failed := m.queue.SweepExpired(m.opts.PendingTTL); len(failed) > 0 {
		m.logger.Info("marked expired pending domains failed", zap.Strings("domains", failed))
	}

	if m.opts.ServerIP == "" {
		m.logger.Warn("server IP unknown, skipping pending verification")
		return
	}

	for domain, entry := range m.queue.PendingOnly() {
		if ctx.Err() != nil {
			return
		}

		token, err := m.tokens.GetOrCreate(domain)
		if err != nil {
			m.logger.Error("failed to load challenge token",
				zap.String("domain", domain), zap.Error(err))
			continue
		}

		aOK := m.checker.CheckA(ctx, domain, m.opts.ServerIP)
		txtOK := m.checker.CheckTXT(ctx, domain, token)
		if !aOK || !txtOK {
			m.logger.Debug("pending domain not yet verified",
				zap.String("domain", domain),
				zap.Bool("a_ok", aOK),
				zap.Bool("txt_ok", txtOK),
			)
			continue
		}

		if err := m.promote(ctx, domain, entry.Upstream); err != nil {
			m.logger.Error("failed to promote verified domain",
				zap.String("domain", domain), zap.Error(err))
		}
	}
}

// Audit is the long-interval scheduler entry point: it demotes live
// domains whose A record no longer points at the server, and refreshes
// the certificate health report for the rest. Returns the demoted
// domains.
func (m *Manager) Audit(ctx context.Context) []string {
	if m.opts.ServerIP == "" {
		m.logger.Warn("server IP unknown, skipping domain audit")
		return nil
	}

	live, err := m.proxy.ListDomains(ctx)
	if err != nil {
		m.logger.Error("failed to list live domains for audit", zap.Error(err))
		return nil
	}

	var removed []string
	for _, domain := range live {
		if ctx.Err() != nil {
			return removed
		}

		if m.checker.CheckA(ctx, domain, m.opts.ServerIP) {
			m.refreshCert(domain)
			continue
		}

		m.logger.Info("audit: A record no longer points at server, removing domain",
			zap.String("domain", domain),
			zap.String("server_ip", m.opts.ServerIP),
		)
		if err := m.proxy.DeleteDomain(ctx, domain); err != nil {
			m.logger.Error("audit: failed to remove domain",
				zap.String("domain", domain), zap.Error(err))
			continue
		}
		m.forgetCert(domain)
		removed = append(removed, domain)
	}

	if len(removed) > 0 {
		m.logger.Info("audit removed stale domains", zap.Strings("domains", removed))
	}
	return removed
}

// promote moves a verified domain from the queue into the live config.
// The queue entry is dropped only after the control plane accepted the
// route, so a failed promotion leaves the domain pending for a retry.
func (m *Manager) promote(ctx context.Context, domain, upstream string) error {
	if err := m.proxy.AddDomain(ctx, domain, upstream); err != nil {
		return fmt.Errorf("failed to route %q: %w", domain, err)
	}
	m.queue.Remove(domain)
	m.logger.Info("promoted domain into live config",
		zap.String("domain", domain),
		zap.String("upstream", upstream),
	)
	return nil
}

func (m *Manager) refreshCert(domain string) {
	info, err := m.inspectCert(m.opts.ServerIP, domain)
	if err != nil {
		m.logger.Debug("certificate inspection failed",
			zap.String("domain", domain), zap.Error(err))
		return
	}
	if !info.Valid {
		m.logger.Warn("live domain serves an invalid certificate",
			zap.String("domain", domain),
			zap.Timep("expired_at", info.ExpiredAt),
		)
	}

	m.certMu.Lock()
	m.certs[domain] = info
	m.certMu.Unlock()
}

func (m *Manager) certFor(domain string) *entities.CertInfo {
	m.certMu.Lock()
	defer m.certMu.Unlock()

	info, ok := m.certs[domain]
	if !ok {
		return nil
	}
	return &info
}

func (m *Manager) forgetCert(domain string) {
	m.certMu.Lock()
	delete(m.certs, domain)
	m.certMu.Unlock()
}

func (m *Manager) upstreamOrDefault(upstream string) string {
	if upstream == "" {
		return m.opts.DefaultUpstream
	}
	return upstream
}

// normalizeDomain lowercases and trims the hostname and validates it.
func normalizeDomain(domain string) (string, error) {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if len(domain) == 0 || len(domain) > 253 || !domainPattern.MatchString(domain) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return domain, nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
