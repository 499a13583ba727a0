// Package dnscheck verifies customer DNS records against a fixed set of
// public recursive resolvers, bypassing the host resolver configuration
// so results are consistent and not served from a local cache.
package dnscheck

import (
	"context"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

type exchangeFunc func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, error)

// Checker resolves A and TXT records for verification probes. Lookup
// failures of any kind degrade to a negative result: verification is a
// best-effort probe that will be retried, never a fatal error.
type Checker struct {
	resolvers []string
	logger    *zap.Logger
	exchange  exchangeFunc
}

// New returns a Checker querying the given resolvers (host:port) in
// order, with timeout bounding every single query.
func New(resolvers []string, timeout time.Duration, logger *zap.Logger) *Checker {
	client := &dns.Client{Timeout: timeout}

	return &Checker{
		resolvers: resolvers,
		logger:    logger,
		exchange: func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, error) {
			resp, _, err := client.ExchangeContext(ctx, msg, addr)
			return resp, err
		},
	}
}

// LookupA returns all A record IPs for domain, empty on any failure.
func (c *Checker) LookupA(ctx context.Context, domain string) []string {
	resp := c.query(ctx, domain, dns.TypeA)
	if resp == nil {
		return nil
	}

	var ips []string
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips
}

// LookupTXT returns all TXT record values for domain, empty on any
// failure. Multi-chunk records are joined into a single value.
func (c *Checker) LookupTXT(ctx context.Context, domain string) []string {
	resp := c.query(ctx, domain, dns.TypeTXT)
	if resp == nil {
		return nil
	}

	var values []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			values = append(values, strings.Join(txt.Txt, ""))
		}
	}
	return values
}

// CheckA reports whether domain has an A record equal to expectedIP.
func (c *Checker) CheckA(ctx context.Context, domain, expectedIP string) bool {
	for _, ip := range c.LookupA(ctx, domain) {
		if ip == expectedIP {
			return true
		}
	}
	return false
}

// CheckTXT reports whether domain has a TXT record equal to expected.
func (c *Checker) CheckTXT(ctx context.Context, domain, expected string) bool {
	for _, value := range c.LookupTXT(ctx, domain) {
		if value == expected {
			return true
		}
	}
	return false
}

// query asks each resolver in turn and returns the first response,
// nil when every resolver failed to answer.
func (c *Checker) query(ctx context.Context, domain string, qtype uint16) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	msg.RecursionDesired = true

	for _, resolver := range c.resolvers {
		resp, err := c.exchange(ctx, msg, resolver)
		if err != nil || resp == nil {
			c.logger.Debug("dns query failed",
				zap.String("domain", domain),
				zap.String("resolver", resolver),
				zap.Uint16("qtype", qtype),
				zap.Error(err),
			)
			continue
		}
		return resp
	}
	return nil
}
