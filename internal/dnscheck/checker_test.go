package dnscheck

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fakeAnswer(rrs ...dns.RR) exchangeFunc {
	return func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, error) {
		resp := new(dns.Msg)
		resp.SetReply(msg)
		resp.Answer = rrs
		return resp, nil
	}
}

func aRecord(domain, ip string) *dns.A {
	return &dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(domain), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
		A:   net.ParseIP(ip),
	}
}

func txtRecord(domain string, chunks ...string) *dns.TXT {
	return &dns.TXT{
		Hdr: dns.RR_Header{Name: dns.Fqdn(domain), Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
		Txt: chunks,
	}
}

func newTestChecker(exchange exchangeFunc) *Checker {
	c := New([]string{"192.0.2.1:53"}, time.Second, zap.NewNop())
	c.exchange = exchange
	return c
}

func TestCheckA(t *testing.T) {
	t.Parallel()

	t.Run("check matching A record verifies", func(t *testing.T) {
		t.Parallel()

		c := newTestChecker(fakeAnswer(
			aRecord("custom.example.org", "192.0.2.10"),
			aRecord("custom.example.org", "5.6.7.8"),
		))

		require.True(t, c.CheckA(context.Background(), "custom.example.org", "5.6.7.8"))
		require.False(t, c.CheckA(context.Background(), "custom.example.org", "9.9.9.9"))
	})

	t.Run("check lookup error degrades to not verified", func(t *testing.T) {
		t.Parallel()

		c := newTestChecker(func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, error) {
			return nil, errors.New("i/o timeout")
		})

		require.False(t, c.CheckA(context.Background(), "custom.example.org", "5.6.7.8"))
		require.Empty(t, c.LookupA(context.Background(), "custom.example.org"))
	})

	t.Run("check empty answer degrades to not verified", func(t *testing.T) {
		t.Parallel()

		c := newTestChecker(fakeAnswer())
		require.False(t, c.CheckA(context.Background(), "custom.example.org", "5.6.7.8"))
	})

	t.Run("check second resolver is tried after a failure", func(t *testing.T) {
		t.Parallel()

		c := New([]string{"192.0.2.1:53", "192.0.2.2:53"}, time.Second, zap.NewNop())
		c.exchange = func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, error) {
			if addr == "192.0.2.1:53" {
				return nil, errors.New("connection refused")
			}
			resp := new(dns.Msg)
			resp.SetReply(msg)
			resp.Answer = []dns.RR{aRecord("custom.example.org", "5.6.7.8")}
			return resp, nil
		}

		require.True(t, c.CheckA(context.Background(), "custom.example.org", "5.6.7.8"))
	})
}

func TestCheckTXT(t *testing.T) {
	t.Parallel()

	t.Run("check matching TXT record verifies", func(t *testing.T) {
		t.Parallel()

		c := newTestChecker(fakeAnswer(
			txtRecord("custom.example.org", "luckyads_abc123"),
			txtRecord("custom.example.org", "v=spf1 -all"),
		))

		require.True(t, c.CheckTXT(context.Background(), "custom.example.org", "luckyads_abc123"))
		require.False(t, c.CheckTXT(context.Background(), "custom.example.org", "luckyads_other"))
	})

	t.Run("check chunked TXT record is joined before comparison", func(t *testing.T) {
		t.Parallel()

		c := newTestChecker(fakeAnswer(txtRecord("custom.example.org", "luckyads_", "abc123")))
		require.True(t, c.CheckTXT(context.Background(), "custom.example.org", "luckyads_abc123"))
	})

	t.Run("check lookup error degrades to not verified", func(t *testing.T) {
		t.Parallel()

		c := newTestChecker(func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, error) {
			return nil, errors.New("no such host")
		})

		require.False(t, c.CheckTXT(context.Background(), "custom.example.org", "luckyads_abc123"))
	})
}
