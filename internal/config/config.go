package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"

	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/environment"
)

type (
	// AppConfig contains full configuration of the service.
	AppConfig struct {
		Env environment.Env `long:"env" env:"ENV" description:"Environment application is running in" default:"local"`

		ServerIP     string `long:"server_ip" env:"SERVER_IP" description:"Public IP customers must point their A records at; auto-detected when empty"`                //nolint:lll
		SaaSUpstream string `long:"saas_upstream" env:"SAAS_UPSTREAM" description:"Default upstream custom domains are proxied to" default:"localhost:9000"`            //nolint:lll
		APIKey       string `long:"api_key" env:"API_KEY" description:"Key clients must present in the X-API-Key header; empty disables the check on local env only"` //nolint:lll

		Logger  Logger  `group:"Logger options" namespace:"logger" env-namespace:"LOGGER"`
		HTTP    Server  `group:"HTTP server options" namespace:"http" env-namespace:"HTTP"`
		Caddy   Caddy   `group:"Caddy control plane options" namespace:"caddy" env-namespace:"CADDY"`
		Storage Storage `group:"Storage options" namespace:"storage" env-namespace:"STORAGE"`
		DNS     DNS     `group:"DNS verification options" namespace:"dns" env-namespace:"DNS"`
		Tickers Tickers `group:"Tickers options" namespace:"tickers" env-namespace:"TICKER"`
	}

	// Tickers struct of time duration tickers.
	Tickers struct {
		PendingPoll time.Duration `long:"pending_poll_duration" env:"PENDING_POLL" description:"Time between pending-domain verification sweeps" default:"60s"` //nolint:lll
		DomainAudit time.Duration `long:"domain_audit_duration" env:"DOMAIN_AUDIT" description:"Time between live-domain audit sweeps" default:"1h"`            //nolint:lll
		PendingTTL  time.Duration `long:"pending_ttl" env:"PENDING_TTL" description:"How long a domain may stay pending before it is marked failed" default:"24h"` //nolint:lll
	}

	// Logger contains logger configuration.
	Logger struct {
		Level string `long:"level" env:"LEVEL" description:"Log level to use; environment-base level is used when empty"`
	}

	// Server contains server configuration, regardless
	// of the server type http.
	Server struct {
		Host string `long:"host" env:"HOST" description:"Host to listen on, default is empty (all interfaces)"`
		Port int    `long:"port" env:"PORT" description:"Port to listen on" required:"true"`
	}

	// Caddy contains control plane configuration.
	Caddy struct {
		AdminURL     string        `long:"admin_url" env:"ADMIN_URL" description:"Base URL of the caddy admin API" default:"http://localhost:2019"`  //nolint:lll
		HTTPSPort    int           `long:"https_port" env:"HTTPS_PORT" description:"Port the HTTPS terminator listens on" default:"443"`
		DisableHTTPS bool          `long:"disable_https" env:"DISABLE_HTTPS" description:"Disable automatic HTTPS, for local development"`
		Timeout      time.Duration `long:"timeout" env:"TIMEOUT" description:"Timeout for admin API calls" default:"10s"`
	}

	// Storage contains durable file storage configuration.
	Storage struct {
		QueueFile    string `long:"queue_file" env:"QUEUE_FILE" description:"Path of the pending queue document" default:"domains/pending.json"`          //nolint:lll
		SnapshotFile string `long:"snapshot_file" env:"SNAPSHOT_FILE" description:"Path of the last-known-good config snapshot" default:"domains/caddy.json"` //nolint:lll
		TokensDir    string `long:"tokens_dir" env:"TOKENS_DIR" description:"Directory holding per-domain challenge token files" default:"domains/texts"` //nolint:lll
	}

	// DNS contains resolver configuration for record verification.
	DNS struct {
		Resolvers []string      `long:"resolver" env:"RESOLVERS" env-delim:"," description:"Resolvers to query, host:port" default:"1.1.1.1:53" default:"8.8.8.8:53"` //nolint:lll
		Timeout   time.Duration `long:"timeout" env:"TIMEOUT" description:"Timeout for a single DNS query" default:"5s"`
	}
)

// ErrHelp is returned when --help flag is
// used and application should not launch.
var ErrHelp = errors.New("help")

// New reads flags and envs and returns AppConfig
// that corresponds to the values read.
func New() (*AppConfig, error) {
	var config AppConfig
	if _, err := flags.Parse(&config); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}
