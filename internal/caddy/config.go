// Package caddy owns the reverse proxy's control plane configuration.
//
// The config document is mutated only through copy-modify-try-load
// transactions against the admin API: the live control plane either
// keeps its previous state or adopts the fully applied new one, never
// anything in between.
package caddy

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Route errors surfaced by document operations.
var (
	// ErrRouteConflict means the domain is already routed to a
	// different upstream.
	ErrRouteConflict = errors.New("domain already routed to a different upstream")
	// ErrRouteNotFound means the domain is not present in the config.
	ErrRouteNotFound = errors.New("domain not found in config")
)

// challengeUpstream serves HTTP-01 challenge callbacks on port 80.
const challengeUpstream = "localhost:9000"

type (
	// Config is the control plane configuration document.
	Config struct {
		Apps Apps `json:"apps"`
	}

	// Apps holds the configured caddy apps. Only the http app is used.
	Apps struct {
		HTTP HTTPApp `json:"http"`
	}

	// HTTPApp holds the http servers keyed by name.
	HTTPApp struct {
		Servers map[string]*Server `json:"servers"`
	}

	// Server is a single listener block.
	Server struct {
		Listen         []string        `json:"listen"`
		Routes         []Route         `json:"routes,omitempty"`
		AutomaticHTTPS *AutomaticHTTPS `json:"automatic_https,omitempty"`
	}

	// AutomaticHTTPS controls caddy's certificate automation.
	AutomaticHTTPS struct {
		Disable bool `json:"disable"`
	}

	// Route maps matchers to handlers.
	Route struct {
		Match    []Match   `json:"match,omitempty"`
		Handle   []Handler `json:"handle,omitempty"`
		Terminal bool      `json:"terminal,omitempty"`
	}

	// Match is a request matcher.
	Match struct {
		Host []string `json:"host,omitempty"`
		Path []string `json:"path,omitempty"`
	}

	// Handler is a route handler. Subroute and reverse_proxy are the
	// only handlers this service emits.
	Handler struct {
		Handler   string     `json:"handler"`
		Routes    []Route    `json:"routes,omitempty"`
		Upstreams []Upstream `json:"upstreams,omitempty"`
	}

	// Upstream is a reverse proxy dial target.
	Upstream struct {
		Dial string `json:"dial"`
	}
)

// Default returns the initial config document: an HTTPS terminator on
// httpsPort with no custom domains yet, and a port-80 server carrying
// the challenge subroute.
func Default(httpsPort int, disableHTTPS bool) *Config {
	return &Config{
		Apps: Apps{
			HTTP: HTTPApp{
				Servers: map[string]*Server{
					"443": {
						Listen:         []string{":" + strconv.Itoa(httpsPort)},
						Routes:         []Route{},
						AutomaticHTTPS: &AutomaticHTTPS{Disable: disableHTTPS},
					},
					"80": {
						Listen:         []string{":80"},
						Routes:         []Route{challengeRoute()},
						AutomaticHTTPS: &AutomaticHTTPS{Disable: true},
					},
				},
			},
		},
	}
}

// challengeRoute proxies /.well-known/* on port 80 to the local
// challenge solver so certificate issuance can complete for any host.
func challengeRoute() Route {
	return Route{
		Handle: []Handler{{
			Handler: "subroute",
			Routes: []Route{{
				Match: []Match{{Path: []string{"/.well-known/*"}}},
				Handle: []Handler{{
					Handler:   "reverse_proxy",
					Upstreams: []Upstream{{Dial: challengeUpstream}},
				}},
			}},
		}},
	}
}

// domainRoute builds the terminating route for one custom domain.
func domainRoute(domain, upstream string) Route {
	return Route{
		Match: []Match{{Host: []string{domain}}},
		Handle: []Handler{{
			Handler: "subroute",
			Routes: []Route{{
				Handle: []Handler{{
					Handler:   "reverse_proxy",
					Upstreams: []Upstream{{Dial: upstream}},
				}},
			}},
		}},
		Terminal: true,
	}
}

// AddDomain inserts a route for domain on the HTTPS server. Adding a
// domain that is already routed to the same upstream is a no-op;
// a different upstream is ErrRouteConflict.
func (c *Config) AddDomain(domain, upstream string, httpsPort int) error {
	srv := c.server(httpsPort)
	if srv == nil {
		return fmt.Errorf("no server listening on port %d", httpsPort)
	}

	for _, route := range srv.Routes {
		if !routeMatchesHost(route, domain) {
			continue
		}
		if routeUpstream(route) == upstream {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrRouteConflict, domain)
	}

	srv.Routes = append(srv.Routes, domainRoute(domain, upstream))
	return nil
}

// DeleteDomain removes the route for domain from the HTTPS server.
func (c *Config) DeleteDomain(domain string, httpsPort int) error {
	srv := c.server(httpsPort)
	if srv == nil {
		return fmt.Errorf("no server listening on port %d", httpsPort)
	}

	for i, route := range srv.Routes {
		if routeMatchesHost(route, domain) {
			srv.Routes = append(srv.Routes[:i], srv.Routes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRouteNotFound, domain)
}

// Hosts returns every hostname routed anywhere in the document, sorted.
func (c *Config) Hosts() []string {
	var hosts []string
	for _, srv := range c.Apps.HTTP.Servers {
		for _, route := range srv.Routes {
			for _, match := range route.Match {
				hosts = append(hosts, match.Host...)
			}
		}
	}
	sort.Strings(hosts)
	return hosts
}

// Upstream returns the dial target domain is routed to, false when the
// domain is not configured.
func (c *Config) Upstream(domain string) (string, bool) {
	for _, srv := range c.Apps.HTTP.Servers {
		for _, route := range srv.Routes {
			if routeMatchesHost(route, domain) {
				return routeUpstream(route), true
			}
		}
	}
	return "", false
}

// Clone returns a deep copy of the document, safe to mutate without
// touching the original.
func (c *Config) Clone() *Config {
	clone := &Config{
		Apps: Apps{HTTP: HTTPApp{Servers: make(map[string]*Server, len(c.Apps.HTTP.Servers))}},
	}
	for name, srv := range c.Apps.HTTP.Servers {
		clone.Apps.HTTP.Servers[name] = srv.clone()
	}
	return clone
}

func (s *Server) clone() *Server {
	out := &Server{
		Listen: append([]string(nil), s.Listen...),
		Routes: cloneRoutes(s.Routes),
	}
	if s.AutomaticHTTPS != nil {
		ah := *s.AutomaticHTTPS
		out.AutomaticHTTPS = &ah
	}
	return out
}

func cloneRoutes(routes []Route) []Route {
	if routes == nil {
		return nil
	}
	out := make([]Route, len(routes))
	for i, route := range routes {
		out[i] = Route{
			Match:    cloneMatches(route.Match),
			Handle:   cloneHandlers(route.Handle),
			Terminal: route.Terminal,
		}
	}
	return out
}

func cloneMatches(matches []Match) []Match {
	if matches == nil {
		return nil
	}
	out := make([]Match, len(matches))
	for i, match := range matches {
		out[i] = Match{
			Host: append([]string(nil), match.Host...),
			Path: append([]string(nil), match.Path...),
		}
	}
	return out
}

func cloneHandlers(handlers []Handler) []Handler {
	if handlers == nil {
		return nil
	}
	out := make([]Handler, len(handlers))
	for i, handler := range handlers {
		out[i] = Handler{
			Handler:   handler.Handler,
			Routes:    cloneRoutes(handler.Routes),
			Upstreams: append([]Upstream(nil), handler.Upstreams...),
		}
	}
	return out
}

// server returns the block listening on port, nil when absent.
func (c *Config) server(port int) *Server {
	suffix := ":" + strconv.Itoa(port)
	for _, srv := range c.Apps.HTTP.Servers {
		for _, listen := range srv.Listen {
			if listen == suffix {
				return srv
			}
		}
	}
	return nil
}

func routeMatchesHost(route Route, domain string) bool {
	for _, match := range route.Match {
		for _, host := range match.Host {
			if host == domain {
				return true
			}
		}
	}
	return false
}

// routeUpstream digs the reverse proxy dial target out of a route,
// descending through subroutes.
func routeUpstream(route Route) string {
	for _, handler := range route.Handle {
		for _, upstream := range handler.Upstreams {
			return upstream.Dial
		}
		for _, sub := range handler.Routes {
			if dial := routeUpstream(sub); dial != "" {
				return dial
			}
		}
	}
	return ""
}
