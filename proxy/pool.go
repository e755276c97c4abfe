package proxy

import (
	"fmt"
	"strings"
	"sync"

	"car_scrooper/config"
	"car_scrooper/identity"
)

// Proxy is one upstream endpoint with its credentials, in the form the
// browser launcher consumes.
type Proxy struct {
	Server   string
	Username string
	Password string
}

// Pool hands out proxies for browser sessions. Three modes: none, a
// residential provider with per-session sticky IPs, or a custom list rotated
// round-robin.
type Pool struct {
	mode    string
	server  string
	user    string
	pass    string
	entries []Proxy

	mu   sync.Mutex
	next int
}

func NewPool(cfg config.ProxyConfig) (*Pool, error) {
	p := &Pool{mode: cfg.Mode, server: cfg.Server, user: cfg.Username, pass: cfg.Password}

	switch cfg.Mode {
	case "", "none":
		p.mode = "none"
	case "oxylabs":
		if cfg.Server == "" || cfg.Username == "" {
			return nil, fmt.Errorf("oxylabs proxy mode needs PROXY_SERVER and PROXY_USERNAME")
		}
	case "custom":
		for _, entry := range cfg.Custom {
			parsed, err := parseEntry(entry)
			if err != nil {
				return nil, err
			}
			p.entries = append(p.entries, parsed)
		}
		if len(p.entries) == 0 {
			return nil, fmt.Errorf("custom proxy mode needs at least one CUSTOM_PROXIES entry")
		}
	default:
		return nil, fmt.Errorf("unknown proxy mode %q", cfg.Mode)
	}

	return p, nil
}

// Next returns the proxy for a fresh browser session, nil when proxying is
// off. In provider mode each call mints a new session ID, which maps to a
// new exit IP.
func (p *Pool) Next() *Proxy {
	switch p.mode {
	case "none":
		return nil
	case "oxylabs":
		return &Proxy{
			Server:   p.server,
			Username: fmt.Sprintf("%s-sessid-%s", p.user, identity.NewSessionID()),
			Password: p.pass,
		}
	default:
		p.mu.Lock()
		defer p.mu.Unlock()
		entry := p.entries[p.next%len(p.entries)]
		p.next++
		return &entry
	}
}

// parseEntry parses "ip:port" or "ip:port:user:pass".
func parseEntry(entry string) (Proxy, error) {
	parts := strings.Split(strings.TrimSpace(entry), ":")
	switch len(parts) {
	case 2:
		return Proxy{Server: "http://" + parts[0] + ":" + parts[1]}, nil
	case 4:
		return Proxy{
			Server:   "http://" + parts[0] + ":" + parts[1],
			Username: parts[2],
			Password: parts[3],
		}, nil
	default:
		return Proxy{}, fmt.Errorf("malformed proxy entry %q, want ip:port or ip:port:user:pass", entry)
	}
}
