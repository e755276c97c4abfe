package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"car_scrooper/proxy"
)

type Clients struct {
	Images *http.Client // for listing photo downloads, proxied when configured
	Plain  *http.Client // direct, for S3 and misc requests
}

func NewClients(p *proxy.Proxy) *Clients {
	images := &http.Client{Timeout: 30 * time.Second}

	if p != nil {
		proxyURL, err := url.Parse(p.Server)
		if err == nil {
			if p.Username != "" {
				proxyURL.User = url.UserPassword(p.Username, p.Password)
			}
			images.Transport = &http.Transport{
				Proxy:             http.ProxyURL(proxyURL),
				ForceAttemptHTTP2: false,
				TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
			}
		}
	}

	return &Clients{
		Images: images,
		Plain:  &http.Client{Timeout: 30 * time.Second},
	}
}
