package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"oddsharvest/config"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

type Clients struct {
	Scraping *http.Client // proxied when PROXY_URL is set, for the odds provider
}

func NewClients(proxyCfg *config.ProxyConfig) *Clients {
	transport := &http.Transport{
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	scraping := &http.Client{
		Timeout:   15 * time.Second,
		Transport: &headerTransport{base: transport},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Clients{Scraping: scraping}
}

// headerTransport sets the browser-like headers the provider expects on feed requests
type headerTransport struct {
	base http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if req.Header.Get("X-Requested-With") == "" {
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	}
	return t.base.RoundTrip(req)
}
