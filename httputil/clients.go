package httputil

import (
	"log"
	"net/http"
	"net/url"
	"time"

	"ecocounter_ingest/config"
)

const userAgent = "ecocounter-ingest/1.0"

// NewAPIClient returns the client used for SmartView requests. Every call is
// bounded by the configured timeout; a proxy is used only when configured.
func NewAPIClient(sourceCfg *config.SourceConfig, proxyCfg *config.ProxyConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyCfg != nil && proxyCfg.URL != "" {
		proxyURL, err := url.Parse(proxyCfg.URL)
		if err != nil {
			log.Printf("Warning: ignoring invalid proxy URL: %v", err)
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	timeout := sourceCfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{next: transport},
	}
}

type userAgentTransport struct {
	next http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", userAgent)
	}
	return t.next.RoundTrip(req)
}
