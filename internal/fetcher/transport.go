package fetcher

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fundingcalc/internal/version"
)

// TransportOptions describe how the upstream client reaches the network. Nothing here
// is read from the process environment; the caller decides the proxy.
type TransportOptions struct {
	ProxyURL  string
	Timeout   time.Duration
	UserAgent string
	// Base replaces the default round tripper, e.g. with a stub in tests.
	Base http.RoundTripper
}

// NewHTTPClient builds the http.Client described by the options.
func (o TransportOptions) NewHTTPClient() (*http.Client, error) {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	if o.Base != nil {
		return &http.Client{Timeout: timeout, Transport: o.Base}, nil
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil

	if raw := strings.TrimSpace(o.ProxyURL); raw != "" {
		proxy, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if proxy.Scheme == "" || proxy.Host == "" {
			return nil, fmt.Errorf("proxy url %q must include scheme and host", raw)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

func (o TransportOptions) userAgent() string {
	if ua := strings.TrimSpace(o.UserAgent); ua != "" {
		return ua
	}
	return version.UserAgent()
}
