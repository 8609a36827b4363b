package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	sharedMu      sync.Mutex
	sharedClients = map[time.Duration]*http.Client{}
)

// SharedHTTPClient returns the pooled client for the given request timeout.
// Providers configured with the same timeout share one transport.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if c, ok := sharedClients[timeout]; ok {
		return c
	}
	c := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
		},
	}
	sharedClients[timeout] = c
	return c
}
