package subscription

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"lockss-go/internal/lockss"
)

// HTTPFetcher fetches over HTTP with outgoing connections bound to a
// chosen local address. Each address gets its own transport so no
// connection is reused across network identities.
type HTTPFetcher struct {
	timeout   time.Duration
	userAgent string

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewHTTPFetcher creates a fetcher. timeout bounds each whole request.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		timeout:   timeout,
		userAgent: userAgent,
		clients:   make(map[string]*http.Client),
	}
}

func (f *HTTPFetcher) client(localAddr net.IP) *http.Client {
	key := ""
	if localAddr != nil {
		key = localAddr.String()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[key]; ok {
		return c
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	if localAddr != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: localAddr}
	}
	c := &http.Client{
		Timeout: f.timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConnsPerHost: 2,
		},
	}
	f.clients[key] = c
	return c
}

// Fetch issues a GET. 401 and 403 responses are permission failures;
// other non-2xx statuses and transport errors are FetchOther.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, localAddr net.IP) (*lockss.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &lockss.FetchError{Kind: lockss.FetchOther, URL: url, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client(localAddr).Do(req)
	if err != nil {
		return nil, &lockss.FetchError{Kind: lockss.FetchOther, URL: url, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, &lockss.FetchError{Kind: lockss.FetchPermissionDenied, URL: url, StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, &lockss.FetchError{Kind: lockss.FetchOther, URL: url, StatusCode: resp.StatusCode}
	}

	return &lockss.FetchResult{
		URL:         url,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
		LocalAddr:   localAddr,
	}, nil
}

var _ lockss.Fetcher = (*HTTPFetcher)(nil)

// ResolveAddr turns a configured bind address into an IP. An empty value
// means unbound. Host names resolve to their first address.
func ResolveAddr(ctx context.Context, addr string) (net.IP, error) {
	if addr == "" {
		return nil, nil
	}
	if ip := net.ParseIP(addr); ip != nil {
		return ip, nil
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", addr, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolving %s: no addresses", addr)
	}
	return ips[0], nil
}
