package testutil

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"lockss-go/internal/lockss"
)

// FakeResponse is the canned outcome of a FakeFetcher call.
type FakeResponse struct {
	StatusCode int
	Body       string
	Err        error
}

// FetchCall records one FakeFetcher invocation.
type FetchCall struct {
	URL       string
	LocalAddr net.IP
}

// FakeFetcher answers by local address. Responses is keyed by
// localAddr.String(), with "" for a nil address. Unknown addresses
// answer 200 with an empty body.
type FakeFetcher struct {
	mu        sync.Mutex
	Responses map[string]FakeResponse
	calls     []FetchCall
}

func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{Responses: make(map[string]FakeResponse)}
}

// Respond sets the response for requests bound to addr ("" for unbound).
func (f *FakeFetcher) Respond(addr string, resp FakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[addr] = resp
}

func (f *FakeFetcher) Fetch(ctx context.Context, url string, localAddr net.IP) (*lockss.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, FetchCall{URL: url, LocalAddr: localAddr})
	key := ""
	if localAddr != nil {
		key = localAddr.String()
	}
	resp, ok := f.Responses[key]
	if !ok {
		resp = FakeResponse{StatusCode: http.StatusOK}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &lockss.FetchError{Kind: lockss.FetchPermissionDenied, URL: url, StatusCode: resp.StatusCode}
	}
	return &lockss.FetchResult{
		URL:        url,
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(strings.NewReader(resp.Body)),
		LocalAddr:  localAddr,
	}, nil
}

// Calls returns the recorded calls in order.
func (f *FakeFetcher) Calls() []FetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FetchCall(nil), f.calls...)
}

var _ lockss.Fetcher = (*FakeFetcher)(nil)

// PollRequest records one EnqueueRepairPoll call.
type PollRequest struct {
	AuID     string
	Priority lockss.Priority
}

// RecordingPollManager records repair poll requests. Err, when set, is
// returned from every call after recording it.
type RecordingPollManager struct {
	mu       sync.Mutex
	Err      error
	requests []PollRequest
}

func (p *RecordingPollManager) EnqueueRepairPoll(ctx context.Context, au *lockss.ArchivalUnit, priority lockss.Priority) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, PollRequest{AuID: au.ID, Priority: priority})
	return p.Err
}

// Requests returns the recorded requests in order.
func (p *RecordingPollManager) Requests() []PollRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PollRequest(nil), p.requests...)
}

var _ lockss.PollManager = (*RecordingPollManager)(nil)

// RecordingDamageReporter records reported URLs.
type RecordingDamageReporter struct {
	mu   sync.Mutex
	urls []string
}

func (d *RecordingDamageReporter) ReportMismatch(ctx context.Context, au *lockss.ArchivalUnit, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	return nil
}

// URLs returns the reported URLs in order.
func (d *RecordingDamageReporter) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

var _ lockss.DamageReporter = (*RecordingDamageReporter)(nil)
