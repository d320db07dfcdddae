package lockss

import (
	"context"
	"io"
	"net"
)

// Priority orders repair poll requests.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// PollManager accepts repair poll requests. The poll itself runs elsewhere.
type PollManager interface {
	EnqueueRepairPoll(ctx context.Context, au *ArchivalUnit, priority Priority) error
}

// DamageReporter is told about URLs whose content failed verification.
type DamageReporter interface {
	ReportMismatch(ctx context.Context, au *ArchivalUnit, url string) error
}

// AuStateStore loads and persists AuState.
type AuStateStore interface {
	LoadAuState(ctx context.Context, auID string) (*AuState, error)
	StoreAuState(ctx context.Context, state *AuState) error
}

// FetchResult is a successful fetch. The caller must close Body.
type FetchResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	LocalAddr   net.IP
}

// Fetcher retrieves a URL with outgoing connections bound to localAddr.
// A nil localAddr lets the system choose. Access-denied responses are
// reported as a *FetchError of kind FetchPermissionDenied.
type Fetcher interface {
	Fetch(ctx context.Context, url string, localAddr net.IP) (*FetchResult, error)
}
