package service

import (
	"context"
	"errors"

	"github.com/go-appsec/pasetool/pasetool/service/proxy"
)

// ErrNotFound is returned when a requested flow or edit doesn't exist.
var ErrNotFound = errors.New("not found")

// Source constants for flow entries.
const (
	SourceProxy  = proxy.SourceProxy
	SourceReplay = proxy.SourceReplay
)

// HttpBackend is the proxy the service reads traffic from and sends requests through.
type HttpBackend interface {
	// Close shuts down the HttpBackend.
	Close() error

	// FlowCount returns the number of history offsets handed out.
	FlowCount() int

	// ListFlows returns up to count listing views starting at offset start.
	ListFlows(count int, start uint32) []proxy.HistoryMeta

	// GetFlow loads one history entry.
	GetFlow(offset uint32) (*proxy.HistoryEntry, bool)

	// SendRequest passes req through the interceptor, sends the result to
	// target and records the exchange in history.
	SendRequest(ctx context.Context, req *proxy.RawHTTP1Request, target proxy.Target) (*SendResult, error)
}

// SendResult is an exchange issued by SendRequest.
type SendResult struct {
	Entry *proxy.HistoryEntry
	// Substituted is set when a pending edit replaced the request.
	Substituted bool
}
