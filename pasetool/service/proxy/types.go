package proxy

import (
	"bytes"
	"strings"
	"time"

	"github.com/go-analyze/bulk"
)

// Header is a single HTTP header line in wire order.
type Header struct {
	// Name keeps the casing and any whitespace anomaly seen on the wire.
	Name string `json:"name" msgpack:"n"`

	// Value is trimmed of surrounding whitespace.
	Value string `json:"value" msgpack:"v"`

	// RawLine holds the original bytes of the line (obs-fold included, line ending excluded).
	// nil for headers created or modified in code; serialization then falls back to "Name: Value".
	RawLine []byte `json:"raw_line,omitempty" msgpack:"r,omitempty"`
}

// WireFormat records encoding quirks of the message as received.
type WireFormat struct {
	WasChunked bool `json:"was_chunked,omitempty" msgpack:"c,omitempty"`
	UsedBareLF bool `json:"used_bare_lf,omitempty" msgpack:"lf,omitempty"`
}

// Headers is an ordered header list with case-insensitive helpers.
type Headers []Header

// Get returns the first value for name, or empty string.
func (h *Headers) Get(name string) string {
	for _, hdr := range *h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// Has reports whether any header is named name.
func (h *Headers) Has(name string) bool {
	for _, hdr := range *h {
		if strings.EqualFold(hdr.Name, name) {
			return true
		}
	}
	return false
}

// Set replaces the first header named name, or appends one.
// The raw line is dropped since it no longer reflects the value.
func (h *Headers) Set(name, value string) {
	for i, hdr := range *h {
		if strings.EqualFold(hdr.Name, name) {
			(*h)[i].Value = value
			(*h)[i].RawLine = nil
			return
		}
	}
	*h = append(*h, Header{Name: name, Value: value})
}

// Remove drops every header named name.
func (h *Headers) Remove(name string) {
	*h = bulk.SliceFilterInPlace(func(hdr Header) bool {
		return !strings.EqualFold(hdr.Name, name)
	}, *h)
}

// Clone returns a deep copy.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	for i, hdr := range h {
		out[i] = Header{Name: hdr.Name, Value: hdr.Value, RawLine: bytes.Clone(hdr.RawLine)}
	}
	return out
}

// RawHTTP1Request is a parsed HTTP/1.x request that serializes back to the wire
// with its original formatting where possible.
type RawHTTP1Request struct {
	Method  string `json:"method" msgpack:"m"`
	Path    string `json:"path" msgpack:"p"`            // without query; absolute URL for proxy-form
	Query   string `json:"query,omitempty" msgpack:"q"` // without leading '?'
	Version string `json:"version" msgpack:"ver"`

	Headers Headers `json:"headers" msgpack:"h"`

	// Body is de-chunked but still content-encoded.
	Body     []byte `json:"body,omitempty" msgpack:"b,omitempty"`
	Trailers []byte `json:"trailers,omitempty" msgpack:"t,omitempty"`

	Wire *WireFormat `json:"wire,omitempty" msgpack:"w,omitempty"`
}

// RawHTTP1Response is a parsed HTTP/1.x response.
type RawHTTP1Response struct {
	Version    string `json:"version" msgpack:"ver"`
	StatusCode int    `json:"status_code" msgpack:"sc"`
	StatusText string `json:"status_text,omitempty" msgpack:"st"`

	Headers Headers `json:"headers" msgpack:"h"`

	Body     []byte `json:"body,omitempty" msgpack:"b,omitempty"`
	Trailers []byte `json:"trailers,omitempty" msgpack:"t,omitempty"`

	Wire *WireFormat `json:"wire,omitempty" msgpack:"w,omitempty"`
}

func (r *RawHTTP1Request) GetHeader(name string) string  { return r.Headers.Get(name) }
func (r *RawHTTP1Request) SetHeader(name, value string)  { r.Headers.Set(name, value) }
func (r *RawHTTP1Request) RemoveHeader(name string)      { r.Headers.Remove(name) }
func (r *RawHTTP1Response) GetHeader(name string) string { return r.Headers.Get(name) }

// Clone returns a deep copy of the request. Interceptors clone before changing
// anything so a message captured elsewhere is never modified in place.
func (r *RawHTTP1Request) Clone() *RawHTTP1Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.Clone()
	c.Body = bytes.Clone(r.Body)
	c.Trailers = bytes.Clone(r.Trailers)
	if r.Wire != nil {
		w := *r.Wire
		c.Wire = &w
	}
	return &c
}

// Target is where a request is sent.
type Target struct {
	Hostname  string `json:"hostname" msgpack:"host"`
	Port      int    `json:"port" msgpack:"port"`
	UsesHTTPS bool   `json:"https" msgpack:"tls"`
}

// Request sources recorded in history.
const (
	SourceProxy  = "proxy"
	SourceReplay = "replay"
)

// HighlightGreen is the annotation set on requests that had an edit substituted.
const HighlightGreen = "green"

// HistoryEntry is a stored request/response exchange.
type HistoryEntry struct {
	Offset uint32 `json:"offset" msgpack:"o"`

	Source string  `json:"source" msgpack:"src"`
	Target *Target `json:"target,omitempty" msgpack:"tg,omitempty"`

	Request  *RawHTTP1Request  `json:"request,omitempty" msgpack:"req,omitempty"`
	Response *RawHTTP1Response `json:"response,omitempty" msgpack:"resp,omitempty"`

	// Highlight and Comment annotate the entry in listings.
	Highlight string `json:"highlight,omitempty" msgpack:"hl,omitempty"`
	Comment   string `json:"comment,omitempty" msgpack:"cm,omitempty"`

	Timestamp time.Time     `json:"timestamp" msgpack:"ts"`
	Duration  time.Duration `json:"duration" msgpack:"d"`
}

// Verdict is the outcome of intercepting one outbound request.
type Verdict struct {
	// Request is forwarded upstream in place of the intercepted message.
	Request *RawHTTP1Request

	// Highlight and Comment are copied into the history entry.
	Highlight string
	Comment   string
}

// RequestInterceptor decides, per outbound request, what is actually sent.
// It is invoked exactly once for every request passing through the proxy or the sender.
type RequestInterceptor interface {
	InterceptRequest(req *RawHTTP1Request) Verdict
}

// PassThrough is a RequestInterceptor that forwards every request unchanged.
type PassThrough struct{}

func (PassThrough) InterceptRequest(req *RawHTTP1Request) Verdict {
	return Verdict{Request: req}
}

// Clone returns a deep copy of the response.
func (r *RawHTTP1Response) Clone() *RawHTTP1Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.Clone()
	c.Body = bytes.Clone(r.Body)
	c.Trailers = bytes.Clone(r.Trailers)
	if r.Wire != nil {
		w := *r.Wire
		c.Wire = &w
	}
	return &c
}
