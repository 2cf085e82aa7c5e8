package service

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-appsec/pasetool/pasetool/service/proxy"
)

const (
	fullBodyMaxSize    = 64 * 1024
	responsePreviewLen = 500
)

// globToRegex converts a simple glob pattern to regex.
// Supports: * (any chars), ? (single char)
func globToRegex(glob string) string {
	escaped := regexp.QuoteMeta(glob)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")
	escaped = strings.ReplaceAll(escaped, `\?`, ".")
	return escaped
}

// compileGlob returns a matcher for pattern; an empty pattern matches everything.
func compileGlob(pattern string) func(string) bool {
	if pattern == "" {
		return func(string) bool { return true }
	}
	re, err := regexp.Compile("(?i)^" + globToRegex(pattern) + "$")
	if err != nil {
		return func(string) bool { return false }
	}
	return re.MatchString
}

// parseCommaSeparated parses a comma-separated list into a slice.
func parseCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// decompressForDisplay decodes a content-encoded body, returning it as is on failure.
func decompressForDisplay(body []byte, contentEncoding string) ([]byte, bool) {
	if len(body) == 0 || proxy.IsIdentityEncoding(contentEncoding) {
		return body, false
	}
	decoded, err := proxy.Decompress(body, contentEncoding)
	if err != nil {
		return body, false
	}
	return decoded, true
}

// previewBody returns a UTF-8 safe preview of the body.
// Returns "<BINARY:N Bytes>" for non-UTF-8 content, truncates at maxLen runes.
func previewBody(body []byte, maxLen int) string {
	if len(body) == 0 {
		return ""
	}
	if !utf8.Valid(body) {
		return "<BINARY:" + strconv.Itoa(len(body)) + " Bytes>"
	}
	s := string(body)
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}

// renderMessage renders a head as wire text followed by a display body.
func renderMessage(head []byte, headers proxy.Headers, body []byte, maxLen int) string {
	display, _ := decompressForDisplay(body, headers.Get("Content-Encoding"))
	if i := bytes.Index(head, []byte("\r\n\r\n")); i >= 0 {
		head = head[:i+4]
	} else if i := bytes.Index(head, []byte("\n\n")); i >= 0 {
		head = head[:i+2]
	}
	return string(head) + previewBody(display, maxLen)
}

// statusLine formats "HTTP/1.1 200 OK".
func statusLine(resp *proxy.RawHTTP1Response) string {
	line := resp.Version + " " + strconv.Itoa(resp.StatusCode)
	if resp.StatusText != "" {
		line += " " + resp.StatusText
	}
	return line
}

// responseHeaderText renders the response headers without the status line.
func responseHeaderText(resp *proxy.RawHTTP1Response) string {
	var sb strings.Builder
	for _, h := range resp.Headers {
		sb.WriteString(h.Name)
		sb.WriteString(": ")
		sb.WriteString(h.Value)
		sb.WriteString("\r\n")
	}
	return sb.String()
}

// targetURL renders the request target as an absolute URL.
func targetURL(t *proxy.Target, req *proxy.RawHTTP1Request) string {
	if t == nil {
		return req.Path
	}
	scheme := "http"
	defaultPort := 80
	if t.UsesHTTPS {
		scheme, defaultPort = "https", 443
	}
	host := t.Hostname
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if t.Port != defaultPort {
		host += ":" + strconv.Itoa(t.Port)
	}
	u := scheme + "://" + host + req.Path
	if req.Query != "" {
		u += "?" + req.Query
	}
	return u
}
