package paseto

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/go-appsec/pasetool/pasetool/service/proxy"
)

// Rewrite returns a copy of req with oldToken replaced by newToken.
// In each header value only the first occurrence is replaced, and likewise in the body.
// Header names, order and everything not containing oldToken are left untouched.
// req itself is never modified.
func Rewrite(req *proxy.RawHTTP1Request, oldToken, newToken string) *proxy.RawHTTP1Request {
	out, _ := rewrite(req, oldToken, newToken)
	return out
}

// rewrite also reports whether anything was replaced.
func rewrite(req *proxy.RawHTTP1Request, oldToken, newToken string) (*proxy.RawHTTP1Request, bool) {
	out := req.Clone()
	if out == nil || oldToken == "" || oldToken == newToken {
		return out, false
	}

	var changed bool
	for i, h := range out.Headers {
		if strings.Contains(h.Value, oldToken) {
			out.Headers[i].Value = strings.Replace(h.Value, oldToken, newToken, 1)
			out.Headers[i].RawLine = nil
			changed = true
		}
	}

	if body, ok := rewriteBody(out.Headers, out.Body, oldToken, newToken); ok {
		out.Body = body
		if out.Headers.Has("Content-Length") {
			out.Headers.Set("Content-Length", strconv.Itoa(len(body)))
		}
		changed = true
	}
	return out, changed
}

// rewriteBody replaces inside the decoded body and re-encodes it with the same coding.
// ok is false when the body cannot be round-tripped or does not contain oldToken.
func rewriteBody(headers proxy.Headers, body []byte, oldToken, newToken string) ([]byte, bool) {
	if len(body) == 0 {
		return nil, false
	}
	encoding := headers.Get("Content-Encoding")
	plain, err := proxy.Decompress(body, encoding)
	if err != nil || !bytes.Contains(plain, []byte(oldToken)) {
		return nil, false
	}

	replaced := bytes.Replace(plain, []byte(oldToken), []byte(newToken), 1)
	encoded, err := proxy.Compress(replaced, encoding)
	if err != nil {
		return nil, false
	}
	return encoded, true
}

// headerHolds reports whether any header value contains token.
func headerHolds(headers proxy.Headers, token string) bool {
	for _, h := range headers {
		if strings.Contains(h.Value, token) {
			return true
		}
	}
	return false
}
