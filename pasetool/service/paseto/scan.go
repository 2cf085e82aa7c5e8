package paseto

import (
	"unicode/utf8"

	"github.com/go-appsec/pasetool/pasetool/service/proxy"
)

// LocationBody is the Match.Location of a token found in the body.
const LocationBody = "body"

// Match is the first token found in a message.
type Match struct {
	Token string `json:"token"`
	// Location is the header name the token was found in, or LocationBody.
	Location string `json:"location"`
}

// Find returns the first token in headers (in order), then in body.
// A content-encoded body is decoded first. Header values and bodies that are
// not valid UTF-8 text, or that cannot be decoded, are skipped.
func Find(headers proxy.Headers, body []byte) (Match, bool) {
	for _, h := range headers {
		if !utf8.ValidString(h.Value) {
			continue
		}
		if tok := Pattern.FindString(h.Value); tok != "" {
			return Match{Token: tok, Location: h.Name}, true
		}
	}

	text, ok := bodyText(headers, body)
	if !ok {
		return Match{}, false
	}
	if loc := Pattern.FindIndex(text); loc != nil {
		return Match{Token: string(text[loc[0]:loc[1]]), Location: LocationBody}, true
	}
	return Match{}, false
}

// FindInRequest is Find over a request's headers and body.
func FindInRequest(req *proxy.RawHTTP1Request) (Match, bool) {
	if req == nil {
		return Match{}, false
	}
	return Find(req.Headers, req.Body)
}

// ContainsToken reports whether req carries any token.
func ContainsToken(req *proxy.RawHTTP1Request) bool {
	_, ok := FindInRequest(req)
	return ok
}

func bodyText(headers proxy.Headers, body []byte) ([]byte, bool) {
	if len(body) == 0 {
		return nil, false
	}
	decoded, err := proxy.Decompress(body, headers.Get("Content-Encoding"))
	if err != nil || !utf8.Valid(decoded) {
		return nil, false
	}
	return decoded, true
}
