package proxy

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	t.Parallel()

	t.Run("origin_form", func(t *testing.T) {
		req, err := ParseRequest([]byte("GET /a/b?x=1&y=2 HTTP/1.1\r\nHost: api.test\r\nAuthorization: Bearer v2.local.A\r\n\r\n"))
		require.NoError(t, err)
		assert.Equal(t, "GET", req.Method)
		assert.Equal(t, "/a/b", req.Path)
		assert.Equal(t, "x=1&y=2", req.Query)
		assert.Equal(t, "HTTP/1.1", req.Version)
		assert.Equal(t, "Bearer v2.local.A", req.GetHeader("authorization"))
		assert.Nil(t, req.Wire)
	})

	t.Run("proxy_form", func(t *testing.T) {
		req, err := ParseRequest([]byte("GET http://api.test:8080/p?q=1 HTTP/1.1\r\n\r\n"))
		require.NoError(t, err)
		assert.Equal(t, "http://api.test:8080/p", req.Path)
		assert.Equal(t, "q=1", req.Query)
	})

	t.Run("missing_version_defaults", func(t *testing.T) {
		req, err := ParseRequest([]byte("GET /\r\n\r\n"))
		require.NoError(t, err)
		assert.Equal(t, "HTTP/1.1", req.Version)
	})

	t.Run("content_length_body", func(t *testing.T) {
		req, err := ParseRequest([]byte("POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"))
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), req.Body)
	})

	t.Run("chunked_body", func(t *testing.T) {
		req, err := ParseRequest([]byte("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n6;ext=1\r\n world\r\n0\r\nX-Trailer: t\r\n\r\n"))
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(req.Body))
		assert.Equal(t, "X-Trailer: t\r\n", string(req.Trailers))
		require.NotNil(t, req.Wire)
		assert.True(t, req.Wire.WasChunked)
	})

	t.Run("bare_lf_and_obs_fold", func(t *testing.T) {
		req, err := ParseRequest([]byte("GET / HTTP/1.1\nX-Long: part1\n\tpart2\nHost: h\n\n"))
		require.NoError(t, err)
		require.NotNil(t, req.Wire)
		assert.True(t, req.Wire.UsedBareLF)
		assert.Equal(t, "part1 part2", req.GetHeader("X-Long"))
		assert.Equal(t, "X-Long: part1\n\tpart2", string(req.Headers[0].RawLine))
	})

	t.Run("header_name_whitespace_kept", func(t *testing.T) {
		req, err := ParseRequest([]byte("GET / HTTP/1.1\r\nX-Odd : v\r\n\r\n"))
		require.NoError(t, err)
		assert.Equal(t, "X-Odd ", req.Headers[0].Name)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := ParseRequest(nil)
		assert.ErrorIs(t, err, ErrEmptyRequest)
		_, err = ParseRequest([]byte("GARBAGE\r\n\r\n"))
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestSerializeRaw(t *testing.T) {
	t.Parallel()

	raws := []string{
		"GET /a?b=c HTTP/1.1\r\nHost: h\r\nX-Odd : v\r\n\r\n",
		"POST / HTTP/1.1\r\nHost: h\r\nContent-Length: 3\r\n\r\nabc",
		"GET / HTTP/1.1\nX-Long: a\n b\n\n",
	}
	for i, raw := range raws {
		t.Run("round_trip_"+string(rune('a'+i)), func(t *testing.T) {
			req, err := ParseRequest([]byte(raw))
			require.NoError(t, err)
			var buf bytes.Buffer
			assert.Equal(t, raw, string(req.SerializeRaw(&buf, false)))
		})
	}

	t.Run("chunked_converted", func(t *testing.T) {
		req, err := ParseRequest([]byte("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n"))
		require.NoError(t, err)

		var buf bytes.Buffer
		assert.Equal(t, "POST / HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc", string(req.SerializeRaw(&buf, false)))
		assert.Equal(t, "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n",
			string(req.SerializeRaw(&buf, true)))
	})

	t.Run("programmatic_header", func(t *testing.T) {
		req := &RawHTTP1Request{Method: "GET", Path: "/", Version: "HTTP/1.1"}
		req.SetHeader("Host", "h")
		req.Body = []byte("xy")
		var buf bytes.Buffer
		assert.Equal(t, "GET / HTTP/1.1\r\nHost: h\r\nContent-Length: 2\r\n\r\nxy", string(req.SerializeRaw(&buf, false)))
	})
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	parse := func(raw, method string) (*RawHTTP1Response, error) {
		return parseResponse(bufio.NewReader(strings.NewReader(raw)), method)
	}

	t.Run("content_length", func(t *testing.T) {
		resp, err := parse("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nokEXTRA", "GET")
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "OK", resp.StatusText)
		assert.Equal(t, "ok", string(resp.Body))
	})

	t.Run("read_to_eof", func(t *testing.T) {
		resp, err := parse("HTTP/1.0 200 OK\r\n\r\nall of it", "GET")
		require.NoError(t, err)
		assert.Equal(t, "all of it", string(resp.Body))
	})

	t.Run("head_has_no_body", func(t *testing.T) {
		resp, err := parse("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n", "HEAD")
		require.NoError(t, err)
		assert.Empty(t, resp.Body)
	})

	t.Run("no_content", func(t *testing.T) {
		resp, err := parse("HTTP/1.1 204 No Content\r\n\r\n", "GET")
		require.NoError(t, err)
		assert.Empty(t, resp.Body)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := parse("HTTP/1.1 abc\r\n\r\n", "GET")
		assert.ErrorIs(t, err, ErrInvalidResponse)
		_, err = parse("", "GET")
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})
}
