package proxy

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-appsec/pasetool/pasetool/service/store"
)

func TestHistoryStore(t *testing.T) {
	t.Parallel()

	newEntry := func(path string) *HistoryEntry {
		return &HistoryEntry{
			Source: SourceProxy,
			Target: &Target{Hostname: "h.test", Port: 443, UsesHTTPS: true},
			Request: &RawHTTP1Request{
				Method: "GET", Path: path, Query: "a=1", Version: "HTTP/1.1",
				Headers: Headers{{Name: "Host", Value: "h.test"}},
			},
			Response:  &RawHTTP1Response{Version: "HTTP/1.1", StatusCode: 201, Body: []byte("done")},
			Highlight: HighlightGreen,
			Timestamp: time.Now(),
		}
	}

	t.Run("store_get_meta", func(t *testing.T) {
		detect := func(r *RawHTTP1Request) bool { return r.Path == "/flagged" }
		h := NewHistoryStore(store.NewMemStorage(), zerolog.Nop(), detect)

		assert.Equal(t, uint32(0), h.Store(newEntry("/plain")))
		assert.Equal(t, uint32(1), h.Store(newEntry("/flagged")))
		assert.Equal(t, 2, h.Count())

		entry, ok := h.Get(1)
		require.True(t, ok)
		assert.Equal(t, "/flagged", entry.Request.Path)
		assert.Equal(t, "h.test", entry.Target.Hostname)

		metas := h.ListMeta(10, 0)
		require.Len(t, metas, 2)
		assert.Equal(t, "/plain?a=1", metas[0].Path)
		assert.Equal(t, "https", metas[0].Scheme)
		assert.Equal(t, 443, metas[0].Port)
		assert.False(t, metas[0].HasToken)
		assert.True(t, metas[1].HasToken)
		assert.Equal(t, 201, metas[1].Status)
		assert.Equal(t, 4, metas[1].RespLen)
		assert.Equal(t, HighlightGreen, metas[1].Highlight)

		assert.Len(t, h.ListMeta(1, 1), 1)
		_, ok = h.Get(9)
		assert.False(t, ok)
	})

	t.Run("offsets_resume", func(t *testing.T) {
		storage := store.NewMemStorage()
		h := NewHistoryStore(storage, zerolog.Nop(), nil)
		h.Store(newEntry("/a"))
		h.Store(newEntry("/b"))

		again := NewHistoryStore(storage, zerolog.Nop(), nil)
		assert.Equal(t, uint32(2), again.Store(newEntry("/c")))
	})

	t.Run("format", func(t *testing.T) {
		var buf bytes.Buffer
		e := newEntry("/f")
		assert.Contains(t, string(e.FormatRequest(&buf)), "GET /f?a=1 HTTP/1.1\r\n")
		assert.Contains(t, string(e.FormatResponse(&buf)), "HTTP/1.1 201")
		assert.Nil(t, (&HistoryEntry{}).FormatRequest(&buf))
	})
}

func TestTruncateBodies(t *testing.T) {
	t.Parallel()

	e := &HistoryEntry{
		Request:  &RawHTTP1Request{Body: []byte("0123456789")},
		Response: &RawHTTP1Response{Body: []byte("abc")},
	}
	e.TruncateBodies(0)
	assert.Len(t, e.Request.Body, 10)

	e.TruncateBodies(4)
	assert.Equal(t, "0123", string(e.Request.Body))
	assert.Equal(t, "abc", string(e.Response.Body))

	(&HistoryEntry{}).TruncateBodies(1)
}
