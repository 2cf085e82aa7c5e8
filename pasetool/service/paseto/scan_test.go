package paseto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-appsec/pasetool/pasetool/service/proxy"
)

func TestFind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		headers  proxy.Headers
		body     string
		want     string
		location string
		found    bool
	}{
		{
			name:     "authorization_header",
			headers:  proxy.Headers{{Name: "Host", Value: "api.test"}, {Name: "Authorization", Value: "Bearer v2.local.AAAA.BBBB"}},
			body:     "nothing here",
			want:     "v2.local.AAAA.BBBB",
			location: "Authorization",
			found:    true,
		},
		{
			name:     "header_beats_body",
			headers:  proxy.Headers{{Name: "X-Token", Value: "v4.public.HEAD"}},
			body:     `{"t":"v4.public.BODY"}`,
			want:     "v4.public.HEAD",
			location: "X-Token",
			found:    true,
		},
		{
			name:     "first_header_in_order",
			headers:  proxy.Headers{{Name: "A", Value: "v2.local.first"}, {Name: "B", Value: "v2.local.second"}},
			want:     "v2.local.first",
			location: "A",
			found:    true,
		},
		{
			name:     "body_only",
			headers:  proxy.Headers{{Name: "Content-Type", Value: "application/json"}},
			body:     `{"token":"v3.local.PAYLOAD.FOOT","x":"v2.local.later"}`,
			want:     "v3.local.PAYLOAD.FOOT",
			location: LocationBody,
			found:    true,
		},
		{
			name:    "lookalike_not_matched",
			headers: proxy.Headers{{Name: "Authorization", Value: "Bearer v2.secret.AAAA"}},
			body:    "v2.local",
		},
		{
			name:    "none",
			headers: proxy.Headers{{Name: "Host", Value: "x"}},
		},
		{
			name:     "invalid_utf8_header_skipped",
			headers:  proxy.Headers{{Name: "X-Bin", Value: "\xff\xfe v2.local.BAD"}, {Name: "X-Ok", Value: "v2.local.GOOD"}},
			want:     "v2.local.GOOD",
			location: "X-Ok",
			found:    true,
		},
		{
			name:    "invalid_utf8_body_skipped",
			headers: proxy.Headers{},
			body:    "\xff\xfe v2.local.AAAA",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := Find(tt.headers, []byte(tt.body))
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, m.Token)
			assert.Equal(t, tt.location, m.Location)
		})
	}
}

func TestFindCompressedBody(t *testing.T) {
	t.Parallel()

	body, err := proxy.Compress([]byte(`token=v2.local.ZIPPED`), "gzip")
	require.NoError(t, err)

	headers := proxy.Headers{{Name: "Content-Encoding", Value: "gzip"}}
	m, ok := Find(headers, body)
	require.True(t, ok)
	assert.Equal(t, "v2.local.ZIPPED", m.Token)

	_, ok = Find(headers, []byte("v2.local.notgzip"))
	assert.False(t, ok)
}

func TestFindInRequest(t *testing.T) {
	t.Parallel()

	assert.False(t, ContainsToken(nil))
	assert.True(t, ContainsToken(&proxy.RawHTTP1Request{Body: []byte("v2.public.x")}))
}
