package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenFindResponse_JSON(t *testing.T) {
	t.Parallel()

	t.Run("not_found_omits_token", func(t *testing.T) {
		b, err := json.Marshal(TokenFindResponse{FlowID: "abc", Message: "none"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"flow_id":"abc","found":false,"message":"none"}`, string(b))
	})

	t.Run("found", func(t *testing.T) {
		resp := TokenFindResponse{
			FlowID:   "abc",
			Found:    true,
			Token:    "v2.local.A",
			Location: "Authorization",
			Parts:    &TokenParts{Version: "v2", Purpose: "local", Payload: "A"},
		}
		b, err := json.Marshal(resp)
		require.NoError(t, err)

		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(b, &m))
		assert.JSONEq(t, `{"version":"v2","purpose":"local","payload":"A","footer":""}`, string(m["parts"]))
	})
}

func TestTokenEditResponse_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(TokenEditResponse{Key: "k", Original: "o", Edited: "e", Sent: &SendResponse{FlowID: "f", Status: 200}})
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &m))
	assert.NotContains(t, m, "request")
	assert.Contains(t, m, "sent")
}

func TestProxyPollResponse_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(ProxyPollResponse{Flows: []FlowEntry{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"flows":[]}`, string(b))

	b, err = json.Marshal(ProxyPollResponse{Flows: []FlowEntry{{FlowID: "x", HasToken: true}}})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"has_token":true`)
}
