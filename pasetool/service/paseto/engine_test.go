package paseto

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/go-appsec/pasetool/pasetool/service/proxy"
	"github.com/go-appsec/pasetool/pasetool/service/store"
)

type stubSettings struct {
	mark atomic.Bool
	err  error
}

func (s *stubSettings) MarkRequests() (bool, error) {
	if s.err != nil {
		return true, s.err
	}
	return s.mark.Load(), nil
}

type countingObserver struct {
	mu       sync.Mutex
	armed    int
	claimed  int
	outcomes []string
}

func (o *countingObserver) Armed(int)   { o.mu.Lock(); o.armed++; o.mu.Unlock() }
func (o *countingObserver) Claimed(int) { o.mu.Lock(); o.claimed++; o.mu.Unlock() }
func (o *countingObserver) Decided(outcome string) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func authRequest() *proxy.RawHTTP1Request {
	return &proxy.RawHTTP1Request{
		Method: "GET", Path: "/account", Version: "HTTP/1.1",
		Headers: proxy.Headers{
			{Name: "Host", Value: "api.test"},
			{Name: "Authorization", Value: "Bearer v2.local.AAAA.BBBB"},
		},
	}
}

func fixedKeys(keys ...string) Option {
	var i int
	return WithKeyFunc(func() string {
		k := keys[i%len(keys)]
		i++
		return k
	})
}

func TestEngineScenario(t *testing.T) {
	t.Parallel()

	for _, mark := range []bool{false, true} {
		t.Run("mark_"+strconv.FormatBool(mark), func(t *testing.T) {
			settings := &stubSettings{}
			settings.mark.Store(mark)
			e := NewEngine(NewRegistry(), settings, fixedKeys("K"))

			base := authRequest()
			m, ok := FindInRequest(base)
			require.True(t, ok)
			edited := EditToken(m.Token, "", FieldEdit{Payload: ptr("CCCC")})
			require.Equal(t, "v2.local.CCCC.BBBB", edited)

			armed, err := e.Arm(base, m.Token, edited)
			require.NoError(t, err)
			assert.Equal(t, "K", armed.Key)
			assert.Equal(t, "K", armed.Tagged.GetHeader(MarkerHeader))
			assert.Empty(t, base.GetHeader(MarkerHeader))

			v := e.Decide(armed.Tagged)
			assert.True(t, v.Substituted)
			assert.Equal(t, mark, v.Annotate)
			assert.Equal(t, "Bearer v2.local.CCCC.BBBB", v.Forward.GetHeader("Authorization"))
			assert.False(t, v.Forward.Headers.Has(MarkerHeader))
			assert.Equal(t, "api.test", v.Forward.GetHeader("Host"))
		})
	}
}

func TestEngineDecide(t *testing.T) {
	t.Parallel()

	t.Run("untagged_passthrough", func(t *testing.T) {
		obs := &countingObserver{}
		e := NewEngine(NewRegistry(), nil, WithObserver(obs))
		req := authRequest()

		v := e.Decide(req)
		assert.Same(t, req, v.Forward)
		assert.False(t, v.Annotate)
		assert.False(t, v.Substituted)
		assert.Equal(t, []string{OutcomePassThrough}, obs.outcomes)
	})

	t.Run("consumed_once", func(t *testing.T) {
		settings := &stubSettings{}
		settings.mark.Store(true)
		e := NewEngine(NewRegistry(), settings)
		armed, err := e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.ZZZZ")
		require.NoError(t, err)

		first := e.Decide(armed.Tagged)
		require.True(t, first.Substituted)

		second := e.Decide(armed.Tagged)
		assert.False(t, second.Substituted)
		assert.False(t, second.Annotate)
		assert.Equal(t, "Bearer v2.local.AAAA.BBBB", second.Forward.GetHeader("Authorization"))
		assert.False(t, second.Forward.Headers.Has(MarkerHeader))
	})

	t.Run("forged_marker_stripped", func(t *testing.T) {
		obs := &countingObserver{}
		e := NewEngine(NewRegistry(), nil, WithObserver(obs))
		req := authRequest()
		req.Headers = append(req.Headers, proxy.Header{Name: "x-paseto-edit-id", Value: "bogus"})

		v := e.Decide(req)
		assert.False(t, v.Forward.Headers.Has(MarkerHeader))
		assert.True(t, req.Headers.Has(MarkerHeader), "incoming request is not modified")
		assert.Equal(t, []string{OutcomeStaleMarker}, obs.outcomes)
	})

	t.Run("empty_marker_stripped", func(t *testing.T) {
		obs := &countingObserver{}
		e := NewEngine(NewRegistry(), nil, WithObserver(obs))
		req := authRequest()
		req.Headers = append(req.Headers, proxy.Header{Name: MarkerHeader, Value: ""})

		v := e.Decide(req)
		assert.False(t, v.Forward.Headers.Has(MarkerHeader))
		assert.False(t, v.Substituted)
		assert.Equal(t, "Bearer v2.local.AAAA.BBBB", v.Forward.GetHeader("Authorization"))
		assert.Equal(t, []string{OutcomeStaleMarker}, obs.outcomes)
	})

	t.Run("duplicate_marker", func(t *testing.T) {
		settings := &stubSettings{}
		settings.mark.Store(true)
		e := NewEngine(NewRegistry(), settings)
		armed, err := e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.CCCC.BBBB")
		require.NoError(t, err)

		req := authRequest()
		req.Headers = append(req.Headers,
			proxy.Header{Name: MarkerHeader, Value: ""},
			proxy.Header{Name: MarkerHeader, Value: armed.Key},
		)
		v := e.Decide(req)
		assert.True(t, v.Substituted)
		assert.True(t, v.Annotate)
		assert.Equal(t, armed.Key, v.Key)
		assert.False(t, v.Forward.Headers.Has(MarkerHeader))
		assert.Equal(t, "Bearer v2.local.CCCC.BBBB", v.Forward.GetHeader("Authorization"))
		assert.Equal(t, 0, e.registry.Len())
	})

	t.Run("settings_error_means_no_mark", func(t *testing.T) {
		e := NewEngine(NewRegistry(), &stubSettings{err: errors.New("unreadable")})
		armed, err := e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.ZZZZ")
		require.NoError(t, err)

		v := e.Decide(armed.Tagged)
		assert.True(t, v.Substituted)
		assert.False(t, v.Annotate)
	})

	t.Run("setting_read_per_decision", func(t *testing.T) {
		settings := &stubSettings{}
		e := NewEngine(NewRegistry(), settings)
		a1, err := e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.ONE")
		require.NoError(t, err)
		a2, err := e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.TWO")
		require.NoError(t, err)

		assert.False(t, e.Decide(a1.Tagged).Annotate)
		settings.mark.Store(true)
		assert.True(t, e.Decide(a2.Tagged).Annotate)
	})

	t.Run("same_key_fifo", func(t *testing.T) {
		e := NewEngine(NewRegistry(), nil, fixedKeys("dup"))
		a1, err := e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.ONE")
		require.NoError(t, err)
		_, err = e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.TWO")
		require.NoError(t, err)

		assert.Equal(t, "Bearer v2.local.ONE", e.Decide(a1.Tagged).Forward.GetHeader("Authorization"))
		assert.Equal(t, "Bearer v2.local.TWO", e.Decide(a1.Tagged).Forward.GetHeader("Authorization"))
	})
}

func TestEngineArm(t *testing.T) {
	t.Parallel()

	t.Run("unchanged_not_queued", func(t *testing.T) {
		reg := NewRegistry()
		e := NewEngine(reg, nil)
		_, err := e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.AAAA.BBBB")
		assert.ErrorIs(t, err, ErrNoChange)
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("token_absent", func(t *testing.T) {
		reg := NewRegistry()
		e := NewEngine(reg, nil)
		_, err := e.Arm(authRequest(), "v2.local.MISSING", "v2.local.X")
		assert.ErrorIs(t, err, ErrNoToken)
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("header_injection_rejected", func(t *testing.T) {
		reg := NewRegistry()
		e := NewEngine(reg, nil)
		_, err := e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.X\r\nX-Evil: 1")
		assert.ErrorIs(t, err, ErrUnsafeHeaderValue)
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("body_token_allows_any_text", func(t *testing.T) {
		e := NewEngine(NewRegistry(), nil)
		req := &proxy.RawHTTP1Request{Method: "POST", Path: "/", Version: "HTTP/1.1",
			Body: []byte("t=v2.local.B")}
		armed, err := e.Arm(req, "v2.local.B", "line\nbreak")
		require.NoError(t, err)

		v := e.Decide(armed.Tagged)
		assert.Equal(t, "t=line\nbreak", string(v.Forward.Body))
	})

	t.Run("retagging_replaces_marker", func(t *testing.T) {
		e := NewEngine(NewRegistry(), nil, fixedKeys("first", "second"))
		a1, err := e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.ONE")
		require.NoError(t, err)
		a2, err := e.Arm(a1.Tagged, "v2.local.AAAA.BBBB", "v2.local.TWO")
		require.NoError(t, err)

		var markers int
		for _, h := range a2.Tagged.Headers {
			if h.Name == MarkerHeader {
				markers++
			}
		}
		assert.Equal(t, 1, markers)
		assert.Equal(t, "second", a2.Tagged.GetHeader(MarkerHeader))
	})

	t.Run("full_registry", func(t *testing.T) {
		e := NewEngine(NewRegistry(store.WithMaxEntries(1)), nil)
		_, err := e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.ONE")
		require.NoError(t, err)
		_, err = e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.TWO")
		assert.ErrorIs(t, err, store.ErrPendingFull)
	})
}

func TestEnginePendingCancelPrune(t *testing.T) {
	t.Parallel()

	now := time.Unix(5000, 0)
	reg := NewRegistry(store.WithTTL(time.Minute), store.WithClock(func() time.Time { return now }))
	obs := &countingObserver{}
	e := NewEngine(reg, nil, fixedKeys("a", "b"), WithObserver(obs))

	_, err := e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.ONE")
	require.NoError(t, err)
	_, err = e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.TWO")
	require.NoError(t, err)

	pending := e.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].Key)
	assert.Equal(t, "v2.local.ONE", pending[0].Edited)
	assert.Equal(t, "/account", pending[1].Path)

	assert.True(t, e.Cancel("a"))
	assert.False(t, e.Cancel("a"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, e.Prune())
	assert.Empty(t, e.Pending())
	assert.Equal(t, 2, obs.armed)
	assert.Equal(t, 2, obs.claimed)
}

func TestEngineConcurrentDecide(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := NewEngine(NewRegistry(), nil)
	armed, err := e.Arm(authRequest(), "v2.local.AAAA.BBBB", "v2.local.ONCE")
	require.NoError(t, err)

	const workers = 32
	var substituted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := e.Decide(armed.Tagged)
			if v.Substituted {
				substituted.Add(1)
			}
			assert.False(t, v.Forward.Headers.Has(MarkerHeader))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), substituted.Load())
}

func ptr(s string) *string { return &s }
