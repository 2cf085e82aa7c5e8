package paseto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/http/httpguts"

	"github.com/go-appsec/pasetool/pasetool/service/proxy"
	"github.com/go-appsec/pasetool/pasetool/service/store"
)

// MarkerHeader tags a request with the key of the edit waiting for it.
// It is removed from every request the engine lets through.
const MarkerHeader = "X-Paseto-Edit-Id"

var (
	// ErrNoToken means the request to edit carries no token to replace.
	ErrNoToken           = errors.New("no PASETO token found in the selected request")
	// ErrNoChange means the edit produced the original token; nothing is queued.
	ErrNoChange          = errors.New("edited token is identical to the original")
	// ErrUnsafeHeaderValue means the edited token cannot be placed in a header value.
	ErrUnsafeHeaderValue = errors.New("edited token is not a valid header value")
)

// Decision outcomes passed to Observer.Decided.
const (
	OutcomePassThrough = "passthrough"
	OutcomeSubstituted = "substituted"
	OutcomeStaleMarker = "stale_marker"
)

// Settings supplies the operator's marking preference. It is read on every
// substitution so a change applies to the next request.
type Settings interface {
	MarkRequests() (bool, error)
}

// Observer receives engine events, typically for metrics.
type Observer interface {
	Armed(pending int)
	Claimed(pending int)
	Decided(outcome string)
}

// PendingEdit is a rewritten request waiting for the request tagged with its key.
type PendingEdit struct {
	Request  *proxy.RawHTTP1Request
	Original string
	Edited   string
}

// Registry is the pending-edit store shared by the edit and interception paths.
type Registry = store.PendingStore[PendingEdit]

// NewRegistry returns an empty registry.
func NewRegistry(opts ...store.PendingOption) *Registry {
	return store.NewPendingStore[PendingEdit](opts...)
}

// Armed is the result of committing an edit.
type Armed struct {
	Key string
	// Tagged is the base request plus the marker header. Sending it through the
	// interceptor substitutes the rewritten request.
	Tagged *proxy.RawHTTP1Request
	Edited string
}

// Verdict is the engine's decision for one outbound request.
type Verdict struct {
	Forward     *proxy.RawHTTP1Request
	Annotate    bool
	Substituted bool
	Key         string
}

// PendingInfo describes a queued edit.
type PendingInfo struct {
	Key      string    `json:"key"`
	Original string    `json:"original"`
	Edited   string    `json:"edited"`
	Method   string    `json:"method"`
	Path     string    `json:"path"`
	Enqueued time.Time `json:"enqueued"`
}

// Engine correlates operator edits with the requests they target.
type Engine struct {
	registry *Registry
	settings Settings
	log      zerolog.Logger
	observer Observer
	newKey   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. The default discards.
func WithLogger(log zerolog.Logger) Option { return func(e *Engine) { e.log = log } }

// WithObserver reports arm, claim and decision events to o.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// WithKeyFunc replaces the correlation key generator.
func WithKeyFunc(f func() string) Option { return func(e *Engine) { e.newKey = f } }

// NewEngine returns an engine over registry. settings may be nil, meaning never mark.
func NewEngine(registry *Registry, settings Settings, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		settings: settings,
		log:      zerolog.Nop(),
		newKey:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Arm rewrites base with editedToken in place of originalToken, queues the
// result under a fresh key, and returns base tagged with that key.
// base is not modified.
func (e *Engine) Arm(base *proxy.RawHTTP1Request, originalToken, editedToken string) (Armed, error) {
	if base == nil {
		return Armed{}, errors.New("nil base request")
	} else if editedToken == originalToken {
		return Armed{}, ErrNoChange
	}
	if headerHolds(base.Headers, originalToken) && !httpguts.ValidHeaderFieldValue(editedToken) {
		return Armed{}, ErrUnsafeHeaderValue
	}

	rewritten, changed := rewrite(base, originalToken, editedToken)
	if !changed {
		return Armed{}, ErrNoToken
	}
	rewritten.RemoveHeader(MarkerHeader)

	key := e.newKey()
	edit := PendingEdit{Request: rewritten, Original: originalToken, Edited: editedToken}
	if err := e.registry.Enqueue(key, edit); err != nil {
		return Armed{}, fmt.Errorf("queue edit: %w", err)
	}

	tagged := base.Clone()
	tagged.RemoveHeader(MarkerHeader)
	tagged.Headers = append(tagged.Headers, proxy.Header{Name: MarkerHeader, Value: key})

	pending := e.registry.Len()
	e.log.Info().Str("key", key).Int("pending", pending).Msg("edit armed")
	if e.observer != nil {
		e.observer.Armed(pending)
	}
	return Armed{Key: key, Tagged: tagged, Edited: editedToken}, nil
}

// Decide returns what to forward in place of incoming.
// A request tagged with the key of a pending edit is replaced by that edit,
// which is consumed. The marker header never survives, even when no edit matches.
func (e *Engine) Decide(incoming *proxy.RawHTTP1Request) Verdict {
	key, tagged := markerKey(incoming.Headers)
	if !tagged {
		e.decided(OutcomePassThrough)
		return Verdict{Forward: incoming}
	}

	var edit PendingEdit
	var ok bool
	if key != "" {
		edit, ok = e.registry.ClaimFirst(key)
	}
	if !ok {
		forward := incoming.Clone()
		forward.RemoveHeader(MarkerHeader)
		e.log.Warn().Str("key", key).Msg("no pending edit for marker, forwarding original")
		e.decided(OutcomeStaleMarker)
		return Verdict{Forward: forward, Key: key}
	}

	forward := edit.Request.Clone()
	forward.RemoveHeader(MarkerHeader)
	annotate := e.markRequests()

	pending := e.registry.Len()
	e.log.Info().Str("key", key).Bool("annotate", annotate).Msg("edit substituted")
	if e.observer != nil {
		e.observer.Claimed(pending)
	}
	e.decided(OutcomeSubstituted)
	return Verdict{Forward: forward, Annotate: annotate, Substituted: true, Key: key}
}

// markerKey returns the first non-empty marker value. tagged reports whether
// any marker header is present, empty or not.
func markerKey(headers proxy.Headers) (key string, tagged bool) {
	for _, h := range headers {
		if !strings.EqualFold(h.Name, MarkerHeader) {
			continue
		}
		tagged = true
		if v := strings.TrimSpace(h.Value); v != "" {
			return v, true
		}
	}
	return "", tagged
}

// Cancel drops the oldest pending edit under key.
func (e *Engine) Cancel(key string) bool {
	_, ok := e.registry.ClaimFirst(key)
	if ok && e.observer != nil {
		e.observer.Claimed(e.registry.Len())
	}
	return ok
}

// Pending lists queued edits oldest first.
func (e *Engine) Pending() []PendingInfo {
	snap := e.registry.Snapshot()
	out := make([]PendingInfo, len(snap))
	for i, entry := range snap {
		out[i] = PendingInfo{
			Key:      entry.Key,
			Original: entry.Value.Original,
			Edited:   entry.Value.Edited,
			Method:   entry.Value.Request.Method,
			Path:     entry.Value.Request.Path,
			Enqueued: entry.Enqueued,
		}
	}
	return out
}

// Prune drops expired edits.
func (e *Engine) Prune() int {
	n := e.registry.Prune()
	if n > 0 {
		e.log.Debug().Int("expired", n).Msg("pruned pending edits")
		if e.observer != nil {
			e.observer.Claimed(e.registry.Len())
		}
	}
	return n
}

func (e *Engine) markRequests() bool {
	if e.settings == nil {
		return false
	}
	mark, err := e.settings.MarkRequests()
	if err != nil {
		e.log.Warn().Err(err).Msg("read mark_requests setting, not marking")
		return false
	}
	return mark
}

func (e *Engine) decided(outcome string) {
	e.log.Debug().Str("outcome", outcome).Msg("request decided")
	if e.observer != nil {
		e.observer.Decided(outcome)
	}
}
