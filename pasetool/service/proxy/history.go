package proxy

import (
	"bytes"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-appsec/pasetool/pasetool/service/store"
)

const nextOffsetKey = "history:_next"

func historyMetaKey(offset uint32) string {
	return "history:" + strconv.FormatUint(uint64(offset), 10) + ":m"
}

func historyPayloadKey(offset uint32) string {
	return "history:" + strconv.FormatUint(uint64(offset), 10)
}

// HistoryMeta is the listing view of an entry, stored separately so listings skip bodies.
type HistoryMeta struct {
	Offset    uint32        `msgpack:"o"`
	Source    string        `msgpack:"src"`
	Method    string        `msgpack:"m"`
	Scheme    string        `msgpack:"sc,omitempty"`
	Host      string        `msgpack:"h"`
	Port      int           `msgpack:"pt,omitempty"`
	Path      string        `msgpack:"p"`
	Status    int           `msgpack:"s"`
	RespLen   int           `msgpack:"l"`
	Highlight string        `msgpack:"hl,omitempty"`
	HasToken  bool          `msgpack:"tok,omitempty"`
	Timestamp time.Time     `msgpack:"ts"`
	Duration  time.Duration `msgpack:"d"`
}

// HistoryStore keeps captured exchanges in a store.Storage under monotonic offsets.
type HistoryStore struct {
	log     zerolog.Logger
	storage store.Storage
	// detect flags requests of interest in listings; may be nil
	detect func(*RawHTTP1Request) bool

	mu         sync.RWMutex
	nextOffset uint32
}

// NewHistoryStore returns a store over storage, resuming offsets already persisted there.
func NewHistoryStore(storage store.Storage, log zerolog.Logger, detect func(*RawHTTP1Request) bool) *HistoryStore {
	h := &HistoryStore{log: log, storage: storage, detect: detect}
	if data, found, err := storage.Get(nextOffsetKey); err == nil && found {
		if v, err := strconv.ParseUint(string(data), 10, 32); err == nil {
			h.nextOffset = uint32(v)
		}
	}
	return h
}

// Store assigns entry the next offset and persists it.
func (h *HistoryStore) Store(entry *HistoryEntry) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry.Offset = h.nextOffset
	h.nextOffset++
	// counter first so an offset is never handed out twice
	if err := h.storage.Set(nextOffsetKey, []byte(strconv.FormatUint(uint64(h.nextOffset), 10))); err != nil {
		h.log.Error().Err(err).Msg("persist history offset")
	}

	meta := h.metaFor(entry)
	if metaData, err := store.Serialize(&meta); err != nil {
		h.log.Error().Err(err).Uint32("offset", entry.Offset).Msg("encode history meta")
	} else if data, err := store.Serialize(entry); err != nil {
		h.log.Error().Err(err).Uint32("offset", entry.Offset).Msg("encode history entry")
	} else if err := h.storage.Set(historyMetaKey(entry.Offset), metaData); err != nil {
		h.log.Error().Err(err).Uint32("offset", entry.Offset).Msg("save history meta")
	} else if err := h.storage.Set(historyPayloadKey(entry.Offset), data); err != nil {
		h.log.Error().Err(err).Uint32("offset", entry.Offset).Msg("save history entry")
	}
	return entry.Offset
}

// Get loads a full entry.
func (h *HistoryStore) Get(offset uint32) (*HistoryEntry, bool) {
	data, found, err := h.storage.Get(historyPayloadKey(offset))
	if err != nil || !found {
		return nil, false
	}
	var entry HistoryEntry
	if err := store.Deserialize(data, &entry); err != nil {
		h.log.Warn().Err(err).Uint32("offset", offset).Msg("decode history entry")
		return nil, false
	}
	entry.Timestamp = entry.Timestamp.UTC()
	return &entry, true
}

// GetMeta loads the listing view of an entry.
func (h *HistoryStore) GetMeta(offset uint32) (*HistoryMeta, bool) {
	data, found, err := h.storage.Get(historyMetaKey(offset))
	if err != nil || !found {
		return nil, false
	}
	var meta HistoryMeta
	if err := store.Deserialize(data, &meta); err != nil {
		return nil, false
	}
	meta.Timestamp = meta.Timestamp.UTC()
	return &meta, true
}

// ListMeta returns up to count listing views starting at start, in offset order.
func (h *HistoryStore) ListMeta(count int, start uint32) []HistoryMeta {
	end := uint32(h.Count())
	var metas []HistoryMeta
	for off := start; off < end && len(metas) < count; off++ {
		if meta, ok := h.GetMeta(off); ok {
			metas = append(metas, *meta)
		}
	}
	return metas
}

// Count returns the number of offsets handed out.
func (h *HistoryStore) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return int(h.nextOffset)
}

func (h *HistoryStore) Close() error {
	return h.storage.Close()
}

func (h *HistoryStore) metaFor(e *HistoryEntry) HistoryMeta {
	m := HistoryMeta{
		Offset:    e.Offset,
		Source:    e.Source,
		Highlight: e.Highlight,
		Timestamp: e.Timestamp,
		Duration:  e.Duration,
	}
	if e.Target != nil {
		m.Host, m.Port = e.Target.Hostname, e.Target.Port
		m.Scheme = schemeHTTP
		if e.Target.UsesHTTPS {
			m.Scheme = schemeHTTPS
		}
	}
	if e.Request != nil {
		m.Method = e.Request.Method
		if m.Host == "" {
			m.Host = e.Request.GetHeader("Host")
		}
		m.Path = e.Request.Path
		if e.Request.Query != "" {
			m.Path += "?" + e.Request.Query
		}
		if h.detect != nil {
			m.HasToken = h.detect(e.Request)
		}
	}
	if e.Response != nil {
		m.Status = e.Response.StatusCode
		m.RespLen = len(e.Response.Body)
	}
	return m
}

// TruncateBodies cuts request and response bodies to at most n bytes. n <= 0 keeps them whole.
func (e *HistoryEntry) TruncateBodies(n int) {
	if n <= 0 {
		return
	}
	if e.Request != nil && len(e.Request.Body) > n {
		e.Request.Body = e.Request.Body[:n]
	}
	if e.Response != nil && len(e.Response.Body) > n {
		e.Response.Body = e.Response.Body[:n]
	}
}

// FormatRequest renders the stored request as wire text, or nil.
func (e *HistoryEntry) FormatRequest(buf *bytes.Buffer) []byte {
	if e.Request == nil {
		return nil
	}
	return e.Request.SerializeRaw(buf, false)
}

// FormatResponse renders the stored response as wire text, or nil.
func (e *HistoryEntry) FormatResponse(buf *bytes.Buffer) []byte {
	if e.Response == nil {
		return nil
	}
	return e.Response.SerializeRaw(buf, false)
}
