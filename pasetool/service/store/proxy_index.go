package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/go-appsec/pasetool/pasetool/service/ids"
)

const reverseKeyPrefix = "_r:"

// ProxyIndex maps short flow IDs to proxy history offsets and back.
type ProxyIndex struct {
	mu      sync.RWMutex
	storage Storage
	count   int
}

// NewProxyIndex returns an index backed by storage.
func NewProxyIndex(storage Storage) *ProxyIndex {
	return &ProxyIndex{storage: storage}
}

// Register returns the flow ID for offset, allocating one on first sight.
func (p *ProxyIndex) Register(offset uint32) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rKey := reverseKey(offset)
	if data, found, err := p.storage.Get(rKey); err != nil {
		return "", err
	} else if found {
		return string(data), nil
	}

	var flowID string
	for {
		flowID = ids.Generate(ids.DefaultLength)
		if _, taken, err := p.storage.Get(flowID); err != nil {
			return "", err
		} else if !taken {
			break
		}
	}

	buf := binary.BigEndian.AppendUint32(nil, offset)
	if err := p.storage.Set(flowID, buf); err != nil {
		return "", fmt.Errorf("save flow %s: %w", flowID, err)
	} else if err := p.storage.Set(rKey, []byte(flowID)); err != nil {
		_ = p.storage.Delete(flowID)
		return "", fmt.Errorf("save flow %s reverse key: %w", flowID, err)
	}
	p.count++
	return flowID, nil
}

// Offset resolves a flow ID.
func (p *ProxyIndex) Offset(flowID string) (uint32, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, found, _ := p.storage.Get(flowID)
	if !found || len(data) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data), true
}

// Count returns how many flow IDs were handed out.
func (p *ProxyIndex) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.count
}

func (p *ProxyIndex) Close() error {
	return p.storage.Close()
}

func reverseKey(offset uint32) string {
	return reverseKeyPrefix + string(binary.BigEndian.AppendUint32(nil, offset))
}
