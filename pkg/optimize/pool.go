package optimize

import (
	"bytes"
	"encoding/json"
	"sync"
)

// BufferPool recycles encode buffers. Buffers that grew past maxCap are
// dropped instead of being returned to the pool.
type BufferPool struct {
	pool   sync.Pool
	maxCap int
}

// NewBufferPool creates a pool whose buffers start with initial bytes of
// capacity.
func NewBufferPool(initial, maxCap int) *BufferPool {
	return &BufferPool{
		maxCap: maxCap,
		pool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, initial))
			},
		},
	}
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. buf must not be used afterwards.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > p.maxCap {
		return
	}
	p.pool.Put(buf)
}

// EncodeJSON encodes v into a pooled buffer. The caller hands the buffer
// back with Put once the bytes are no longer referenced.
func (p *BufferPool) EncodeJSON(v interface{}) (*bytes.Buffer, error) {
	buf := p.Get()
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		p.Put(buf)
		return nil, err
	}
	return buf, nil
}
