package memory

import (
	"context"
	"sort"
	"sync"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"
)

type streamKey struct {
	addr    domain.PeerAddress
	purpose domain.StreamPurpose
}

type MemoryStreamRepository struct {
	streams map[streamKey]ports.RemoteStream
	mu      sync.RWMutex
}

func NewMemoryStreamRepository() ports.StreamRepository {
	return &MemoryStreamRepository{
		streams: make(map[streamKey]ports.RemoteStream),
	}
}

func (r *MemoryStreamRepository) Publish(ctx context.Context, stream ports.RemoteStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[streamKey{stream.PeerAddress, stream.Purpose}] = stream
	return nil
}

func (r *MemoryStreamRepository) Get(ctx context.Context, addr domain.PeerAddress, purpose domain.StreamPurpose) (ports.RemoteStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[streamKey{addr, purpose}]
	return s, ok
}

func (r *MemoryStreamRepository) List(ctx context.Context) []ports.RemoteStream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ports.RemoteStream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeerAddress != out[j].PeerAddress {
			return out[i].PeerAddress < out[j].PeerAddress
		}
		return out[i].Purpose < out[j].Purpose
	})
	return out
}

func (r *MemoryStreamRepository) Clear(ctx context.Context, addr domain.PeerAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k := range r.streams {
		if k.addr == addr {
			delete(r.streams, k)
		}
	}
	return nil
}
