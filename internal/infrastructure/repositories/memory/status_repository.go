package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"
)

type MemoryStatusRepository struct {
	mu       sync.RWMutex
	statuses map[domain.PeerAddress]domain.ConnectionStatus

	subMu       sync.Mutex
	nextSubID   int
	subscribers map[int]chan ports.StatusEvent
}

func NewMemoryStatusRepository() *MemoryStatusRepository {
	return &MemoryStatusRepository{
		statuses:    make(map[domain.PeerAddress]domain.ConnectionStatus),
		subscribers: make(map[int]chan ports.StatusEvent),
	}
}

var _ ports.StatusRepository = (*MemoryStatusRepository)(nil)

func (r *MemoryStatusRepository) Init(ctx context.Context, status domain.ConnectionStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}

	r.mu.Lock()
	r.statuses[status.Address] = status
	r.mu.Unlock()

	r.broadcast(ports.StatusEvent{Status: status})
	return nil
}

func (r *MemoryStatusRepository) Update(ctx context.Context, addr domain.PeerAddress, fn func(*domain.ConnectionStatus)) (domain.ConnectionStatus, error) {
	r.mu.Lock()
	status, exists := r.statuses[addr]
	if !exists {
		r.mu.Unlock()
		return domain.ConnectionStatus{}, domain.ErrSessionNotFound
	}
	fn(&status)
	status.Address = addr
	status.UpdatedAt = time.Now()
	r.statuses[addr] = status
	r.mu.Unlock()

	r.broadcast(ports.StatusEvent{Status: status})
	return status, nil
}

func (r *MemoryStatusRepository) Get(ctx context.Context, addr domain.PeerAddress) (domain.ConnectionStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, exists := r.statuses[addr]
	if !exists {
		return domain.ConnectionStatus{}, domain.ErrSessionNotFound
	}
	return status, nil
}

func (r *MemoryStatusRepository) List(ctx context.Context) ([]domain.ConnectionStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ConnectionStatus, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (r *MemoryStatusRepository) Delete(ctx context.Context, addr domain.PeerAddress) error {
	r.mu.Lock()
	status, exists := r.statuses[addr]
	delete(r.statuses, addr)
	r.mu.Unlock()

	if exists {
		r.broadcast(ports.StatusEvent{Status: status, Removed: true})
	}
	return nil
}

func (r *MemoryStatusRepository) Subscribe(buffer int) (<-chan ports.StatusEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan ports.StatusEvent, buffer)

	r.subMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subscribers, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (r *MemoryStatusRepository) broadcast(ev ports.StatusEvent) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for _, ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
