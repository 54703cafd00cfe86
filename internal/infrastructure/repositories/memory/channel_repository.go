package memory

import (
	"context"
	"sort"
	"sync"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"
)

type MemoryChannelRepository struct {
	mu       sync.RWMutex
	preset   bool
	channels map[int64]domain.VoiceChannel
	users    map[int64][]domain.User
}

func NewMemoryChannelRepository(preset bool) ports.ChannelRepository {
	return &MemoryChannelRepository{
		preset:   preset,
		channels: make(map[int64]domain.VoiceChannel),
		users:    make(map[int64][]domain.User),
	}
}

func (r *MemoryChannelRepository) IsPresetChannels(ctx context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.preset, nil
}

func (r *MemoryChannelRepository) SetPresetChannels(ctx context.Context, preset bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preset = preset
	return nil
}

func (r *MemoryChannelRepository) GetChannel(ctx context.Context, id int64) (*domain.VoiceChannel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, exists := r.channels[id]
	if !exists {
		return nil, domain.ErrChannelNotFound
	}
	return &ch, nil
}

func (r *MemoryChannelRepository) AddChannel(ctx context.Context, channel domain.VoiceChannel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[channel.ID] = channel
	return nil
}

func (r *MemoryChannelRepository) RemoveChannel(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[id]; !exists {
		return domain.ErrChannelNotFound
	}
	delete(r.channels, id)
	delete(r.users, id)
	return nil
}

func (r *MemoryChannelRepository) ListChannels(ctx context.Context) ([]domain.VoiceChannel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.VoiceChannel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryChannelRepository) AddUser(ctx context.Context, channelID int64, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users[channelID] {
		if u.ID == user.ID {
			return nil
		}
	}
	r.users[channelID] = append(r.users[channelID], user)
	return nil
}

func (r *MemoryChannelRepository) RemoveUser(ctx context.Context, channelID int64, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := r.users[channelID]
	for i, u := range users {
		if u.ID == userID {
			users = append(users[:i:i], users[i+1:]...)
			break
		}
	}
	if len(users) == 0 {
		delete(r.users, channelID)
	} else {
		r.users[channelID] = users
	}
	return nil
}

func (r *MemoryChannelRepository) Users(ctx context.Context, channelID int64) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.User(nil), r.users[channelID]...), nil
}

func (r *MemoryChannelRepository) Memberships(ctx context.Context) (map[int64][]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int64][]domain.User, len(r.users))
	for id, users := range r.users {
		out[id] = append([]domain.User(nil), users...)
	}
	return out, nil
}
