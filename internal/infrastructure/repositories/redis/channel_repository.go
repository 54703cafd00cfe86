package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisChannelRepository keeps the membership view of one node in Redis.
// Every key is scoped by the node namespace; two nodes never share a view.
type RedisChannelRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisChannelRepository(client *redis.Client, namespace string) ports.ChannelRepository {
	return &RedisChannelRepository{
		client: client,
		prefix: keyPrefix(namespace),
	}
}

func keyPrefix(namespace string) string {
	return "meshvoice:" + namespace + ":"
}

func (r *RedisChannelRepository) presetKey() string   { return r.prefix + "preset" }
func (r *RedisChannelRepository) channelsKey() string { return r.prefix + "channels" }
func (r *RedisChannelRepository) occupiedKey() string { return r.prefix + "occupied" }
func (r *RedisChannelRepository) seqKey() string      { return r.prefix + "member_seq" }

func (r *RedisChannelRepository) channelKey(id int64) string {
	return r.prefix + "channel:" + strconv.FormatInt(id, 10)
}

// orderKey holds user ids scored by join order; usersKey holds their JSON.
func (r *RedisChannelRepository) orderKey(id int64) string {
	return fmt.Sprintf("%schannel:%d:order", r.prefix, id)
}

func (r *RedisChannelRepository) usersKey(id int64) string {
	return fmt.Sprintf("%schannel:%d:users", r.prefix, id)
}

func (r *RedisChannelRepository) IsPresetChannels(ctx context.Context) (bool, error) {
	v, err := r.client.Get(ctx, r.presetKey()).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get preset flag from Redis: %w", err)
	}
	return strconv.ParseBool(v)
}

func (r *RedisChannelRepository) SetPresetChannels(ctx context.Context, preset bool) error {
	if err := r.client.Set(ctx, r.presetKey(), strconv.FormatBool(preset), 0).Err(); err != nil {
		return fmt.Errorf("failed to set preset flag in Redis: %w", err)
	}
	return nil
}

func (r *RedisChannelRepository) GetChannel(ctx context.Context, id int64) (*domain.VoiceChannel, error) {
	data, err := r.client.Get(ctx, r.channelKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel from Redis: %w", err)
	}

	var ch domain.VoiceChannel
	if err := json.Unmarshal([]byte(data), &ch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel: %w", err)
	}
	return &ch, nil
}

func (r *RedisChannelRepository) AddChannel(ctx context.Context, channel domain.VoiceChannel) error {
	data, err := json.Marshal(channel)
	if err != nil {
		return fmt.Errorf("failed to marshal channel: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.channelKey(channel.ID), data, 0)
		pipe.SAdd(ctx, r.channelsKey(), channel.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store channel in Redis: %w", err)
	}
	return nil
}

func (r *RedisChannelRepository) RemoveChannel(ctx context.Context, id int64) error {
	removed, err := r.client.SRem(ctx, r.channelsKey(), id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove channel from index: %w", err)
	}
	if removed == 0 {
		return domain.ErrChannelNotFound
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.channelKey(id), r.orderKey(id), r.usersKey(id))
		pipe.SRem(ctx, r.occupiedKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete channel from Redis: %w", err)
	}
	return nil
}

func (r *RedisChannelRepository) ListChannels(ctx context.Context) ([]domain.VoiceChannel, error) {
	ids, err := r.int64Members(ctx, r.channelsKey())
	if err != nil {
		return nil, err
	}

	out := make([]domain.VoiceChannel, 0, len(ids))
	for _, id := range ids {
		ch, err := r.GetChannel(ctx, id)
		if err != nil {
			// Skip channels removed concurrently
			continue
		}
		out = append(out, *ch)
	}
	return out, nil
}

func (r *RedisChannelRepository) AddUser(ctx context.Context, channelID int64, user domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate member sequence: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, r.orderKey(channelID), redis.Z{Score: float64(seq), Member: user.ID})
		pipe.HSetNX(ctx, r.usersKey(channelID), user.ID, data)
		pipe.SAdd(ctx, r.occupiedKey(), channelID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add user to channel in Redis: %w", err)
	}
	return nil
}

func (r *RedisChannelRepository) RemoveUser(ctx context.Context, channelID int64, userID string) error {
	var remaining *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.orderKey(channelID), userID)
		pipe.HDel(ctx, r.usersKey(channelID), userID)
		remaining = pipe.ZCard(ctx, r.orderKey(channelID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove user from channel in Redis: %w", err)
	}
	if remaining.Val() == 0 {
		if err := r.client.SRem(ctx, r.occupiedKey(), channelID).Err(); err != nil {
			return fmt.Errorf("failed to update occupied index: %w", err)
		}
	}
	return nil
}

func (r *RedisChannelRepository) Users(ctx context.Context, channelID int64) ([]domain.User, error) {
	ids, err := r.client.ZRange(ctx, r.orderKey(channelID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel members from Redis: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := r.client.HMGet(ctx, r.usersKey(channelID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel users from Redis: %w", err)
	}

	users := make([]domain.User, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var u domain.User
		if err := json.Unmarshal([]byte(s), &u); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user: %w", err)
		}
		users = append(users, u)
	}
	return users, nil
}

func (r *RedisChannelRepository) Memberships(ctx context.Context) (map[int64][]domain.User, error) {
	ids, err := r.int64Members(ctx, r.occupiedKey())
	if err != nil {
		return nil, err
	}

	out := make(map[int64][]domain.User, len(ids))
	for _, id := range ids {
		users, err := r.Users(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(users) > 0 {
			out[id] = users
		}
	}
	return out, nil
}

func (r *RedisChannelRepository) int64Members(ctx context.Context, key string) ([]int64, error) {
	raw, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from Redis: %w", key, err)
	}

	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
