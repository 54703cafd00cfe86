package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"
	"meshvoice/internal/core/services"
	"meshvoice/pkg/tracing"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "meshvoice:relay:"

// ChannelFor returns the pub/sub channel a node with address addr listens on.
func ChannelFor(addr domain.PeerAddress) string {
	return channelPrefix + string(addr)
}

// Envelope wraps a signaling message on the Redis relay.
type Envelope struct {
	InstanceID string                `json:"instance_id"`
	Timestamp  time.Time             `json:"timestamp"`
	Token      string                `json:"token,omitempty"`
	Message    *domain.SignalMessage `json:"message"`
}

// SignalHandler consumes relayed messages, normally Manager.HandleSignal.
type SignalHandler func(ctx context.Context, msg *domain.SignalMessage) error

// RedisRelay relays signaling through Redis pub/sub for meshes where nodes
// cannot reach each other's HTTP endpoint directly.
type RedisRelay struct {
	client     *redis.Client
	instanceID string
	self       domain.SelfAddresses
	auth       services.RelayAuth
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

var _ ports.RelayTransport = (*RedisRelay)(nil)

func NewRedisRelay(
	client *redis.Client,
	instanceID string,
	self domain.SelfAddresses,
	auth services.RelayAuth,
	logger *zap.SugaredLogger,
) *RedisRelay {
	return &RedisRelay{
		client:     client,
		instanceID: instanceID,
		self:       self,
		auth:       auth,
		logger:     logger,
	}
}

func (r *RedisRelay) envelope(msg *domain.SignalMessage) (*Envelope, error) {
	env := &Envelope{
		InstanceID: r.instanceID,
		Timestamp:  time.Now(),
		Message:    msg,
	}
	if r.auth != nil {
		token, err := r.auth.GenerateToken(r.self)
		if err != nil {
			return nil, fmt.Errorf("failed to sign relay token: %w", err)
		}
		env.Token = token
	}
	return env, nil
}

// Send publishes msg on the channel of the recipient.
func (r *RedisRelay) Send(ctx context.Context, to domain.PeerAddress, msg *domain.SignalMessage) error {
	ctx, span := tracing.TraceSignal(ctx, "relay_redis", string(msg.Type), to.String())
	defer span.End()

	env, err := r.envelope(msg)
	if err != nil {
		return err
	}
	buf, err := encodeBuffers.EncodeJSON(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	defer encodeBuffers.Put(buf)

	receivers, err := r.client.Publish(ctx, ChannelFor(to), buf.Bytes()).Result()
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to publish signal: %w", err)
	}

	r.logger.Debugw("published signal",
		"peer_address", to,
		"type", msg.Type,
		"receivers", receivers,
	)
	return nil
}

// Subscribe listens on the channels of every local address and hands each
// message to handler until ctx is done.
func (r *RedisRelay) Subscribe(ctx context.Context, handler SignalHandler) error {
	if r.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	var channels []string
	for _, addr := range []string{r.self.IPv4, r.self.IPv6} {
		if addr != "" {
			channels = append(channels, ChannelFor(domain.PeerAddress(addr)))
		}
	}
	r.pubsub = r.client.Subscribe(ctx, channels...)
	defer r.pubsub.Close()

	ch := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(ctx, []byte(msg.Payload), handler)
		}
	}
}

func (r *RedisRelay) dispatch(ctx context.Context, payload []byte, handler SignalHandler) {
	env, err := r.decode(payload)
	if err != nil {
		r.logger.Warnw("dropping relayed signal", "error", err)
		return
	}
	if env == nil {
		return
	}
	if err := handler(ctx, env.Message); err != nil {
		r.logger.Warnw("error handling relayed signal",
			"type", env.Message.Type,
			"sender", env.Message.Sender,
			"error", err,
		)
	}
}

// decode parses and authorizes an envelope. It returns nil, nil for our own
// publications.
func (r *RedisRelay) decode(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.InstanceID == r.instanceID {
		return nil, nil
	}
	if env.Message == nil {
		return nil, fmt.Errorf("%w: envelope without message", domain.ErrMalformedSignal)
	}
	if r.auth != nil {
		if err := r.auth.Authorize(env.Token, env.Message.Sender); err != nil {
			return nil, err
		}
	}
	return &env, nil
}

func (r *RedisRelay) Close() error {
	if r.pubsub != nil {
		return r.pubsub.Close()
	}
	return nil
}
