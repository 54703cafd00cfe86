package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"
	"meshvoice/internal/core/services"
	"meshvoice/pkg/circuitbreaker"
	"meshvoice/pkg/optimize"
	"meshvoice/pkg/retry"
	"meshvoice/pkg/tracing"

	"go.uber.org/zap"
)

// ErrRejected is returned when the remote relay endpoint refuses a message.
// It is not retried.
var ErrRejected = errors.New("relay rejected message")

// Offers carry a full SDP; most messages fit in 4KB.
var encodeBuffers = optimize.NewBufferPool(4<<10, 64<<10)

type HTTPConfig struct {
	Port         int
	Path         string
	SendTimeout  time.Duration
	SendAttempts int

	BreakerFailures int
	BreakerReset    time.Duration
}

// HTTPRelay posts signaling messages to the relay endpoint of the remote
// node, which listens on the same port and path as ours.
type HTTPRelay struct {
	cfg      HTTPConfig
	self     domain.SelfAddresses
	auth     services.RelayAuth
	client   *http.Client
	breakers *circuitbreaker.Group
	logger   *zap.SugaredLogger
}

var _ ports.RelayTransport = (*HTTPRelay)(nil)

// NewHTTPRelay creates the relay client. auth may be nil when the mesh runs
// without a shared secret.
func NewHTTPRelay(cfg HTTPConfig, self domain.SelfAddresses, auth services.RelayAuth, logger *zap.SugaredLogger) *HTTPRelay {
	return &HTTPRelay{
		cfg:    cfg,
		self:   self,
		auth:   auth,
		client: &http.Client{},
		breakers: circuitbreaker.NewGroup(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailures,
			Timeout:          cfg.BreakerReset,
		}),
		logger: logger,
	}
}

func (r *HTTPRelay) endpoint(to domain.PeerAddress) string {
	return "http://" + net.JoinHostPort(string(to), strconv.Itoa(r.cfg.Port)) + r.cfg.Path
}

// Send delivers msg to the peer at to. Transport failures and 5xx replies
// are retried; the per-peer breaker stops hammering an unreachable node.
func (r *HTTPRelay) Send(ctx context.Context, to domain.PeerAddress, msg *domain.SignalMessage) error {
	ctx, span := tracing.TraceSignal(ctx, "relay_http", string(msg.Type), to.String())
	defer span.End()

	buf, err := encodeBuffers.EncodeJSON(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	defer encodeBuffers.Put(buf)
	body := buf.Bytes()

	url := r.endpoint(to)
	policy := retry.Config{
		MaxAttempts:        r.cfg.SendAttempts,
		InitialDelay:       200 * time.Millisecond,
		MaxDelay:           2 * time.Second,
		Multiplier:         2,
		Jitter:             true,
		NonRetryableErrors: []error{ErrRejected, circuitbreaker.ErrOpen},
	}

	breaker := r.breakers.Get(to.String())
	err = retry.Retry(ctx, policy, func() error {
		return breaker.Execute(ctx, func(ctx context.Context) error {
			return r.post(ctx, url, body)
		})
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		r.logger.Debugw("relay send failed", "peer_address", to, "type", msg.Type, "error", err)
		return err
	}
	return nil
}

func (r *HTTPRelay) post(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.auth != nil {
		token, err := r.auth.GenerateToken(r.self)
		if err != nil {
			return fmt.Errorf("%w: failed to sign relay token: %v", ErrRejected, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("relay endpoint returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}

// Forget drops the breaker state kept for a removed peer.
func (r *HTTPRelay) Forget(to domain.PeerAddress) {
	r.breakers.Forget(to.String())
}
