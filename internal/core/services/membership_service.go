package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"
	"meshvoice/pkg/tracing"

	"go.uber.org/zap"
)

type MembershipService struct {
	channels ports.ChannelRepository
	metrics  ports.MetricsCollector
	logger   *zap.SugaredLogger

	// mu makes every merge one read-then-write step with respect to other
	// peers' merges.
	mu     sync.Mutex
	remote map[domain.PeerAddress]domain.Mirror
}

func NewMembershipService(
	channels ports.ChannelRepository,
	metrics ports.MetricsCollector,
	logger *zap.SugaredLogger,
) *MembershipService {
	return &MembershipService{
		channels: channels,
		metrics:  metrics,
		logger:   logger,
		remote:   make(map[domain.PeerAddress]domain.Mirror),
	}
}

var _ ports.MembershipSync = (*MembershipService)(nil)

// SetLocalPreset stores the local channel mode. It waits for any merge in
// flight so that no merge sees a half-applied mode change.
func (s *MembershipService) SetLocalPreset(ctx context.Context, preset bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.channels.SetPresetChannels(ctx, preset); err != nil {
		return fmt.Errorf("failed to store channel mode: %w", err)
	}
	s.logger.Debugw("local channel mode set", "preset_channels", preset)
	return nil
}

// ApplyRemoteStatus merges the presence a peer reported over its data channel.
func (s *MembershipService) ApplyRemoteStatus(ctx context.Context, from domain.PeerAddress, mirror domain.Mirror) (domain.MergeResult, error) {
	userID := ""
	if mirror.User != nil {
		userID = mirror.User.ID
	}
	ctx, span := tracing.TraceMembership(ctx, "merge", userID)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.merge(ctx, from, mirror)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	s.metrics.MembershipMerge(res.Outcome)

	s.logger.Debugw("membership merged",
		"peer_address", from,
		"user_id", userID,
		"outcome", res.Outcome,
		"channel_id", res.ChannelID,
	)
	return res, err
}

func (s *MembershipService) merge(ctx context.Context, from domain.PeerAddress, mirror domain.Mirror) (domain.MergeResult, error) {
	if mirror.User == nil || mirror.User.ID == "" {
		s.logger.Warnw("ignoring presence without user identity", "peer_address", from)
		return domain.MergeResult{Outcome: domain.MergeRejected}, nil
	}
	user := *mirror.User
	s.remote[from] = mirror.Clone()

	if mirror.InVoiceChannel == nil {
		if err := s.removeEverywhere(ctx, user.ID, nil); err != nil {
			return domain.MergeResult{Outcome: domain.MergeRejected, UserID: user.ID}, err
		}
		return domain.MergeResult{Outcome: domain.MergeRemoved, UserID: user.ID}, nil
	}

	localPreset, err := s.channels.IsPresetChannels(ctx)
	if err != nil {
		return domain.MergeResult{Outcome: domain.MergeRejected, UserID: user.ID}, fmt.Errorf("failed to read channel mode: %w", err)
	}

	reported := *mirror.InVoiceChannel
	target := reported.ID
	temporary := mirror.IsPresetChannels != localPreset
	if temporary {
		if reported.ID == 0 {
			return domain.MergeResult{Outcome: domain.MergeRejected, UserID: user.ID},
				fmt.Errorf("%w: channel 0 has no temporary mapping", domain.ErrInvalidChannel)
		}
		target = domain.TemporaryChannelID(reported.ID)
	}
	result := domain.MergeResult{Outcome: domain.MergeAdded, ChannelID: target, UserID: user.ID}

	present, err := s.channels.Users(ctx, target)
	if err != nil {
		return domain.MergeResult{Outcome: domain.MergeRejected, UserID: user.ID}, fmt.Errorf("failed to read channel %d: %w", target, err)
	}
	for _, u := range present {
		if u.ID == user.ID {
			result.Outcome = domain.MergeDuplicate
			return result, nil
		}
	}

	if err := s.removeEverywhere(ctx, user.ID, &target); err != nil {
		return domain.MergeResult{Outcome: domain.MergeRejected, UserID: user.ID}, err
	}

	if temporary {
		result.Outcome = domain.MergeAddedTemporary
		if _, err := s.channels.GetChannel(ctx, target); errors.Is(err, domain.ErrChannelNotFound) {
			ch := reported
			ch.ID = target
			ch.Temporary = true
			if err := s.channels.AddChannel(ctx, ch); err != nil {
				return domain.MergeResult{Outcome: domain.MergeRejected, UserID: user.ID}, fmt.Errorf("failed to create temporary channel %d: %w", target, err)
			}
		} else if err != nil {
			return domain.MergeResult{Outcome: domain.MergeRejected, UserID: user.ID}, fmt.Errorf("failed to read channel %d: %w", target, err)
		}
	}

	if err := s.channels.AddUser(ctx, target, user); err != nil {
		return domain.MergeResult{Outcome: domain.MergeRejected, UserID: user.ID}, fmt.Errorf("failed to add user to channel %d: %w", target, err)
	}
	return result, nil
}

// removeEverywhere scans every channel and removes the user, skipping keep.
// Temporary channels left empty are dropped.
func (s *MembershipService) removeEverywhere(ctx context.Context, userID string, keep *int64) error {
	memberships, err := s.channels.Memberships(ctx)
	if err != nil {
		return fmt.Errorf("failed to read memberships: %w", err)
	}

	for channelID, users := range memberships {
		if keep != nil && channelID == *keep {
			continue
		}
		found := false
		for _, u := range users {
			if u.ID == userID {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		if err := s.channels.RemoveUser(ctx, channelID, userID); err != nil {
			return fmt.Errorf("failed to remove user from channel %d: %w", channelID, err)
		}
		if len(users) == 1 {
			s.dropIfTemporary(ctx, channelID)
		}
	}
	return nil
}

func (s *MembershipService) dropIfTemporary(ctx context.Context, channelID int64) {
	ch, err := s.channels.GetChannel(ctx, channelID)
	if err != nil || !ch.Temporary {
		return
	}
	if err := s.channels.RemoveChannel(ctx, channelID); err != nil {
		s.logger.Warnw("failed to drop empty temporary channel", "channel_id", channelID, "error", err)
	}
}

// ForgetPeer removes the user last reported by addr, unless another connected
// peer still reports the same user.
func (s *MembershipService) ForgetPeer(ctx context.Context, addr domain.PeerAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mirror, ok := s.remote[addr]
	if !ok {
		return nil
	}
	delete(s.remote, addr)

	if mirror.User == nil {
		return nil
	}
	for other, m := range s.remote {
		if m.User != nil && m.User.ID == mirror.User.ID {
			s.logger.Debugw("user still reported by another peer", "user_id", mirror.User.ID, "peer_address", other)
			return nil
		}
	}
	return s.removeEverywhere(ctx, mirror.User.ID, nil)
}

// RemotePresence returns the last presence reported by addr.
func (s *MembershipService) RemotePresence(addr domain.PeerAddress) (domain.Mirror, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.remote[addr]
	if !ok {
		return domain.Mirror{}, false
	}
	return m.Clone(), true
}
