package webrtc

import (
	"testing"

	"meshvoice/internal/core/domain"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
)

func mediaWithMsid(msid string) *sdp.MediaDescription {
	m := &sdp.MediaDescription{}
	if msid != "" {
		m.Attributes = append(m.Attributes, sdp.NewAttribute("msid", msid))
	}
	return m
}

func TestPurposeFromTrackCount(t *testing.T) {
	desc := &sdp.SessionDescription{
		MediaDescriptions: []*sdp.MediaDescription{
			mediaWithMsid("mic mic-audio"),
			mediaWithMsid("desk desk-video"),
			mediaWithMsid("desk desk-audio"),
			mediaWithMsid(""),
			mediaWithMsid("wall a"),
			mediaWithMsid("wall b"),
			mediaWithMsid("wall c"),
		},
	}

	cases := []struct {
		name     string
		desc     *sdp.SessionDescription
		streamID string
		want     domain.StreamPurpose
		ok       bool
	}{
		{"one track is voice", desc, "mic", domain.PurposeVoice, true},
		{"two tracks are screen", desc, "desk", domain.PurposeScreen, true},
		{"unknown stream", desc, "nobody", "", false},
		{"three tracks are ambiguous", desc, "wall", "", false},
		{"empty stream id", desc, "", "", false},
		{"no description", nil, "mic", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := purposeFromTrackCount(tc.desc, tc.streamID)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
