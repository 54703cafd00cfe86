package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSDP = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func TestParseSelfAddresses(t *testing.T) {
	got := ParseSelfAddresses([]string{"garbage", "fd7a:115c:a1e0::5", "100.64.0.5", "100.64.0.6", "fd7a::6"})
	assert.Equal(t, SelfAddresses{IPv4: "100.64.0.5", IPv6: "fd7a:115c:a1e0::5"}, got)
	assert.Equal(t, PeerAddress("100.64.0.5"), got.Primary())

	v6only := ParseSelfAddresses([]string{"fd7a::1"})
	assert.Equal(t, PeerAddress("fd7a::1"), v6only.Primary())
	assert.True(t, ParseSelfAddresses(nil).IsZero())
}

func TestRoleFor(t *testing.T) {
	assert.Equal(t, RoleOfferer, RoleFor("100.64.0.2", "100.64.0.10"))
	assert.Equal(t, RoleAnswerer, RoleFor("100.64.0.10", "100.64.0.2"))
	// both sides agree
	assert.NotEqual(t, RoleFor("10.0.0.1", "10.0.0.2"), RoleFor("10.0.0.2", "10.0.0.1"))
	assert.Equal(t, RoleOfferer, RoleFor("alpha", "beta"))
}

func TestSignalMessage_Validate(t *testing.T) {
	sender := SelfAddresses{IPv4: "10.0.0.1"}
	offer := &SessionDescription{Type: "offer", SDP: testSDP}
	answer := &SessionDescription{Type: "answer", SDP: testSDP}

	cases := []struct {
		name    string
		msg     SignalMessage
		wantErr error
	}{
		{"ask offer", SignalMessage{Type: SignalAskOffer, Sender: sender}, nil},
		{"no sender", SignalMessage{Type: SignalAskOffer}, ErrMalformedSignal},
		{"unknown type", SignalMessage{Type: "hello", Sender: sender}, ErrUnknownSignal},
		{"offer ok", SignalMessage{Type: SignalOfferWithCandidates, Sender: sender, Offer: offer, Candidates: []ICECandidate{}}, nil},
		{"offer missing", SignalMessage{Type: SignalOfferWithCandidates, Sender: sender, Candidates: []ICECandidate{}}, ErrMalformedSignal},
		{"candidates missing", SignalMessage{Type: SignalOfferWithCandidates, Sender: sender, Offer: offer}, ErrMalformedSignal},
		{"wrong description type", SignalMessage{Type: SignalAnswerWithCandidates, Sender: sender, Answer: offer, Candidates: []ICECandidate{}}, ErrMalformedSignal},
		{"answer ok", SignalMessage{Type: SignalAnswerWithCandidates, Sender: sender, Answer: answer, Candidates: []ICECandidate{}}, nil},
		{"bad sdp", SignalMessage{Type: SignalAnswerWithCandidates, Sender: sender, Answer: &SessionDescription{Type: "answer", SDP: "nope"}, Candidates: []ICECandidate{}}, ErrMalformedSignal},
		{"bad purpose", SignalMessage{Type: SignalOfferWithCandidates, Sender: sender, Offer: offer, Candidates: []ICECandidate{}, Streams: map[string]StreamPurpose{"s": "music"}}, ErrMalformedSignal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
		})
	}
}

func TestSignalMessage_WireShape(t *testing.T) {
	raw := `{
		"type": "offer-with-candidates",
		"sender": {"ipv4": "100.64.0.1", "ipv6": "fd7a::1"},
		"offer": {"type": "offer", "sdp": "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"},
		"candidates": [{"candidate": "candidate:1 1 udp 1 10.0.0.1 5000 typ host", "sdpMid": "0", "sdpMLineIndex": 0}],
		"extra": true
	}`

	var msg SignalMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.NoError(t, msg.Validate())
	require.Len(t, msg.Candidates, 1)
	require.NotNil(t, msg.Candidates[0].SDPMid)
	assert.Equal(t, "0", *msg.Candidates[0].SDPMid)
	assert.Equal(t, PeerAddress("100.64.0.1"), msg.Sender.Primary())
}

func TestDataMessage_OptionalSeq(t *testing.T) {
	var legacy DataMessage
	require.NoError(t, json.Unmarshal([]byte(`{"type":"pong"}`), &legacy))
	assert.Equal(t, DataPong, legacy.Type)
	assert.Nil(t, legacy.Seq)

	seq := uint64(4)
	out, err := json.Marshal(DataMessage{Type: DataPing, Seq: &seq})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping","seq":4}`, string(out))
}

func TestMirror_CloneIsDeep(t *testing.T) {
	m := Mirror{User: &User{ID: "u1"}, InVoiceChannel: &VoiceChannel{ID: 3}}
	c := m.Clone()
	c.User.ID = "u2"
	c.InVoiceChannel.ID = 4

	assert.Equal(t, "u1", m.User.ID)
	assert.Equal(t, int64(3), m.InVoiceChannel.ID)
}
