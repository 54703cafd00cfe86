package domain

// User is the identity a peer presents to others.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"user_name"`
	Avatar string `json:"user_avatar,omitempty"`
}

// VoiceChannel ids are signed; negative ids are reserved for temporary
// channels synthesized during membership sync.
type VoiceChannel struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Temporary   bool   `json:"temporary,omitempty"`
}

// Mirror is the local presence pushed to every connected peer.
type Mirror struct {
	User             *User         `json:"user"`
	InVoiceChannel   *VoiceChannel `json:"inVoiceChannel"`
	IsPresetChannels bool          `json:"isPresetChannels"`
}

// Clone returns a deep copy so that readers never share pointers with the
// owner of the mirror.
func (m Mirror) Clone() Mirror {
	out := Mirror{IsPresetChannels: m.IsPresetChannels}
	if m.User != nil {
		u := *m.User
		out.User = &u
	}
	if m.InVoiceChannel != nil {
		ch := *m.InVoiceChannel
		out.InVoiceChannel = &ch
	}
	return out
}
