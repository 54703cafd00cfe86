package domain

// MergeOutcome describes what a single sync_status merge did to the store.
type MergeOutcome string

const (
	MergeRemoved        MergeOutcome = "removed"
	MergeDuplicate      MergeOutcome = "duplicate"
	MergeAdded          MergeOutcome = "added"
	MergeAddedTemporary MergeOutcome = "added-temporary"
	MergeRejected       MergeOutcome = "rejected"
)

// MergeResult reports the channel a remote user was placed in, if any.
type MergeResult struct {
	Outcome   MergeOutcome
	ChannelID int64
	UserID    string
}

// TemporaryChannelID maps a channel id from a foreign naming scheme onto the
// reserved negative range.
func TemporaryChannelID(id int64) int64 {
	if id < 0 {
		return id
	}
	return -id
}
