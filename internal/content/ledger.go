package content

// VoteState is a user's current position on one content item.
type VoteState string

const (
	// VoteNone means the user holds no active vote.
	VoteNone VoteState = "none"
	// VoteUp means the user holds an active upvote.
	VoteUp VoteState = "up"
	// VoteDown means the user holds an active downvote.
	VoteDown VoteState = "down"
)

// Transition classifies the net ledger change produced by one toggle request.
type Transition string

const (
	// TransitionCast records a fresh vote where none existed.
	TransitionCast Transition = "cast"
	// TransitionRemoved records a toggle-off of the vote the user already held.
	TransitionRemoved Transition = "removed"
	// TransitionSwitched records a direct flip between directions.
	TransitionSwitched Transition = "switched"
)

func stateOf(record *VoteRecord) VoteState {
	if record == nil {
		return VoteNone
	}
	if record.Direction() == DirectionDown {
		return VoteDown
	}
	return VoteUp
}

func stateFor(direction Direction) VoteState {
	if direction == DirectionDown {
		return VoteDown
	}
	return VoteUp
}

// resolveVote decides the next ledger state for one user given their current
// state and the requested direction. Requesting the direction already held is
// a toggle-off; requesting the opposite direction switches it in place, no
// separate removal call required.
func resolveVote(current VoteState, requested Direction) (VoteState, Transition) {
	switch current {
	case VoteNone:
		return stateFor(requested), TransitionCast
	case stateFor(requested):
		return VoteNone, TransitionRemoved
	default:
		return stateFor(requested), TransitionSwitched
	}
}
