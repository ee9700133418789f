package checkpoint

// State is the position of one checkpoint attempt in the protocol.
type State int

const (
	StateStart State = iota
	StateRollRequested
	StateEditsFetched
	StateImageMerged
	StateImageUploaded
	StateAdopted
	StateError
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateRollRequested:
		return "ROLL_REQUESTED"
	case StateEditsFetched:
		return "EDITS_FETCHED"
	case StateImageMerged:
		return "IMAGE_MERGED"
	case StateImageUploaded:
		return "IMAGE_UPLOADED"
	case StateAdopted:
		return "ADOPTED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateAdopted || s == StateError
}

// ParseState is the inverse of State.String.
func ParseState(v string) State {
	for s := StateStart; s <= StateError; s++ {
		if s.String() == v {
			return s
		}
	}
	return StateError
}
