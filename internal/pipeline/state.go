package pipeline

// State is a stage of one run.
type State int

const (
	StateIdle State = iota
	StateProbing
	StateSplitting
	StateTranscribingChunks
	StateCompressingWhole
	StateTranscribingWhole
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:               "idle",
	StateProbing:            "probing",
	StateSplitting:          "splitting",
	StateTranscribingChunks: "transcribing_chunks",
	StateCompressingWhole:   "compressing_whole",
	StateTranscribingWhole:  "transcribing_whole",
	StateDone:               "done",
	StateFailed:             "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
