package voice

// State is a conversation loop state.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateRecognized   State = "recognized"
	StateClassifying  State = "classifying"
	StateGenerating   State = "generating"
	StateSynthesizing State = "synthesizing"
	StateStopped      State = "stopped"

	// StateError is transient: the loop returns to listening after it.
	StateError State = "error"
)

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// Terminal reports whether the loop has ended.
func (s State) Terminal() bool {
	return s == StateStopped
}
