package filter

// Verdict is the engine's decision for one frame.
type Verdict uint8

const (
	// VerdictDrop discards the frame.
	VerdictDrop Verdict = iota
	// VerdictPass admits the frame.
	VerdictPass
)

func (v Verdict) String() string {
	switch v {
	case VerdictDrop:
		return "DROP"
	case VerdictPass:
		return "PASS"
	default:
		return "UNKNOWN"
	}
}
