package domain

// SubmissionStatus is the lifecycle state of a submitted extrinsic.
// Transitions are monotonic: Pending -> InBlock -> Finalized, or a
// jump to Failed/Dropped/Unknown. A result never regresses.
type SubmissionStatus int

// Submission statuses.
const (
	StatusPending SubmissionStatus = iota
	StatusInBlock
	StatusFinalized
	StatusFailed
	StatusDropped
	// StatusUnknown means the extrinsic's fate could not be observed
	// (e.g. timeout after possible acceptance). Never coerced to
	// Failed or Finalized.
	StatusUnknown
)

func (s SubmissionStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInBlock:
		return "in_block"
	case StatusFinalized:
		return "finalized"
	case StatusFailed:
		return "failed"
	case StatusDropped:
		return "dropped"
	case StatusUnknown:
		return "unknown"
	}
	return "invalid"
}

// Terminal reports whether no further transitions are possible.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case StatusFinalized, StatusFailed, StatusDropped, StatusUnknown:
		return true
	}
	return false
}

// rank orders statuses for monotonicity checks. Terminal states share
// the top rank; Pending < InBlock < terminal.
func (s SubmissionStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInBlock:
		return 1
	default:
		return 2
	}
}

// CanTransition reports whether moving from s to next preserves
// monotonic ordering.
func (s SubmissionStatus) CanTransition(next SubmissionStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// SubmissionResult is the observed outcome of one extrinsic submission.
type SubmissionResult struct {
	Status      SubmissionStatus
	BlockHash   string // set once InBlock or Finalized
	ErrorDetail string // remote error detail for Failed
	Attempts    int    // network-level submission attempts made
}
