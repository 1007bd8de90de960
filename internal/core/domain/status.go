package domain

// Status is the processing state of one document in the ledger.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDownloaded Status = "downloaded"
	StatusProcessed  Status = "processed"
	StatusArchived   Status = "archived"
	StatusError      Status = "error"
	StatusSkipped    Status = "skipped"
)

// Statuses lists every valid status, in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusPending,
		StatusDownloaded,
		StatusProcessed,
		StatusArchived,
		StatusError,
		StatusSkipped,
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDownloaded, StatusProcessed, StatusArchived, StatusError, StatusSkipped:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next respects the document
// lifecycle: pending -> downloaded -> processed -> archived, with error and
// skipped reachable from downloaded/processed as resting states. Any state
// may return to pending (fingerprint change), and error may re-attempt the
// transition it failed (explicit retry re-entry). No transition skips a state.
func (s Status) CanTransition(next Status) bool {
	if next == StatusPending {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusDownloaded || next == StatusError
	case StatusDownloaded:
		return next == StatusProcessed || next == StatusError || next == StatusSkipped
	case StatusProcessed:
		return next == StatusArchived || next == StatusError
	case StatusError:
		// Retry re-entry: an error id may re-attempt any non-terminal step.
		return next == StatusDownloaded || next == StatusProcessed || next == StatusSkipped || next == StatusError
	default:
		return false
	}
}
