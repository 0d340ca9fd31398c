package frontier

// Outcome is what Receive did with a candidate.
type Outcome string

// Receive outcomes.
const (
	OutcomeEnqueued Outcome = "enqueued"
	OutcomeReplaced Outcome = "replaced"
	OutcomeDropped  Outcome = "dropped"
	// OutcomeHeld means the candidate waits in a relearning batch.
	OutcomeHeld Outcome = "held"
)

// Reasons attached to decisions.
const (
	ReasonNew            = "new"
	ReasonNewQueue       = "new_queue"
	ReasonForced         = "forced"
	ReasonBetter         = "better"
	ReasonReordered      = "reordered"
	ReasonBatched        = "batched"
	ReasonInFlight       = "in_flight"
	ReasonAlreadyFetched = "already_fetched"
	ReasonReplaceFailed  = "replace_failed"
	ReasonNotBetter      = "not_better"
	ReasonStoreFailed    = "store_failed"
	ReasonTerminated     = "terminated"
	ReasonInvalid        = "invalid"
)

// Decision describes the side effect of one Receive call.
type Decision struct {
	Outcome    Outcome
	Reason     string
	Key        string
	ClassKey   string
	Precedence int
}

// Accepted reports whether the candidate now sits in a work queue.
func (d Decision) Accepted() bool {
	return d.Outcome == OutcomeEnqueued || d.Outcome == OutcomeReplaced
}
