package enrich

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// State is a record's position in the enrichment state machine.
type State string

const (
	StatePending    State = "pending"
	StateFormatting State = "formatting"
	StateGeocoding  State = "geocoding"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateSkipped    State = "skipped"
	StateFailed     State = "failed"
)

// Reason explains a Failed record.
type Reason string

const (
	ReasonIncompleteAddress Reason = "incomplete_address"
	ReasonProviderError     Reason = "provider_error"
	ReasonWriteError        Reason = "write_error"
)

// Outcome is the terminal result of one record.
type Outcome struct {
	VenueID    string
	Name       string
	State      State
	Reason     Reason
	Candidates int
	Err        error
}

// WriteFailure identifies a venue whose geocode succeeded but whose update
// was rejected. These need a manual re-run.
type WriteFailure struct {
	VenueID string
	Name    string
	Err     string
}

// Report summarises a migration run. Total always equals
// Skipped + Done + Failed().
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Total     int
	Skipped   int
	Done      int
	Unmatched int // Done with an empty candidate list
	FailedBy  map[Reason]int

	WriteFailures []WriteFailure

	mu sync.Mutex
}

func newReport(runID string, startedAt time.Time) *Report {
	return &Report{
		RunID:     runID,
		StartedAt: startedAt,
		FailedBy:  make(map[Reason]int),
	}
}

func (r *Report) add(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Total++
	switch o.State {
	case StateSkipped:
		r.Skipped++
	case StateDone:
		r.Done++
		if o.Candidates == 0 {
			r.Unmatched++
		}
	case StateFailed:
		r.FailedBy[o.Reason]++
		if o.Reason == ReasonWriteError {
			wf := WriteFailure{VenueID: o.VenueID, Name: o.Name}
			if o.Err != nil {
				wf.Err = o.Err.Error()
			}
			r.WriteFailures = append(r.WriteFailures, wf)
		}
	}
}

func (r *Report) addSkipped(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Total += n
	r.Skipped += n
}

// Failed returns the number of failed records across all reasons.
func (r *Report) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.FailedBy {
		n += c
	}
	return n
}

// Duration returns the run's wall time.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// OK reports whether the run had no write failures.
func (r *Report) OK() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.WriteFailures) == 0
}

// Print writes the human-readable run summary.
func (r *Report) Print(w io.Writer) {
	failed := r.Failed()

	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(w, "Run %s finished in %s\n", r.RunID, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  total:    %d\n", r.Total)
	fmt.Fprintf(w, "  skipped:  %d\n", r.Skipped)
	fmt.Fprintf(w, "  done:     %d (%d without match)\n", r.Done, r.Unmatched)
	fmt.Fprintf(w, "  failed:   %d\n", failed)

	reasons := make([]string, 0, len(r.FailedBy))
	for reason := range r.FailedBy {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(w, "    %-20s %d\n", reason, r.FailedBy[Reason(reason)])
	}

	if len(r.WriteFailures) > 0 {
		fmt.Fprintf(w, "Write failures (re-run these venues):\n")
		for _, wf := range r.WriteFailures {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", wf.VenueID, wf.Name, wf.Err)
		}
	}
}
