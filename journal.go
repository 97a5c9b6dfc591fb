package saga

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// JournalEvent is a transition recorded for a step.
type JournalEvent int

const (
	JournalStarted JournalEvent = iota
	JournalSucceeded
	JournalFailed
	JournalCompensationStarted
	JournalCompensated
	JournalCompensationFailed
)

func (e JournalEvent) String() string {
	switch e {
	case JournalStarted:
		return "started"
	case JournalSucceeded:
		return "succeeded"
	case JournalFailed:
		return "failed"
	case JournalCompensationStarted:
		return "compensation_started"
	case JournalCompensated:
		return "compensated"
	case JournalCompensationFailed:
		return "compensation_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(e))
	}
}

// JournalEntry is one line of the run journal.
type JournalEntry struct {
	Step  StepName     `json:"step"`
	Event JournalEvent `json:"event"`
	At    time.Time    `json:"at"`
	Error string       `json:"error,omitempty"`
}

func (e JournalEntry) String() string {
	if e.Error != "" {
		return fmt.Sprintf("%s %s: %s", e.Step, e.Event, e.Error)
	}
	return fmt.Sprintf("%s %s", e.Step, e.Event)
}

// next returns the step state after event, or an error if the transition is
// illegal. In particular a compensation can only start from StateSucceeded.
func (s StepState) next(event JournalEvent) (StepState, error) {
	switch s {
	case StateNeverStarted:
		if event == JournalStarted {
			return StateStarted, nil
		}
	case StateStarted:
		switch event {
		case JournalSucceeded:
			return StateSucceeded, nil
		case JournalFailed:
			return StateFailed, nil
		}
	case StateSucceeded:
		if event == JournalCompensationStarted {
			return StateCompensating, nil
		}
	case StateCompensating:
		switch event {
		case JournalCompensated:
			return StateCompensated, nil
		case JournalCompensationFailed:
			return StateCompensationFailed, nil
		}
	}

	return s, fmt.Errorf("illegal event %s for step in state %s", event, s)
}

// Journal is the per-run log of step transitions.
type Journal struct {
	mu        sync.Mutex
	sagaID    string
	unwinding bool
	entries   []JournalEntry
	states    map[StepName]StepState
	now       func() time.Time
}

func NewJournal(sagaID string) *Journal {
	return &Journal{
		sagaID: sagaID,
		states: make(map[StepName]StepState),
		now:    time.Now,
	}
}

// RecoverJournal rebuilds a journal from previously recorded entries,
// validating every transition.
func RecoverJournal(sagaID string, entries []JournalEntry) (*Journal, error) {
	j := NewJournal(sagaID)
	for _, e := range entries {
		if err := j.append(e); err != nil {
			return nil, fmt.Errorf("error recovering journal for saga %s: %w", sagaID, err)
		}
	}
	return j, nil
}

// Record appends a transition for step. A non-nil cause is kept as the
// entry's error text.
func (j *Journal) Record(step StepName, event JournalEvent, cause error) error {
	entry := JournalEntry{Step: step, Event: event, At: j.now()}
	if cause != nil {
		entry.Error = cause.Error()
	}
	return j.append(entry)
}

func (j *Journal) append(entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	next, err := j.states[entry.Step].next(entry.Event)
	if err != nil {
		return fmt.Errorf("step %s: %w", entry.Step, err)
	}

	switch next {
	case StateFailed, StateCompensating, StateCompensated, StateCompensationFailed:
		j.unwinding = true
	}

	j.states[entry.Step] = next
	j.entries = append(j.entries, entry)
	return nil
}

// State returns the current state of a step.
func (j *Journal) State(step StepName) StepState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.states[step]
}

// Unwinding reports whether the run has started going backwards.
func (j *Journal) Unwinding() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.unwinding
}

// Entries returns a copy of the journal entries in record order.
func (j *Journal) Entries() []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]JournalEntry(nil), j.entries...)
}

func (j *Journal) String() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("SAGA JOURNAL:\n")
	fmt.Fprintf(&sb, "saga id:   %s\n", j.sagaID)
	direction := "forward"
	if j.unwinding {
		direction = "unwinding"
	}
	fmt.Fprintf(&sb, "direction: %s\n", direction)
	fmt.Fprintf(&sb, "entries (%d total):\n\n", len(j.entries))
	for i, e := range j.entries {
		fmt.Fprintf(&sb, "%03d %s\n", i+1, e.String())
	}
	return sb.String()
}
