// Package pcb implements the process control block and the queue that
// holds every PCB in a simulation run.
package pcb

import (
	"sort"

	"github.com/nhanderson/ossim/config"
)

// State is a PCB's position in the process lifecycle state machine.
type State int

const (
	New State = iota
	Ready
	Running
	Blocked
	Exit
)

func (s State) String() string {
	switch s {
	case New:
		return "New"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Exit:
		return "Exit"
	default:
		return "Unknown"
	}
}

// PCB is one process's control block: its identity, lifecycle state,
// instruction cursor, and remaining simulated work.
type PCB struct {
	PID             int
	State           State
	Cursor          int // next op-code to execute
	EndCursor       int // cursor of the A(end) that terminates this process
	TimeRemainingMS int // milliseconds of P/I/O work left

	// ResidualCycles tracks a partially-executed P op across preemptions:
	// -1 means the op at Cursor has not yet been started, so the
	// preemptive dispatcher must initialize it from the op's own value.
	ResidualCycles int
}

// Queue holds all PCBs for a run, appended in admission order; Sort and
// RotateToTail may later reorder them. Index 0 is always PID 0 at
// admission time; PIDs are dense and never reused.
type Queue struct {
	pcbs []*PCB
}

// Admit creates a new PCB with the next PID in admission order and
// appends it to the queue in the New state.
func (q *Queue) Admit(startCursor, endCursor, timeRemainingMS int) *PCB {
	p := &PCB{
		PID:             len(q.pcbs),
		State:           New,
		Cursor:          startCursor,
		EndCursor:       endCursor,
		TimeRemainingMS: timeRemainingMS,
		ResidualCycles:  -1,
	}
	q.pcbs = append(q.pcbs, p)
	return p
}

// Len returns the number of admitted PCBs.
func (q *Queue) Len() int { return len(q.pcbs) }

// All returns every PCB in current queue order. Callers must not mutate
// the slice's length; mutating field values of the returned PCBs is the
// normal way the scheduler drives state transitions.
func (q *Queue) All() []*PCB { return q.pcbs }

// ByPID returns the PCB with the given PID, or nil if none is admitted.
// PIDs are dense at admission, but RR-P's queue rotation (RotateToTail)
// reorders the underlying slice, so this is a scan by PID field rather
// than a direct index.
func (q *Queue) ByPID(pid int) *PCB {
	for _, p := range q.pcbs {
		if p.PID == pid {
			return p
		}
	}
	return nil
}

// RotateToTail moves the PCB with the given PID to the end of the
// queue's iteration order. RR-P uses this to send a process that just
// yielded the CPU behind its still-waiting siblings, so the next
// READY PCB in rotation order — not the one that just ran — becomes
// head on the following sort+select.
func (q *Queue) RotateToTail(pid int) {
	idx := -1
	for i, p := range q.pcbs {
		if p.PID == pid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	p := q.pcbs[idx]
	q.pcbs = append(q.pcbs[:idx], q.pcbs[idx+1:]...)
	q.pcbs = append(q.pcbs, p)
}

// SetAll bulk-transitions every PCB to state. Spec §4.4 uses this only
// for the NEW -> READY admission step.
func (q *Queue) SetAll(state State) {
	for _, p := range q.pcbs {
		p.State = state
	}
}

// NextWith returns the first in-order PCB in the given state.
func (q *Queue) NextWith(state State) (*PCB, bool) {
	for _, p := range q.pcbs {
		if p.State == state {
			return p, true
		}
	}
	return nil, false
}

// AllEnded reports whether every PCB has reached the terminal Exit state.
func (q *Queue) AllEnded() bool {
	for _, p := range q.pcbs {
		if p.State != Exit {
			return false
		}
	}
	return true
}

// AnyReady reports whether at least one PCB is Ready — used by the
// preemptive dispatch loop to detect a CPU-idle condition.
func (q *Queue) AnyReady() bool {
	_, ok := q.NextWith(Ready)
	return ok
}

// Sort stably reorders the queue per the configured scheduling policy.
// FCFS-N and FCFS-P are a no-op
// (insertion order is already admission order); SJF-N and SRTF-P sort
// ascending by remaining time; RR-P partitions Blocked PCBs toward the
// tail so the next Ready PCB in admission order becomes the new head.
func (q *Queue) Sort(policy config.Policy) {
	switch policy {
	case config.FCFSNonPreemptive, config.FCFSPreemptive:
		// identity: admission order is already FCFS order.
	case config.SJFNonPreemptive, config.SRTFPreemptive:
		sort.SliceStable(q.pcbs, func(i, j int) bool {
			return q.pcbs[i].TimeRemainingMS < q.pcbs[j].TimeRemainingMS
		})
	case config.RoundRobin:
		sort.SliceStable(q.pcbs, func(i, j int) bool {
			return rrRank(q.pcbs[i].State) < rrRank(q.pcbs[j].State)
		})
	}
}

// rrRank gives Blocked PCBs a higher sort key than every other state, so
// a stable sort pushes them toward the tail without disturbing the
// relative order of everything else.
func rrRank(s State) int {
	if s == Blocked {
		return 1
	}
	return 0
}
