// Package scheduler is the simulator's dispatch loop: the component that
// drives every PCB through New -> Ready -> Running -> {Blocked, Exit} under
// one of five configured CPU scheduling policies, consuming the op-code
// program and collaborating with the MMU and interrupt queue.
//
// The loop runs on a single goroutine, making each dispatch decision with
// a synchronous call into its collaborators rather than fanning work out
// across channels or worker goroutines.
package scheduler

import (
	"fmt"

	"github.com/nhanderson/ossim/config"
	"github.com/nhanderson/ossim/emu/interrupt"
	"github.com/nhanderson/ossim/emu/mmu"
	"github.com/nhanderson/ossim/emu/opcode"
	"github.com/nhanderson/ossim/emu/pcb"
	"github.com/nhanderson/ossim/emu/timer"
	"github.com/nhanderson/ossim/util/logger"
)

// Scheduler owns every collaborator a simulation run needs and drives them
// to completion.
type Scheduler struct {
	cfg   *config.Config
	prog  *opcode.Program
	pcbs  *pcb.Queue
	mmu   *mmu.Table
	intq  *interrupt.Queue
	clock timer.Clock
	log   *logger.Sink
}

// New builds a Scheduler ready to Run a single simulation.
func New(cfg *config.Config, prog *opcode.Program, clock timer.Clock, log *logger.Sink) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		prog:  prog,
		pcbs:  &pcb.Queue{},
		mmu:   mmu.New(cfg.MemoryKB),
		intq:  &interrupt.Queue{},
		clock: clock,
		log:   log,
	}
}

// Run executes the full simulation lifecycle: startup, dispatch under the
// configured policy, and shutdown.
func (s *Scheduler) Run() error {
	if err := s.startup(); err != nil {
		return err
	}
	var err error
	if s.cfg.Policy.Preemptive() {
		err = s.runPreemptive()
	} else {
		s.runNonPreemptive()
	}
	s.shutdown()
	return err
}

func (s *Scheduler) nowSeconds() float64 {
	return float64(s.clock.NowMicros()) / 1e6
}

func ioLabel(cat opcode.Category) string {
	if cat == opcode.CategoryInput {
		return "input"
	}
	return "output"
}

// startup admits one PCB per A(start)/A(end) pair found in the program, in
// file order, then bulk-transitions every PCB New -> Ready.
func (s *Scheduler) startup() error {
	s.log.OS("System Start")

	s.log.OS("Create Process Control Blocks")
	for _, start := range s.prog.StartCursors() {
		end := s.prog.EndOf(start)
		if end < 0 {
			return fmt.Errorf("PCB initialization error: A(start) at op-code %d has no matching A(end)", start)
		}
		remaining := s.prog.RemainingMillis(start, end, s.cfg.ProcCycleMS, s.cfg.IOCycleMS)
		s.pcbs.Admit(start, end, remaining)
	}
	s.log.OS("All processes initialized in New state")

	s.pcbs.SetAll(pcb.Ready)
	s.log.OS("All processes now set in Ready state")
	return nil
}

// shutdown performs a final defensive sort, drops every pending interrupt
// and MMU entry, and logs the two terminal OS events.
func (s *Scheduler) shutdown() {
	s.pcbs.Sort(s.cfg.Policy)
	s.intq.Clear()
	s.mmu.ClearAll()
	s.log.OS("System stop")
	s.log.OS("End Simulation - Complete")
}

// runNonPreemptive implements FCFS-N and SJF-N: resort, pick the head Ready
// PCB, and run it synchronously to its A(end) or a segmentation fault
// before considering any other process.
func (s *Scheduler) runNonPreemptive() {
	for {
		s.pcbs.Sort(s.cfg.Policy)
		p, ok := s.pcbs.NextWith(pcb.Ready)
		if !ok {
			return
		}
		p.State = pcb.Running
		s.log.Process(p.PID, fmt.Sprintf("selected with %d ms remaining", p.TimeRemainingMS))
		s.runToExit(p)
	}
}

// runToExit executes every op-code from p.Cursor to the next A(end),
// without yielding the CPU, the defining behavior of non-preemptive
// dispatch.
func (s *Scheduler) runToExit(p *pcb.PCB) {
	for {
		op, ok := s.prog.At(p.Cursor)
		if !ok {
			p.State = pcb.Exit
			break
		}
		switch {
		case op.Category == opcode.CategoryProc && op.Name == "end":
			p.State = pcb.Exit

		case op.Category == opcode.CategoryProc2:
			s.log.Process(p.PID, "run operation start")
			s.clock.Advance(int64(op.Value) * int64(s.cfg.ProcCycleMS) * 1000)
			p.TimeRemainingMS -= op.Value * s.cfg.ProcCycleMS
			s.log.Process(p.PID, "run operation end")
			p.Cursor++
			continue

		case op.IsBlockingIO():
			label := ioLabel(op.Category)
			s.log.Process(p.PID, fmt.Sprintf("%s %s start", op.Name, label))
			ms := op.Value * s.cfg.IOCycleMS
			s.clock.Advance(int64(ms) * 1000)
			p.TimeRemainingMS -= ms
			s.log.Process(p.PID, fmt.Sprintf("%s %s end", op.Name, label))
			p.Cursor++
			continue

		case op.Category == opcode.CategoryMemory:
			seg, base, offset := op.MemArgs()
			var res mmu.Result
			if op.Name == "allocate" {
				res = s.mmu.Allocate(p.PID, seg, base, offset)
			} else {
				res = s.mmu.Access(p.PID, seg, base, offset)
			}
			if res == mmu.Fail {
				s.log.Process(p.PID, fmt.Sprintf("segmentation fault - %s failed on segment %d base %d offset %d", op.Name, seg, base, offset))
				p.State = pcb.Exit
				break
			}
			p.Cursor++
			continue

		default:
			p.Cursor++
			continue
		}
		break
	}

	// Any EXIT, whether via A(end), a run off the end of the program, or a
	// segmentation fault, restores the MMU to its configured capacity
	// under non-preemptive dispatch.
	s.mmu.ClearAll()
	s.log.Process(p.PID, "ended and set in EXIT state")
}

// runPreemptive implements SRTF-P, FCFS-P, and RR-P: an outer loop that
// idles until some PCB is Ready, selects one per policy, and runs it cycle
// by cycle so a pending interrupt or (for RR-P) an exhausted quantum can
// return it to Ready instead of letting it run to completion.
func (s *Scheduler) runPreemptive() error {
	quantumBound := s.cfg.Policy == config.RoundRobin

	for !s.pcbs.AllEnded() {
		if !s.pcbs.AnyReady() {
			if err := s.idleWaitForReady(); err != nil {
				return err
			}
			if s.pcbs.AllEnded() {
				break
			}
		}

		s.pcbs.Sort(s.cfg.Policy)
		p, ok := s.pcbs.NextWith(pcb.Ready)
		if !ok {
			continue
		}
		p.State = pcb.Running
		s.log.Process(p.PID, fmt.Sprintf("selected with %d ms remaining", p.TimeRemainingMS))

		quantum := s.cfg.QuantumCycles

	dispatch:
		for (!quantumBound || quantum > 0) && p.TimeRemainingMS > 0 {
			op, ok := s.prog.At(p.Cursor)
			if !ok {
				p.State = pcb.Exit
				break dispatch
			}

			switch {
			case op.IsBlockingIO():
				label := ioLabel(op.Category)
				s.log.Process(p.PID, fmt.Sprintf("%s %s start", op.Name, label))
				ms := op.Value * s.cfg.IOCycleMS
				p.TimeRemainingMS -= ms
				ending := s.nowSeconds() + float64(ms)*0.001
				// opType is always posted as "input", even for an O op;
				// output completions are reported through the same
				// actor-line shape as input ones.
				s.intq.Add(p.PID, "input", op.Name, ending)
				p.Cursor++
				p.State = pcb.Blocked
				break dispatch

			case op.Category == opcode.CategoryProc2:
				if p.ResidualCycles < 0 {
					p.ResidualCycles = op.Value
					if op.Value == 0 {
						p.Cursor++
						p.ResidualCycles = -1
						continue dispatch
					}
					s.log.Process(p.PID, "run operation start")
				}
				s.clock.Advance(int64(s.cfg.ProcCycleMS) * 1000)
				p.ResidualCycles--
				p.TimeRemainingMS -= s.cfg.ProcCycleMS
				if quantumBound {
					quantum--
				}
				if p.ResidualCycles == 0 {
					p.Cursor++
					p.ResidualCycles = -1
					break dispatch
				}
				if s.intq.PeekReady(s.nowSeconds()) {
					break dispatch
				}

			case op.Category == opcode.CategoryMemory:
				seg, base, offset := op.MemArgs()
				var res mmu.Result
				if op.Name == "allocate" {
					res = s.mmu.Allocate(p.PID, seg, base, offset)
				} else {
					res = s.mmu.Access(p.PID, seg, base, offset)
				}
				if res == mmu.Fail {
					s.log.Process(p.PID, fmt.Sprintf("segmentation fault - %s failed on segment %d base %d offset %d", op.Name, seg, base, offset))
					p.State = pcb.Exit
					break dispatch
				}
				p.Cursor++

			case op.Category == opcode.CategoryProc && op.Name == "end":
				p.State = pcb.Exit
				break dispatch

			default:
				p.Cursor++
			}
		}

		s.settle(p)
	}
	return nil
}

// settle handles the post-dispatch transition for a PCB that just returned
// from the inner cycle-stepping loop.
func (s *Scheduler) settle(p *pcb.PCB) {
	switch {
	case p.State == pcb.Blocked:
		s.log.Process(p.PID, "set in BLOCKED state")

	case p.State == pcb.Exit || p.TimeRemainingMS <= 0:
		p.State = pcb.Exit
		s.log.Process(p.PID, "ended and set in EXIT state")

	default:
		for s.intq.PeekReady(s.nowSeconds()) {
			if p.State == pcb.Running {
				p.State = pcb.Ready
				s.log.Process(p.PID, "preempted, set in READY state")
				s.rotateIfRoundRobin(p.PID)
			}
			s.drainOneInterrupt()
		}
		if p.State == pcb.Running {
			s.log.Process(p.PID, "operation end")
			p.State = pcb.Ready
			s.log.Process(p.PID, "set in READY state")
			s.rotateIfRoundRobin(p.PID)
		}
	}
}

// rotateIfRoundRobin sends pid to the tail of the PCB queue's iteration
// order under RR-P, so the next sort+select passes over it in favor of a
// sibling that has been waiting longer. FCFS-P and SRTF-P never rotate —
// their sort order is a pure function of admission order or remaining
// time, not turn-taking.
func (s *Scheduler) rotateIfRoundRobin(pid int) {
	if s.cfg.Policy == config.RoundRobin {
		s.pcbs.RotateToTail(pid)
	}
}

// idleWaitForReady blocks the outer dispatch loop until some PCB becomes
// Ready, draining pending interrupts as they mature. On a deterministic
// clock there is nothing to busy-wait on, so time is advanced directly to
// the next interrupt's completion instead.
func (s *Scheduler) idleWaitForReady() error {
	for !s.pcbs.AnyReady() {
		if s.pcbs.AllEnded() {
			return nil
		}
		if s.intq.Len() == 0 {
			return fmt.Errorf("scheduler deadlock: no ready process and no pending interrupt")
		}
		if !s.intq.PeekReady(s.nowSeconds()) {
			if t, ok := s.intq.NextEndingTime(); ok {
				if delta := t - s.nowSeconds(); delta > 0 {
					s.clock.Advance(int64(delta * 1e6))
				}
			}
		}
		s.drainOneInterrupt()
	}
	return nil
}

// drainOneInterrupt pops the head interrupt, logs its delivery, and
// transitions its owning PCB from Blocked back to Ready.
func (s *Scheduler) drainOneInterrupt() {
	rec := s.intq.Pop()
	s.log.OS(fmt.Sprintf("Interrupt called by process %d", rec.PID))
	s.log.Process(rec.PID, fmt.Sprintf("%s %s end", rec.OpName, rec.OpType))
	if sib := s.pcbs.ByPID(rec.PID); sib != nil && sib.State == pcb.Blocked {
		sib.State = pcb.Ready
		s.log.Process(rec.PID, "set in READY state")
	}
}
