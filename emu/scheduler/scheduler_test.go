package scheduler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nhanderson/ossim/config"
	"github.com/nhanderson/ossim/emu/opcode"
	"github.com/nhanderson/ossim/emu/pcb"
	"github.com/nhanderson/ossim/emu/timer"
	"github.com/nhanderson/ossim/util/logger"
)

func newTestScheduler(t *testing.T, cfg *config.Config, program string) (*Scheduler, func() string) {
	t.Helper()
	prog, err := opcode.Parse(strings.NewReader(program))
	if err != nil {
		t.Fatalf("opcode.Parse() error = %v", err)
	}
	cfg.LogTo = config.LogFile
	cfg.LogFilePath = filepath.Join(t.TempDir(), "run.log")
	clock := timer.NewDeterministicClock()
	sink, err := logger.NewSink(cfg, clock)
	if err != nil {
		t.Fatalf("logger.NewSink() error = %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	return New(cfg, prog, clock, sink), func() string {
		contents, err := os.ReadFile(cfg.LogFilePath)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		return string(contents)
	}
}

func TestFCFSNonPreemptiveSingleProcessRunsToExit(t *testing.T) {
	cfg := &config.Config{
		Policy:      config.FCFSNonPreemptive,
		MemoryKB:    100,
		ProcCycleMS: 10,
		IOCycleMS:   10,
	}
	program := "Start Program Meta-Data Code:\nS(start)0;A(start)0;P(run)3;A(end)0;S(end)0;\nEnd Program Meta-Data Code."

	sched, readLog := newTestScheduler(t, cfg, program)
	if err := sched.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	log := readLog()
	if !strings.Contains(log, "Process: 0: selected with 30 ms remaining") {
		t.Fatalf("log missing selection line:\n%s", log)
	}
	if !strings.Contains(log, "Process: 0: ended and set in EXIT state") {
		t.Fatalf("log missing exit line:\n%s", log)
	}
}

func TestSJFNonPreemptiveSelectsShorterProcessFirst(t *testing.T) {
	cfg := &config.Config{
		Policy:      config.SJFNonPreemptive,
		MemoryKB:    100,
		ProcCycleMS: 10,
		IOCycleMS:   10,
	}
	program := "Start Program Meta-Data Code:\n" +
		"S(start)0;" +
		"A(start)0;P(run)10;A(end)0;" +
		"A(start)1;P(run)3;A(end)1;" +
		"S(end)0;\n" +
		"End Program Meta-Data Code."

	sched, readLog := newTestScheduler(t, cfg, program)
	if err := sched.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	log := readLog()
	idx1 := strings.Index(log, "Process: 1: selected")
	idx0 := strings.Index(log, "Process: 0: selected")
	if idx1 < 0 || idx0 < 0 {
		t.Fatalf("log missing selection lines:\n%s", log)
	}
	if idx1 > idx0 {
		t.Fatalf("expected shorter PID 1 (30ms) selected before PID 0 (100ms):\n%s", log)
	}
}

func TestMMUAllocateFailureTerminatesOnlyThatProcess(t *testing.T) {
	cfg := &config.Config{
		Policy:      config.FCFSNonPreemptive,
		MemoryKB:    50,
		ProcCycleMS: 10,
		IOCycleMS:   10,
	}
	// base=0, offset=60: exceeds the 50 KB configured capacity immediately.
	program := "Start Program Meta-Data Code:\n" +
		"S(start)0;A(start)0;M(allocate)60;P(run)1;A(end)0;S(end)0;\n" +
		"End Program Meta-Data Code."

	sched, readLog := newTestScheduler(t, cfg, program)
	if err := sched.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	log := readLog()
	if !strings.Contains(log, "segmentation fault") {
		t.Fatalf("log missing segmentation fault line:\n%s", log)
	}
	if !strings.Contains(log, "Process: 0: ended and set in EXIT state") {
		t.Fatalf("log missing exit line after segfault:\n%s", log)
	}
	if strings.Contains(log, "run operation start") {
		t.Fatalf("P(run) after the segfaulting op should never execute:\n%s", log)
	}
}

func TestMMUAccessBeyondAllocatedLengthFails(t *testing.T) {
	cfg := &config.Config{
		Policy:      config.FCFSNonPreemptive,
		MemoryKB:    1000,
		ProcCycleMS: 10,
		IOCycleMS:   10,
	}
	// seg=0 base=1 offset=500 allocated; access at 500 succeeds, access at
	// 600 (beyond the allocated length) fails.
	program := "Start Program Meta-Data Code:\n" +
		"S(start)0;A(start)0;M(allocate)1500;M(access)1500;M(access)1600;P(run)1;A(end)0;S(end)0;\n" +
		"End Program Meta-Data Code."

	sched, readLog := newTestScheduler(t, cfg, program)
	if err := sched.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	log := readLog()
	if strings.Count(log, "segmentation fault") != 1 {
		t.Fatalf("expected exactly one segmentation fault line:\n%s", log)
	}
	if strings.Contains(log, "run operation start") {
		t.Fatalf("P(run) after the segfaulting access should never execute:\n%s", log)
	}
}

func TestRoundRobinInterleavesEqualProcessesInAdmissionOrder(t *testing.T) {
	cfg := &config.Config{
		Policy:        config.RoundRobin,
		QuantumCycles: 2,
		MemoryKB:      100,
		ProcCycleMS:   10,
		IOCycleMS:     10,
	}
	program := "Start Program Meta-Data Code:\n" +
		"S(start)0;" +
		"A(start)0;P(run)5;A(end)0;" +
		"A(start)1;P(run)5;A(end)1;" +
		"S(end)0;\n" +
		"End Program Meta-Data Code."

	sched, readLog := newTestScheduler(t, cfg, program)
	if err := sched.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	log := readLog()
	selections := []string{}
	for _, line := range strings.Split(log, "\n") {
		if strings.Contains(line, "selected with") {
			switch {
			case strings.Contains(line, "Process: 0:"):
				selections = append(selections, "0")
			case strings.Contains(line, "Process: 1:"):
				selections = append(selections, "1")
			}
		}
	}
	if len(selections) != 6 {
		t.Fatalf("expected 6 dispatch slices (3 each for quantum=2 over 5 cycles), got %d: %v", len(selections), selections)
	}
	want := []string{"0", "1", "0", "1", "0", "1"}
	for i := range want {
		if selections[i] != want[i] {
			t.Fatalf("selection order = %v, want alternating starting with 0", selections)
		}
	}
	if !strings.Contains(log, "Process: 0: ended and set in EXIT state") {
		t.Fatalf("PID 0 never exited:\n%s", log)
	}
	if !strings.Contains(log, "Process: 1: ended and set in EXIT state") {
		t.Fatalf("PID 1 never exited:\n%s", log)
	}
}

func TestSRTFPreemptionPrefersShorterRemainingAmongReady(t *testing.T) {
	cfg := &config.Config{
		Policy:      config.SRTFPreemptive,
		MemoryKB:    100,
		ProcCycleMS: 10,
		IOCycleMS:   10,
	}
	program := "Start Program Meta-Data Code:\n" +
		"S(start)0;" +
		"A(start)0;P(run)10;A(end)0;" +
		"A(start)1;P(run)3;A(end)1;" +
		"S(end)0;\n" +
		"End Program Meta-Data Code."

	sched, readLog := newTestScheduler(t, cfg, program)
	if err := sched.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	log := readLog()
	idx1 := strings.Index(log, "Process: 1: selected")
	idx0 := strings.Index(log, "Process: 0: selected")
	if idx1 < 0 || idx0 < 0 {
		t.Fatalf("log missing selection lines:\n%s", log)
	}
	if idx1 > idx0 {
		t.Fatalf("expected shorter PID 1 selected before longer PID 0:\n%s", log)
	}
}

func TestAllEndedTerminatesPreemptiveOuterLoop(t *testing.T) {
	cfg := &config.Config{
		Policy:        config.RoundRobin,
		QuantumCycles: 1,
		MemoryKB:      100,
		ProcCycleMS:   5,
		IOCycleMS:     5,
	}
	program := "Start Program Meta-Data Code:\n" +
		"S(start)0;A(start)0;P(run)1;A(end)0;S(end)0;\n" +
		"End Program Meta-Data Code."

	sched, readLog := newTestScheduler(t, cfg, program)
	if err := sched.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !sched.pcbs.AllEnded() {
		t.Fatal("expected every PCB to have reached EXIT")
	}
	log := readLog()
	if !strings.Contains(log, "End Simulation - Complete") {
		t.Fatalf("log missing shutdown line:\n%s", log)
	}
}

func TestIdleWaitDrainsInterruptOnDeterministicClock(t *testing.T) {
	cfg := &config.Config{
		Policy:      config.FCFSPreemptive,
		MemoryKB:    100,
		ProcCycleMS: 10,
		IOCycleMS:   10,
	}
	// PID 0 blocks on I/O immediately; the only way PID 0 becomes ready
	// again is the idle-wait path advancing the deterministic clock to
	// the interrupt's completion time.
	program := "Start Program Meta-Data Code:\n" +
		"S(start)0;A(start)0;I(keyboard)2;P(run)1;A(end)0;S(end)0;\n" +
		"End Program Meta-Data Code."

	sched, readLog := newTestScheduler(t, cfg, program)
	if err := sched.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	log := readLog()
	if !strings.Contains(log, "set in BLOCKED state") {
		t.Fatalf("log missing BLOCKED transition:\n%s", log)
	}
	if !strings.Contains(log, "keyboard input end") {
		t.Fatalf("log missing I/O completion line:\n%s", log)
	}
	if got := sched.pcbs.ByPID(0).State; got != pcb.Exit {
		t.Fatalf("PID 0 state = %v, want Exit", got)
	}
}
