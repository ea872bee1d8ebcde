// Package logger is the simulator's log sink: a log/slog handler wrapping
// an io.Writer behind a mutex, generalized to the three log destinations
// (monitor, file, both) and emitting the exact " HH:MM:SS.microseconds,
// <actor>: <event>" line shape instead of slog's stock text encoding.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/nhanderson/ossim/config"
	"github.com/nhanderson/ossim/emu/timer"
)

const (
	actorKey   = "actor"
	elapsedKey = "elapsedMicros"
)

// handler implements slog.Handler, formatting every record as
// " HH:MM:SS.microseconds, <actor>: <event>\n".
type handler struct {
	mu       *sync.Mutex
	dest     config.LogDestination
	monitor  io.Writer
	file     io.Writer
	colorize bool
}

func newHandler(monitor, file io.Writer, dest config.LogDestination, colorize bool) *handler {
	return &handler{mu: &sync.Mutex{}, dest: dest, monitor: monitor, file: file, colorize: colorize}
}

func (h *handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	actor := ""
	var elapsedMicros int64
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case actorKey:
			actor = a.Value.String()
		case elapsedKey:
			elapsedMicros = a.Value.Int64()
		}
		return true
	})

	plain := formatLine(elapsedMicros, actor, r.Message)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dest == config.LogMonitor || h.dest == config.LogBoth {
		if _, err := io.WriteString(h.monitor, h.colorizeLine(plain, r.Message)); err != nil {
			return err
		}
	}
	if (h.dest == config.LogFile || h.dest == config.LogBoth) && h.file != nil {
		if _, err := io.WriteString(h.file, plain); err != nil {
			return err
		}
	}
	return nil
}

func (h *handler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *handler) WithGroup(string) slog.Handler      { return h }

// colorizeLine applies a muted ANSI palette to segmentation-fault lines
// when the monitor destination is an attached terminal; piped or
// file-backed monitor output is left plain.
func (h *handler) colorizeLine(plain, event string) string {
	if !h.colorize {
		return plain
	}
	const red = "\033[31m"
	const reset = "\033[0m"
	if strings.Contains(event, "segmentation fault") {
		return red + plain + reset
	}
	return plain
}

func formatLine(elapsedMicros int64, actor, event string) string {
	us := elapsedMicros % 1_000_000
	totalSec := elapsedMicros / 1_000_000
	s := totalSec % 60
	m := (totalSec / 60) % 60
	hh := totalSec / 3600
	return fmt.Sprintf(" %02d:%02d:%02d.%06d, %s: %s\n", hh, m, s, us, actor, event)
}

// Sink is the scheduler's handle on the log stream: every OS decision and
// process event, emitted through Clock so timestamps reflect simulated
// time, not wall-clock logging overhead.
type Sink struct {
	logger *slog.Logger
	clock  timer.Clock
	file   *os.File
}

// NewSink opens the configured log destination(s) and, when a file is in
// play, writes a configuration-echo header before any log line.
func NewSink(cfg *config.Config, clock timer.Clock) (*Sink, error) {
	var file *os.File
	if cfg.LogTo != config.LogMonitor {
		f, err := os.Create(cfg.LogFilePath)
		if err != nil {
			return nil, fmt.Errorf("log file access error: %w", err)
		}
		file = f
		writeHeader(f, cfg)
	}

	colorize := false
	if cfg.LogTo == config.LogMonitor || cfg.LogTo == config.LogBoth {
		colorize = term.IsTerminal(int(os.Stdout.Fd()))
	}

	h := newHandler(os.Stdout, file, cfg.LogTo, colorize)
	return &Sink{logger: slog.New(h), clock: clock, file: file}, nil
}

// OS logs an event attributed to the "OS" actor.
func (s *Sink) OS(event string) { s.log("OS", event) }

// Process logs an event attributed to "Process: N".
func (s *Sink) Process(pid int, event string) { s.log(fmt.Sprintf("Process: %d", pid), event) }

func (s *Sink) log(actor, event string) {
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, event,
		slog.String(actorKey, actor),
		slog.Int64(elapsedKey, s.clock.NowMicros()),
	)
}

// Close releases the log file, if one was opened.
func (s *Sink) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func writeHeader(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, "Simulator Log File Header")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Op-Code File                    : %s\n", cfg.OpCodeFilePath)
	fmt.Fprintf(w, "CPU Scheduling                   : %s\n", cfg.Policy)
	fmt.Fprintf(w, "Quantum Cycles                   : %d\n", cfg.QuantumCycles)
	fmt.Fprintf(w, "Memory Available (KB)            : %d\n", cfg.MemoryKB)
	fmt.Fprintf(w, "Processor Cycle Rate (ms/cycle)  : %d\n", cfg.ProcCycleMS)
	fmt.Fprintf(w, "I/O Cycle Rate (ms/cycle)        : %d\n", cfg.IOCycleMS)
	fmt.Fprintf(w, "Log To                          : %s\n\n", cfg.LogTo)
}
