// Package config parses the simulator's configuration file, a
// colon-delimited key/value format bracketed by header and footer lines.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Policy is the CPU scheduling policy selected by the configuration.
type Policy string

const (
	FCFSNonPreemptive Policy = "FCFS-N"
	SJFNonPreemptive  Policy = "SJF-N"
	SRTFPreemptive    Policy = "SRTF-P"
	FCFSPreemptive    Policy = "FCFS-P"
	RoundRobin        Policy = "RR-P"
)

// Preemptive reports whether p is one of the three preemptive policies.
func (p Policy) Preemptive() bool {
	switch p {
	case SRTFPreemptive, FCFSPreemptive, RoundRobin:
		return true
	}
	return false
}

func (p Policy) valid() bool {
	switch p {
	case FCFSNonPreemptive, SJFNonPreemptive, SRTFPreemptive, FCFSPreemptive, RoundRobin:
		return true
	}
	return false
}

// LogDestination is where the OS-actor log stream is written.
type LogDestination string

const (
	LogMonitor LogDestination = "monitor"
	LogFile    LogDestination = "file"
	LogBoth    LogDestination = "both"
)

// Config is the immutable configuration record for one simulation run.
type Config struct {
	Version          float64
	OpCodeFilePath   string
	Policy           Policy
	QuantumCycles    int
	MemoryKB         int
	ProcCycleMS      int
	IOCycleMS        int
	LogTo            LogDestination
	LogFilePath      string
}

const (
	headerLine = "Start Simulator Configuration File:"
	footerLine = "End Simulator Configuration File."
)

// Load reads and validates a configuration file from r against the
// simulator's key table and value domains. All keys are required; order
// is free.
func Load(r io.Reader) (*Config, error) {
	scanner := bufio.NewScanner(r)

	if !scanner.Scan() {
		return nil, errors.New("config file access error: empty file")
	}
	if strings.TrimSpace(scanner.Text()) != headerLine {
		return nil, errors.New("corrupt descriptor error: missing configuration header")
	}

	raw := map[string]string{}
	footerSeen := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == footerLine {
			footerSeen = true
			break
		}
		key, value, err := splitKeyValue(line)
		if err != nil {
			return nil, errors.Wrap(err, "corrupt prompt error")
		}
		raw[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "config file access error")
	}
	if !footerSeen {
		return nil, errors.New("incomplete file error: missing configuration footer")
	}

	cfg := &Config{}
	var err error

	if cfg.Version, err = parseFloat(raw, "Version/Phase", 0.00, 10.00); err != nil {
		return nil, err
	}
	if cfg.OpCodeFilePath, err = parseNonEmptyString(raw, "File Path"); err != nil {
		return nil, err
	}
	if cfg.Policy, err = parsePolicy(raw); err != nil {
		return nil, err
	}
	if cfg.QuantumCycles, err = parseInt(raw, "Quantum Time (cycles)", 0, 100); err != nil {
		return nil, err
	}
	if cfg.MemoryKB, err = parseInt(raw, "Memory Available (KB)", 0, 102400); err != nil {
		return nil, err
	}
	if cfg.ProcCycleMS, err = parseInt(raw, "Processor Cycle Time (msec)", 1, 1000); err != nil {
		return nil, err
	}
	if cfg.IOCycleMS, err = parseInt(raw, "I/O Cycle Time (msec)", 1, 10000); err != nil {
		return nil, err
	}
	if cfg.LogTo, err = parseLogTo(raw); err != nil {
		return nil, err
	}
	if cfg.LogTo != LogMonitor {
		if cfg.LogFilePath, err = parseNonEmptyString(raw, "Log File Path"); err != nil {
			return nil, err
		}
	}
	if cfg.Policy == RoundRobin && cfg.QuantumCycles < 1 {
		return nil, errors.New("out of range error: Quantum Time (cycles) must be >= 1 for RR-P")
	}

	return cfg, nil
}

func splitKeyValue(line string) (key, value string, err error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("line has no ':' separator: %q", line)
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	if key == "" {
		return "", "", fmt.Errorf("empty key in line: %q", line)
	}
	return key, value, nil
}

func require(raw map[string]string, key string) (string, error) {
	v, ok := raw[key]
	if !ok {
		return "", fmt.Errorf("incomplete file error: missing required key %q", key)
	}
	return v, nil
}

func parseNonEmptyString(raw map[string]string, key string) (string, error) {
	v, err := require(raw, key)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("out of range error: %q must not be empty", key)
	}
	return v, nil
}

func parseFloat(raw map[string]string, key string, lo, hi float64) (float64, error) {
	v, err := require(raw, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt prompt error: %q value %q is not a number", key, v)
	}
	if f < lo || f > hi {
		return 0, fmt.Errorf("out of range error: %q value %v outside [%v,%v]", key, f, lo, hi)
	}
	return f, nil
}

func parseInt(raw map[string]string, key string, lo, hi int) (int, error) {
	v, err := require(raw, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("corrupt prompt error: %q value %q is not an integer", key, v)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("out of range error: %q value %d outside [%d,%d]", key, n, lo, hi)
	}
	return n, nil
}

func parsePolicy(raw map[string]string) (Policy, error) {
	v, err := require(raw, "CPU Scheduling Code")
	if err != nil {
		return "", err
	}
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "NONE" {
		v = string(FCFSNonPreemptive)
	}
	p := Policy(v)
	if !p.valid() {
		return "", fmt.Errorf("corrupt prompt error: unknown CPU Scheduling Code %q", v)
	}
	return p, nil
}

func parseLogTo(raw map[string]string) (LogDestination, error) {
	v, err := require(raw, "Log To")
	if err != nil {
		return "", err
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "monitor":
		return LogMonitor, nil
	case "file":
		return LogFile, nil
	case "both":
		return LogBoth, nil
	default:
		return "", fmt.Errorf("corrupt prompt error: unknown Log To value %q", v)
	}
}
