package main

import (
	"fmt"
	"os"

	getopt "github.com/pborman/getopt/v2"
	"github.com/pkg/errors"

	"github.com/nhanderson/ossim/config"
	"github.com/nhanderson/ossim/emu/opcode"
	"github.com/nhanderson/ossim/emu/scheduler"
	"github.com/nhanderson/ossim/emu/timer"
	"github.com/nhanderson/ossim/util/logger"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Configuration file")
	optDeterministic := getopt.BoolLong("deterministic", 'd', "Use a deterministic simulated clock instead of wall time")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	args := getopt.Args()
	if *optConfig == "" && len(args) > 0 {
		*optConfig = args[0]
	}
	if *optConfig == "" {
		fatal(errors.New("a configuration file is required"))
	}

	if err := run(*optConfig, *optDeterministic); err != nil {
		fatal(err)
	}
}

func run(configPath string, deterministic bool) error {
	if _, err := os.Stat(configPath); err != nil {
		return errors.Wrap(err, "configuration file access error")
	}

	cfgFile, err := os.Open(configPath)
	if err != nil {
		return errors.Wrap(err, "configuration file access error")
	}
	defer cfgFile.Close()

	fmt.Println("Uploading Configuration Files")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.OpCodeFilePath); err != nil {
		return errors.Wrap(err, "op-code file access error")
	}
	opFile, err := os.Open(cfg.OpCodeFilePath)
	if err != nil {
		return errors.Wrap(err, "op-code file access error")
	}
	defer opFile.Close()

	fmt.Println("Uploading Meta Data Files")
	prog, err := opcode.Parse(opFile)
	if err != nil {
		return err
	}

	var clock timer.Clock
	if deterministic {
		clock = timer.NewDeterministicClock()
	} else {
		clock = timer.NewWallClock()
	}

	sink, err := logger.NewSink(cfg, clock)
	if err != nil {
		return err
	}
	defer sink.Close()

	sched := scheduler.New(cfg, prog, clock, sink)
	return sched.Run()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "FATAL ERROR: %s, Program aborted\n", err)
	os.Exit(1)
}
