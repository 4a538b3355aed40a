// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Command blockrun is a thin example embedder: it loads a serialized
// Bytecode file, spawns it as the first block, and drives the scheduler with
// Run: synchronously to completion with the default -workers 0; with worker
// goroutines Run only returns once the scheduler is stopped, which this
// command never does. It exists to exercise the public API end to
// end, not as a production launcher — an embedder wanting CLI/config
// loading builds its own, per SPEC_FULL.md §1.3 ("no flag parsing ... in
// the core").
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/probeum/blockrt/block"
	"github.com/probeum/blockrt/bytecode"
	"github.com/probeum/blockrt/rtlog"
	"github.com/probeum/blockrt/scheduler"
	"github.com/probeum/blockrt/vm"
)

func main() {
	var (
		codePath   = flag.String("code", "", "path to a serialized bytecode file")
		numWorkers = flag.Int("workers", 0, "scheduler worker count (0 = synchronous single-threaded mode)")
		steal      = flag.Bool("steal", true, "enable work-stealing across workers")
		quantum    = flag.Uint64("quantum", 4000, "reduction quantum per dispatch")
		caps       = flag.Uint("caps", uint(vm.CapSpawn|vm.CapSend|vm.CapReceive), "capability bitmask granted to the root block")
	)
	flag.Parse()

	if *codePath == "" {
		fmt.Fprintln(os.Stderr, "usage: blockrun -code <path>")
		os.Exit(2)
	}

	log := rtlog.New(os.Stderr, rtlog.LvlInfo)

	data, err := os.ReadFile(*codePath)
	if err != nil {
		log.Crit("failed to read bytecode file", "path", *codePath, "err", err)
		os.Exit(1)
	}
	code, err := bytecode.Deserialize(data)
	if err != nil {
		log.Crit("failed to deserialize bytecode", "err", err)
		os.Exit(1)
	}

	cfg := scheduler.DefaultConfig()
	cfg.NumWorkers = *numWorkers
	cfg.EnableStealing = *steal
	cfg.DefaultReductions = *quantum

	sched := scheduler.New(cfg, log)

	limits := block.DefaultLimits()
	limits.ReductionQuantum = *quantum
	root, err := sched.Spawn(code, vm.Capability(*caps), limits)
	if err != nil {
		log.Crit("failed to spawn root block", "err", err)
		os.Exit(1)
	}
	log.Info("spawned root block", "pid", root.PID())

	if err := sched.Run(context.Background()); err != nil {
		log.Crit("scheduler exited with error", "err", err)
		os.Exit(1)
	}
}
