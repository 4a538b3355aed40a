// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

//go:build deadlock

// Package lock re-exports the mutex types registry and mailbox build on, so
// a single build tag swaps every shard/table/group lock in the runtime over
// to a cycle-detecting implementation without touching call sites. Build
// with `-tags deadlock` in development or test to catch lock-ordering bugs
// between shard locks and per-group locks before they ship (§2).
package lock

import "github.com/sasha-s/go-deadlock"

type Mutex = deadlock.Mutex
type RWMutex = deadlock.RWMutex
