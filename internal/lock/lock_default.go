// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

//go:build !deadlock

// Package lock re-exports the mutex types registry and mailbox build on, so
// a single build tag swaps every shard/table/group lock in the runtime over
// to a cycle-detecting implementation without touching call sites. This is
// the production build's variant: plain, zero-overhead stdlib mutexes.
package lock

import "sync"

type Mutex = sync.Mutex
type RWMutex = sync.RWMutex
