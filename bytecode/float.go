// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import "math"

func floatBits(f float64) uint64   { return math.Float64bits(f) }
func bitsToFloat(b uint64) float64 { return math.Float64frombits(b) }
