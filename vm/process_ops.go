// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"golang.org/x/crypto/sha3"

	"github.com/probeum/blockrt/value"
)

// dispatchProcess handles the process-oriented opcodes (SPAWN, SEND,
// RECEIVE, SELF, LINK/UNLINK, MONITOR/DEMONITOR) plus the one
// capability-gated native primitive, SHA3. Every one of these consults the
// Host, keeping this package free of any dependency on block/scheduler
// (§4.5).
func (vm *VM) dispatchProcess(op Op) (Status, error, bool) {
	switch op {
	case OpSelf:
		vm.pushValue(value.Pid(vm.host.Self()))
		return vm.withOK(vm.tick(costTrivial))

	case OpSpawn:
		funcIdx := vm.readU16()
		argsVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "SPAWN", err))
		}
		if f := vm.checkCap(CapSpawn, "SPAWN"); f != nil {
			return vm.withOK(StatusFault, f)
		}
		var args []value.Value
		if argsVal.IsArray() {
			args = argsVal.AsArray().Elems
		}
		pid, ok := vm.host.Spawn(uint32(funcIdx), args)
		if !ok {
			pid = 0 // PID 0 is the spec's PID_INVALID; spawn failure is not a fault
		}
		vm.pushValue(value.Pid(pid))
		return vm.withOK(vm.tick(costProcess))

	case OpSend:
		// popPair returns (deeper, top): the target pid is pushed before the
		// payload expression.
		toVal, payload, err := vm.popPair()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "SEND", err))
		}
		if !toVal.IsPid() {
			return vm.withOK(vm.raise(ErrKindType, "SEND", value.ErrType))
		}
		if f := vm.checkCap(CapSend, "SEND"); f != nil {
			return vm.withOK(StatusFault, f)
		}
		// A message crossing a mailbox boundary is always deep-copied rather
		// than sharing the sender's container (§4.1): the receiver must never
		// observe a later in-place mutation the sender makes to its own copy.
		if err := vm.host.Send(toVal.AsPid(), value.DeepCopy(payload)); err != nil {
			return vm.withOK(vm.raise(ErrKindMailbox, "SEND", err))
		}
		vm.pushValue(payload)
		return vm.withOK(vm.tick(costProcess))

	case OpReceive:
		if f := vm.checkCap(CapReceive, "RECEIVE"); f != nil {
			return vm.withOK(StatusFault, f)
		}
		v, ok := vm.host.TryReceive()
		if !ok {
			vm.rewindOp()
			return vm.withOK(StatusWaiting, nil)
		}
		vm.pushValue(v)
		return vm.withOK(vm.tick(costProcess))

	case OpReceiveTimeout:
		timeoutVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "RECEIVE_TIMEOUT", err))
		}
		if !timeoutVal.IsInt() {
			return vm.withOK(vm.raise(ErrKindType, "RECEIVE_TIMEOUT", value.ErrType))
		}
		if f := vm.checkCap(CapReceive, "RECEIVE_TIMEOUT"); f != nil {
			return vm.withOK(StatusFault, f)
		}
		v, ok := vm.host.TryReceive()
		if !ok {
			// Push the timeout value back so a retried dispatch of this same
			// instruction (after rewindOp) finds it on the stack again.
			vm.pushValue(timeoutVal)
			vm.rewindOp()
			vm.host.ArmReceiveTimeout(timeoutVal.AsInt())
			return vm.withOK(StatusWaiting, nil)
		}
		vm.pushValue(v)
		return vm.withOK(vm.tick(costProcess))

	case OpLink:
		otherVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "LINK", err))
		}
		if !otherVal.IsPid() {
			return vm.withOK(vm.raise(ErrKindType, "LINK", value.ErrType))
		}
		vm.host.Link(otherVal.AsPid())
		return vm.withOK(vm.tick(costProcess))

	case OpUnlink:
		otherVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "UNLINK", err))
		}
		if !otherVal.IsPid() {
			return vm.withOK(vm.raise(ErrKindType, "UNLINK", value.ErrType))
		}
		vm.host.Unlink(otherVal.AsPid())
		return vm.withOK(vm.tick(costProcess))

	case OpMonitor:
		otherVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "MONITOR", err))
		}
		if !otherVal.IsPid() {
			return vm.withOK(vm.raise(ErrKindType, "MONITOR", value.ErrType))
		}
		if f := vm.checkCap(CapMonitor, "MONITOR"); f != nil {
			return vm.withOK(StatusFault, f)
		}
		ref := vm.host.Monitor(otherVal.AsPid())
		vm.pushValue(value.NewString(ref))
		return vm.withOK(vm.tick(costProcess))

	case OpDemonitor:
		refVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "DEMONITOR", err))
		}
		if !refVal.IsString() {
			return vm.withOK(vm.raise(ErrKindType, "DEMONITOR", value.ErrType))
		}
		vm.host.Demonitor(refVal.AsString())
		return vm.withOK(vm.tick(costProcess))

	case OpSHA3:
		if f := vm.checkCap(CapUnsafePrimitives, "SHA3"); f != nil {
			return vm.withOK(StatusFault, f)
		}
		v, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "SHA3", err))
		}
		if !v.IsBytes() {
			return vm.withOK(vm.raise(ErrKindType, "SHA3", value.ErrType))
		}
		digest := sha3.Sum256(v.AsBytes())
		vm.pushValue(value.NewBytes(digest[:]))
		return vm.withOK(vm.tick(costCrypto))

	default:
		return 0, nil, false
	}
}

// checkCap returns a Fault if the executing block lacks cap, nil otherwise.
func (vm *VM) checkCap(cap Capability, opName string) *Fault {
	if vm.host == nil || vm.host.HasCapability(cap) {
		return nil
	}
	return fault(ErrKindCapability, opName, ErrMissingCapability)
}
