// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package checkpoint implements CheckpointManager: serializing a block's
// externalizable state into a typed, length-tagged, bounds-checked byte
// buffer, and restoring a scaffold block from one (§4.11, §3 "Module
// registry" neighbor). Serialization follows the same magic+version+
// bounds-checked-reader idiom as bytecode.Serialize/Deserialize (§4.2, §6),
// since both are "untrusted bytes in, validated structure out" problems.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/probeum/blockrt/block"
	"github.com/probeum/blockrt/bytecode"
	"github.com/probeum/blockrt/value"
	"github.com/probeum/blockrt/vm"
)

const (
	// magic identifies a blockrt checkpoint buffer ("CKPT" read big-endian).
	magic uint32 = 0x434B5054

	version uint32 = 1

	// maxGlobals caps a checkpoint's declared global count, the same
	// hostile-input defense bytecode.Deserialize applies to its constant
	// pool (§6, P8).
	maxGlobals = 1 << 20
)

var (
	ErrBadMagic     = errors.New("checkpoint: bad magic")
	ErrNewerVersion = errors.New("checkpoint: unsupported (newer) version")
	ErrTruncated    = errors.New("checkpoint: truncated input")
	ErrTooManyGlobals = errors.New("checkpoint: global count exceeds limit")
	ErrBadValueTag  = errors.New("checkpoint: unrecognized value tag")
)

const (
	tagNil    = 0
	tagBool   = 1
	tagInt    = 2
	tagFloat  = 3
	tagString = 4
	tagOther  = 5 // a container/PID/etc. value that cannot round-trip scalar-only
)

// Snapshot is the externalizable slice of a Block's state this package
// knows how to serialize: its PID, parent, name, capability mask, counters,
// and globals map. A VM's value stack, call-frame stack, and open
// upvalues are not included — a restored block is a fresh scaffold
// re-entering its module's current Bytecode from the top, not a
// byte-for-byte resumption of an in-flight call (see DESIGN.md's
// Open-Question resolution).
type Snapshot struct {
	PID      uint64
	Parent   uint64
	Name     string
	Caps     uint32
	Reductions uint64
	MessagesSent uint64
	MessagesReceived uint64
	Globals  map[string]value.Value
}

// FromBlock captures b's current externalizable state.
func FromBlock(b *block.Block) Snapshot {
	counters := b.Counters()
	return Snapshot{
		PID:              b.PID(),
		Parent:           b.Parent(),
		Name:             b.Name(),
		Caps:             uint32(b.Capabilities()),
		Reductions:       counters.Reductions,
		MessagesSent:     counters.MessagesSent,
		MessagesReceived: counters.MessagesReceived,
		Globals:          b.Globals(),
	}
}

// Serialize encodes s into the checkpoint wire format. Non-scalar globals
// (arrays, maps, pids, closures, ...) are recorded with tagOther and an
// empty payload rather than failing the whole checkpoint — see Restore.
func (s Snapshot) Serialize() []byte {
	var buf bytes.Buffer
	var u32 [4]byte
	var u64 [8]byte

	putU32 := func(v uint32) { binary.BigEndian.PutUint32(u32[:], v); buf.Write(u32[:]) }
	putU64 := func(v uint64) { binary.BigEndian.PutUint64(u64[:], v); buf.Write(u64[:]) }
	putString := func(str string) { putU32(uint32(len(str))); buf.WriteString(str) }

	putU32(magic)
	putU32(version)
	putU64(s.PID)
	putU64(s.Parent)
	putString(s.Name)
	putU32(s.Caps)
	putU64(s.Reductions)
	putU64(s.MessagesSent)
	putU64(s.MessagesReceived)

	putU32(uint32(len(s.Globals)))
	for name, v := range s.Globals {
		putString(name)
		writeValue(&buf, v)
	}

	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v value.Value) {
	switch v.Kind() {
	case value.KindNil:
		buf.WriteByte(tagNil)
	case value.KindBool:
		buf.WriteByte(tagBool)
		if v.AsBool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case value.KindInt:
		buf.WriteByte(tagInt)
		var b8 [8]byte
		binary.BigEndian.PutUint64(b8[:], uint64(v.AsInt()))
		buf.Write(b8[:])
	case value.KindFloat:
		buf.WriteByte(tagFloat)
		var b8 [8]byte
		binary.BigEndian.PutUint64(b8[:], math.Float64bits(v.AsFloat()))
		buf.Write(b8[:])
	case value.KindString:
		buf.WriteByte(tagString)
		s := v.AsString()
		var u32 [4]byte
		binary.BigEndian.PutUint32(u32[:], uint32(len(s)))
		buf.Write(u32[:])
		buf.WriteString(s)
	default:
		buf.WriteByte(tagOther)
	}
}

// Restore decodes a Snapshot previously produced by Serialize, bounds-
// checking every length field (§6, P8).
func Restore(data []byte) (Snapshot, error) {
	r := &reader{buf: data}

	m, err := r.u32()
	if err != nil {
		return Snapshot{}, err
	}
	if m != magic {
		return Snapshot{}, ErrBadMagic
	}
	v, err := r.u32()
	if err != nil {
		return Snapshot{}, err
	}
	if v > version {
		return Snapshot{}, fmt.Errorf("%w: got %d, max %d", ErrNewerVersion, v, version)
	}

	pid, err := r.u64()
	if err != nil {
		return Snapshot{}, err
	}
	parent, err := r.u64()
	if err != nil {
		return Snapshot{}, err
	}
	name, err := r.string()
	if err != nil {
		return Snapshot{}, err
	}
	caps, err := r.u32()
	if err != nil {
		return Snapshot{}, err
	}
	reductions, err := r.u64()
	if err != nil {
		return Snapshot{}, err
	}
	sent, err := r.u64()
	if err != nil {
		return Snapshot{}, err
	}
	received, err := r.u64()
	if err != nil {
		return Snapshot{}, err
	}

	globalCount, err := r.u32()
	if err != nil {
		return Snapshot{}, err
	}
	if globalCount > maxGlobals {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrTooManyGlobals, globalCount)
	}
	globals := make(map[string]value.Value, globalCount)
	for i := uint32(0); i < globalCount; i++ {
		name, err := r.string()
		if err != nil {
			return Snapshot{}, err
		}
		val, err := readValue(r)
		if err != nil {
			return Snapshot{}, err
		}
		globals[name] = val
	}

	return Snapshot{
		PID: pid, Parent: parent, Name: name, Caps: caps,
		Reductions: reductions, MessagesSent: sent, MessagesReceived: received,
		Globals: globals,
	}, nil
}

func readValue(r *reader) (value.Value, error) {
	tag, err := r.u8()
	if err != nil {
		return value.Nil, err
	}
	switch tag {
	case tagNil, tagOther:
		return value.Nil, nil
	case tagBool:
		b, err := r.u8()
		if err != nil {
			return value.Nil, err
		}
		return value.Bool(b != 0), nil
	case tagInt:
		b, err := r.bytes(8)
		if err != nil {
			return value.Nil, err
		}
		return value.Int(int64(binary.BigEndian.Uint64(b))), nil
	case tagFloat:
		b, err := r.bytes(8)
		if err != nil {
			return value.Nil, err
		}
		return value.Float(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	case tagString:
		s, err := r.string()
		if err != nil {
			return value.Nil, err
		}
		return value.NewString(s), nil
	default:
		return value.Nil, fmt.Errorf("%w: 0x%02x", ErrBadValueTag, tag)
	}
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) u8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrTruncated
	}
	v := append([]byte(nil), r.buf[r.pos:r.pos+n]...)
	r.pos += n
	return v, nil
}

func (r *reader) string() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Manager bounds a recently-serialized-checkpoint byte cache keyed by PID,
// avoiding re-serializing a block that checkpoints repeatedly in a tight
// loop without growing memory unbounded, mirroring the teacher's own use of
// fastcache for trie-node caching.
type Manager struct {
	cache *fastcache.Cache
}

// NewManager returns a Manager backed by a fastcache sized maxBytes.
func NewManager(maxBytes int) *Manager {
	return &Manager{cache: fastcache.New(maxBytes)}
}

func pidKey(pid uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], pid)
	return k[:]
}

// Checkpoint serializes b's state, caching the encoded buffer under its PID
// and returning it.
func (m *Manager) Checkpoint(b *block.Block) []byte {
	data := FromBlock(b).Serialize()
	m.cache.Set(pidKey(b.PID()), data)
	return data
}

// Cached returns the most recently cached checkpoint buffer for pid, if any
// is still resident.
func (m *Manager) Cached(pid uint64) ([]byte, bool) {
	v, ok := m.cache.HasGet(nil, pidKey(pid))
	return v, ok
}

// RestoreScaffold decodes data and constructs a fresh, Runnable scaffold
// block for it: same PID, parent, name, capabilities, and globals, but a
// brand-new VM re-entering code's main chunk rather than any previously
// in-flight call (§4.11's resolution of the "what does restoring mid-call
// mean" open question: it doesn't attempt to — restoration always resumes
// at a fresh entry point, same as a supervisor-restarted child would). The
// caller is expected to then Registry.Insert the returned block and,
// separately, re-establish any links/monitors/group memberships the
// snapshot does not carry (those live in the registry, not the block).
func RestoreScaffold(data []byte, code *bytecode.Bytecode, limits block.Limits, host vm.Host) (Snapshot, *block.Block, error) {
	snap, err := Restore(data)
	if err != nil {
		return Snapshot{}, nil, err
	}
	b := block.New(snap.PID, code, vm.Capability(snap.Caps), limits, snap.Parent, host)
	if snap.Name != "" {
		b.SetName(snap.Name)
	}
	b.RestoreGlobals(snap.Globals)
	return snap, b, nil
}
