// Package savestate implements the versioned, section-tagged save-state
// format spec.md §6 calls for: each subsystem's Snapshot() is encoded as
// its own tagged section, in declaration order, via encoding/binary. No
// third-party serialization library in the retrieved pack offers a
// binary codec; this is the one component built directly on the
// standard library (see DESIGN.md).
package savestate

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kestrelcore/dmgcore/audio"
	"github.com/kestrelcore/dmgcore/cpu"
	"github.com/kestrelcore/dmgcore/interrupt"
	"github.com/kestrelcore/dmgcore/memory"
	"github.com/kestrelcore/dmgcore/video"
)

// formatVersion is bumped whenever a section's field layout changes in a
// way that breaks binary compatibility. Load refuses any other version.
const formatVersion uint16 = 1

var fileMagic = [4]byte{'D', 'M', 'G', '1'}

// Sentinel errors, checked with errors.Is by callers.
var (
	ErrBadMagic        = errors.New("savestate: not a dmgcore save state")
	ErrVersionMismatch = errors.New("savestate: unsupported save state version")
	ErrUnknownMapper   = errors.New("savestate: unknown cartridge mapper type")
	ErrTruncated       = errors.New("savestate: truncated or corrupt section")
)

// Mapper kind tags for the MBC section. Stored as a single byte ahead of
// the mapper-specific payload so Load can pick the right decoder without
// needing the caller to tell it what cartridge is inserted.
const (
	mapperNone uint8 = iota
	mapperMBC1
	mapperMBC2
	mapperMBC3
	mapperMBC5
)

var order = binary.LittleEndian

type sectionTag [3]byte

var (
	tagCPU = sectionTag{'C', 'P', 'U'}
	tagMEM = sectionTag{'M', 'E', 'M'}
	tagMBC = sectionTag{'M', 'B', 'C'}
	tagPPU = sectionTag{'P', 'P', 'U'}
	tagTIM = sectionTag{'T', 'I', 'M'}
	tagAUD = sectionTag{'A', 'U', 'D'}
	tagINT = sectionTag{'I', 'N', 'T'}
)

// Save writes a complete snapshot of c, mmu and gpu to w: a small header
// followed by the CPU, MEM, MBC, PPU, TIM, AUD and INT sections in that
// fixed order, each length-prefixed so Load can skip sections it
// doesn't recognize in a future format revision.
func Save(w io.Writer, c *cpu.CPU, mmu *memory.MMU, gpu *video.GPU) error {
	if _, err := w.Write(fileMagic[:]); err != nil {
		return fmt.Errorf("savestate: writing magic: %w", err)
	}
	if err := binary.Write(w, order, formatVersion); err != nil {
		return fmt.Errorf("savestate: writing version: %w", err)
	}

	sections := []struct {
		tag   sectionTag
		build func() ([]byte, error)
	}{
		{tagCPU, func() ([]byte, error) { return encodeFixed(c.Snapshot()) }},
		{tagMEM, func() ([]byte, error) { return encodeMemSection(mmu.Snapshot()) }},
		{tagMBC, func() ([]byte, error) { return encodeMapperSection(mmu.Mapper()) }},
		{tagPPU, func() ([]byte, error) { return encodeFixed(gpu.Snapshot()) }},
		{tagTIM, func() ([]byte, error) { return encodeTimerSection(mmu.Timer()) }},
		{tagAUD, func() ([]byte, error) { return encodeFixed(mmu.APU.Snapshot()) }},
		{tagINT, func() ([]byte, error) { return encodeInterruptSection(mmu.Interrupts()) }},
	}

	for _, s := range sections {
		payload, err := s.build()
		if err != nil {
			return fmt.Errorf("savestate: encoding %s section: %w", s.tag, err)
		}
		if err := writeSection(w, s.tag, payload); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a snapshot written by Save and restores c, mmu and gpu in
// place. The cartridge mapper already installed in mmu must match the
// kind recorded in the MBC section (i.e. the same ROM must already be
// loaded); a mismatch is reported as ErrUnknownMapper.
func Load(r io.Reader, c *cpu.CPU, mmu *memory.MMU, gpu *video.GPU) error {
	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return fmt.Errorf("savestate: reading magic: %w", err)
	}
	if gotMagic != fileMagic {
		return ErrBadMagic
	}
	var version uint16
	if err := binary.Read(r, order, &version); err != nil {
		return fmt.Errorf("savestate: reading version: %w", err)
	}
	if version != formatVersion {
		return fmt.Errorf("%w: file is version %d, this build reads version %d", ErrVersionMismatch, version, formatVersion)
	}

	for {
		tag, payload, err := readSection(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch tag {
		case tagCPU:
			var s cpu.State
			if err := decodeFixed(payload, &s); err != nil {
				return fmt.Errorf("savestate: decoding CPU section: %w", err)
			}
			c.Restore(s)
		case tagMEM:
			s, err := decodeMemSection(payload)
			if err != nil {
				return fmt.Errorf("savestate: decoding MEM section: %w", err)
			}
			mmu.Restore(s)
		case tagMBC:
			if err := decodeMapperSection(payload, mmu.Mapper()); err != nil {
				return fmt.Errorf("savestate: decoding MBC section: %w", err)
			}
		case tagPPU:
			var s video.State
			if err := decodeFixed(payload, &s); err != nil {
				return fmt.Errorf("savestate: decoding PPU section: %w", err)
			}
			gpu.Restore(s)
		case tagTIM:
			if err := decodeTimerSection(payload, mmu.Timer()); err != nil {
				return fmt.Errorf("savestate: decoding TIM section: %w", err)
			}
		case tagAUD:
			var s audio.APUState
			if err := decodeFixed(payload, &s); err != nil {
				return fmt.Errorf("savestate: decoding AUD section: %w", err)
			}
			mmu.APU.Restore(s)
		case tagINT:
			if err := decodeInterruptSection(payload, mmu.Interrupts()); err != nil {
				return fmt.Errorf("savestate: decoding INT section: %w", err)
			}
		default:
			// A future format revision's unrecognized section: skip it,
			// readSection already consumed its length-prefixed payload.
		}
	}
}

func writeSection(w io.Writer, tag sectionTag, payload []byte) error {
	if _, err := w.Write(tag[:]); err != nil {
		return fmt.Errorf("savestate: writing %s tag: %w", tag, err)
	}
	if err := binary.Write(w, order, uint32(len(payload))); err != nil {
		return fmt.Errorf("savestate: writing %s length: %w", tag, err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("savestate: writing %s payload: %w", tag, err)
	}
	return nil
}

func readSection(r io.Reader) (sectionTag, []byte, error) {
	var tag sectionTag
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return tag, nil, ErrTruncated
		}
		return tag, nil, err
	}
	var length uint32
	if err := binary.Read(r, order, &length); err != nil {
		return tag, nil, fmt.Errorf("%w: %s length", ErrTruncated, tag)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return tag, nil, fmt.Errorf("%w: %s payload", ErrTruncated, tag)
	}
	return tag, payload, nil
}

func (t sectionTag) String() string { return string(t[:]) }

// encodeFixed serializes a struct containing only fixed-size fields
// (bools, integers, arrays of those) via encoding/binary.
func encodeFixed(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, order, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFixed(payload []byte, v any) error {
	return binary.Read(bytes.NewReader(payload), order, v)
}

func writeBlob(buf *bytes.Buffer, data []byte) error {
	if err := binary.Write(buf, order, uint32(len(data))); err != nil {
		return err
	}
	_, err := buf.Write(data)
	return err
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, order, &length); err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// encodeMemSection hand-rolls memory.State's encoding because its
// Memory field is a variable-length blob; every other field is written
// in the struct's declaration order.
func encodeMemSection(s memory.State) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeBlob(&buf, s.Memory); err != nil {
		return nil, err
	}
	fixed := struct {
		BootOff                   bool
		JoypadButtons, JoypadDpad uint8
		DMAActive                 bool
		DMASource                 uint16
		DMAOffset                 int32
		DMACycleAcc               int32
		SerialSB, SerialSC        byte
		SerialPending             int32
	}{
		s.BootOff, s.JoypadButtons, s.JoypadDpad,
		s.DMAActive, s.DMASource, s.DMAOffset, s.DMACycleAcc,
		s.SerialSB, s.SerialSC, s.SerialPending,
	}
	if err := binary.Write(&buf, order, fixed); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMemSection(payload []byte) (memory.State, error) {
	r := bytes.NewReader(payload)
	mem, err := readBlob(r)
	if err != nil {
		return memory.State{}, err
	}
	var fixed struct {
		BootOff                   bool
		JoypadButtons, JoypadDpad uint8
		DMAActive                 bool
		DMASource                 uint16
		DMAOffset                 int32
		DMACycleAcc               int32
		SerialSB, SerialSC        byte
		SerialPending             int32
	}
	if err := binary.Read(r, order, &fixed); err != nil {
		return memory.State{}, err
	}
	return memory.State{
		Memory:        mem,
		BootOff:       fixed.BootOff,
		JoypadButtons: fixed.JoypadButtons,
		JoypadDpad:    fixed.JoypadDpad,
		DMAActive:     fixed.DMAActive,
		DMASource:     fixed.DMASource,
		DMAOffset:     fixed.DMAOffset,
		DMACycleAcc:   fixed.DMACycleAcc,
		SerialSB:      fixed.SerialSB,
		SerialSC:      fixed.SerialSC,
		SerialPending: fixed.SerialPending,
	}, nil
}

// encodeMapperSection type-switches on the concrete mapper behind the
// memory.MBC interface and writes a kind byte followed by that mapper's
// own state, RAM blobs written length-prefixed.
func encodeMapperSection(mapper memory.MBC) ([]byte, error) {
	var buf bytes.Buffer
	switch m := mapper.(type) {
	case *memory.NoMBC:
		buf.WriteByte(mapperNone)
		s := m.Snapshot()
		if err := writeBlob(&buf, s.RAM); err != nil {
			return nil, err
		}
	case *memory.MBC1:
		buf.WriteByte(mapperMBC1)
		s := m.Snapshot()
		if err := writeBlob(&buf, s.RAM); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, order, struct {
			RomBankLow, BankHi, BankingMode uint8
			RamEnabled                      bool
		}{s.RomBankLow, s.BankHi, s.BankingMode, s.RamEnabled}); err != nil {
			return nil, err
		}
	case *memory.MBC2:
		buf.WriteByte(mapperMBC2)
		if err := binary.Write(&buf, order, m.Snapshot()); err != nil {
			return nil, err
		}
	case *memory.MBC3:
		buf.WriteByte(mapperMBC3)
		s := m.Snapshot()
		if err := writeBlob(&buf, s.RAM); err != nil {
			return nil, err
		}
		rest := struct {
			RomBank, RamRTCSel  uint8
			RamEnabled          bool
			HasRTC              bool
			RTCLive, RTCLatched [5]uint8
			RTCLatchSeq         uint8
			RTCSubSecondCycles  int32
		}{s.RomBank, s.RamRTCSel, s.RamEnabled, s.HasRTC, s.RTCLive, s.RTCLatched, s.RTCLatchSeq, s.RTCSubSecondCycles}
		if err := binary.Write(&buf, order, rest); err != nil {
			return nil, err
		}
	case *memory.MBC5:
		buf.WriteByte(mapperMBC5)
		s := m.Snapshot()
		if err := writeBlob(&buf, s.RAM); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, order, struct {
			RomBank    uint16
			RamBank    uint8
			RamEnabled bool
		}{s.RomBank, s.RamBank, s.RamEnabled}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMapper, mapper)
	}
	return buf.Bytes(), nil
}

func decodeMapperSection(payload []byte, mapper memory.MBC) error {
	r := bytes.NewReader(payload)
	kind, err := r.ReadByte()
	if err != nil {
		return err
	}

	switch kind {
	case mapperNone:
		m, ok := mapper.(*memory.NoMBC)
		if !ok {
			return fmt.Errorf("%w: state is NoMBC, cartridge mapper is %T", ErrUnknownMapper, mapper)
		}
		ram, err := readBlob(r)
		if err != nil {
			return err
		}
		m.Restore(memory.NoMBCState{RAM: ram})
	case mapperMBC1:
		m, ok := mapper.(*memory.MBC1)
		if !ok {
			return fmt.Errorf("%w: state is MBC1, cartridge mapper is %T", ErrUnknownMapper, mapper)
		}
		ram, err := readBlob(r)
		if err != nil {
			return err
		}
		var rest struct {
			RomBankLow, BankHi, BankingMode uint8
			RamEnabled                      bool
		}
		if err := binary.Read(r, order, &rest); err != nil {
			return err
		}
		m.Restore(memory.MBC1State{RAM: ram, RomBankLow: rest.RomBankLow, BankHi: rest.BankHi, BankingMode: rest.BankingMode, RamEnabled: rest.RamEnabled})
	case mapperMBC2:
		m, ok := mapper.(*memory.MBC2)
		if !ok {
			return fmt.Errorf("%w: state is MBC2, cartridge mapper is %T", ErrUnknownMapper, mapper)
		}
		var s memory.MBC2State
		if err := binary.Read(r, order, &s); err != nil {
			return err
		}
		m.Restore(s)
	case mapperMBC3:
		m, ok := mapper.(*memory.MBC3)
		if !ok {
			return fmt.Errorf("%w: state is MBC3, cartridge mapper is %T", ErrUnknownMapper, mapper)
		}
		ram, err := readBlob(r)
		if err != nil {
			return err
		}
		var rest struct {
			RomBank, RamRTCSel  uint8
			RamEnabled          bool
			HasRTC              bool
			RTCLive, RTCLatched [5]uint8
			RTCLatchSeq         uint8
			RTCSubSecondCycles  int32
		}
		if err := binary.Read(r, order, &rest); err != nil {
			return err
		}
		m.Restore(memory.MBC3State{
			RAM: ram, RomBank: rest.RomBank, RamRTCSel: rest.RamRTCSel, RamEnabled: rest.RamEnabled,
			HasRTC: rest.HasRTC, RTCLive: rest.RTCLive, RTCLatched: rest.RTCLatched,
			RTCLatchSeq: rest.RTCLatchSeq, RTCSubSecondCycles: rest.RTCSubSecondCycles,
		})
	case mapperMBC5:
		m, ok := mapper.(*memory.MBC5)
		if !ok {
			return fmt.Errorf("%w: state is MBC5, cartridge mapper is %T", ErrUnknownMapper, mapper)
		}
		ram, err := readBlob(r)
		if err != nil {
			return err
		}
		var rest struct {
			RomBank    uint16
			RamBank    uint8
			RamEnabled bool
		}
		if err := binary.Read(r, order, &rest); err != nil {
			return err
		}
		m.Restore(memory.MBC5State{RAM: ram, RomBank: rest.RomBank, RamBank: rest.RamBank, RamEnabled: rest.RamEnabled})
	default:
		return fmt.Errorf("%w: kind byte %d", ErrUnknownMapper, kind)
	}
	return nil
}

func encodeTimerSection(t *memory.Timer) ([]byte, error) {
	counter, tima, tma, tac, lastBit, overflowCycles, pending := t.Snapshot()
	return encodeFixed(struct {
		Counter        uint16
		TIMA, TMA, TAC byte
		LastBit        bool
		OverflowCycles int32
		Pending        bool
	}{counter, tima, tma, tac, lastBit, overflowCycles, pending})
}

func decodeTimerSection(payload []byte, t *memory.Timer) error {
	var s struct {
		Counter        uint16
		TIMA, TMA, TAC byte
		LastBit        bool
		OverflowCycles int32
		Pending        bool
	}
	if err := decodeFixed(payload, &s); err != nil {
		return err
	}
	t.Restore(s.Counter, s.TIMA, s.TMA, s.TAC, s.LastBit, s.OverflowCycles, s.Pending)
	return nil
}

func encodeInterruptSection(c *interrupt.Controller) ([]byte, error) {
	ie, iflag := c.Snapshot()
	return []byte{ie, iflag}, nil
}

func decodeInterruptSection(payload []byte, c *interrupt.Controller) error {
	if len(payload) < 2 {
		return ErrTruncated
	}
	c.Restore(payload[0], payload[1])
	return nil
}
