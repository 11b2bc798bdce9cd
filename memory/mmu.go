// Package memory implements the 64 KiB guest address space: region
// dispatch to the cartridge mapper, VRAM/WRAM/OAM/HRAM, the I/O
// register file (proxied out to the timer, APU, serial stub, and
// interrupt controller where a specific address is owned), the boot-ROM
// overlay, OAM DMA, and the joypad P1 register multiplex.
package memory

import (
	"fmt"

	"github.com/kestrelcore/dmgcore/addr"
	"github.com/kestrelcore/dmgcore/audio"
	"github.com/kestrelcore/dmgcore/bit"
	"github.com/kestrelcore/dmgcore/interrupt"
)

// JoypadKey identifies one of the eight DMG buttons.
type JoypadKey uint8

const (
	JoypadRight JoypadKey = iota
	JoypadLeft
	JoypadUp
	JoypadDown
	JoypadA
	JoypadB
	JoypadSelect
	JoypadStart
)

// MMU is the DMG memory map.
type MMU struct {
	cart *Cartridge
	mbc  MBC

	memory  []byte
	bootROM []byte
	bootOff bool

	APU        *audio.APU
	timer      *Timer
	serial     *serialPort
	interrupts *interrupt.Controller

	joypadButtons uint8
	joypadDpad    uint8

	dmaActive   bool
	dmaSource   uint16
	dmaOffset   int // visible to the debugger
	dmaCycleAcc int
}

// New returns an MMU with no cartridge inserted (an empty NoMBC image),
// suitable for unit tests that only need the memory map.
func New() *MMU {
	m := &MMU{
		memory:        make([]byte, 0x10000),
		cart:          NewCartridge(),
		mbc:           NewNoMBC(make([]byte, 0x8000), 0),
		APU:           audio.New(),
		timer:         NewTimer(),
		serial:        newSerialPort(),
		interrupts:    interrupt.New(),
		joypadButtons: 0x0F,
		joypadDpad:    0x0F,
		bootOff:       true,
	}
	m.wireInterrupts()
	return m
}

// NewWithCartridge returns an MMU with cart inserted and the
// appropriate mapper constructed from its header metadata. An
// unrecognized mapper type is a configuration error (spec.md §7).
func NewWithCartridge(cart *Cartridge) (*MMU, error) {
	m := &MMU{
		memory:        make([]byte, 0x10000),
		cart:          cart,
		APU:           audio.New(),
		timer:         NewTimer(),
		serial:        newSerialPort(),
		interrupts:    interrupt.New(),
		joypadButtons: 0x0F,
		joypadDpad:    0x0F,
		bootOff:       true,
	}
	m.wireInterrupts()

	mbc, err := newMapper(cart)
	if err != nil {
		return nil, err
	}
	m.mbc = mbc

	return m, nil
}

func newMapper(cart *Cartridge) (MBC, error) {
	switch cart.mbcType {
	case NoMBCType:
		return NewNoMBC(cart.data, cart.ramBankCount), nil
	case MBC1Type, MBC1MultiType:
		return NewMBC1(cart.data, cart.hasBattery, cart.ramBankCount), nil
	case MBC2Type:
		return NewMBC2(cart.data, cart.hasBattery), nil
	case MBC3Type:
		return NewMBC3(cart.data, cart.ramBankCount, cart.hasRTC, cart.hasBattery), nil
	case MBC5Type:
		return NewMBC5(cart.data, cart.hasBattery, cart.hasRumble, cart.ramBankCount), nil
	default:
		return nil, fmt.Errorf("unsupported cartridge mapper type code for %q", cart.Title())
	}
}

func (m *MMU) wireInterrupts() {
	m.timer.RequestInterrupt = m.RequestInterrupt
	m.serial.RequestInterrupt = m.RequestInterrupt
}

// LoadBootROM installs a 256-byte boot ROM that overlays 0x0000-0x00FF
// until a write of 1 to FF50 disables it.
func (m *MMU) LoadBootROM(data []byte) error {
	if len(data) != 256 {
		return fmt.Errorf("boot ROM must be exactly 256 bytes, got %d", len(data))
	}
	m.bootROM = append([]byte(nil), data...)
	m.bootOff = false
	return nil
}

// Tick advances the timer, the serial stub, and (if present) the
// cartridge's real-time clock by cycles master clocks. PPU and audio
// ticking are driven separately by the engine.
func (m *MMU) Tick(cycles int) {
	m.timer.Tick(cycles)
	m.serial.Tick(cycles)
	if rtc, ok := m.mbc.(*MBC3); ok {
		rtc.Tick(cycles)
	}
	m.tickDMA(cycles)
}

// tickDMA advances the in-progress OAM DMA transfer by cycles master
// clocks, copying one byte per M-cycle (4 clocks) so the full 160-byte
// transfer spans 160 M-cycles, per spec.md §4.5/§8.
func (m *MMU) tickDMA(cycles int) {
	if !m.dmaActive {
		return
	}
	m.dmaCycleAcc += cycles
	for m.dmaCycleAcc >= 4 && m.dmaActive {
		m.dmaCycleAcc -= 4
		if m.dmaOffset >= 160 {
			m.dmaActive = false
			break
		}
		src := m.dmaSource + uint16(m.dmaOffset)
		m.memory[addr.OAMStart+uint16(m.dmaOffset)] = m.rawRead(src)
		m.dmaOffset++
		if m.dmaOffset >= 160 {
			m.dmaActive = false
		}
	}
}

// DMAOffset exposes the in-progress OAM DMA byte counter to the debugger.
func (m *MMU) DMAOffset() int { return m.dmaOffset }

// DMAActive reports whether an OAM DMA transfer is in progress.
func (m *MMU) DMAActive() bool { return m.dmaActive }

// RequestInterrupt sets the IF bit for kind.
func (m *MMU) RequestInterrupt(kind addr.Interrupt) {
	m.interrupts.Request(kind)
}

// Interrupts returns the interrupt controller, shared with the CPU.
func (m *MMU) Interrupts() *interrupt.Controller { return m.interrupts }

// Cartridge returns the loaded cartridge metadata.
func (m *MMU) Cartridge() *Cartridge { return m.cart }

// Mapper returns the active cartridge mapper (for battery RAM save/load).
func (m *MMU) Mapper() MBC { return m.mbc }

// Timer returns the DIV/TIMA/TMA/TAC timer, for the savestate package's
// dedicated TIM section.
func (m *MMU) Timer() *Timer { return m.timer }

func (m *MMU) ReadBit(index uint8, address uint16) bool {
	return bit.IsSet(index, m.Read(address))
}

// rawRead bypasses OAM-DMA-contention blocking, used by the DMA
// transfer itself to read its source bytes.
func (m *MMU) rawRead(address uint16) byte {
	switch {
	case address <= addr.ROMBankNEnd:
		if !m.bootOff && address <= addr.BootROMEnd {
			return m.bootROM[address]
		}
		return m.mbc.Read(address)
	case address <= addr.VRAMEnd:
		return m.memory[address]
	case address <= addr.ExtRAMEnd:
		return m.mbc.Read(address)
	case address <= addr.WRAMEnd:
		return m.memory[address]
	case address <= addr.EchoEnd:
		return m.memory[address-0x2000]
	case address <= addr.OAMEnd:
		return m.memory[address]
	case address <= addr.UnusableEnd:
		return 0xFF
	default:
		return m.readIO(address)
	}
}

// Read returns the byte visible to the CPU at address. During an active
// OAM DMA transfer, non-HRAM reads return 0xFF (approximated bus
// contention per spec.md §9).
func (m *MMU) Read(address uint16) byte {
	if m.dmaActive && !(address >= addr.HRAMStart && address <= addr.HRAMEnd) {
		return 0xFF
	}
	return m.rawRead(address)
}

func (m *MMU) readIO(address uint16) byte {
	switch {
	case address == addr.P1:
		return m.readJoypad()
	case address == addr.SB || address == addr.SC:
		return m.serial.Read(address)
	case address == addr.DIV || address == addr.TIMA || address == addr.TMA || address == addr.TAC:
		return m.timer.Read(address)
	case address >= addr.AudioStart && address <= addr.AudioEnd:
		return m.APU.ReadRegister(address - addr.IOStart)
	case address == addr.IF:
		return m.interrupts.ReadIF()
	case address == addr.IE:
		return m.interrupts.ReadIE()
	case address == addr.DMA:
		return m.memory[address]
	case address >= addr.HRAMStart && address <= addr.HRAMEnd:
		return m.memory[address]
	case address >= addr.IOStart && address <= addr.IOEnd:
		return m.memory[address]
	default:
		return 0xFF
	}
}

// Write stores value at address, routing I/O-register writes to the
// subsystem that owns them.
func (m *MMU) Write(address uint16, value byte) {
	switch {
	case address <= addr.ROMBankNEnd:
		m.mbc.Write(address, value)
	case address <= addr.VRAMEnd:
		m.memory[address] = value
	case address <= addr.ExtRAMEnd:
		m.mbc.Write(address, value)
	case address <= addr.WRAMEnd:
		m.memory[address] = value
	case address <= addr.EchoEnd:
		m.memory[address-0x2000] = value
	case address <= addr.OAMEnd:
		m.memory[address] = value
	case address <= addr.UnusableEnd:
		// Unusable region: writes are ignored (spec.md §4.5).
	default:
		m.writeIO(address, value)
	}
}

func (m *MMU) writeIO(address uint16, value byte) {
	switch {
	case address == addr.P1:
		m.writeJoypad(value)
	case address == addr.SB || address == addr.SC:
		m.serial.Write(address, value)
	case address == addr.DIV || address == addr.TIMA || address == addr.TMA || address == addr.TAC:
		m.timer.Write(address, value)
	case address >= addr.AudioStart && address <= addr.AudioEnd:
		m.APU.WriteRegister(address-addr.IOStart, value)
	case address == addr.IF:
		m.interrupts.WriteIF(value)
	case address == addr.IE:
		m.interrupts.WriteIE(value)
	case address == addr.DMA:
		m.startDMA(value)
	case address == addr.BootDisable:
		m.writeBootDisable(value)
	case address >= addr.HRAMStart && address <= addr.HRAMEnd:
		m.memory[address] = value
	case address >= addr.IOStart && address <= addr.IOEnd:
		m.memory[address] = value
	}
}

func (m *MMU) startDMA(page byte) {
	m.memory[addr.DMA] = page
	m.dmaActive = true
	m.dmaSource = uint16(page) << 8
	m.dmaOffset = 0
	m.dmaCycleAcc = 0
}

// writeBootDisable unmaps the boot ROM. The write is monotonic: once
// disabled, the boot ROM never reappears until the engine is recreated.
func (m *MMU) writeBootDisable(value byte) {
	if value&0x01 != 0 {
		m.bootOff = true
	}
}

// readJoypad applies the P1 selection-bit multiplex described in
// spec.md §4.5/Data Model: bits 4-5 select which button group's state
// is reflected on bits 0-3 (active-low), bits 6-7 always read 1.
func (m *MMU) readJoypad() byte {
	p1 := m.memory[addr.P1]
	result := uint8(0b11000000)
	result |= p1 & 0b00110000

	selectDpad := !bit.IsSet(4, p1)
	selectButtons := !bit.IsSet(5, p1)

	switch {
	case selectButtons && !selectDpad:
		result |= m.joypadButtons & 0x0F
	case selectDpad && !selectButtons:
		result |= m.joypadDpad & 0x0F
	case selectButtons && selectDpad:
		result |= m.joypadButtons & m.joypadDpad & 0x0F
	default:
		result |= 0x0F
	}
	return result
}

func (m *MMU) writeJoypad(value uint8) {
	m.memory[addr.P1] = value & 0b00110000
}

// HandlePress marks key as pressed (active-low: the corresponding bit
// is cleared) and raises the joypad interrupt when the press takes a
// button line from high to low; the P1 group selection is not consulted.
func (m *MMU) HandlePress(key JoypadKey) {
	oldButtons, oldDpad := m.joypadButtons, m.joypadDpad

	switch key {
	case JoypadRight:
		m.joypadDpad = bit.Reset(0, m.joypadDpad)
	case JoypadLeft:
		m.joypadDpad = bit.Reset(1, m.joypadDpad)
	case JoypadUp:
		m.joypadDpad = bit.Reset(2, m.joypadDpad)
	case JoypadDown:
		m.joypadDpad = bit.Reset(3, m.joypadDpad)
	case JoypadA:
		m.joypadButtons = bit.Reset(0, m.joypadButtons)
	case JoypadB:
		m.joypadButtons = bit.Reset(1, m.joypadButtons)
	case JoypadSelect:
		m.joypadButtons = bit.Reset(2, m.joypadButtons)
	case JoypadStart:
		m.joypadButtons = bit.Reset(3, m.joypadButtons)
	}

	if (oldButtons&^m.joypadButtons)|(oldDpad&^m.joypadDpad) != 0 {
		m.RequestInterrupt(addr.JoypadInterrupt)
	}
}

// HandleRelease marks key as released.
func (m *MMU) HandleRelease(key JoypadKey) {
	switch key {
	case JoypadRight:
		m.joypadDpad = bit.Set(0, m.joypadDpad)
	case JoypadLeft:
		m.joypadDpad = bit.Set(1, m.joypadDpad)
	case JoypadUp:
		m.joypadDpad = bit.Set(2, m.joypadDpad)
	case JoypadDown:
		m.joypadDpad = bit.Set(3, m.joypadDpad)
	case JoypadA:
		m.joypadButtons = bit.Set(0, m.joypadButtons)
	case JoypadB:
		m.joypadButtons = bit.Set(1, m.joypadButtons)
	case JoypadSelect:
		m.joypadButtons = bit.Set(2, m.joypadButtons)
	case JoypadStart:
		m.joypadButtons = bit.Set(3, m.joypadButtons)
	}
}

// AnyButtonPressed reports whether any button or d-pad line is held,
// used to exit STOP.
func (m *MMU) AnyButtonPressed() bool {
	return m.joypadButtons != 0x0F || m.joypadDpad != 0x0F
}

// State is the MMU's plain-data save-state payload: the flat 64 KiB
// address space plus the bus-owned control latches that aren't stored
// inline in it (boot-ROM overlay, joypad shift registers, in-progress
// OAM DMA). The mapper's own banking state is snapshotted separately by
// the savestate package, keyed off its concrete type.
type State struct {
	Memory                    []byte
	BootOff                   bool
	JoypadButtons, JoypadDpad uint8
	DMAActive                 bool
	DMASource                 uint16
	DMAOffset                 int32
	DMACycleAcc               int32
	SerialSB, SerialSC        byte
	SerialPending             int32
}

// Snapshot returns the MMU's serializable state, not including the
// cartridge mapper (see Mapper()).
func (m *MMU) Snapshot() State {
	sb, sc, pending := m.serial.snapshot()
	return State{
		Memory:        append([]byte(nil), m.memory...),
		BootOff:       m.bootOff,
		JoypadButtons: m.joypadButtons, JoypadDpad: m.joypadDpad,
		DMAActive: m.dmaActive, DMASource: m.dmaSource, DMAOffset: int32(m.dmaOffset),
		DMACycleAcc: int32(m.dmaCycleAcc),
		SerialSB:    sb, SerialSC: sc, SerialPending: pending,
	}
}

// Restore loads a previously captured MMU state.
func (m *MMU) Restore(s State) {
	copy(m.memory, s.Memory)
	m.bootOff = s.BootOff
	m.joypadButtons, m.joypadDpad = s.JoypadButtons, s.JoypadDpad
	m.dmaActive, m.dmaSource, m.dmaOffset = s.DMAActive, s.DMASource, int(s.DMAOffset)
	m.dmaCycleAcc = int(s.DMACycleAcc)
	m.serial.restore(s.SerialSB, s.SerialSC, s.SerialPending)
}
