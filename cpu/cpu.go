package cpu

import (
	"github.com/kestrelcore/dmgcore/addr"
	"github.com/kestrelcore/dmgcore/interrupt"
)

// Bus is everything the CPU needs from the rest of the machine: byte
// access to the full address space, the interrupt controller, and
// whether any joypad line is held (STOP's wake condition).
type Bus interface {
	Read(address uint16) uint8
	Write(address uint16, value uint8)
	Interrupts() *interrupt.Controller
	AnyButtonPressed() bool
}

// CPU is the DMG's 8080-derived interpreter core: registers, flags, the
// program counter/stack pointer, and the HALT/STOP/IME control state.
type CPU struct {
	a, f, b, c, d, e, h, l uint8
	sp, pc                 uint16

	bus Bus

	interruptsEnabled bool
	eiPending         bool
	halted            bool
	stopped           bool

	cycles uint64

	fatal       error
	fatalOpcode uint8
}

// FatalError returns the error recorded when the CPU hit an unused
// opcode (spec.md §4.6/§7: "fatal: halt and report"), or nil. Once set
// the CPU stops executing; the engine is expected to poll this and
// enter its paused fatal state.
func (c *CPU) FatalError() error { return c.fatal }

// fail records a fatal condition and halts the CPU in place. opcode is
// the offending byte; atPC is the address it was fetched from.
func (c *CPU) fail(err error, opcode uint8, atPC uint16) {
	c.fatal = err
	c.fatalOpcode = opcode
	c.halted = true
}

// New returns a CPU wired to bus, with registers in their post-boot-ROM
// power-up state (PC=0x0100, SP=0xFFFE).
func New(bus Bus) *CPU {
	return &CPU{
		bus: bus,
		a:   0x01, f: 0xB0,
		b: 0x00, c: 0x13,
		d: 0x00, e: 0xD8,
		h: 0x01, l: 0x4D,
		sp: 0xFFFE,
		pc: 0x0100,
	}
}

// PC returns the current program counter, for debugging/disassembly.
func (c *CPU) PC() uint16 { return c.pc }

// Cycles returns the running total of master clocks consumed.
func (c *CPU) Cycles() uint64 { return c.cycles }

// SP returns the current stack pointer.
func (c *CPU) SP() uint16 { return c.sp }

// AF, BC, DE, HL return the 16-bit register pair views, for debug
// readout and disassembly.
func (c *CPU) AF() uint16 { return c.af() }
func (c *CPU) BC() uint16 { return c.bc() }
func (c *CPU) DE() uint16 { return c.de() }
func (c *CPU) HL() uint16 { return c.hl() }

// IME reports the interrupt master enable state.
func (c *CPU) IME() bool { return c.interruptsEnabled }

// Halted reports whether the CPU is suspended in HALT.
func (c *CPU) Halted() bool { return c.halted }

// Stopped reports whether the CPU is suspended in STOP.
func (c *CPU) Stopped() bool { return c.stopped }

// State is the plain-data form of the CPU's registers and control
// flags, suitable for the savestate package to encode directly.
type State struct {
	A, F, B, C, D, E, H, L uint8
	SP, PC                 uint16
	IME, EIPending         bool
	Halted, Stopped        bool
	Cycles                 uint64
}

// Snapshot returns the CPU's serializable state.
func (c *CPU) Snapshot() State {
	return State{
		A: c.a, F: c.f, B: c.b, C: c.c, D: c.d, E: c.e, H: c.h, L: c.l,
		SP: c.sp, PC: c.pc,
		IME: c.interruptsEnabled, EIPending: c.eiPending,
		Halted: c.halted, Stopped: c.stopped,
		Cycles: c.cycles,
	}
}

// Restore loads a previously captured CPU state. Any fatal-opcode
// condition is cleared, matching "load" discarding the paused-fatal
// state along with everything else.
func (c *CPU) Restore(s State) {
	c.a, c.f, c.b, c.c, c.d, c.e, c.h, c.l = s.A, s.F, s.B, s.C, s.D, s.E, s.H, s.L
	c.sp, c.pc = s.SP, s.PC
	c.interruptsEnabled, c.eiPending = s.IME, s.EIPending
	c.halted, c.stopped = s.Halted, s.Stopped
	c.cycles = s.Cycles
	c.fatal = nil
	c.fatalOpcode = 0
}

func (c *CPU) fetch8() uint8 {
	v := c.bus.Read(c.pc)
	c.pc++
	return v
}

func (c *CPU) fetch16() uint16 {
	low := c.fetch8()
	high := c.fetch8()
	return combine(high, low)
}

func (c *CPU) pushStack(v uint16) {
	c.sp--
	c.bus.Write(c.sp, hi(v))
	c.sp--
	c.bus.Write(c.sp, lo(v))
}

func (c *CPU) popStack() uint16 {
	low := c.bus.Read(c.sp)
	c.sp++
	high := c.bus.Read(c.sp)
	c.sp++
	return combine(high, low)
}

// Step executes exactly one instruction (or, if halted with no pending
// interrupt, advances time without dispatching one) and returns the
// number of master clocks it consumed. Pending interrupt dispatch is
// checked before fetch, so an interrupt that becomes pending between
// steps is serviced before the next opcode runs.
func (c *CPU) Step() int {
	if c.fatal != nil {
		return 4
	}

	if c.stopped {
		if !c.bus.AnyButtonPressed() {
			return 4
		}
		c.stopped = false
	}

	if c.eiPending {
		c.eiPending = false
		c.interruptsEnabled = true
	}

	if pending := c.bus.Interrupts(); pending != nil {
		if kind, ok := pending.Pending(); ok {
			if c.halted {
				c.halted = false
			}
			if c.interruptsEnabled {
				return c.dispatchInterrupt(kind)
			}
		}
	}

	if c.halted {
		return 4
	}

	atPC := c.pc
	opcode := c.fetch8()
	return c.execute(opcode, atPC)
}

// handleInterrupts checks for and services one pending, enabled
// interrupt, returning whether one was pending (serviced or not).
// Called from Step; the cpu package's dispatch and priority tests also
// call it directly.
func (c *CPU) handleInterrupts() bool {
	kind, ok := c.bus.Interrupts().Pending()
	if !ok {
		return false
	}
	if c.halted {
		c.halted = false
	}
	if c.interruptsEnabled {
		c.dispatchInterrupt(kind)
	}
	return true
}

// dispatchInterrupt clears IME and the pending flag, pushes PC, and
// jumps to the interrupt's vector. It always costs 20 master clocks.
func (c *CPU) dispatchInterrupt(kind addr.Interrupt) int {
	c.interruptsEnabled = false
	c.bus.Interrupts().Clear(kind)
	c.pushStack(c.pc)
	c.pc = kind.Vector()
	c.cycles += 20
	return 20
}
