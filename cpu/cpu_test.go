package cpu

import (
	"testing"

	"github.com/kestrelcore/dmgcore/interrupt"
	"github.com/stretchr/testify/assert"
)

// fakeBus is a minimal, addressable byte array satisfying cpu.Bus for
// instruction-level tests that don't need a full MMU.
type fakeBus struct {
	mem          [0x10000]byte
	inter        *interrupt.Controller
	buttonHeld   bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{inter: interrupt.New()}
}

func (b *fakeBus) Read(address uint16) uint8         { return b.mem[address] }
func (b *fakeBus) Write(address uint16, value uint8) { b.mem[address] = value }
func (b *fakeBus) Interrupts() *interrupt.Controller { return b.inter }
func (b *fakeBus) AnyButtonPressed() bool            { return b.buttonHeld }

func newTestCPU() (*CPU, *fakeBus) {
	bus := newFakeBus()
	c := New(bus)
	return c, bus
}

func TestAddAImmediateScenario(t *testing.T) {
	c, bus := newTestCPU()
	c.pc = 0xC000
	c.a = 0x3A
	c.f = 0

	bus.mem[0xC000] = 0xC6
	bus.mem[0xC001] = 0xC6

	clocks := c.Step()

	assert.Equal(t, uint8(0x00), c.a)
	assert.Equal(t, uint8(zeroFlag|halfCarryFlag|carryFlag), c.f)
	assert.Equal(t, uint16(0xC002), c.pc)
	assert.Equal(t, 8, clocks)
}

func TestCBBitSevenHScenario(t *testing.T) {
	c, bus := newTestCPU()
	c.pc = 0xC000
	c.h = 0x80
	c.f = zeroFlag | subFlag | halfCarryFlag | carryFlag

	bus.mem[0xC000] = 0xCB
	bus.mem[0xC001] = 0x7C

	clocks := c.Step()

	assert.Equal(t, uint8(halfCarryFlag|carryFlag), c.f)
	assert.Equal(t, uint16(0xC002), c.pc)
	assert.Equal(t, 8, clocks)
}

func TestIncDecFlags(t *testing.T) {
	c, _ := newTestCPU()

	c.f = 0
	c.a = 0x0F
	c.inc(&c.a)
	assert.Equal(t, uint8(0x10), c.a)
	assert.Equal(t, uint8(halfCarryFlag), c.f)

	c.f = 0
	c.a = 0xFF
	c.inc(&c.a)
	assert.Equal(t, uint8(0x00), c.a)
	assert.Equal(t, uint8(zeroFlag|halfCarryFlag), c.f)

	c.f = 0
	c.a = 0x01
	c.dec(&c.a)
	assert.Equal(t, uint8(0x00), c.a)
	assert.Equal(t, uint8(zeroFlag|subFlag), c.f)
}

func TestStackPushPop(t *testing.T) {
	c, _ := newTestCPU()
	c.sp = 0xFFFE

	c.pushStack(0xBEEF)
	assert.Equal(t, uint16(0xFFFC), c.sp)

	v := c.popStack()
	assert.Equal(t, uint16(0xBEEF), v)
	assert.Equal(t, uint16(0xFFFE), c.sp)
}

func TestInterruptDispatchCostsTwentyCycles(t *testing.T) {
	c, bus := newTestCPU()
	c.interruptsEnabled = true
	c.pc = 0x0200
	c.sp = 0xFFFE
	c.cycles = 0

	bus.inter.WriteIE(0x1F)
	bus.inter.Request(1) // VBlank

	pending := c.handleInterrupts()

	assert.True(t, pending)
	assert.Equal(t, uint16(0x40), c.pc)
	assert.Equal(t, uint64(20), c.cycles)
}

func TestInterruptPriorityOrder(t *testing.T) {
	c, bus := newTestCPU()
	c.interruptsEnabled = true

	bus.inter.WriteIE(0x1F)
	bus.inter.Request(0x1F)

	c.handleInterrupts()

	assert.Equal(t, uint16(0x40), c.pc)
	ie, iflag := bus.inter.Snapshot()
	assert.Equal(t, uint8(0x1F), ie)
	assert.Equal(t, uint8(0x1E), iflag)
}

func TestHaltWakesWithoutDispatchWhenIMEDisabled(t *testing.T) {
	c, bus := newTestCPU()
	c.interruptsEnabled = false
	c.pc = 0x0100
	c.halted = true

	bus.inter.WriteIE(0x01)
	bus.inter.Request(0x01)

	clocks := c.Step()

	assert.False(t, c.halted)
	assert.Equal(t, uint16(0x0101), c.pc) // not dispatched: no vector jump, the NOP at 0x0100 ran
	assert.Equal(t, 4, clocks)
}

func TestHaltStaysHaltedWithNoPendingInterrupt(t *testing.T) {
	c, _ := newTestCPU()
	c.halted = true

	c.Step()

	assert.True(t, c.halted)
}

func TestEIHasOneInstructionDelay(t *testing.T) {
	c, bus := newTestCPU()
	c.pc = 0xC000
	bus.mem[0xC000] = 0xFB // EI
	bus.mem[0xC001] = 0x00 // NOP

	c.Step()
	assert.False(t, c.interruptsEnabled)
	assert.True(t, c.eiPending)

	c.Step()
	assert.True(t, c.interruptsEnabled)
}

func TestDIDisablesImmediately(t *testing.T) {
	c, bus := newTestCPU()
	c.interruptsEnabled = true
	c.pc = 0xC000
	bus.mem[0xC000] = 0xF3 // DI

	c.Step()
	assert.False(t, c.interruptsEnabled)
}

func TestStopExitsOnlyOnButtonPress(t *testing.T) {
	c, bus := newTestCPU()
	c.pc = 0xC000
	bus.mem[0xC000] = 0x10 // STOP
	bus.mem[0xC001] = 0x00 // padding byte
	bus.mem[0xC002] = 0x00 // NOP, should run once unstopped

	c.Step()
	assert.True(t, c.stopped)

	clocks := c.Step()
	assert.True(t, c.stopped)
	assert.Equal(t, 4, clocks)
	assert.Equal(t, uint16(0xC002), c.pc)

	bus.buttonHeld = true
	c.Step()
	assert.False(t, c.stopped)
	assert.Equal(t, uint16(0xC003), c.pc)
}

func TestIllegalOpcodeIsFatal(t *testing.T) {
	c, bus := newTestCPU()
	c.pc = 0xC000
	bus.mem[0xC000] = 0xD3

	c.Step()

	assert.Error(t, c.FatalError())
	assert.True(t, c.halted)

	pc := c.pc
	c.Step()
	assert.Equal(t, pc, c.pc) // frozen: no further execution once fatal
}
