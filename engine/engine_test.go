package engine_test

import (
	"bytes"
	"testing"

	"github.com/kestrelcore/dmgcore/cpu"
	"github.com/kestrelcore/dmgcore/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepInstructionAdvancesPCAndCycles(t *testing.T) {
	e := engine.New()
	e.CPU.Restore(cpu.State{PC: 0xC000, SP: 0xFFFE})
	e.MMU.Write(0xC000, 0x00) // NOP

	clocks := e.StepInstruction()

	assert.Equal(t, 4, clocks)
	assert.Equal(t, uint16(0xC001), e.CPU.PC())
	assert.Equal(t, uint64(1), e.InstructionCount())
}

func TestIllegalOpcodeSetsEngineFatal(t *testing.T) {
	e := engine.New()
	e.CPU.Restore(cpu.State{PC: 0xC000, SP: 0xFFFE})
	e.MMU.Write(0xC000, 0xD3) // illegal opcode

	e.StepInstruction()

	require.Error(t, e.FatalError())
	assert.True(t, e.Paused())
}

func TestPauseStopsRunAtInstructionBoundary(t *testing.T) {
	e := engine.New()
	e.CPU.Restore(cpu.State{PC: 0xC000, SP: 0xFFFE})
	e.Pause()

	e.Run()

	assert.Equal(t, uint64(0), e.InstructionCount())
}

func TestStepFrameStopsAtVBlank(t *testing.T) {
	// A freshly powered-on MMU with no cartridge holds zeroes (NOP) in
	// WRAM, echo RAM and OAM, so the CPU free-runs from 0xC000 until the
	// PPU reports a completed frame. LCDC powers up as 0 (LCD off, PPU
	// idle), so the test switches the LCD on first.
	e := engine.New()
	e.MMU.Write(0xFF40, 0x91)
	e.CPU.Restore(cpu.State{PC: 0xC000, SP: 0xFFFE})

	e.StepFrame()

	assert.Equal(t, uint64(1), e.FrameCount())
	assert.NotNil(t, e.GPU.FrameBuffer())
}

func TestSaveStateLoadStateRoundTrip(t *testing.T) {
	e := engine.New()
	e.CPU.Restore(cpu.State{PC: 0xC000, SP: 0xFFEE, A: 0x7E})
	e.MMU.Write(0xC100, 0x99)

	var buf bytes.Buffer
	require.NoError(t, e.SaveState(&buf))

	e2 := engine.New()
	require.NoError(t, e2.LoadState(&buf))

	assert.Equal(t, e.CPU.Snapshot(), e2.CPU.Snapshot())
	assert.Equal(t, uint8(0x99), e2.MMU.Read(0xC100))
}

func TestDebugSnapshotCopiesState(t *testing.T) {
	e := engine.New()
	e.CPU.Restore(cpu.State{PC: 0xC050, A: 0x11})

	snap := e.DebugSnapshot()

	assert.Equal(t, uint16(0xC050), snap.CPU.PC)
	assert.Equal(t, uint8(0x11), snap.CPU.A)
}

func TestResetReturnsToPowerUpState(t *testing.T) {
	e := engine.New()
	e.CPU.Restore(cpu.State{PC: 0xC000, SP: 0xFFEE})
	e.MMU.Write(0xC000, 0xD3) // illegal opcode
	e.StepInstruction()
	require.Error(t, e.FatalError())

	require.NoError(t, e.Reset())

	assert.NoError(t, e.FatalError())
	assert.Equal(t, uint16(0x0100), e.CPU.PC())
}
