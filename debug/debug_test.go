package debug_test

import (
	"testing"

	"github.com/kestrelcore/dmgcore/debug"
	"github.com/kestrelcore/dmgcore/memory"
	"github.com/stretchr/testify/assert"
)

func TestExtractOAMMarksSpriteVisibleOnOverlappingLine(t *testing.T) {
	mmu := memory.New()
	mmu.Write(0xFE00, 20) // Y=20 -> on-screen Y=4
	mmu.Write(0xFE01, 16) // X=16 -> on-screen X=8
	mmu.Write(0xFE02, 0x05)
	mmu.Write(0xFE03, 0x80) // behind-background flag set

	snap := debug.ExtractOAM(mmu, 4, 8)

	assert.True(t, snap.Sprites[0].VisibleOnLine)
	assert.Equal(t, 1, snap.ActiveOnLine)
	assert.Equal(t, 4, snap.Sprites[0].Y)
	assert.Equal(t, 8, snap.Sprites[0].X)
	assert.True(t, snap.Sprites[0].BehindBackground)
}

func TestExtractOAMSpriteNotVisibleOffLine(t *testing.T) {
	mmu := memory.New()
	mmu.Write(0xFE00, 20)
	mmu.Write(0xFE01, 16)

	snap := debug.ExtractOAM(mmu, 100, 8)

	assert.False(t, snap.Sprites[0].VisibleOnLine)
	assert.Equal(t, 0, snap.ActiveOnLine)
}

func TestExtractVRAMDecodesTilePixels(t *testing.T) {
	mmu := memory.New()
	// Tile 0, row 0: low=0xFF, high=0x00 -> every pixel is palette index 1.
	mmu.Write(0x8000, 0xFF)
	mmu.Write(0x8001, 0x00)
	mmu.Write(0xFF40, 0x01) // LCDC background enable only

	snap := debug.ExtractVRAM(mmu)

	for col := 0; col < 8; col++ {
		assert.Equal(t, uint8(1), snap.Tiles[0].Pixels[0][col])
	}
	assert.True(t, snap.BackgroundActive)
	assert.False(t, snap.WindowActive)
}

func TestReadTimerStateReflectsRegisters(t *testing.T) {
	mmu := memory.New()
	mmu.Write(0xFF05, 0x42)
	mmu.Write(0xFF06, 0x10)
	mmu.Write(0xFF07, 0x05)

	state := debug.ReadTimerState(mmu)

	assert.Equal(t, uint8(0x42), state.TIMA)
	assert.Equal(t, uint8(0x10), state.TMA)
	assert.Equal(t, uint8(0xFD), state.TAC) // unused bits 7-3 read back as 1
}

func TestDisassembleDecodesCommonInstructions(t *testing.T) {
	mmu := memory.New()
	mmu.Write(0xC000, 0x00) // NOP
	mmu.Write(0xC001, 0x3E) // LD A,d8
	mmu.Write(0xC002, 0x42)
	mmu.Write(0xC003, 0xC3) // JP a16
	mmu.Write(0xC004, 0x00)
	mmu.Write(0xC005, 0xD0)

	lines := debug.DisassembleRange(0xC000, 3, mmu)

	assert.Equal(t, "NOP", lines[0].Text)
	assert.Equal(t, 1, lines[0].Length)
	assert.Equal(t, "LD A,0x42", lines[1].Text)
	assert.Equal(t, 2, lines[1].Length)
	assert.Equal(t, "JP 0xD000", lines[2].Text)
	assert.Equal(t, 3, lines[2].Length)
}

func TestDisassembleCBPrefixedBitInstruction(t *testing.T) {
	mmu := memory.New()
	mmu.Write(0xC000, 0xCB)
	mmu.Write(0xC001, 0x7C) // BIT 7,H

	line := debug.Disassemble(0xC000, mmu)

	assert.Equal(t, "BIT 7,H", line.Text)
	assert.Equal(t, 2, line.Length)
}
